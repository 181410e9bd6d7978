package rimage

import (
	"image"
	"testing"

	"go.viam.com/test"
	"gorgonia.org/tensor"
)

func TestDepthMap(t *testing.T) {
	dm := NewEmptyDepthMap(4, 3)
	test.That(t, dm.HasData(), test.ShouldBeTrue)
	test.That(t, dm.Bounds(), test.ShouldResemble, image.Rect(0, 0, 4, 3))
	test.That(t, dm.NonZeroCount(), test.ShouldEqual, 0)
	test.That(t, dm.Contains(3, 2), test.ShouldBeTrue)
	test.That(t, dm.Contains(4, 0), test.ShouldBeFalse)
	test.That(t, dm.Contains(0, -1), test.ShouldBeFalse)

	dm.Set(3, 1, 7.5)
	dm.Set(0, 2, 2)
	test.That(t, dm.GetDepth(3, 1), test.ShouldEqual, float32(7.5))
	test.That(t, dm.Get(image.Pt(0, 2)), test.ShouldEqual, float32(2))
	test.That(t, dm.NonZeroCount(), test.ShouldEqual, 2)

	tn := dm.Tensor()
	test.That(t, tn.Shape(), test.ShouldResemble, tensor.Shape{3, 4})
	data := tn.Data().([]float32)
	test.That(t, data[1*4+3], test.ShouldEqual, float32(7.5))
	test.That(t, data[2*4+0], test.ShouldEqual, float32(2))

	// the tensor is a copy
	data[0] = 9
	test.That(t, dm.GetDepth(0, 0), test.ShouldEqual, float32(0))

	test.That(t, NewEmptyDepthMap(0, 0).HasData(), test.ShouldBeFalse)
}
