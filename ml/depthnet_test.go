package ml

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/bevdepth/spatialmath"
)

func TestScaledPixelSize(t *testing.T) {
	k := mgl64.Diag4(mgl64.Vec4{1000, 1000, 1, 1})
	ida := mgl64.Diag4(mgl64.Vec4{0.5, 0.5, 1, 1})
	size, err := ScaledPixelSize(k, ida, DefaultScaleDepthFactor)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, size, test.ShouldAlmostEqual, 2, 1e-9)

	size, err = ScaledPixelSize(k, mgl64.Ident4(), DefaultScaleDepthFactor)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, size, test.ShouldAlmostEqual, 1, 1e-9)

	_, err = ScaledPixelSize(mgl64.Mat4{}, ida, DefaultScaleDepthFactor)
	test.That(t, errors.Is(err, spatialmath.ErrSingularTransform), test.ShouldBeTrue)
	_, err = ScaledPixelSize(k, mgl64.Diag4(mgl64.Vec4{0, 1, 1, 1}), DefaultScaleDepthFactor)
	test.That(t, errors.Is(err, spatialmath.ErrSingularTransform), test.ShouldBeTrue)
}

func TestDepthNetForward(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	net := NewDepthNet(4, 6, 3, 5, rng)

	x := NewFloat32(2, 4, 2, 3)
	for i, data := 0, x.Float32s(); i < len(data); i++ {
		data[i] = float32(rng.NormFloat64())
	}
	k := mgl64.Diag4(mgl64.Vec4{1266, 1266, 1, 1})
	k.Set(0, 2, 816)
	k.Set(1, 2, 491)
	ida := mgl64.Diag4(mgl64.Vec4{0.44, 0.44, 1, 1})
	intrins := []mgl64.Mat4{k, k}
	idas := []mgl64.Mat4{ida, ida}
	prior := NewFloat32(2, 1, 2, 3)

	out, err := net.Forward(context.Background(), x, intrins, idas, prior)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, []int(out.Shape()), test.ShouldResemble, []int{2, 8, 2, 3})
	for _, v := range out.Float32s() {
		test.That(t, math.IsNaN(float64(v)), test.ShouldBeFalse)
	}

	// the prior feeds the depth logits but not the context
	prior.Float32s()[0] = 1
	withPrior, err := net.Forward(context.Background(), x, intrins, idas, prior)
	test.That(t, err, test.ShouldBeNil)
	ctxA, err := SliceChannels(out, 5, 8)
	test.That(t, err, test.ShouldBeNil)
	ctxB, err := SliceChannels(withPrior, 5, 8)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ctxB.Float32s(), test.ShouldResemble, ctxA.Float32s())

	_, err = net.Forward(context.Background(), x, intrins[:1], idas, prior)
	test.That(t, errors.Is(err, ErrShapeMismatch), test.ShouldBeTrue)
	_, err = net.Forward(context.Background(), x, intrins, idas, NewFloat32(2, 1, 3, 3))
	test.That(t, errors.Is(err, ErrShapeMismatch), test.ShouldBeTrue)
}
