// Package ml holds the tensor plumbing, the reference feature layers and the network that
// lifts per-camera image features into a BEV voxel grid.
package ml

import (
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Tensors are a name-keyed collection of tensors.
type Tensors map[string]*tensor.Dense

// ErrShapeMismatch is returned when tensors that must agree in shape or type do not.
var ErrShapeMismatch = errors.New("tensor shapes do not match")

// NewFloat32 returns a zero-filled float32 tensor.
func NewFloat32(shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float32, volume(shape))))
}

// NewFloat64 returns a zero-filled float64 tensor.
func NewFloat64(shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float64, volume(shape))))
}

// NewInt64 returns a zero-filled int64 tensor.
func NewInt64(shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]int64, volume(shape))))
}

func volume(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Offset returns the flat row-major offset of the sub-tensor addressed by the leading
// indices idx.
func Offset(shape tensor.Shape, idx ...int) int {
	off := 0
	for i, s := range shape {
		off *= s
		if i < len(idx) {
			off += idx[i]
		}
	}
	return off
}

// CheckShape returns ErrShapeMismatch unless t has exactly the given shape.
func CheckShape(name string, t *tensor.Dense, shape ...int) error {
	if t == nil {
		return errors.Wrapf(ErrShapeMismatch, "%s is missing", name)
	}
	if !slices.Equal([]int(t.Shape()), shape) {
		return errors.Wrapf(ErrShapeMismatch, "%s has shape %v, expected %v", name, t.Shape(), shape)
	}
	return nil
}

// Stack joins tensors of identical shape and type along a new leading axis.
func Stack(ts ...*tensor.Dense) (*tensor.Dense, error) {
	if len(ts) == 0 {
		return nil, errors.New("nothing to stack")
	}
	shape := []int(ts[0].Shape())
	for i, t := range ts[1:] {
		if !slices.Equal([]int(t.Shape()), shape) || t.Dtype() != ts[0].Dtype() {
			return nil, errors.Wrapf(ErrShapeMismatch, "tensor %d is %v%v, expected %v%v",
				i+1, t.Dtype(), t.Shape(), ts[0].Dtype(), shape)
		}
	}
	if len(ts) == 1 {
		// tensor.Stack hands a lone tensor back without the new axis
		out := ts[0].Clone().(*tensor.Dense)
		if err := out.Reshape(append([]int{1}, shape...)...); err != nil {
			return nil, err
		}
		return out, nil
	}
	out, err := ts[0].Stack(0, ts[1:]...)
	if err != nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot stack: %v", err)
	}
	return out, nil
}

// Concat joins tensors along axis. All other dimensions and the element type must agree.
func Concat(axis int, ts ...*tensor.Dense) (*tensor.Dense, error) {
	if len(ts) == 0 {
		return nil, errors.New("nothing to concatenate")
	}
	first := []int(ts[0].Shape())
	if axis < 0 || axis >= len(first) {
		return nil, errors.Errorf("axis %d out of range for shape %v", axis, first)
	}
	for i, t := range ts {
		shape := []int(t.Shape())
		if len(shape) != len(first) || t.Dtype() != ts[0].Dtype() {
			return nil, errors.Wrapf(ErrShapeMismatch, "tensor %d is %v%v, expected rank %d %v",
				i, t.Dtype(), shape, len(first), ts[0].Dtype())
		}
		for d := range shape {
			if d != axis && shape[d] != first[d] {
				return nil, errors.Wrapf(ErrShapeMismatch, "tensor %d has shape %v, expected %v off axis %d",
					i, shape, first, axis)
			}
		}
	}
	if len(ts) == 1 {
		return ts[0].Clone().(*tensor.Dense), nil
	}
	out, err := ts[0].Concat(axis, ts[1:]...)
	if err != nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot concatenate: %v", err)
	}
	return out, nil
}

// Mat4At reads the row-major 4x4 matrix stored at the leading indices idx of a float64 tensor
// whose last two dimensions are 4x4.
func Mat4At(t *tensor.Dense, idx ...int) mgl64.Mat4 {
	data := t.Float64s()
	off := Offset(t.Shape(), idx...)
	var m mgl64.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, data[off+4*r+c])
		}
	}
	return m
}

// SetMat4 writes m row-major at the leading indices idx of a float64 tensor.
func SetMat4(t *tensor.Dense, m mgl64.Mat4, idx ...int) {
	data := t.Float64s()
	off := Offset(t.Shape(), idx...)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			data[off+4*r+c] = m.At(r, c)
		}
	}
}

// SliceChannels copies channels [from, to) of an [N, C, ...] tensor.
func SliceChannels(t *tensor.Dense, from, to int) (*tensor.Dense, error) {
	shape := []int(t.Shape())
	if len(shape) < 2 || from < 0 || to > shape[1] || from >= to {
		return nil, errors.Errorf("cannot take channels [%d, %d) of shape %v", from, to, shape)
	}
	view, err := t.Slice(nil, tensor.S(from, to))
	if err != nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot take channels [%d, %d) of shape %v: %v", from, to, shape, err)
	}
	out, ok := tensor.Materialize(view).(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("channel slice of shape %v is not dense", shape)
	}
	// slicing drops a channel axis of size one
	outShape := slices.Clone(shape)
	outShape[1] = to - from
	if err := out.Reshape(outShape...); err != nil {
		return nil, err
	}
	return out, nil
}

// Softmax normalizes an [N, C, ...] float tensor across its channel axis.
func Softmax(t *tensor.Dense) (*tensor.Dense, error) {
	if t.Dims() < 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "softmax needs a channel axis, got shape %v", t.Shape())
	}
	out, err := tensor.SoftMax(t, 1)
	if err != nil {
		return nil, err
	}
	return out.(*tensor.Dense), nil
}
