package transform

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// CameraIntrinsic is the 3x3 pinhole camera matrix of a calibrated camera:
// [[fx s ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
type CameraIntrinsic struct {
	K mgl64.Mat3
}

// NewCameraIntrinsic builds an intrinsic from the nested row lists stored in calibration records.
func NewCameraIntrinsic(rows [][]float64) (*CameraIntrinsic, error) {
	if len(rows) != 3 {
		return nil, NewNoIntrinsicsError(fmt.Sprintf("expected 3 rows, got %d", len(rows)))
	}
	var k mgl64.Mat3
	for r, row := range rows {
		if len(row) != 3 {
			return nil, NewNoIntrinsicsError(fmt.Sprintf("expected 3 columns in row %d, got %d", r, len(row)))
		}
		for c, v := range row {
			k.Set(r, c, v)
		}
	}
	params := &CameraIntrinsic{K: k}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	return params, nil
}

// NewPinholeIntrinsic builds a zero-skew intrinsic.
func NewPinholeIntrinsic(fx, fy, ppx, ppy float64) *CameraIntrinsic {
	return &CameraIntrinsic{K: mgl64.Mat3{fx, 0, 0, 0, fy, 0, ppx, ppy, 1}}
}

// CheckValid checks if the camera matrix describes a usable projection.
func (params *CameraIntrinsic) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Fx() <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx()))
	}
	if params.Fy() <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy()))
	}
	if params.K.At(2, 0) != 0 || params.K.At(2, 1) != 0 || params.K.At(2, 2) != 1 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid last row %v", params.K.Row(2)))
	}
	return nil
}

// Fx is the horizontal focal length in pixels.
func (params *CameraIntrinsic) Fx() float64 { return params.K.At(0, 0) }

// Fy is the vertical focal length in pixels.
func (params *CameraIntrinsic) Fy() float64 { return params.K.At(1, 1) }

// Ppx is the horizontal principal point.
func (params *CameraIntrinsic) Ppx() float64 { return params.K.At(0, 2) }

// Ppy is the vertical principal point.
func (params *CameraIntrinsic) Ppy() float64 { return params.K.At(1, 2) }

// Mat4 embeds K in a homogeneous 4x4 matrix.
func (params *CameraIntrinsic) Mat4() mgl64.Mat4 {
	return params.K.Mat4()
}

// Inverse returns K⁻¹.
func (params *CameraIntrinsic) Inverse() (mgl64.Mat3, error) {
	if math.Abs(params.K.Det()) < 1e-12 {
		return mgl64.Mat3{}, NewNoIntrinsicsError("camera matrix is singular")
	}
	return params.K.Inv(), nil
}

// PointToPixel projects a camera-frame point onto the image plane and returns the pixel
// along with the depth of the point. Points on the camera plane project to NaN.
func (params *CameraIntrinsic) PointToPixel(p r3.Vector) (r2.Point, float64) {
	v := params.K.Mul3x1(mgl64.Vec3{p.X, p.Y, p.Z})
	return r2.Point{X: v[0] / v[2], Y: v[1] / v[2]}, p.Z
}

// PixelToPoint lifts a pixel with depth back into the camera frame.
func (params *CameraIntrinsic) PixelToPoint(x, y, depth float64) (r3.Vector, error) {
	inv, err := params.Inverse()
	if err != nil {
		return r3.Vector{}, err
	}
	v := inv.Mul3x1(mgl64.Vec3{x * depth, y * depth, depth})
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}, nil
}
