// Package spatialmath defines the rigid-body and BEV-augmentation math used to relate
// lidar, camera, ego and global frames.
package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// rigidTolerance bounds how far RᵀR may drift from I before a matrix is no longer treated as rigid.
const rigidTolerance = 1e-6

var (
	// ErrZeroQuaternion is returned when a pose carries a zero-norm rotation quaternion.
	ErrZeroQuaternion = errors.New("rotation quaternion has zero norm")
	// ErrSingularTransform is returned when a transform cannot be inverted.
	ErrSingularTransform = errors.New("transform matrix is singular")
)

// CalibratedPose is a rotation (unit quaternion w,x,y,z) plus translation, as stored in
// sensor calibration and ego pose records.
type CalibratedPose struct {
	Rotation    quat.Number
	Translation r3.Vector
}

// NewCalibratedPose builds a pose from a (w, x, y, z) quaternion and a translation.
func NewCalibratedPose(rotation [4]float64, translation [3]float64) CalibratedPose {
	return CalibratedPose{
		Rotation:    quat.Number{Real: rotation[0], Imag: rotation[1], Jmag: rotation[2], Kmag: rotation[3]},
		Translation: r3.Vector{X: translation[0], Y: translation[1], Z: translation[2]},
	}
}

// IdentityPose returns the pose with no rotation and no translation.
func IdentityPose() CalibratedPose {
	return CalibratedPose{Rotation: quat.Number{Real: 1}}
}

// RotationMatrix returns the 3x3 rotation of the normalized quaternion.
func (p CalibratedPose) RotationMatrix() (mgl64.Mat3, error) {
	norm := quat.Abs(p.Rotation)
	if norm == 0 || math.IsNaN(norm) {
		return mgl64.Mat3{}, ErrZeroQuaternion
	}
	q := quat.Scale(1/norm, p.Rotation)
	return mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}.Mat4().Mat3(), nil
}

// Transform returns the 4x4 homogeneous rigid transform of the pose.
func (p CalibratedPose) Transform() (mgl64.Mat4, error) {
	rot, err := p.RotationMatrix()
	if err != nil {
		return mgl64.Mat4{}, err
	}
	m := rot.Mat4()
	m.Set(0, 3, p.Translation.X)
	m.Set(1, 3, p.Translation.Y)
	m.Set(2, 3, p.Translation.Z)
	return m, nil
}

// Compose returns the transform applying a and then b. If a maps frame1 to frame2 and
// b maps frame2 to frame3, the result maps frame1 to frame3.
func Compose(a, b mgl64.Mat4) mgl64.Mat4 {
	return b.Mul4(a)
}

// ComposeAll composes the transforms in application order: the first element is applied first.
func ComposeAll(transforms ...mgl64.Mat4) mgl64.Mat4 {
	out := mgl64.Ident4()
	for _, t := range transforms {
		out = Compose(out, t)
	}
	return out
}

// IsRigid reports whether m is a rotation plus translation with a [0 0 0 1] bottom row.
func IsRigid(m mgl64.Mat4, tol float64) bool {
	if math.Abs(m.At(3, 0)) > tol || math.Abs(m.At(3, 1)) > tol || math.Abs(m.At(3, 2)) > tol ||
		math.Abs(m.At(3, 3)-1) > tol {
		return false
	}
	rot := m.Mat3()
	return rot.Transpose().Mul3(rot).ApproxEqualThreshold(mgl64.Ident3(), tol) && rot.Det() > 0
}

// RigidInverse inverts a rigid transform in closed form: [Rᵀ | -Rᵀt].
func RigidInverse(m mgl64.Mat4) mgl64.Mat4 {
	rt := m.Mat3().Transpose()
	t := rt.Mul3x1(mgl64.Vec3{m.At(0, 3), m.At(1, 3), m.At(2, 3)})
	out := rt.Mat4()
	out.Set(0, 3, -t[0])
	out.Set(1, 3, -t[1])
	out.Set(2, 3, -t[2])
	return out
}

// Invert inverts m, using the closed-form rigid inverse when m is rigid and a general
// LU inverse otherwise.
func Invert(m mgl64.Mat4) (mgl64.Mat4, error) {
	if IsRigid(m, rigidTolerance) {
		return RigidInverse(m), nil
	}
	return GeneralInverse(m)
}

// GeneralInverse inverts any non-singular 4x4 matrix.
func GeneralInverse(m mgl64.Mat4) (mgl64.Mat4, error) {
	dense := mat.NewDense(4, 4, RowMajor(m))
	var inv mat.Dense
	if err := inv.Inverse(dense); err != nil {
		return mgl64.Mat4{}, errors.Wrap(ErrSingularTransform, err.Error())
	}
	var out mgl64.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out.Set(r, c, inv.At(r, c))
		}
	}
	return out, nil
}

// RowMajor flattens m row by row.
func RowMajor(m mgl64.Mat4) []float64 {
	out := make([]float64, 0, 16)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out = append(out, m.At(r, c))
		}
	}
	return out
}

// FromRowMajor builds a matrix from 16 row-major values.
func FromRowMajor(values []float64) (mgl64.Mat4, error) {
	if len(values) != 16 {
		return mgl64.Mat4{}, errors.Errorf("expected 16 values for a 4x4 matrix, got %d", len(values))
	}
	var out mgl64.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out.Set(r, c, values[r*4+c])
		}
	}
	return out, nil
}

// TransformPoint applies m to a 3D point in homogeneous coordinates.
func TransformPoint(m mgl64.Mat4, p r3.Vector) r3.Vector {
	v := m.Mul4x1(mgl64.Vec4{p.X, p.Y, p.Z, 1})
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

// QuaternionYaw returns the rotation about the vertical axis of q, computed on the normalized
// quaternion as atan2(2(wz - xy), 1 - 2(y² + z²)).
func QuaternionYaw(q quat.Number) float64 {
	norm := quat.Abs(q)
	if norm == 0 {
		return 0
	}
	q = quat.Scale(1/norm, q)
	return math.Atan2(2*(q.Real*q.Kmag-q.Imag*q.Jmag), 1-2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag))
}
