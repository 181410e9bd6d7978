package spatialmath

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Box3D is a ground-truth box in the key ego frame. Size is (dx, dy, dz), i.e. length along
// the heading first; annotation sizes arrive as (width, length, height) and are reordered
// when the box is built.
type Box3D struct {
	Center   r3.Vector
	Size     r3.Vector
	Yaw      float64
	Velocity r2.Point
}

// BoxDim is the length of the flattened box vector.
const BoxDim = 9

// Vector flattens the box as (x, y, z, dx, dy, dz, yaw, vx, vy).
func (b Box3D) Vector() [BoxDim]float64 {
	return [BoxDim]float64{
		b.Center.X, b.Center.Y, b.Center.Z,
		b.Size.X, b.Size.Y, b.Size.Z,
		b.Yaw,
		b.Velocity.X, b.Velocity.Y,
	}
}

// NewBox3DFromVector is the inverse of Box3D.Vector.
func NewBox3DFromVector(v [BoxDim]float64) Box3D {
	return Box3D{
		Center:   r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		Size:     r3.Vector{X: v[3], Y: v[4], Z: v[5]},
		Yaw:      v[6],
		Velocity: r2.Point{X: v[7], Y: v[8]},
	}
}

// AlmostEqual compares two boxes field by field within tol.
func (b Box3D) AlmostEqual(other Box3D, tol float64) bool {
	va, vb := b.Vector(), other.Vector()
	for i := range va {
		d := va[i] - vb[i]
		if d > tol || d < -tol {
			return false
		}
	}
	return true
}
