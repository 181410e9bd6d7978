// Package pointcloud holds lidar point readers and the voxel grid that lifted features are
// pooled into.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// boundarySnap is how close a scaled coordinate must be to an integer to be treated as lying
// on that voxel boundary.
const boundarySnap = 1e-9

// VoxelCoords stores Voxel coordinates in VoxelGrid axes.
type VoxelCoords struct {
	I, J, K int64
}

// IsEqual tests if two VoxelCoords are the same.
func (c VoxelCoords) IsEqual(c2 VoxelCoords) bool {
	return c.I == c2.I && c.J == c2.J && c.K == c2.K
}

// AxisBound is the [Min, Max) extent of one grid axis split into cells of size Step.
type AxisBound struct {
	Min, Max, Step float64
}

// NewAxisBound reads a (min, max, step) triple.
func NewAxisBound(b [3]float64) AxisBound {
	return AxisBound{Min: b[0], Max: b[1], Step: b[2]}
}

// Num is the number of cells along the axis.
func (a AxisBound) Num() int64 {
	return int64(math.Round((a.Max - a.Min) / a.Step))
}

// Origin is the center of the first cell.
func (a AxisBound) Origin() float64 {
	return a.Min + a.Step/2
}

// Index returns the cell containing v. A value on a cell boundary belongs to the cell above it.
func (a AxisBound) Index(v float64) int64 {
	q := (v - (a.Origin() - a.Step/2)) / a.Step
	if r := math.Round(q); math.Abs(q-r) < boundarySnap {
		q = r
	}
	return int64(math.Floor(q))
}

func (a AxisBound) valid() bool {
	return a.Min < a.Max && a.Step > 0 && a.Num() > 0
}

// VoxelGrid is a regular 3D grid over the ego frame.
type VoxelGrid struct {
	X, Y, Z AxisBound
}

// NewVoxelGrid builds a grid from (min, max, step) triples.
func NewVoxelGrid(x, y, z [3]float64) (*VoxelGrid, error) {
	vg := &VoxelGrid{X: NewAxisBound(x), Y: NewAxisBound(y), Z: NewAxisBound(z)}
	for name, a := range map[string]AxisBound{"x": vg.X, "y": vg.Y, "z": vg.Z} {
		if !a.valid() {
			return nil, errors.Errorf("invalid %s bound %+v", name, a)
		}
	}
	return vg, nil
}

// Num returns the number of voxels along each axis.
func (vg *VoxelGrid) Num() VoxelCoords {
	return VoxelCoords{I: vg.X.Num(), J: vg.Y.Num(), K: vg.Z.Num()}
}

// Size returns the voxel edge lengths.
func (vg *VoxelGrid) Size() r3.Vector {
	return r3.Vector{X: vg.X.Step, Y: vg.Y.Step, Z: vg.Z.Step}
}

// Origin returns the center of voxel (0, 0, 0).
func (vg *VoxelGrid) Origin() r3.Vector {
	return r3.Vector{X: vg.X.Origin(), Y: vg.Y.Origin(), Z: vg.Z.Origin()}
}

// Index quantizes a point to the voxel containing it. The result may lie outside the grid.
func (vg *VoxelGrid) Index(p r3.Vector) VoxelCoords {
	return VoxelCoords{I: vg.X.Index(p.X), J: vg.Y.Index(p.Y), K: vg.Z.Index(p.Z)}
}

// Contains reports whether c addresses a voxel of the grid.
func (vg *VoxelGrid) Contains(c VoxelCoords) bool {
	n := vg.Num()
	return c.I >= 0 && c.I < n.I && c.J >= 0 && c.J < n.J && c.K >= 0 && c.K < n.K
}

// Center returns the center point of voxel c.
func (vg *VoxelGrid) Center(c VoxelCoords) r3.Vector {
	o := vg.Origin()
	return r3.Vector{
		X: o.X + float64(c.I)*vg.X.Step,
		Y: o.Y + float64(c.J)*vg.Y.Step,
		Z: o.Z + float64(c.K)*vg.Z.Step,
	}
}
