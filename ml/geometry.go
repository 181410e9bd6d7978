package ml

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/bevdepth/pointcloud"
	"go.viam.com/bevdepth/spatialmath"
	"go.viam.com/bevdepth/utils"
)

// CameraMats are the transforms relating one camera's augmented image to the augmented
// ego frame.
type CameraMats struct {
	SensorToEgo mgl64.Mat4
	Intrinsic   mgl64.Mat4
	IDA         mgl64.Mat4
	BDA         mgl64.Mat4
}

// SweepCameraMats reads the transforms of sweep s for every (batch, camera) pair, batch
// major. A missing BDA is treated as identity.
func SweepCameraMats(mats MatsDict, s int) []CameraMats {
	b, _, n := mats.Dims()
	out := make([]CameraMats, 0, b*n)
	for bi := 0; bi < b; bi++ {
		bda := mgl64.Ident4()
		if mats.BDA != nil {
			bda = Mat4At(mats.BDA, bi)
		}
		for ni := 0; ni < n; ni++ {
			out = append(out, CameraMats{
				SensorToEgo: Mat4At(mats.SensorToEgo, bi, s, ni),
				Intrinsic:   Mat4At(mats.Intrinsics, bi, s, ni),
				IDA:         Mat4At(mats.IDA, bi, s, ni),
				BDA:         bda,
			})
		}
	}
	return out
}

// ComputeGeometry returns the ego-frame point of every frustum sample of every camera,
// indexed ((cam*D + d)*H + h)*W + w. Each sample's augmented pixel is mapped back through
// the inverse image augmentation, scaled by its bin depth, lifted by the inverse intrinsic,
// moved to the ego frame and finally through the BEV augmentation.
func ComputeGeometry(ctx context.Context, f *Frustum, cams []CameraMats) ([]r3.Vector, error) {
	type lift struct {
		undoIDA mgl64.Mat4
		combine mgl64.Mat4
	}
	lifts := make([]lift, len(cams))
	for i, c := range cams {
		undoIDA, err := spatialmath.Invert(c.IDA)
		if err != nil {
			return nil, errors.Wrapf(err, "camera %d image augmentation", i)
		}
		undoK, err := spatialmath.Invert(c.Intrinsic)
		if err != nil {
			return nil, errors.Wrapf(err, "camera %d intrinsic", i)
		}
		lifts[i] = lift{undoIDA: undoIDA, combine: spatialmath.ComposeAll(undoK, c.SensorToEgo, c.BDA)}
	}

	d, h, w := f.Dims()
	perCam := d * h * w
	points := make([]r3.Vector, len(cams)*perCam)
	err := utils.GroupWorkParallel(ctx, len(points), func(int) {},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(_, idx int) {
				l := lifts[idx/perCam]
				rest := idx % perCam
				depth := f.Bins.Depth(rest / (h * w))
				px := mgl64.Vec4{f.Xs[rest%w], f.Ys[(rest/w)%h], depth, 1}
				q := l.undoIDA.Mul4x1(px)
				q = mgl64.Vec4{q[0] * q[2], q[1] * q[2], q[2], q[3]}
				p := l.combine.Mul4x1(q)
				points[idx] = r3.Vector{X: p[0], Y: p[1], Z: p[2]}
			}, nil
		})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// Geometry holds the voxel of every frustum sample of a batch, indexed like ComputeGeometry
// with cameras running batch major. Voxels outside Grid are kept and skipped when pooling.
type Geometry struct {
	Batch, Cams int
	D, H, W     int
	Grid        *pointcloud.VoxelGrid
	Coords      []pointcloud.VoxelCoords
}

// VoxelCandidates quantizes ego-frame points from ComputeGeometry into grid voxels.
func VoxelCandidates(grid *pointcloud.VoxelGrid, f *Frustum, batch, cams int, points []r3.Vector) (*Geometry, error) {
	d, h, w := f.Dims()
	if len(points) != batch*cams*d*h*w {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d points for %d cameras of %dx%dx%d samples",
			len(points), batch*cams, d, h, w)
	}
	g := &Geometry{Batch: batch, Cams: cams, D: d, H: h, W: w, Grid: grid, Coords: make([]pointcloud.VoxelCoords, len(points))}
	for i, p := range points {
		g.Coords[i] = grid.Index(p)
	}
	return g, nil
}

// PerSample is the number of candidates contributed by one batch element.
func (g *Geometry) PerSample() int {
	return g.Cams * g.D * g.H * g.W
}

// InGrid counts the candidates that land inside the grid.
func (g *Geometry) InGrid() int {
	n := 0
	for _, c := range g.Coords {
		if g.Grid.Contains(c) {
			n++
		}
	}
	return n
}
