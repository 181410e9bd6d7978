package ml

import (
	"context"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"go.viam.com/bevdepth/config"
	"go.viam.com/bevdepth/logging"
	"go.viam.com/bevdepth/pointcloud"
)

func smallGrid(t *testing.T) *pointcloud.VoxelGrid {
	t.Helper()
	grid, err := pointcloud.NewVoxelGrid([3]float64{0, 2, 1}, [3]float64{0, 2, 1}, [3]float64{0, 1, 1})
	test.That(t, err, test.ShouldBeNil)
	return grid
}

// one camera, two depth bins, a 1x2 feature map and two channels
func handGeometry(t *testing.T) (*Geometry, *tensor.Dense, *tensor.Dense) {
	t.Helper()
	geom := &Geometry{
		Batch: 1, Cams: 1, D: 2, H: 1, W: 2,
		Grid: smallGrid(t),
		Coords: []pointcloud.VoxelCoords{
			{I: 0, J: 0, K: 0}, // d0 w0
			{I: 1, J: 1, K: 0}, // d0 w1
			{I: 0, J: 0, K: 0}, // d1 w0
			{I: 5, J: 0, K: 0}, // d1 w1, outside the grid
		},
	}
	depth := float32Tensor([]float32{0.25, 0.5, 0.75, 0.5}, 1, 2, 1, 2)
	feat := float32Tensor([]float32{1, 2, 10, 20}, 1, 2, 1, 2)
	return geom, depth, feat
}

func TestAccumulatorsByHand(t *testing.T) {
	expected := []float32{
		1, 0, 0, 1, // channel 0, rows y=0 and y=1
		10, 0, 0, 10,
	}
	for _, acc := range []VoxelAccumulator{&TrainingAccumulator{}, &InferenceAccumulator{}} {
		geom, depth, feat := handGeometry(t)
		out, err := acc.Accumulate(context.Background(), geom, depth, feat)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, []int(out.Shape()), test.ShouldResemble, []int{1, 2, 2, 2})
		test.That(t, out.Float32s(), test.ShouldResemble, expected)
	}
}

func TestAccumulatorsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	grid, err := pointcloud.NewVoxelGrid([3]float64{-4, 4, 1}, [3]float64{-4, 4, 1}, [3]float64{-2, 2, 4})
	test.That(t, err, test.ShouldBeNil)

	const batch, cams, d, h, w, c = 2, 3, 5, 4, 6, 7
	geom := &Geometry{Batch: batch, Cams: cams, D: d, H: h, W: w, Grid: grid}
	for i := 0; i < batch*cams*d*h*w; i++ {
		p := r3.Vector{X: rng.Float64()*10 - 5, Y: rng.Float64()*10 - 5, Z: rng.Float64()*6 - 3}
		geom.Coords = append(geom.Coords, grid.Index(p))
	}
	test.That(t, geom.InGrid(), test.ShouldBeLessThan, len(geom.Coords))
	test.That(t, geom.InGrid(), test.ShouldBeGreaterThan, 0)

	logits := NewFloat32(batch*cams, d, h, w)
	for i := range logits.Float32s() {
		logits.Float32s()[i] = float32(rng.NormFloat64())
	}
	depth, err := Softmax(logits)
	test.That(t, err, test.ShouldBeNil)
	feat := NewFloat32(batch*cams, c, h, w)
	for i := range feat.Float32s() {
		feat.Float32s()[i] = float32(rng.Float64())
	}

	logger := logging.NewTestLogger(t)
	train, err := NewVoxelAccumulator(config.AccumulatorTraining, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	infer, err := NewVoxelAccumulator(config.AccumulatorInference, nil, logger)
	test.That(t, err, test.ShouldBeNil)

	a, err := train.Accumulate(context.Background(), geom, depth, feat)
	test.That(t, err, test.ShouldBeNil)
	b, err := infer.Accumulate(context.Background(), geom, depth, feat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, []int(a.Shape()), test.ShouldResemble, []int{batch, c, 8, 8})
	test.That(t, []int(b.Shape()), test.ShouldResemble, []int{batch, c, 8, 8})
	var total float64
	for i, v := range a.Float32s() {
		test.That(t, float64(b.Float32s()[i]), test.ShouldAlmostEqual, float64(v), 1e-4)
		total += float64(v)
	}
	test.That(t, total, test.ShouldBeGreaterThan, 0)
}

func TestOutOfGridCandidatesDropped(t *testing.T) {
	geom, depth, feat := handGeometry(t)
	for i := range geom.Coords {
		geom.Coords[i] = pointcloud.VoxelCoords{I: 0, J: 0, K: 1}
	}
	out, err := (&InferenceAccumulator{}).Accumulate(context.Background(), geom, depth, feat)
	test.That(t, err, test.ShouldBeNil)
	for _, v := range out.Float32s() {
		test.That(t, v, test.ShouldEqual, float32(0))
	}
}

func TestTrainingAccumulatorVoxelNet(t *testing.T) {
	double := LayerFunc(func(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error) {
		test.That(t, []int(x.Shape()), test.ShouldResemble, []int{1, 2, 2, 1, 2})
		out := NewFloat32(x.Shape()...)
		for i, v := range x.Float32s() {
			out.Float32s()[i] = 2 * v
		}
		return out, nil
	})
	geom, depth, feat := handGeometry(t)
	out, err := (&TrainingAccumulator{VoxelNet: double}).Accumulate(context.Background(), geom, depth, feat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Float32s(), test.ShouldResemble, []float32{2, 0, 0, 2, 20, 0, 0, 20})

	shrink := LayerFunc(func(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error) {
		return NewFloat32(1, 1, 2, 1, 2), nil
	})
	_, err = (&TrainingAccumulator{VoxelNet: shrink}).Accumulate(context.Background(), geom, depth, feat)
	test.That(t, errors.Is(err, ErrShapeMismatch), test.ShouldBeTrue)
}

func TestAccumulatorInputChecks(t *testing.T) {
	geom, depth, _ := handGeometry(t)
	_, err := (&InferenceAccumulator{}).Accumulate(context.Background(), geom, depth, NewFloat32(1, 2, 2, 2))
	test.That(t, errors.Is(err, ErrShapeMismatch), test.ShouldBeTrue)
	_, err = (&TrainingAccumulator{}).Accumulate(context.Background(), geom, NewFloat32(1, 3, 1, 2), NewFloat32(1, 2, 1, 2))
	test.That(t, errors.Is(err, ErrShapeMismatch), test.ShouldBeTrue)

	_, err = NewVoxelAccumulator("sparse", nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTrainingAccumulatorWithoutGrad(t *testing.T) {
	expected := []float32{1, 0, 0, 1, 10, 0, 0, 10}
	logger, logs := logging.NewObservedTestLogger(t)
	acc := &TrainingAccumulator{logger: logger}

	geom, depth, feat := handGeometry(t)
	out, err := acc.Accumulate(context.Background(), geom, depth, feat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Float32s(), test.ShouldResemble, expected)
	test.That(t, logs.FilterMessage("pooling depth feature volume").Len(), test.ShouldEqual, 1)

	out, err = acc.Accumulate(WithNoGrad(context.Background()), geom, depth, feat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Float32s(), test.ShouldResemble, expected)
	test.That(t, logs.FilterMessage("pooling depth feature volume").Len(), test.ShouldEqual, 1)

	// the refinement network still needs the volume
	refined := 0
	acc.VoxelNet = LayerFunc(func(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error) {
		refined++
		return x, nil
	})
	out, err = acc.Accumulate(WithNoGrad(context.Background()), geom, depth, feat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Float32s(), test.ShouldResemble, expected)
	test.That(t, refined, test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("pooling depth feature volume").Len(), test.ShouldEqual, 2)
}
