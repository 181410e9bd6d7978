package ml

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/bevdepth/config"
	"go.viam.com/bevdepth/logging"
	"go.viam.com/bevdepth/utils"
)

// VoxelAccumulator pools depth-weighted context features into a BEV grid. depth holds the
// per-pixel bin probabilities [BN, D, H, W] and feat the context features [BN, C, H, W].
// The result is [B, C, Ny, Nx]; candidates outside the grid are dropped.
type VoxelAccumulator interface {
	Accumulate(ctx context.Context, geom *Geometry, depth, feat *tensor.Dense) (*tensor.Dense, error)
}

// NewVoxelAccumulator returns the accumulator registered under name. voxelNet refines the
// depth-feature volume of the training accumulator and may be nil.
func NewVoxelAccumulator(name string, voxelNet Layer, logger logging.Logger) (VoxelAccumulator, error) {
	switch name {
	case config.AccumulatorTraining:
		return &TrainingAccumulator{VoxelNet: voxelNet, logger: logger}, nil
	case config.AccumulatorInference:
		if voxelNet != nil {
			logger.Warn("inference accumulator ignores the voxel refinement network")
		}
		return &InferenceAccumulator{}, nil
	default:
		return nil, errors.Errorf("unknown accumulator %q", name)
	}
}

// TrainingAccumulator materializes the full [BN, C, D, H, W] outer product of depth
// probabilities and context features, optionally refines it with VoxelNet, then sums every
// candidate's C features into its voxel. Under WithNoGrad and without a VoxelNet nothing
// reads the volume, so it pools the weighted features directly like InferenceAccumulator.
type TrainingAccumulator struct {
	VoxelNet Layer
	logger   logging.Logger
}

// Accumulate pools the features.
func (a *TrainingAccumulator) Accumulate(ctx context.Context, geom *Geometry, depth, feat *tensor.Dense) (*tensor.Dense, error) {
	channels, err := checkPoolInputs(geom, depth, feat)
	if err != nil {
		return nil, err
	}
	if a.VoxelNet == nil && !GradEnabled(ctx) {
		return poolWeighted(ctx, geom, depth, feat, channels)
	}
	volume := outerProduct(depth, feat)
	if a.VoxelNet != nil {
		shape := slices.Clone([]int(volume.Shape()))
		if volume, err = a.VoxelNet.Forward(ctx, volume); err != nil {
			return nil, err
		}
		if err := CheckShape("refined volume", volume, shape...); err != nil {
			return nil, err
		}
	}
	if a.logger != nil {
		a.logger.Debugw("pooling depth feature volume", "shape", volume.Shape())
	}

	data := volume.Float32s()
	plane := geom.D * geom.H * geom.W
	return scatterAdd(ctx, geom, channels, func(cand int, dst []float32) {
		base := (cand/plane)*channels*plane + cand%plane
		for c := range dst {
			dst[c] += data[base+c*plane]
		}
	})
}

// InferenceAccumulator weights each candidate's context features by its depth probability
// while pooling, never holding the outer product in memory.
type InferenceAccumulator struct{}

// Accumulate pools the features.
func (a *InferenceAccumulator) Accumulate(ctx context.Context, geom *Geometry, depth, feat *tensor.Dense) (*tensor.Dense, error) {
	channels, err := checkPoolInputs(geom, depth, feat)
	if err != nil {
		return nil, err
	}
	return poolWeighted(ctx, geom, depth, feat, channels)
}

func poolWeighted(ctx context.Context, geom *Geometry, depth, feat *tensor.Dense, channels int) (*tensor.Dense, error) {
	probs, feats := depth.Float32s(), feat.Float32s()
	pixels := geom.H * geom.W
	plane := geom.D * pixels
	return scatterAdd(ctx, geom, channels, func(cand int, dst []float32) {
		p := probs[cand]
		if p == 0 {
			return
		}
		base := (cand/plane)*channels*pixels + cand%pixels
		for c := range dst {
			dst[c] += p * feats[base+c*pixels]
		}
	})
}

func checkPoolInputs(geom *Geometry, depth, feat *tensor.Dense) (int, error) {
	bn := geom.Batch * geom.Cams
	if err := CheckShape("depth", depth, bn, geom.D, geom.H, geom.W); err != nil {
		return 0, err
	}
	shape := feat.Shape()
	if len(shape) != 4 {
		return 0, errors.Wrapf(ErrShapeMismatch, "features must be [BN, C, H, W], got %v", shape)
	}
	if err := CheckShape("features", feat, bn, shape[1], geom.H, geom.W); err != nil {
		return 0, err
	}
	return shape[1], nil
}

func outerProduct(depth, feat *tensor.Dense) *tensor.Dense {
	dShape, fShape := depth.Shape(), feat.Shape()
	bn, d, c := dShape[0], dShape[1], fShape[1]
	pixels := dShape[2] * dShape[3]
	probs, feats := depth.Float32s(), feat.Float32s()
	out := make([]float32, bn*c*d*pixels)
	for n := 0; n < bn; n++ {
		for ci := 0; ci < c; ci++ {
			f := feats[(n*c+ci)*pixels : (n*c+ci+1)*pixels]
			for di := 0; di < d; di++ {
				p := probs[(n*d+di)*pixels : (n*d+di+1)*pixels]
				dst := out[((n*c+ci)*d+di)*pixels : ((n*c+ci)*d+di+1)*pixels]
				for k := range dst {
					dst[k] = p[k] * f[k]
				}
			}
		}
	}
	return tensor.New(tensor.WithShape(bn, c, d, dShape[2], dShape[3]), tensor.WithBacking(out))
}

// scatterAdd splits the candidates into groups that each sum into a private [B, Ny, Nx, C]
// buffer; the buffers are merged into the [B, C, Ny, Nx] result once all groups finish.
func scatterAdd(ctx context.Context, geom *Geometry, channels int, add func(cand int, dst []float32)) (*tensor.Dense, error) {
	num := geom.Grid.Num()
	nx, ny := int(num.I), int(num.J)
	size := geom.Batch * ny * nx * channels
	perSample := geom.PerSample()

	var partials [][]float32
	err := utils.GroupWorkParallel(
		ctx,
		len(geom.Coords),
		func(numGroups int) {
			partials = make([][]float32, numGroups)
		},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			buf := make([]float32, size)
			partials[groupNum] = buf
			return func(_, cand int) {
				c := geom.Coords[cand]
				if !geom.Grid.Contains(c) {
					return
				}
				off := (((cand/perSample)*ny+int(c.J))*nx + int(c.I)) * channels
				add(cand, buf[off:off+channels])
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}

	out := make([]float32, size)
	for _, buf := range partials {
		for b := 0; b < geom.Batch; b++ {
			for j := 0; j < ny; j++ {
				for i := 0; i < nx; i++ {
					cell := buf[((b*ny+j)*nx+i)*channels : ((b*ny+j)*nx+i+1)*channels]
					for c, v := range cell {
						out[((b*channels+c)*ny+j)*nx+i] += v
					}
				}
			}
		}
	}
	return tensor.New(tensor.WithShape(geom.Batch, channels, ny, nx), tensor.WithBacking(out)), nil
}
