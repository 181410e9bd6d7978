package ml

import (
	"context"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/bevdepth/config"
	"go.viam.com/bevdepth/logging"
	"go.viam.com/bevdepth/pointcloud"
)

// FusionLSS lifts multi-sweep camera images into a BEV feature map. Every sweep runs the
// backbone, the depth net and voxel pooling on its own; sweeps after the key sweep run with
// gradient tracking disabled. The per-sweep maps are concatenated along channels, key first.
type FusionLSS struct {
	// Backbone maps [BN, 3, H, W] images to [BN, InChannels, H/f, W/f] features.
	Backbone    Layer
	DepthNet    *DepthNet
	Accumulator VoxelAccumulator

	grid       *pointcloud.VoxelGrid
	frustum    *Frustum
	downsample int
	maxDepth   float64
	logger     logging.Logger
}

// LiftResult is the output of FusionLSS.Forward.
type LiftResult struct {
	// BEV is [B, S*C, Ny, Nx].
	BEV *tensor.Dense
	// KeyDepth holds the key sweep's depth probabilities [BN, D, H/f, W/f] when requested.
	KeyDepth *tensor.Dense
}

// NewFusionLSS wires the given parts to the grid, bins and downsampling of conf.
func NewFusionLSS(
	conf *config.Config,
	backbone Layer,
	depthNet *DepthNet,
	accumulator VoxelAccumulator,
	logger logging.Logger,
) (*FusionLSS, error) {
	lift := conf.Lift
	grid, err := pointcloud.NewVoxelGrid(lift.XBound, lift.YBound, lift.ZBound)
	if err != nil {
		return nil, err
	}
	bins, err := NewDepthBins(lift.DBound)
	if err != nil {
		return nil, err
	}
	frustum, err := NewFrustum(conf.ImageAug.FinalHeight(), conf.ImageAug.FinalWidth(), lift.DownsampleFactor, bins)
	if err != nil {
		return nil, err
	}
	if depthNet.DepthChannels != bins.Len() {
		return nil, errors.Errorf("depth net predicts %d bins, grid needs %d", depthNet.DepthChannels, bins.Len())
	}
	return &FusionLSS{
		Backbone:    backbone,
		DepthNet:    depthNet,
		Accumulator: accumulator,
		grid:        grid,
		frustum:     frustum,
		downsample:  lift.DownsampleFactor,
		maxDepth:    lift.DBound[1],
		logger:      logger,
	}, nil
}

// NewReferenceFusionLSS builds a FusionLSS from the reference layers: an average-pooling
// backbone, the reference depth net and the accumulator named by the config.
func NewReferenceFusionLSS(conf *config.Config, rng *rand.Rand, logger logging.Logger) (*FusionLSS, error) {
	lift := conf.Lift
	backbone := Sequential{
		AvgPool{Factor: lift.DownsampleFactor},
		NewPointwise(3, lift.InChannels, rng),
		ReLU{},
	}
	depthNet := NewDepthNet(lift.InChannels, lift.MidChannels, lift.OutputChannels, lift.DepthChannels(), rng)
	acc, err := NewVoxelAccumulator(lift.Accumulator, nil, logger)
	if err != nil {
		return nil, err
	}
	return NewFusionLSS(conf, backbone, depthNet, acc, logger)
}

// Grid returns the voxel grid features are pooled into.
func (l *FusionLSS) Grid() *pointcloud.VoxelGrid {
	return l.grid
}

// Forward lifts imgs [B, S, N, 3, H, W]. lidarDepth holds [B, S, N, H, W] depth maps, or
// [B, 1, N, H, W] for the key sweep only. Sweeps without depth get an all-zero prior.
func (l *FusionLSS) Forward(
	ctx context.Context,
	imgs *tensor.Dense,
	mats MatsDict,
	lidarDepth *tensor.Dense,
	returnDepth bool,
) (*LiftResult, error) {
	shape := []int(imgs.Shape())
	if len(shape) != 6 || shape[3] != 3 {
		return nil, errors.Wrapf(ErrShapeMismatch, "images must be [B, S, N, 3, H, W], got %v", shape)
	}
	if err := mats.Validate(); err != nil {
		return nil, err
	}
	b, s, n := shape[0], shape[1], shape[2]
	if mb, ms, mn := mats.Dims(); mb != b || ms != s || mn != n {
		return nil, errors.Wrapf(ErrShapeMismatch, "matrices are for %dx%dx%d, images %dx%dx%d", mb, ms, mn, b, s, n)
	}
	_, fh, fw := l.frustum.Dims()
	if shape[4] != fh*l.downsample || shape[5] != fw*l.downsample {
		return nil, errors.Wrapf(ErrShapeMismatch, "images are %dx%d, expected %dx%d",
			shape[5], shape[4], fw*l.downsample, fh*l.downsample)
	}

	var prior *tensor.Dense
	if lidarDepth != nil {
		sd := s
		if ds := lidarDepth.Shape(); len(ds) == 5 && ds[1] == 1 {
			sd = 1
		}
		if err := CheckShape("lidar depth", lidarDepth, b, sd, n, shape[4], shape[5]); err != nil {
			return nil, err
		}
		var err error
		if prior, err = DownsampleLidarDepth(lidarDepth, l.downsample, l.maxDepth); err != nil {
			return nil, err
		}
	}

	keyMats := SweepCameraMats(mats, 0)
	result := &LiftResult{}
	bevs := make([]*tensor.Dense, 0, s)
	for si := 0; si < s; si++ {
		sweepCtx := ctx
		if si > 0 {
			sweepCtx = WithNoGrad(ctx)
		}
		bev, depth, err := l.forwardSweep(sweepCtx, si, imgs, mats, keyMats, prior)
		if err != nil {
			return nil, errors.Wrapf(err, "sweep %d", si)
		}
		if si == 0 && returnDepth {
			result.KeyDepth = depth
		}
		bevs = append(bevs, bev)
	}
	bev, err := Concat(1, bevs...)
	if err != nil {
		return nil, err
	}
	result.BEV = bev
	return result, nil
}

func (l *FusionLSS) forwardSweep(
	ctx context.Context,
	sweep int,
	imgs *tensor.Dense,
	mats MatsDict,
	keyMats []CameraMats,
	prior *tensor.Dense,
) (*tensor.Dense, *tensor.Dense, error) {
	shape := imgs.Shape()
	b, n := shape[0], shape[2]
	_, fh, fw := l.frustum.Dims()

	feats, err := l.Backbone.Forward(ctx, selectSweep(imgs, sweep))
	if err != nil {
		return nil, nil, err
	}
	if fs := feats.Shape(); len(fs) != 4 || fs[0] != b*n || fs[2] != fh || fs[3] != fw {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "backbone features are %v, expected [%d, C, %d, %d]", fs, b*n, fh, fw)
	}

	var sweepPrior *tensor.Dense
	if prior != nil && sweep < prior.Shape()[1] {
		sweepPrior = selectSweep(prior, sweep)
	} else {
		sweepPrior = NewFloat32(b*n, 1, fh, fw)
	}

	// the pixel-size gate always comes from the key sweep's cameras
	keyIntrins := make([]mgl64.Mat4, len(keyMats))
	keyIDAs := make([]mgl64.Mat4, len(keyMats))
	for i, m := range keyMats {
		keyIntrins[i], keyIDAs[i] = m.Intrinsic, m.IDA
	}
	out, err := l.DepthNet.Forward(ctx, feats, keyIntrins, keyIDAs, sweepPrior)
	if err != nil {
		return nil, nil, err
	}
	logits, err := SliceChannels(out, 0, l.DepthNet.DepthChannels)
	if err != nil {
		return nil, nil, err
	}
	depth, err := Softmax(logits)
	if err != nil {
		return nil, nil, err
	}
	contextFeat, err := SliceChannels(out, l.DepthNet.DepthChannels, l.DepthNet.DepthChannels+l.DepthNet.ContextChannels)
	if err != nil {
		return nil, nil, err
	}

	points, err := ComputeGeometry(ctx, l.frustum, SweepCameraMats(mats, sweep))
	if err != nil {
		return nil, nil, err
	}
	geom, err := VoxelCandidates(l.grid, l.frustum, b, n, points)
	if err != nil {
		return nil, nil, err
	}
	if l.logger != nil {
		l.logger.Debugw("lifting sweep", "sweep", sweep, "candidates", len(geom.Coords), "in_grid", geom.InGrid(),
			"grad", GradEnabled(ctx))
	}
	bev, err := l.Accumulator.Accumulate(ctx, geom, depth, contextFeat)
	if err != nil {
		return nil, nil, err
	}
	return bev, depth, nil
}

// selectSweep copies sweep s out of a float32 [B, S, N, ...] tensor as [B*N, ...].
func selectSweep(t *tensor.Dense, s int) *tensor.Dense {
	shape := []int(t.Shape())
	b, sweeps := shape[0], shape[1]
	block := volume(shape[2:])
	src := t.Float32s()
	out := make([]float32, 0, b*block)
	for bi := 0; bi < b; bi++ {
		off := (bi*sweeps + s) * block
		out = append(out, src[off:off+block]...)
	}
	outShape := append([]int{b * shape[2]}, shape[3:]...)
	return tensor.New(tensor.WithShape(outShape...), tensor.WithBacking(out))
}
