package ml

import (
	"context"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/bevdepth/spatialmath"
)

// DefaultScaleDepthFactor scales pixel sizes into a range the gating network handles well.
const DefaultScaleDepthFactor = 1000.0

// DepthNet predicts a per-pixel depth-bin distribution and a context feature from one sweep
// of camera features, conditioned on camera geometry and a coarse lidar depth prior.
type DepthNet struct {
	DepthChannels   int
	ContextChannels int

	Reduce     Layer
	Context    Layer
	MLP        Layer
	SE         GatedLayer
	DepthPrior Layer
	DepthConv  Layer
	Aggregate  Layer
	DepthPred  Layer

	ScaleDepthFactor float64
}

// NewDepthNet returns a depth net built from reference layers.
func NewDepthNet(inChannels, midChannels, contextChannels, depthChannels int, rng *rand.Rand) *DepthNet {
	return &DepthNet{
		DepthChannels:   depthChannels,
		ContextChannels: contextChannels,
		Reduce:          Sequential{NewPointwise(inChannels, midChannels, rng), ReLU{}},
		Context:         NewPointwise(midChannels, contextChannels, rng),
		MLP:             Sequential{NewLinear(1, midChannels, rng), ReLU{}, NewLinear(midChannels, midChannels, rng)},
		SE:              NewSqueezeExcite(midChannels, rng),
		DepthPrior: Sequential{
			NewPointwise(1, midChannels, rng), ReLU{},
			NewPointwise(midChannels, midChannels, rng),
		},
		DepthConv: Sequential{
			Residual{Body: NewPointwise(midChannels, midChannels, rng)},
			Residual{Body: NewPointwise(midChannels, midChannels, rng)},
			Residual{Body: NewPointwise(midChannels, midChannels, rng)},
		},
		Aggregate:        NewPyramid(midChannels, rng),
		DepthPred:        NewPointwise(midChannels, depthChannels, rng),
		ScaleDepthFactor: DefaultScaleDepthFactor,
	}
}

// ScaledPixelSize is the physical size subtended by one augmented pixel at unit depth:
// the norm of the inverse focal lengths times factor, divided by the augmentation scale
// sqrt(2)·|ida₀₀|.
func ScaledPixelSize(intrin, ida mgl64.Mat4, factor float64) (float64, error) {
	inv, err := spatialmath.Invert(intrin)
	if err != nil {
		return 0, errors.Wrap(err, "cannot invert intrinsic")
	}
	pixelSize := math.Hypot(inv.At(0, 0), inv.At(1, 1))
	augScale := math.Sqrt(ida.At(0, 0)*ida.At(0, 0) + ida.At(0, 0)*ida.At(0, 0))
	if augScale == 0 {
		return 0, errors.Wrap(spatialmath.ErrSingularTransform, "image augmentation has zero scale")
	}
	return pixelSize * factor / augScale, nil
}

// Forward runs the net on x [BN, in, h, w] with one intrinsic and image augmentation per
// camera and the lidar prior [BN, 1, h, w]. The result is [BN, D + C, h, w] with the
// depth logits first.
func (n *DepthNet) Forward(
	ctx context.Context,
	x *tensor.Dense,
	intrins, idas []mgl64.Mat4,
	lidarPrior *tensor.Dense,
) (*tensor.Dense, error) {
	shape := []int(x.Shape())
	if len(shape) != 4 || len(intrins) != shape[0] || len(idas) != shape[0] {
		return nil, errors.Wrapf(ErrShapeMismatch, "depth net input %v with %d intrinsics and %d augmentations",
			shape, len(intrins), len(idas))
	}
	if err := CheckShape("lidar prior", lidarPrior, shape[0], 1, shape[2], shape[3]); err != nil {
		return nil, err
	}

	reduced, err := n.Reduce.Forward(ctx, x)
	if err != nil {
		return nil, err
	}
	contextFeat, err := n.Context.Forward(ctx, reduced)
	if err != nil {
		return nil, err
	}

	pixelSizes := make([]float32, shape[0])
	for i := range pixelSizes {
		s, err := ScaledPixelSize(intrins[i], idas[i], n.ScaleDepthFactor)
		if err != nil {
			return nil, errors.Wrapf(err, "camera %d", i)
		}
		pixelSizes[i] = float32(s)
	}
	gate, err := n.MLP.Forward(ctx, tensor.New(tensor.WithShape(shape[0], 1), tensor.WithBacking(pixelSizes)))
	if err != nil {
		return nil, err
	}
	feat, err := n.SE.Forward(ctx, reduced, gate)
	if err != nil {
		return nil, err
	}

	prior, err := n.DepthPrior.Forward(ctx, lidarPrior)
	if err != nil {
		return nil, err
	}
	depth, err := Add(feat, prior)
	if err != nil {
		return nil, err
	}
	for _, l := range []Layer{n.DepthConv, n.Aggregate, n.DepthPred} {
		if depth, err = l.Forward(ctx, depth); err != nil {
			return nil, err
		}
	}
	if err := CheckShape("depth logits", depth, shape[0], n.DepthChannels, shape[2], shape[3]); err != nil {
		return nil, err
	}
	if err := CheckShape("context", contextFeat, shape[0], n.ContextChannels, shape[2], shape[3]); err != nil {
		return nil, err
	}
	return Concat(1, depth, contextFeat)
}
