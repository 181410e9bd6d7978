package ml

import (
	"context"
	"math"
	"math/rand"
	"slices"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Layer is an opaque feature transform over float32 [N, C, ...] tensors. Real networks
// plug in here; the types below are small reference implementations.
type Layer interface {
	Forward(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error)
}

// GatedLayer transforms x under a per-sample [N, K] gate.
type GatedLayer interface {
	Forward(ctx context.Context, x, gate *tensor.Dense) (*tensor.Dense, error)
}

// LayerFunc adapts a function to a Layer.
type LayerFunc func(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error)

// Forward calls f.
func (f LayerFunc) Forward(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error) {
	return f(ctx, x)
}

// Identity returns its input.
type Identity struct{}

// Forward returns x.
func (Identity) Forward(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error) {
	return x, ctx.Err()
}

// Pointwise is a 1x1 convolution: every spatial position of an [N, In, ...] tensor is mapped
// through the same dense In -> Out matrix. On [N, In] tensors it is a fully connected layer.
type Pointwise struct {
	In, Out int
	// Weights is row-major [Out, In].
	Weights []float32
	Bias    []float32
}

// NewPointwise returns a layer initialized uniformly in ±1/sqrt(in).
func NewPointwise(in, out int, rng *rand.Rand) *Pointwise {
	bound := 1 / math.Sqrt(float64(in))
	p := &Pointwise{In: in, Out: out, Weights: make([]float32, in*out), Bias: make([]float32, out)}
	for i := range p.Weights {
		p.Weights[i] = float32(bound * (2*rng.Float64() - 1))
	}
	for i := range p.Bias {
		p.Bias[i] = float32(bound * (2*rng.Float64() - 1))
	}
	return p
}

// NewLinear returns a fully connected layer over [N, in] tensors.
func NewLinear(in, out int, rng *rand.Rand) *Pointwise {
	return NewPointwise(in, out, rng)
}

// Forward applies the layer.
func (p *Pointwise) Forward(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shape := []int(x.Shape())
	if len(shape) < 2 || shape[1] != p.In {
		return nil, errors.Wrapf(ErrShapeMismatch, "pointwise layer expects %d channels, got shape %v", p.In, shape)
	}
	inner := volume(shape[2:])
	src := x.Float32s()
	outShape := slices.Clone(shape)
	outShape[1] = p.Out
	out := make([]float32, shape[0]*p.Out*inner)
	for n := 0; n < shape[0]; n++ {
		in := src[n*p.In*inner : (n+1)*p.In*inner]
		dst := out[n*p.Out*inner : (n+1)*p.Out*inner]
		for o := 0; o < p.Out; o++ {
			row := dst[o*inner : (o+1)*inner]
			for k := range row {
				row[k] = p.Bias[o]
			}
			for i, w := range p.Weights[o*p.In : (o+1)*p.In] {
				if w == 0 {
					continue
				}
				for k, v := range in[i*inner : (i+1)*inner] {
					row[k] += w * v
				}
			}
		}
	}
	return tensor.New(tensor.WithShape(outShape...), tensor.WithBacking(out)), nil
}

// ReLU clamps negative values to zero.
type ReLU struct{}

// Forward applies the activation.
func (ReLU) Forward(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := tensor.Clamp(x, float32(0), float32(math.MaxFloat32))
	if err != nil {
		return nil, err
	}
	return out.(*tensor.Dense), nil
}

// Sequential runs layers in order.
type Sequential []Layer

// Forward applies every layer.
func (s Sequential) Forward(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error) {
	var err error
	for _, l := range s {
		if x, err = l.Forward(ctx, x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Residual computes relu(x + Body(x)). Body must keep the shape of x.
type Residual struct {
	Body Layer
}

// Forward applies the block.
func (r Residual) Forward(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error) {
	y, err := r.Body.Forward(ctx, x)
	if err != nil {
		return nil, err
	}
	sum, err := Add(x, y)
	if err != nil {
		return nil, err
	}
	return ReLU{}.Forward(ctx, sum)
}

// AvgPool averages Factor x Factor blocks of an [N, C, H, W] tensor.
type AvgPool struct {
	Factor int
}

// Forward applies the pooling.
func (a AvgPool) Forward(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shape := []int(x.Shape())
	if len(shape) != 4 || a.Factor <= 0 || shape[2]%a.Factor != 0 || shape[3]%a.Factor != 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot pool shape %v by %d", shape, a.Factor)
	}
	h, w := shape[2]/a.Factor, shape[3]/a.Factor
	src := x.Float32s()
	out := make([]float32, shape[0]*shape[1]*h*w)
	norm := float32(a.Factor * a.Factor)
	for nc := 0; nc < shape[0]*shape[1]; nc++ {
		plane := src[nc*shape[2]*shape[3] : (nc+1)*shape[2]*shape[3]]
		for y := 0; y < shape[2]; y++ {
			for xx := 0; xx < shape[3]; xx++ {
				out[nc*h*w+(y/a.Factor)*w+xx/a.Factor] += plane[y*shape[3]+xx] / norm
			}
		}
	}
	return tensor.New(tensor.WithShape(shape[0], shape[1], h, w), tensor.WithBacking(out)), nil
}

// GlobalContext replaces every position of an [N, C, ...] tensor with its per-channel mean.
type GlobalContext struct{}

// Forward applies the layer.
func (GlobalContext) Forward(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shape := []int(x.Shape())
	inner := volume(shape[2:])
	src := x.Float32s()
	out := make([]float32, len(src))
	for nc := 0; nc < shape[0]*shape[1]; nc++ {
		var sum float64
		for _, v := range src[nc*inner : (nc+1)*inner] {
			sum += float64(v)
		}
		mean := float32(sum / float64(inner))
		for k := nc * inner; k < (nc+1)*inner; k++ {
			out[k] = mean
		}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
}

// Pyramid runs parallel branches on the same input, concatenates them along channels and
// merges the result. It stands in for a dilated-convolution context pyramid.
type Pyramid struct {
	Branches []Layer
	Merge    Layer
}

// NewPyramid returns a two-branch pyramid (local and image-wide context) over channels.
func NewPyramid(channels int, rng *rand.Rand) *Pyramid {
	return &Pyramid{
		Branches: []Layer{
			Sequential{NewPointwise(channels, channels, rng), ReLU{}},
			Sequential{GlobalContext{}, NewPointwise(channels, channels, rng), ReLU{}},
		},
		Merge: Sequential{NewPointwise(2*channels, channels, rng), ReLU{}},
	}
}

// Forward applies the pyramid.
func (p *Pyramid) Forward(ctx context.Context, x *tensor.Dense) (*tensor.Dense, error) {
	outs := make([]*tensor.Dense, 0, len(p.Branches))
	for _, b := range p.Branches {
		y, err := b.Forward(ctx, x)
		if err != nil {
			return nil, err
		}
		outs = append(outs, y)
	}
	joined, err := Concat(1, outs...)
	if err != nil {
		return nil, err
	}
	return p.Merge.Forward(ctx, joined)
}

// SqueezeExcite reweights the channels of x by sigmoid(Expand(relu(Reduce(gate)))).
type SqueezeExcite struct {
	Reduce *Pointwise
	Expand *Pointwise
}

// NewSqueezeExcite returns a channel attention block over channels.
func NewSqueezeExcite(channels int, rng *rand.Rand) *SqueezeExcite {
	return &SqueezeExcite{
		Reduce: NewPointwise(channels, channels, rng),
		Expand: NewPointwise(channels, channels, rng),
	}
}

// Forward applies the gate. gate is [N, C] for an [N, C, ...] input.
func (se *SqueezeExcite) Forward(ctx context.Context, x, gate *tensor.Dense) (*tensor.Dense, error) {
	g, err := Sequential{se.Reduce, ReLU{}, se.Expand}.Forward(ctx, gate)
	if err != nil {
		return nil, err
	}
	shape := []int(x.Shape())
	if err := CheckShape("gate", g, shape[0], shape[1]); err != nil {
		return nil, err
	}
	logits := make(stats.Float64Data, 0, shape[0]*shape[1])
	for _, v := range g.Float32s() {
		logits = append(logits, float64(v))
	}
	weights, err := stats.Sigmoid(logits)
	if err != nil {
		return nil, err
	}
	inner := volume(shape[2:])
	src := x.Float32s()
	out := make([]float32, len(src))
	for nc, wgt := range weights {
		for k := nc * inner; k < (nc+1)*inner; k++ {
			out[k] = src[k] * float32(wgt)
		}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
}

// Add returns a + b for tensors of the same shape and type.
func Add(a, b *tensor.Dense) (*tensor.Dense, error) {
	if err := CheckShape("addend", b, a.Shape()...); err != nil {
		return nil, err
	}
	if a.Dtype() != b.Dtype() {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot add %v to %v", b.Dtype(), a.Dtype())
	}
	out, err := tensor.Add(a, b)
	if err != nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot add: %v", err)
	}
	return out.(*tensor.Dense), nil
}
