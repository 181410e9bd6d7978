package ml

import (
	"math"

	"github.com/pkg/errors"
)

// DepthBins discretizes [Min, Max) into bins of Step meters.
type DepthBins struct {
	Min, Max, Step float64
}

// NewDepthBins reads a (min, max, step) triple.
func NewDepthBins(b [3]float64) (DepthBins, error) {
	d := DepthBins{Min: b[0], Max: b[1], Step: b[2]}
	if !(d.Min < d.Max) || d.Step <= 0 {
		return DepthBins{}, errors.Errorf("invalid depth bins %v", b)
	}
	return d, nil
}

// Len is the number of bins.
func (d DepthBins) Len() int {
	return int(math.Round((d.Max - d.Min) / d.Step))
}

// Depth is the representative depth of bin i, the bin's lower edge.
func (d DepthBins) Depth(i int) float64 {
	return d.Min + float64(i)*d.Step
}

// Frustum is the grid of (x, y, depth) samples of one feature map, expressed in augmented
// image pixels. Feature cell centers are spread evenly over the full image so the first and
// last cells sit on the first and last pixels.
type Frustum struct {
	Bins DepthBins
	Xs   []float64
	Ys   []float64
}

// NewFrustum builds the frustum of a finalH x finalW image seen through features downsampled
// by downsample.
func NewFrustum(finalH, finalW, downsample int, bins DepthBins) (*Frustum, error) {
	if downsample <= 0 || finalH < downsample || finalW < downsample {
		return nil, errors.Errorf("cannot downsample %dx%d by %d", finalW, finalH, downsample)
	}
	return &Frustum{
		Bins: bins,
		Xs:   linspace(0, float64(finalW-1), finalW/downsample),
		Ys:   linspace(0, float64(finalH-1), finalH/downsample),
	}, nil
}

// Dims returns the depth, height and width of the frustum.
func (f *Frustum) Dims() (d, h, w int) {
	return f.Bins.Len(), len(f.Ys), len(f.Xs)
}

// Size is the number of samples.
func (f *Frustum) Size() int {
	d, h, w := f.Dims()
	return d * h * w
}

func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}
