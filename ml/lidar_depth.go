package ml

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// DownsampleLidarDepth turns [B, S, N, H, W] depth maps into a coarse [B, S, N, 1, H/f, W/f]
// prior: each f x f block takes its smallest non-zero depth, blocks without any measurement
// take the largest depth of the whole input, and everything is divided by maxDepth.
func DownsampleLidarDepth(depth *tensor.Dense, factor int, maxDepth float64) (*tensor.Dense, error) {
	shape := []int(depth.Shape())
	if len(shape) != 5 {
		return nil, errors.Wrapf(ErrShapeMismatch, "lidar depth must be [B, S, N, H, W], got %v", shape)
	}
	if factor <= 0 || shape[3]%factor != 0 || shape[4]%factor != 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "lidar depth %v is not divisible by %d", shape, factor)
	}
	if maxDepth <= 0 {
		return nil, errors.Errorf("max depth must be positive, got %v", maxDepth)
	}
	src := depth.Float32s()
	var globalMax float32
	for _, d := range src {
		globalMax = max(globalMax, d)
	}

	planes := shape[0] * shape[1] * shape[2]
	h, w := shape[3], shape[4]
	oh, ow := h/factor, w/factor
	out := make([]float32, planes*oh*ow)
	for p := 0; p < planes; p++ {
		plane := src[p*h*w : (p+1)*h*w]
		for by := 0; by < oh; by++ {
			for bx := 0; bx < ow; bx++ {
				best := globalMax
				for y := by * factor; y < (by+1)*factor; y++ {
					for _, d := range plane[y*w+bx*factor : y*w+(bx+1)*factor] {
						if d != 0 && d < best {
							best = d
						}
					}
				}
				out[p*oh*ow+by*ow+bx] = float32(float64(best) / maxDepth)
			}
		}
	}
	return tensor.New(tensor.WithShape(shape[0], shape[1], shape[2], 1, oh, ow), tensor.WithBacking(out)), nil
}
