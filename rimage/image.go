package rimage

import (
	"image"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"
)

// NormalizeImage converts img to a [3, height, width] float32 tensor, subtracting mean and
// dividing by std per channel. With swapRB the first and third channels are exchanged
// before normalization, so an RGB source is read as if it were BGR.
func NormalizeImage(img image.Image, mean, std [3]float64, swapRB bool) *tensor.Dense {
	src := imaging.Clone(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	plane := w * h
	backing := make([]float32, 3*plane)

	order := [3]int{0, 1, 2}
	if swapRB {
		order = [3]int{2, 1, 0}
	}
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			for c := 0; c < 3; c++ {
				v := float64(px[order[c]])
				backing[c*plane+y*w+x] = float32((v - mean[c]) / std[c])
			}
		}
	}
	return tensor.New(tensor.WithShape(3, h, w), tensor.WithBacking(backing))
}
