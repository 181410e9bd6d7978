// Package rimage holds dense raster types produced while preparing camera samples.
package rimage

import (
	"image"

	"gorgonia.org/tensor"
)

// DepthMap is a dense per-pixel depth raster in meters, stored row by row. Zero means no
// measurement.
type DepthMap struct {
	width  int
	height int

	data []float32
}

// NewEmptyDepthMap returns a zero-filled depth map.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]float32, width*height),
	}
}

// HasData reports whether the map has any pixels at all.
func (dm *DepthMap) HasData() bool {
	return dm.width > 0 && dm.height > 0 && dm.data != nil
}

// Width returns the horizontal size in pixels.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the vertical size in pixels.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Bounds returns the rectangle covered by the map.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// Contains reports whether (x, y) is a pixel of the map.
func (dm *DepthMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

func (dm *DepthMap) kxy(x, y int) int {
	return y*dm.width + x
}

// Get returns the depth at p.
func (dm *DepthMap) Get(p image.Point) float32 {
	return dm.data[dm.kxy(p.X, p.Y)]
}

// GetDepth returns the depth at (x, y).
func (dm *DepthMap) GetDepth(x, y int) float32 {
	return dm.data[dm.kxy(x, y)]
}

// Set stores a depth at (x, y).
func (dm *DepthMap) Set(x, y int, val float32) {
	dm.data[dm.kxy(x, y)] = val
}

// NonZeroCount returns the number of pixels carrying a measurement.
func (dm *DepthMap) NonZeroCount() int {
	n := 0
	for _, d := range dm.data {
		if d != 0 {
			n++
		}
	}
	return n
}

// Tensor copies the map into a [height, width] float32 tensor.
func (dm *DepthMap) Tensor() *tensor.Dense {
	backing := make([]float32, len(dm.data))
	copy(backing, dm.data)
	return tensor.New(tensor.WithShape(dm.height, dm.width), tensor.WithBacking(backing))
}
