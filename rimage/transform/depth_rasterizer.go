package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/bevdepth/rimage"
)

// RasterizeDepth scatters projected (x, y, depth) points into a depth map the size of the
// augmented image. Each point goes through the augmentation with ApplyToPoint and its
// coordinates are truncated toward zero, so a point in (-1, 0) still lands on the first row
// or column. Points falling outside the map are dropped and later points overwrite earlier
// ones on the same pixel.
func RasterizeDepth(points []r3.Vector, aug ImageAugmentation) *rimage.DepthMap {
	size := aug.FinalDims()
	dm := rimage.NewEmptyDepthMap(size.X, size.Y)
	for _, pt := range points {
		p := aug.ApplyToPoint(r2.Point{X: pt.X, Y: pt.Y})
		x, y := int(p.X), int(p.Y)
		if !dm.Contains(x, y) {
			continue
		}
		dm.Set(x, y, float32(pt.Z))
	}
	return dm
}
