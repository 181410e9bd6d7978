package dataset

import (
	"context"
	"image"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"

	"go.viam.com/bevdepth/pointcloud"
)

// ImageLoader reads the camera image a record points to.
type ImageLoader interface {
	LoadImage(ctx context.Context, filename string) (image.Image, error)
}

// LidarLoader reads the lidar points, in the lidar frame, a record points to.
type LidarLoader interface {
	LoadPoints(ctx context.Context, filename string) ([]r3.Vector, error)
}

// FileImageLoader decodes images from files below Root.
type FileImageLoader struct {
	Root string
}

// LoadImage decodes Root/filename.
func (l FileImageLoader) LoadImage(ctx context.Context, filename string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return imaging.Open(filepath.Join(l.Root, filename))
}

// FileLidarLoader reads raw float32 lidar sweeps from files below Root.
type FileLidarLoader struct {
	Root           string
	FieldsPerPoint int
}

// LoadPoints reads Root/filename.
func (l FileLidarLoader) LoadPoints(ctx context.Context, filename string) ([]r3.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pointcloud.ReadLidarBinFile(filepath.Join(l.Root, filename), l.FieldsPerPoint)
}
