package transform

import (
	"image"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/bevdepth/spatialmath"
)

// LidarCameraPoses relates a lidar sweep to a camera capture through the global frame.
type LidarCameraPoses struct {
	LidarToEgo        spatialmath.CalibratedPose
	LidarEgoToGlobal  spatialmath.CalibratedPose
	CameraEgoToGlobal spatialmath.CalibratedPose
	CameraToEgo       spatialmath.CalibratedPose
}

// LidarToCamera composes lidar -> ego -> global -> camera ego -> camera.
func (p LidarCameraPoses) LidarToCamera() (mgl64.Mat4, error) {
	lidarToEgo, err := p.LidarToEgo.Transform()
	if err != nil {
		return mgl64.Mat4{}, errors.Wrap(err, "lidar to ego")
	}
	lidarEgoToGlobal, err := p.LidarEgoToGlobal.Transform()
	if err != nil {
		return mgl64.Mat4{}, errors.Wrap(err, "lidar ego to global")
	}
	camEgoToGlobal, err := p.CameraEgoToGlobal.Transform()
	if err != nil {
		return mgl64.Mat4{}, errors.Wrap(err, "camera ego to global")
	}
	camToEgo, err := p.CameraToEgo.Transform()
	if err != nil {
		return mgl64.Mat4{}, errors.Wrap(err, "camera to ego")
	}
	return spatialmath.ComposeAll(
		lidarToEgo,
		lidarEgoToGlobal,
		spatialmath.RigidInverse(camEgoToGlobal),
		spatialmath.RigidInverse(camToEgo),
	), nil
}

// MapPointCloudToImage projects lidar points into the raw image of a camera. It returns
// (x, y, depth) for every point in front of the camera by more than minDist that lands
// strictly inside the image with a one pixel margin on every edge.
func MapPointCloudToImage(
	points []r3.Vector,
	poses LidarCameraPoses,
	intrinsic *CameraIntrinsic,
	imageSize image.Point,
	minDist float64,
) ([]r3.Vector, error) {
	if err := intrinsic.CheckValid(); err != nil {
		return nil, err
	}
	toCamera, err := poses.LidarToCamera()
	if err != nil {
		return nil, err
	}
	w, h := float64(imageSize.X), float64(imageSize.Y)
	out := make([]r3.Vector, 0, len(points)/4)
	for _, pt := range points {
		cam := spatialmath.TransformPoint(toCamera, pt)
		if !(cam.Z > minDist) {
			continue
		}
		px, depth := intrinsic.PointToPixel(cam)
		if px.X > 1 && px.X < w-1 && px.Y > 1 && px.Y < h-1 {
			out = append(out, r3.Vector{X: px.X, Y: px.Y, Z: depth})
		}
	}
	return out, nil
}
