package dataset

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/bevdepth/config"
	"go.viam.com/bevdepth/spatialmath"
)

// MeanEgoPose averages the ego poses of the given camera records component-wise, rotation
// quaternions included. The result is the sample's ego-to-global pose.
func MeanEgoPose(frame SensorFrame, cams []string) (spatialmath.CalibratedPose, error) {
	if len(cams) == 0 {
		return spatialmath.CalibratedPose{}, errors.New("no cameras to average over")
	}
	var rot [4][]float64
	var trans [3][]float64
	for _, cam := range cams {
		rec, ok := frame[cam]
		if !ok {
			return spatialmath.CalibratedPose{}, errors.Errorf("missing camera %q", cam)
		}
		for i, v := range rec.EgoPose.Rotation {
			rot[i] = append(rot[i], v)
		}
		for i, v := range rec.EgoPose.Translation {
			trans[i] = append(trans[i], v)
		}
	}
	var meanRot [4]float64
	var meanTrans [3]float64
	for i := range rot {
		meanRot[i] = stat.Mean(rot[i], nil)
	}
	for i := range trans {
		meanTrans[i] = stat.Mean(trans[i], nil)
	}
	return spatialmath.NewCalibratedPose(meanRot, meanTrans), nil
}

// GroundTruth maps the annotations of info into the key ego frame given by the mean ego pose
// of cams. Annotations whose category does not map to one of classes, or that no lidar or
// radar point supports, are skipped. Labels index classes.
func GroundTruth(
	info *Info,
	cams []string,
	classes []string,
	taxonomy *config.Taxonomy,
) ([]spatialmath.Box3D, []int, error) {
	egoPose, err := MeanEgoPose(info.CamInfos, cams)
	if err != nil {
		return nil, nil, err
	}
	globalToEgo := quat.Inv(egoPose.Rotation)
	rot, err := spatialmath.CalibratedPose{Rotation: globalToEgo}.RotationMatrix()
	if err != nil {
		return nil, nil, err
	}

	boxes := make([]spatialmath.Box3D, 0, len(info.AnnInfos))
	labels := make([]int, 0, len(info.AnnInfos))
	for _, ann := range info.AnnInfos {
		label, ok := taxonomy.ClassIndex(ann.CategoryName, classes)
		if !ok || ann.NumLidarPts+ann.NumRadarPts <= 0 {
			continue
		}
		rel := r3.Vector{X: ann.Translation[0], Y: ann.Translation[1], Z: ann.Translation[2]}.Sub(egoPose.Translation)
		c := rot.Mul3x1(mgl64.Vec3{rel.X, rel.Y, rel.Z})
		var vel mgl64.Vec3
		copy(vel[:], ann.Velocity)
		v := rot.Mul3x1(vel)

		orientation := quat.Mul(globalToEgo, quat.Number{
			Real: ann.Rotation[0], Imag: ann.Rotation[1], Jmag: ann.Rotation[2], Kmag: ann.Rotation[3],
		})
		boxes = append(boxes, spatialmath.Box3D{
			Center:   r3.Vector{X: c[0], Y: c[1], Z: c[2]},
			Size:     r3.Vector{X: ann.Size[1], Y: ann.Size[0], Z: ann.Size[2]},
			Yaw:      spatialmath.QuaternionYaw(orientation),
			Velocity: r2.Point{X: v[0], Y: v[1]},
		})
		labels = append(labels, label)
	}
	return boxes, labels, nil
}
