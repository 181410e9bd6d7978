// Package dataset assembles multi-sweep, multi-camera training samples from nuScenes-style
// info records and collates them into batches.
package dataset

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/bevdepth/rimage/transform"
	"go.viam.com/bevdepth/spatialmath"
)

// LidarTop is the sensor name lidar records are stored under.
const LidarTop = "LIDAR_TOP"

// CalibratedSensor is the mounting of a sensor on the ego vehicle.
type CalibratedSensor struct {
	Translation [3]float64 `json:"translation"`
	// Rotation is a (w, x, y, z) quaternion.
	Rotation        [4]float64  `json:"rotation"`
	CameraIntrinsic [][]float64 `json:"camera_intrinsic,omitempty"`
}

// EgoPose is the ego vehicle's pose in the global frame at capture time.
type EgoPose struct {
	Translation [3]float64 `json:"translation"`
	Rotation    [4]float64 `json:"rotation"`
}

// SensorRecord is one capture of one sensor.
type SensorRecord struct {
	Filename         string           `json:"filename"`
	Timestamp        int64            `json:"timestamp"`
	CalibratedSensor CalibratedSensor `json:"calibrated_sensor"`
	EgoPose          EgoPose          `json:"ego_pose"`
}

// SensorFrameRecord is a SensorRecord decoded into poses and an intrinsic.
type SensorFrameRecord struct {
	Filename    string
	Timestamp   int64
	SensorToEgo spatialmath.CalibratedPose
	EgoToGlobal spatialmath.CalibratedPose
	// Intrinsic is nil for sensors without a camera matrix.
	Intrinsic *transform.CameraIntrinsic
}

// SensorToEgo is the pose of the sensor in the ego frame.
func (r SensorRecord) SensorToEgo() spatialmath.CalibratedPose {
	return spatialmath.NewCalibratedPose(r.CalibratedSensor.Rotation, r.CalibratedSensor.Translation)
}

// EgoToGlobal is the pose of the ego frame in the global frame.
func (r SensorRecord) EgoToGlobal() spatialmath.CalibratedPose {
	return spatialmath.NewCalibratedPose(r.EgoPose.Rotation, r.EgoPose.Translation)
}

// FrameRecord decodes the record. Records carrying a camera matrix must carry a valid one.
func (r SensorRecord) FrameRecord() (SensorFrameRecord, error) {
	out := SensorFrameRecord{
		Filename:    r.Filename,
		Timestamp:   r.Timestamp,
		SensorToEgo: r.SensorToEgo(),
		EgoToGlobal: r.EgoToGlobal(),
	}
	if r.CalibratedSensor.CameraIntrinsic != nil {
		k, err := transform.NewCameraIntrinsic(r.CalibratedSensor.CameraIntrinsic)
		if err != nil {
			return SensorFrameRecord{}, errors.Wrapf(err, "record %q", r.Filename)
		}
		out.Intrinsic = k
	}
	return out, nil
}

// SensorFrame holds the records captured together, keyed by sensor name.
type SensorFrame map[string]SensorRecord

// Annotation is one annotated object of a key frame, in the global frame.
type Annotation struct {
	CategoryName string     `json:"category_name"`
	Translation  [3]float64 `json:"translation"`
	// Size is (width, length, height).
	Size     [3]float64 `json:"size"`
	Rotation [4]float64 `json:"rotation"`
	// Velocity is (vx, vy) or (vx, vy, vz) in the global frame; missing means at rest.
	Velocity    []float64 `json:"velocity,omitempty"`
	NumLidarPts int       `json:"num_lidar_pts"`
	NumRadarPts int       `json:"num_radar_pts"`
}

// Info is the record of one annotated key frame together with the unannotated sweeps
// captured since the previous key frame, most recent first.
type Info struct {
	SampleToken string        `json:"sample_token"`
	SceneToken  string        `json:"scene_token"`
	Timestamp   int64         `json:"timestamp"`
	CamInfos    SensorFrame   `json:"cam_infos"`
	LidarInfos  SensorFrame   `json:"lidar_infos"`
	CamSweeps   []SensorFrame `json:"cam_sweeps"`
	LidarSweeps []SensorFrame `json:"lidar_sweeps"`
	AnnInfos    []Annotation  `json:"ann_infos"`
}

// InfoStore is an indexed, read-only collection of infos. Infos of one scene are contiguous
// and in temporal order.
type InfoStore interface {
	Len() int
	Info(i int) (*Info, error)
}

// MemoryInfoStore is an InfoStore held in memory.
type MemoryInfoStore struct {
	infos []*Info
}

// NewMemoryInfoStore wraps infos.
func NewMemoryInfoStore(infos []*Info) *MemoryInfoStore {
	return &MemoryInfoStore{infos: infos}
}

// Len returns the number of infos.
func (s *MemoryInfoStore) Len() int {
	return len(s.infos)
}

// Info returns info i.
func (s *MemoryInfoStore) Info(i int) (*Info, error) {
	if i < 0 || i >= len(s.infos) {
		return nil, errors.Errorf("info index %d out of range [0, %d)", i, len(s.infos))
	}
	return s.infos[i], nil
}

// LoadInfos reads JSON arrays of infos from each path and concatenates them in order.
func LoadInfos(paths ...string) (*MemoryInfoStore, error) {
	var all []*Info
	for _, path := range paths {
		infos, err := readInfoFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, infos...)
	}
	return NewMemoryInfoStore(all), nil
}

func readInfoFile(path string) ([]*Info, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	var infos []*Info
	if err := json.NewDecoder(f).Decode(&infos); err != nil {
		return nil, errors.Wrapf(err, "cannot decode infos in %q", path)
	}
	return infos, nil
}
