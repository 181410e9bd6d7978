package dataset

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/bevdepth/config"
)

const (
	testW, testH = 32, 16
	frontCam     = "CAM_FRONT"
	backCam      = "CAM_BACK"
)

type memoryImages map[string]image.Image

func (m memoryImages) LoadImage(_ context.Context, filename string) (image.Image, error) {
	img, ok := m[filename]
	if !ok {
		return nil, errors.Errorf("no image %q", filename)
	}
	return img, nil
}

type memoryLidar map[string][]r3.Vector

func (m memoryLidar) LoadPoints(_ context.Context, filename string) ([]r3.Vector, error) {
	pts, ok := m[filename]
	if !ok {
		return nil, errors.Errorf("no lidar sweep %q", filename)
	}
	return pts, nil
}

// identityConfig augments nothing: unit resize, no crop offset, no flip and no rotation in
// either domain.
func identityConfig(cams ...string) *config.Config {
	conf := config.Default()
	conf.ImageAug.Height, conf.ImageAug.Width = testH, testW
	conf.ImageAug.FinalDim = [2]int{testH, testW}
	conf.ImageAug.ResizeLim = [2]float64{1, 1}
	conf.ImageAug.BotPctLim = [2]float64{0, 0}
	conf.ImageAug.RandFlip = false
	conf.ImageAug.RotLim = [2]float64{0, 0}
	conf.ImageAug.Cams = cams
	conf.ImageAug.NumCams = len(cams)
	conf.BEVAug.RotLim = [2]float64{0, 0}
	conf.BEVAug.ScaleLim = [2]float64{1, 1}
	conf.BEVAug.FlipDxRatio = 0
	conf.BEVAug.FlipDyRatio = 0
	return conf
}

func record(filename string, timestamp int64, egoX float64) SensorRecord {
	return SensorRecord{
		Filename:  filename,
		Timestamp: timestamp,
		CalibratedSensor: CalibratedSensor{
			Rotation:        [4]float64{1, 0, 0, 0},
			CameraIntrinsic: [][]float64{{10, 0, testW / 2}, {0, 10, testH / 2}, {0, 0, 1}},
		},
		EgoPose: EgoPose{Rotation: [4]float64{1, 0, 0, 0}, Translation: [3]float64{egoX, 0, 0}},
	}
}

func lidarRecord(filename string, timestamp int64, egoX float64) SensorRecord {
	rec := record(filename, timestamp, egoX)
	rec.CalibratedSensor.CameraIntrinsic = nil
	return rec
}

func yawQuaternion(deg float64) [4]float64 {
	h := deg * math.Pi / 360
	return [4]float64{math.Cos(h), 0, 0, math.Sin(h)}
}

func carAnnotation() Annotation {
	return Annotation{
		CategoryName: "vehicle.car",
		Translation:  [3]float64{1, 2, 0.5},
		Size:         [3]float64{2, 4, 1.5},
		Rotation:     yawQuaternion(30),
		Velocity:     []float64{1, 0},
		NumLidarPts:  3,
	}
}

// keyInfo builds an info with one frame for each of cams, all at the origin.
func keyInfo(token, scene string, timestamp int64, cams ...string) *Info {
	info := &Info{
		SampleToken: token,
		SceneToken:  scene,
		Timestamp:   timestamp,
		CamInfos:    SensorFrame{},
		LidarInfos:  SensorFrame{LidarTop: lidarRecord(token+"/lidar.bin", timestamp, 0)},
	}
	for _, cam := range cams {
		info.CamInfos[cam] = record(token+"/"+cam+".jpg", timestamp, 0)
	}
	return info
}

func solidImage() image.Image {
	return imaging.New(testW, testH, color.NRGBA{R: 100, G: 150, B: 200, A: 255})
}

func imagesFor(infos ...*Info) memoryImages {
	out := memoryImages{}
	add := func(frame SensorFrame) {
		for name, rec := range frame {
			if name != LidarTop {
				out[rec.Filename] = solidImage()
			}
		}
	}
	for _, info := range infos {
		add(info.CamInfos)
		for _, sweep := range info.CamSweeps {
			add(sweep)
		}
	}
	return out
}
