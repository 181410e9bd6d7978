package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"go.viam.com/bevdepth/config"
	"go.viam.com/bevdepth/dataset"
	"go.viam.com/bevdepth/pointcloud"
)

const testCam = "CAM_FRONT"

type testData struct {
	root   string
	config string
	infos  string
}

// writeTestData lays out one key frame with a single 32x16 camera looking down +z and one
// lidar point five meters in front of it, plus a small config lifting it.
func writeTestData(t *testing.T) testData {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "data")
	test.That(t, os.MkdirAll(filepath.Join(root, "tok"), 0o750), test.ShouldBeNil)

	img := imaging.New(32, 16, color.NRGBA{R: 100, G: 150, B: 200, A: 255})
	test.That(t, imaging.Save(img, filepath.Join(root, "tok", testCam+".png")), test.ShouldBeNil)

	f, err := os.Create(filepath.Join(root, "tok", "lidar.bin"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pointcloud.WriteLidarBin(f, []r3.Vector{{X: 0, Y: 0, Z: 5}}, 5), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	identity := dataset.EgoPose{Rotation: [4]float64{1, 0, 0, 0}}
	record := func(filename string, k [][]float64) dataset.SensorRecord {
		return dataset.SensorRecord{
			Filename:         filename,
			Timestamp:        1000,
			CalibratedSensor: dataset.CalibratedSensor{Rotation: [4]float64{1, 0, 0, 0}, CameraIntrinsic: k},
			EgoPose:          identity,
		}
	}
	info := &dataset.Info{
		SampleToken: "tok",
		SceneToken:  "scene",
		Timestamp:   1000,
		CamInfos:    dataset.SensorFrame{testCam: record("tok/"+testCam+".png", [][]float64{{10, 0, 16}, {0, 10, 8}, {0, 0, 1}})},
		LidarInfos:  dataset.SensorFrame{dataset.LidarTop: record("tok/lidar.bin", nil)},
		AnnInfos: []dataset.Annotation{{
			CategoryName: "vehicle.car",
			Translation:  [3]float64{1, 2, 0.5},
			Size:         [3]float64{2, 4, 1.5},
			Rotation:     [4]float64{1, 0, 0, 0},
			NumLidarPts:  3,
		}},
	}
	infosPath := filepath.Join(dir, "infos.json")
	writeJSON(t, infosPath, []*dataset.Info{info})

	conf := config.Default()
	conf.ImageAug.Height, conf.ImageAug.Width = 16, 32
	conf.ImageAug.FinalDim = [2]int{16, 32}
	conf.ImageAug.ResizeLim = [2]float64{1, 1}
	conf.ImageAug.RandFlip = false
	conf.ImageAug.RotLim = [2]float64{0, 0}
	conf.ImageAug.Cams = []string{testCam}
	conf.ImageAug.NumCams = 1
	conf.BEVAug.RotLim = [2]float64{0, 0}
	conf.BEVAug.ScaleLim = [2]float64{1, 1}
	conf.BEVAug.FlipDxRatio, conf.BEVAug.FlipDyRatio = 0, 0
	conf.Dataset.Classes = []string{"car"}
	conf.Lift.XBound = [3]float64{-8, 8, 1}
	conf.Lift.YBound = [3]float64{-8, 8, 1}
	conf.Lift.DBound = [3]float64{2, 6, 1}
	conf.Lift.InChannels, conf.Lift.MidChannels, conf.Lift.OutputChannels = 4, 4, 3
	test.That(t, conf.Validate(), test.ShouldBeNil)
	confPath := filepath.Join(dir, "config.json")
	writeJSON(t, confPath, conf)

	return testData{root: root, config: confPath, infos: infosPath}
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, os.WriteFile(path, data, 0o600), test.ShouldBeNil)
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"bevdepth"}, args...))
	return out.String(), errOut.String(), err
}

func TestInspectAction(t *testing.T) {
	data := writeTestData(t)
	out, errOut, err := runApp(t, "--config", data.config,
		"inspect", "--infos", data.infos, "--data-root", data.root)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errOut, test.ShouldEqual, "")
	test.That(t, out, test.ShouldContainSubstring, "DEPTH HITS")
	test.That(t, out, test.ShouldContainSubstring, "tok")

	_, _, err = runApp(t, "--config", data.config,
		"inspect", "--infos", data.infos, "--data-root", data.root, "--index", "1")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "outside the dataset")

	_, _, err = runApp(t, "--config", data.config, "inspect", "--infos", data.infos)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBalanceAction(t *testing.T) {
	data := writeTestData(t)
	out, _, err := runApp(t, "--config", data.config, "balance", "--infos", data.infos)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "car")
	test.That(t, out, test.ShouldContainSubstring, "1.000")
}

func TestLiftAction(t *testing.T) {
	data := writeTestData(t)
	out, _, err := runApp(t, "--config", data.config,
		"lift", "--infos", data.infos, "--data-root", data.root, "--eval", "--return-depth")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "occupied cells")
	test.That(t, out, test.ShouldContainSubstring, "mean peak probability")
}

func TestAssembleSamplesInOrder(t *testing.T) {
	data := writeTestData(t)
	conf, err := config.Read(data.config)
	test.That(t, err, test.ShouldBeNil)
	infos, err := dataset.LoadInfos(data.infos, data.infos, data.infos)
	test.That(t, err, test.ShouldBeNil)
	root := data.root
	d, err := dataset.NewDataset(conf, infos, dataset.FileImageLoader{Root: root},
		dataset.FileLidarLoader{Root: root, FieldsPerPoint: 5}, config.DefaultTaxonomy())
	test.That(t, err, test.ShouldBeNil)

	samples, err := assembleSamples(context.Background(), d, 0, 3, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, samples, test.ShouldHaveLength, 3)
	for _, s := range samples {
		test.That(t, s.Meta.Token, test.ShouldEqual, "tok")
		test.That(t, depthHits(s), test.ShouldEqual, 1)
	}

	_, err = assembleSamples(context.Background(), d, 2, 2, 2)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = assembleSamples(context.Background(), d, 0, 0, 2)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOccupancy(t *testing.T) {
	// [1, 2, 2, 2]: cell 0 has both channels set, cell 3 only the second
	bev := tensor.New(tensor.WithShape(1, 2, 2, 2), tensor.WithBacking([]float32{
		1, 0, 0, 0,
		-3, 0, 0, 4,
	}))
	cells, mean := occupancy(bev)
	test.That(t, cells, test.ShouldEqual, 2)
	test.That(t, mean, test.ShouldAlmostEqual, 2)

	cells, mean = occupancy(tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking(make([]float32, 4))))
	test.That(t, cells, test.ShouldEqual, 0)
	test.That(t, mean, test.ShouldEqual, 0.0)
}

func TestMeanPeakProbability(t *testing.T) {
	// [1, 2, 1, 2]: peaks 0.7 and 0.9
	probs := tensor.New(tensor.WithShape(1, 2, 1, 2), tensor.WithBacking([]float32{
		0.7, 0.1,
		0.3, 0.9,
	}))
	peak, err := meanPeakProbability(probs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, peak, test.ShouldAlmostEqual, 0.8, 1e-6)
}
