package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/bevdepth/rimage/transform"
)

func TestLoadInfos(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, infos []*Info) string {
		data, err := json.Marshal(infos)
		test.That(t, err, test.ShouldBeNil)
		path := filepath.Join(dir, name)
		test.That(t, os.WriteFile(path, data, 0o600), test.ShouldBeNil)
		return path
	}
	first := keyInfo("a", "scene", 1, frontCam)
	first.AnnInfos = []Annotation{carAnnotation()}
	pathA := write("a.json", []*Info{first})
	pathB := write("b.json", []*Info{keyInfo("b", "scene", 2, frontCam), keyInfo("c", "scene", 3, frontCam)})

	store, err := LoadInfos(pathA, pathB)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, store.Len(), test.ShouldEqual, 3)
	info, err := store.Info(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.AnnInfos[0].CategoryName, test.ShouldEqual, "vehicle.car")
	test.That(t, info.CamInfos[frontCam].CalibratedSensor.CameraIntrinsic[0][2], test.ShouldEqual, 16.0)
	info, err = store.Info(2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.SampleToken, test.ShouldEqual, "c")
	_, err = store.Info(3)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0o600), test.ShouldBeNil)
	_, err = LoadInfos(filepath.Join(dir, "bad.json"))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = LoadInfos(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFrameRecord(t *testing.T) {
	rec := record("cam.jpg", 5, 2)
	fr, err := rec.FrameRecord()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fr.Intrinsic.Fx(), test.ShouldEqual, 10.0)
	test.That(t, fr.EgoToGlobal.Translation.X, test.ShouldEqual, 2.0)
	test.That(t, fr.Timestamp, test.ShouldEqual, int64(5))

	fr, err = lidarRecord("lidar.bin", 5, 0).FrameRecord()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fr.Intrinsic, test.ShouldBeNil)

	rec.CalibratedSensor.CameraIntrinsic = [][]float64{{1, 0, 0}}
	_, err = rec.FrameRecord()
	test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)
}
