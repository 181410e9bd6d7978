package pointcloud

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestLidarBinRoundTrip(t *testing.T) {
	pts := []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: -0.5, Y: 10.25, Z: -1.75}}
	var buf bytes.Buffer
	test.That(t, WriteLidarBin(&buf, pts, 5), test.ShouldBeNil)
	test.That(t, buf.Len(), test.ShouldEqual, 2*5*4)

	got, err := ReadLidarBin(&buf, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, pts)
}

func TestLidarBinErrors(t *testing.T) {
	_, err := ReadLidarBin(bytes.NewReader(make([]byte, 21)), 5)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "record size")

	_, err = ReadLidarBin(bytes.NewReader(nil), 2)
	test.That(t, err, test.ShouldNotBeNil)

	got, err := ReadLidarBin(bytes.NewReader(nil), 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 0)
}

func TestReadLidarBinFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "sweep.bin")
	var buf bytes.Buffer
	test.That(t, WriteLidarBin(&buf, []r3.Vector{{X: 4, Y: 5, Z: 6}}, 4), test.ShouldBeNil)
	test.That(t, os.WriteFile(fn, buf.Bytes(), 0o600), test.ShouldBeNil)

	got, err := ReadLidarBinFile(fn, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, []r3.Vector{{X: 4, Y: 5, Z: 6}})

	_, err = ReadLidarBinFile(fn, 5)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "sweep.bin")

	_, err = ReadLidarBinFile(filepath.Join(t.TempDir(), "missing.bin"), 4)
	test.That(t, err, test.ShouldNotBeNil)
}
