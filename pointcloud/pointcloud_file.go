package pointcloud

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadLidarBin reads a raw lidar sweep: consecutive little-endian float32 records of
// fieldsPerPoint values each, starting with x, y, z in meters. Extra fields such as
// intensity or ring index are skipped.
func ReadLidarBin(in io.Reader, fieldsPerPoint int) ([]r3.Vector, error) {
	if fieldsPerPoint < 3 {
		return nil, errors.Errorf("need at least 3 fields per point, got %d", fieldsPerPoint)
	}
	data, err := io.ReadAll(bufio.NewReader(in))
	if err != nil {
		return nil, err
	}
	recordSize := 4 * fieldsPerPoint
	if len(data)%recordSize != 0 {
		return nil, errors.Errorf("lidar data of %d bytes is not a multiple of the %d byte record size", len(data), recordSize)
	}
	pts := make([]r3.Vector, 0, len(data)/recordSize)
	for off := 0; off < len(data); off += recordSize {
		pts = append(pts, r3.Vector{
			X: readFloat(data[off:]),
			Y: readFloat(data[off+4:]),
			Z: readFloat(data[off+8:]),
		})
	}
	return pts, nil
}

// ReadLidarBinFile reads a raw lidar sweep from disk.
func ReadLidarBinFile(fn string, fieldsPerPoint int) ([]r3.Vector, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	pts, err := ReadLidarBin(f, fieldsPerPoint)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read lidar file %q", fn)
	}
	return pts, nil
}

// WriteLidarBin writes points as x, y, z records padded with zeros to fieldsPerPoint values.
func WriteLidarBin(out io.Writer, pts []r3.Vector, fieldsPerPoint int) error {
	if fieldsPerPoint < 3 {
		return errors.Errorf("need at least 3 fields per point, got %d", fieldsPerPoint)
	}
	w := bufio.NewWriter(out)
	record := make([]byte, 4*fieldsPerPoint)
	for _, p := range pts {
		binary.LittleEndian.PutUint32(record[0:], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(record[4:], math.Float32bits(float32(p.Y)))
		binary.LittleEndian.PutUint32(record[8:], math.Float32bits(float32(p.Z)))
		if _, err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readFloat(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}
