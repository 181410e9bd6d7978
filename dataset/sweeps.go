package dataset

import (
	"math"
	"slices"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
)

// Frame is one temporal slot of a sample: the camera records it reads images from and the
// lidar records its depth maps come from.
type Frame struct {
	Cams  SensorFrame
	Lidar SensorFrame
	// InfoIndex is the info the frame was taken from.
	InfoIndex int
	// Sweep is the position in that info's sweep lists, or -1 for the key frame itself.
	Sweep int
}

// IsKey reports whether the frame is an annotated key frame.
func (f Frame) IsKey() bool {
	return f.Sweep < 0
}

// ResolveFrames returns the frames of sample idx in sample order: for every key offset its
// key frame followed by one frame per configured sweep offset. Key offsets that leave the
// scene or the store fall back to idx itself. A sweep is the most recent one, searching back
// from the configured offset, that covers every camera in cams; it is paired with the lidar
// sweep closest in time to the mean timestamp of its camera records. Infos without sweeps,
// or without a covering sweep, repeat their key frame.
func (d *Dataset) ResolveFrames(idx int, cams []string) ([]Frame, error) {
	base, err := d.infos.Info(idx)
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, d.conf.Dataset.NumSweeps())
	for _, offset := range d.conf.Dataset.KeyOffsets() {
		cur := idx + offset
		if cur < 0 {
			cur = idx
		}
		info, err := d.infos.Info(cur)
		if err != nil {
			return nil, err
		}
		if info.SceneToken != base.SceneToken {
			cur, info = idx, base
		}
		key := Frame{Cams: info.CamInfos, Lidar: info.LidarInfos, InfoIndex: cur, Sweep: -1}
		if err := checkCoverage(key.Cams, cams); err != nil {
			return nil, errors.Wrapf(err, "key frame of info %d", cur)
		}
		frames = append(frames, key)

		for _, sweepIdx := range d.conf.Dataset.SweepIdxes {
			frame, ok := resolveSweep(info, cur, sweepIdx, cams)
			if !ok {
				if len(info.CamSweeps) > 0 {
					d.logger.Warnw("no sweep covers all cameras, repeating the key frame",
						"info", cur, "sweep_idx", sweepIdx, "cams", cams)
				}
				frame = key
			}
			frames = append(frames, frame)
		}
	}
	return frames, nil
}

func checkCoverage(frame SensorFrame, cams []string) error {
	missing := lo.Filter(cams, func(cam string, _ int) bool {
		_, ok := frame[cam]
		return !ok
	})
	if len(missing) > 0 {
		return errors.Errorf("missing cameras %v", missing)
	}
	return nil
}

func resolveSweep(info *Info, infoIdx, sweepIdx int, cams []string) (Frame, bool) {
	if len(info.CamSweeps) == 0 {
		return Frame{}, false
	}
	for i := min(len(info.CamSweeps)-1, sweepIdx); i >= 0; i-- {
		sweep := info.CamSweeps[i]
		if !lo.Every(lo.Keys(sweep), cams) {
			continue
		}
		return Frame{
			Cams:      sweep,
			Lidar:     nearestLidarSweep(info, sweep),
			InfoIndex: infoIdx,
			Sweep:     i,
		}, true
	}
	return Frame{}, false
}

// nearestLidarSweep picks the lidar sweep closest to the mean timestamp of every camera
// record in camSweep, or the key lidar when the info has no lidar sweeps.
func nearestLidarSweep(info *Info, camSweep SensorFrame) SensorFrame {
	if len(info.LidarSweeps) == 0 {
		return info.LidarInfos
	}
	camTimes := make(stats.Float64Data, 0, len(camSweep))
	for _, rec := range camSweep {
		camTimes = append(camTimes, float64(rec.Timestamp))
	}
	slices.Sort(camTimes)
	mean, err := stats.Mean(camTimes)
	if err != nil {
		return info.LidarInfos
	}
	diffs := make([]float64, len(info.LidarSweeps))
	for i, sweep := range info.LidarSweeps {
		diffs[i] = math.Abs(float64(sweep[LidarTop].Timestamp) - mean)
	}
	return info.LidarSweeps[floats.MinIdx(diffs)]
}
