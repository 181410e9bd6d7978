package dataset

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/bevdepth/ml"
	"go.viam.com/bevdepth/spatialmath"
)

// ErrShapeMismatch is returned when samples of one batch disagree on a fixed tensor shape.
var ErrShapeMismatch = ml.ErrShapeMismatch

// Batch is a list of samples with their fixed-shape tensors stacked along a leading batch
// axis. Boxes, labels and metadata stay per sample, unpadded.
type Batch struct {
	// Images is [B, S, N, 3, H, W].
	Images *tensor.Dense
	Mats   ml.MatsDict
	// Timestamps is [B, S, N].
	Timestamps *tensor.Dense
	// Depth is [B, S_d, N, H, W], or nil when the samples carry no depth.
	Depth *tensor.Dense

	Metas    []Meta
	GTBoxes  [][]spatialmath.Box3D
	GTLabels [][]int
}

// Size is the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Metas)
}

// Collate stacks samples into a batch. Every sample must have the same frame count, camera
// count and resolution, and either all or none must carry depth.
func Collate(samples []*Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, errors.New("cannot collate an empty batch")
	}
	withDepth := samples[0].Has(CapDepth)
	for i, s := range samples[1:] {
		if s.Has(CapDepth) != withDepth {
			return nil, errors.Wrapf(ErrShapeMismatch, "sample %d disagrees with sample 0 on carrying depth", i+1)
		}
	}

	stack := func(name string, get func(*Sample) *tensor.Dense) (*tensor.Dense, error) {
		ts := make([]*tensor.Dense, len(samples))
		for i, s := range samples {
			ts[i] = get(s)
		}
		out, err := ml.Stack(ts...)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot stack %s", name)
		}
		return out, nil
	}

	b := &Batch{}
	var err error
	if b.Images, err = stack("images", func(s *Sample) *tensor.Dense { return s.Images }); err != nil {
		return nil, err
	}
	if b.Mats.SensorToEgo, err = stack(ml.SensorToEgoMats, func(s *Sample) *tensor.Dense { return s.SensorToEgo }); err != nil {
		return nil, err
	}
	if b.Mats.Intrinsics, err = stack(ml.IntrinMats, func(s *Sample) *tensor.Dense { return s.Intrinsics }); err != nil {
		return nil, err
	}
	if b.Mats.IDA, err = stack(ml.IDAMats, func(s *Sample) *tensor.Dense { return s.IDA }); err != nil {
		return nil, err
	}
	if b.Mats.SensorToSensor, err = stack(ml.SensorToSensorMats, func(s *Sample) *tensor.Dense { return s.SensorToSensor }); err != nil {
		return nil, err
	}
	if b.Mats.BDA, err = stack(ml.BDAMat, func(s *Sample) *tensor.Dense { return s.BDA }); err != nil {
		return nil, err
	}
	if b.Timestamps, err = stack("timestamps", func(s *Sample) *tensor.Dense { return s.Timestamps }); err != nil {
		return nil, err
	}
	if withDepth {
		if b.Depth, err = stack("depth", func(s *Sample) *tensor.Dense { return s.Depth }); err != nil {
			return nil, err
		}
	}
	if err := b.Mats.Validate(); err != nil {
		return nil, err
	}

	for _, s := range samples {
		b.Metas = append(b.Metas, s.Meta)
		b.GTBoxes = append(b.GTBoxes, s.GTBoxes)
		b.GTLabels = append(b.GTLabels, s.GTLabels)
	}
	return b, nil
}
