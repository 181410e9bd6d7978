package ml

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Names of the transform families in a batch.
const (
	SensorToEgoMats    = "sensor2ego_mats"
	IntrinMats         = "intrin_mats"
	IDAMats            = "ida_mats"
	SensorToSensorMats = "sensor2sensor_mats"
	BDAMat             = "bda_mat"
)

// MatsDict holds the batched transform families. The per-camera families are float64
// [B, S, N, 4, 4] tensors and BDA is [B, 4, 4].
type MatsDict struct {
	SensorToEgo    *tensor.Dense
	Intrinsics     *tensor.Dense
	IDA            *tensor.Dense
	SensorToSensor *tensor.Dense
	BDA            *tensor.Dense
}

// Tensors returns the families keyed by name. A missing BDA is left out.
func (m MatsDict) Tensors() Tensors {
	out := Tensors{
		SensorToEgoMats:    m.SensorToEgo,
		IntrinMats:         m.Intrinsics,
		IDAMats:            m.IDA,
		SensorToSensorMats: m.SensorToSensor,
	}
	if m.BDA != nil {
		out[BDAMat] = m.BDA
	}
	return out
}

// MatsDictFromTensors picks the families out of a name-keyed collection and validates them.
func MatsDictFromTensors(ts Tensors) (MatsDict, error) {
	m := MatsDict{
		SensorToEgo:    ts[SensorToEgoMats],
		Intrinsics:     ts[IntrinMats],
		IDA:            ts[IDAMats],
		SensorToSensor: ts[SensorToSensorMats],
		BDA:            ts[BDAMat],
	}
	return m, m.Validate()
}

// Dims returns the batch, sweep and camera counts.
func (m MatsDict) Dims() (batch, sweeps, cams int) {
	shape := m.SensorToEgo.Shape()
	return shape[0], shape[1], shape[2]
}

// Validate checks that every family is present with a consistent shape.
func (m MatsDict) Validate() error {
	if m.SensorToEgo == nil || len(m.SensorToEgo.Shape()) != 5 {
		return errors.Wrapf(ErrShapeMismatch, "%s must be [B, S, N, 4, 4]", SensorToEgoMats)
	}
	b, s, n := m.Dims()
	for name, t := range map[string]*tensor.Dense{
		SensorToEgoMats:    m.SensorToEgo,
		IntrinMats:         m.Intrinsics,
		IDAMats:            m.IDA,
		SensorToSensorMats: m.SensorToSensor,
	} {
		if err := CheckShape(name, t, b, s, n, 4, 4); err != nil {
			return err
		}
		if t.Dtype() != tensor.Float64 {
			return errors.Errorf("%s must hold float64, got %v", name, t.Dtype())
		}
	}
	if m.BDA != nil {
		if err := CheckShape(BDAMat, m.BDA, b, 4, 4); err != nil {
			return err
		}
	}
	return nil
}
