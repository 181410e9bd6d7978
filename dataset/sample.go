package dataset

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
	"gorgonia.org/tensor"

	"go.viam.com/bevdepth/spatialmath"
)

// Capability marks an optional part of a Sample.
type Capability uint8

// Optional sample parts.
const (
	// CapDepth means Sample.Depth is set.
	CapDepth Capability = 1 << iota
	// CapGroundTruth means GTBoxes and GTLabels hold supervision. Samples without it carry
	// empty box and label lists.
	CapGroundTruth
)

// Meta is the per-sample metadata kept alongside the tensors.
type Meta struct {
	Token string
	// EgoToGlobal is the key ego pose averaged over the sample's cameras.
	EgoToGlobal spatialmath.CalibratedPose
	Cams        []string
}

// EgoToGlobalTranslation is the translation part of the averaged ego pose.
func (m Meta) EgoToGlobalTranslation() r3.Vector {
	return m.EgoToGlobal.Translation
}

// EgoToGlobalRotation is the rotation part of the averaged ego pose. It is the component-wise
// mean of unit quaternions and is not renormalized.
func (m Meta) EgoToGlobalRotation() quat.Number {
	return m.EgoToGlobal.Rotation
}

// Sample is one assembled dataset item. S is the number of frames, N the number of cameras
// and H x W the augmented image size.
type Sample struct {
	Caps Capability

	// Images is [S, N, 3, H, W] float32.
	Images *tensor.Dense
	// SensorToEgo, Intrinsics, IDA and SensorToSensor are [S, N, 4, 4] float64.
	SensorToEgo    *tensor.Dense
	Intrinsics     *tensor.Dense
	IDA            *tensor.Dense
	SensorToSensor *tensor.Dense
	// BDA is [4, 4] float64.
	BDA *tensor.Dense
	// Timestamps is [S, N] int64 microseconds.
	Timestamps *tensor.Dense

	Meta     Meta
	GTBoxes  []spatialmath.Box3D
	GTLabels []int

	// Depth is [S_d, N, H, W] float32, where S_d is S with fusion and 1 otherwise.
	Depth *tensor.Dense
}

// Has reports whether the sample carries every part in c.
func (s *Sample) Has(c Capability) bool {
	return s.Caps&c == c
}
