package spatialmath

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
)

// CameraChain holds the four poses relating a camera at some sweep to the same camera at the
// key frame. Sweep poses describe the capture being lifted; key poses describe the annotated
// frame whose ego frame all sweeps are expressed in.
type CameraChain struct {
	SweepSensorToEgo CalibratedPose
	SweepEgoToGlobal CalibratedPose
	KeyEgoToGlobal   CalibratedPose
	KeySensorToEgo   CalibratedPose
}

// Mats returns sensor2ego (sweep camera into the key ego frame) and sensor2sensor (key camera
// into the sweep camera). Both are composed from the four calibrated poses; neither is read
// from a record directly.
func (c CameraChain) Mats() (sensor2ego, sensor2sensor mgl64.Mat4, err error) {
	sweepSensorToSweepEgo, err := c.SweepSensorToEgo.Transform()
	if err != nil {
		return mgl64.Mat4{}, mgl64.Mat4{}, errors.Wrap(err, "sweep sensor to ego")
	}
	sweepEgoToGlobal, err := c.SweepEgoToGlobal.Transform()
	if err != nil {
		return mgl64.Mat4{}, mgl64.Mat4{}, errors.Wrap(err, "sweep ego to global")
	}
	keyEgoToGlobal, err := c.KeyEgoToGlobal.Transform()
	if err != nil {
		return mgl64.Mat4{}, mgl64.Mat4{}, errors.Wrap(err, "key ego to global")
	}
	keySensorToKeyEgo, err := c.KeySensorToEgo.Transform()
	if err != nil {
		return mgl64.Mat4{}, mgl64.Mat4{}, errors.Wrap(err, "key sensor to ego")
	}
	globalToKeyEgo := RigidInverse(keyEgoToGlobal)
	keyEgoToKeySensor := RigidInverse(keySensorToKeyEgo)

	sensor2ego = ComposeAll(sweepSensorToSweepEgo, sweepEgoToGlobal, globalToKeyEgo)
	sweepSensorToKeySensor := Compose(sensor2ego, keyEgoToKeySensor)
	sensor2sensor, err = Invert(sweepSensorToKeySensor)
	if err != nil {
		return mgl64.Mat4{}, mgl64.Mat4{}, errors.Wrap(err, "key sensor to sweep sensor")
	}
	return sensor2ego, sensor2sensor, nil
}
