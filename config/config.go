// Package config defines the option bundles that drive sample assembly and voxel lifting,
// along with their validation and loading.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
)

// ErrInvalidRange is wrapped by every validation failure on a [lo, hi] pair.
var ErrInvalidRange = errors.New("invalid range")

// Accumulator names accepted by LiftConfig.Accumulator.
const (
	AccumulatorTraining  = "training"
	AccumulatorInference = "inference"
)

// ImageAugConfig describes image-domain augmentation for every camera.
type ImageAugConfig struct {
	Height    int        `json:"height"`
	Width     int        `json:"width"`
	FinalDim  [2]int     `json:"final_dim"` // (height, width)
	ResizeLim [2]float64 `json:"resize_lim"`
	BotPctLim [2]float64 `json:"bot_pct_lim"`
	Cams      []string   `json:"cams"`
	NumCams   int        `json:"num_cams"`
	RandFlip  bool       `json:"rand_flip"`
	RotLim    [2]float64 `json:"rot_lim"`
}

// FinalHeight is the height of every augmented image.
func (c *ImageAugConfig) FinalHeight() int { return c.FinalDim[0] }

// FinalWidth is the width of every augmented image.
func (c *ImageAugConfig) FinalWidth() int { return c.FinalDim[1] }

// Validate ensures all parts of the config are valid.
func (c *ImageAugConfig) Validate(path string) error {
	var err error
	if c.Height <= 0 || c.Width <= 0 {
		err = multierr.Append(err, goutils.NewConfigValidationError(path,
			errors.Errorf("source size must be positive, got %dx%d", c.Width, c.Height)))
	}
	if c.FinalDim[0] <= 0 || c.FinalDim[1] <= 0 {
		err = multierr.Append(err, goutils.NewConfigValidationError(path,
			errors.Errorf("final_dim must be positive, got %v", c.FinalDim)))
	}
	err = multierr.Append(err, checkRange(path, "resize_lim", c.ResizeLim, 0, math.Inf(1)))
	if c.ResizeLim[0] == 0 {
		err = multierr.Append(err, goutils.NewConfigValidationError(path,
			errors.Wrap(ErrInvalidRange, "resize_lim must be above zero")))
	}
	err = multierr.Append(err, checkRange(path, "bot_pct_lim", c.BotPctLim, 0, 1))
	err = multierr.Append(err, checkRange(path, "rot_lim", c.RotLim, math.Inf(-1), math.Inf(1)))
	if len(c.Cams) == 0 {
		err = multierr.Append(err, goutils.NewConfigValidationFieldRequiredError(path, "cams"))
	}
	if c.NumCams <= 0 || c.NumCams > len(c.Cams) {
		err = multierr.Append(err, goutils.NewConfigValidationError(path,
			errors.Errorf("num_cams must be in [1, %d], got %d", len(c.Cams), c.NumCams)))
	}
	seen := make(map[string]struct{}, len(c.Cams))
	for _, cam := range c.Cams {
		if _, ok := seen[cam]; ok {
			err = multierr.Append(err, goutils.NewConfigValidationError(path, errors.Errorf("duplicate camera %q", cam)))
		}
		seen[cam] = struct{}{}
	}
	return err
}

// BEVAugConfig describes the BEV-domain augmentation sampled once per sample.
type BEVAugConfig struct {
	RotLim      [2]float64 `json:"rot_lim"`
	ScaleLim    [2]float64 `json:"scale_lim"`
	FlipDxRatio float64    `json:"flip_dx_ratio"`
	FlipDyRatio float64    `json:"flip_dy_ratio"`
}

// Validate ensures all parts of the config are valid.
func (c *BEVAugConfig) Validate(path string) error {
	err := checkRange(path, "rot_lim", c.RotLim, math.Inf(-1), math.Inf(1))
	err = multierr.Append(err, checkRange(path, "scale_lim", c.ScaleLim, 0, math.Inf(1)))
	if c.ScaleLim[0] == 0 {
		err = multierr.Append(err, goutils.NewConfigValidationError(path,
			errors.Wrap(ErrInvalidRange, "scale_lim must be above zero")))
	}
	for name, ratio := range map[string]float64{"flip_dx_ratio": c.FlipDxRatio, "flip_dy_ratio": c.FlipDyRatio} {
		if ratio < 0 || ratio > 1 {
			err = multierr.Append(err, goutils.NewConfigValidationError(path,
				errors.Errorf("%s must be a probability, got %v", name, ratio)))
		}
	}
	return err
}

// ImageNormConfig is the per-channel normalization applied to every augmented image.
type ImageNormConfig struct {
	Mean  [3]float64 `json:"img_mean"`
	Std   [3]float64 `json:"img_std"`
	ToRGB bool       `json:"to_rgb"`
}

// Validate ensures all parts of the config are valid.
func (c *ImageNormConfig) Validate(path string) error {
	for i, s := range c.Std {
		if s == 0 {
			return goutils.NewConfigValidationError(path, errors.Errorf("img_std[%d] cannot be zero", i))
		}
	}
	return nil
}

// DatasetConfig selects classes, temporal context and optional outputs.
type DatasetConfig struct {
	Classes     []string `json:"classes"`
	KeyIdxes    []int    `json:"key_idxes"`
	SweepIdxes  []int    `json:"sweep_idxes"`
	ReturnDepth bool     `json:"return_depth"`
	UseFusion   bool     `json:"use_fusion"`
	UseCBGS     bool     `json:"use_cbgs"`
	IsTrain     bool     `json:"is_train"`
	// LidarFields is the number of float32 values stored per lidar point on disk.
	LidarFields int     `json:"lidar_fields"`
	MinDist     float64 `json:"min_dist"`
}

// KeyOffsets returns the temporal key-frame offsets with the current frame first.
func (c *DatasetConfig) KeyOffsets() []int {
	return append([]int{0}, c.KeyIdxes...)
}

// NumSweeps is the number of frames stacked per camera in every sample.
func (c *DatasetConfig) NumSweeps() int {
	return (1 + len(c.KeyIdxes)) * (1 + len(c.SweepIdxes))
}

// NeedsLidar reports whether samples read lidar points at all.
func (c *DatasetConfig) NeedsLidar() bool {
	return c.ReturnDepth || c.UseFusion
}

// Validate ensures all parts of the config are valid.
func (c *DatasetConfig) Validate(path string) error {
	var err error
	if len(c.Classes) == 0 {
		err = multierr.Append(err, goutils.NewConfigValidationFieldRequiredError(path, "classes"))
	}
	for i, k := range c.KeyIdxes {
		if k >= 0 {
			err = multierr.Append(err, goutils.NewConfigValidationError(path,
				errors.Errorf("key_idxes[%d] must be negative, got %d", i, k)))
		}
	}
	for i, s := range c.SweepIdxes {
		if s < 0 {
			err = multierr.Append(err, goutils.NewConfigValidationError(path,
				errors.Errorf("sweep_idxes[%d] must be non-negative, got %d", i, s)))
		}
	}
	if c.NeedsLidar() && c.LidarFields < 3 {
		err = multierr.Append(err, goutils.NewConfigValidationError(path,
			errors.Errorf("lidar_fields must be at least 3, got %d", c.LidarFields)))
	}
	if c.MinDist < 0 {
		err = multierr.Append(err, goutils.NewConfigValidationError(path, errors.New("min_dist cannot be negative")))
	}
	return err
}

// LiftConfig describes the voxel grid, the depth bins and the lifting network widths.
type LiftConfig struct {
	// Each bound is (min, max, step).
	XBound           [3]float64 `json:"x_bound"`
	YBound           [3]float64 `json:"y_bound"`
	ZBound           [3]float64 `json:"z_bound"`
	DBound           [3]float64 `json:"d_bound"`
	DownsampleFactor int        `json:"downsample_factor"`
	InChannels       int        `json:"in_channels"`
	MidChannels      int        `json:"mid_channels"`
	OutputChannels   int        `json:"output_channels"`
	Accumulator      string     `json:"accumulator"`
}

// DepthChannels is the number of discrete depth bins.
func (c *LiftConfig) DepthChannels() int {
	return int(math.Round((c.DBound[1] - c.DBound[0]) / c.DBound[2]))
}

// Validate ensures all parts of the config are valid.
func (c *LiftConfig) Validate(path string) error {
	var err error
	for name, b := range map[string][3]float64{
		"x_bound": c.XBound, "y_bound": c.YBound, "z_bound": c.ZBound, "d_bound": c.DBound,
	} {
		if !(b[0] < b[1]) || b[2] <= 0 {
			err = multierr.Append(err, goutils.NewConfigValidationError(path,
				errors.Wrapf(ErrInvalidRange, "%s must have min < max and a positive step, got %v", name, b)))
		}
	}
	if c.DownsampleFactor <= 0 {
		err = multierr.Append(err, goutils.NewConfigValidationFieldRequiredError(path, "downsample_factor"))
	}
	for name, v := range map[string]int{
		"in_channels": c.InChannels, "mid_channels": c.MidChannels, "output_channels": c.OutputChannels,
	} {
		if v <= 0 {
			err = multierr.Append(err, goutils.NewConfigValidationFieldRequiredError(path, name))
		}
	}
	switch c.Accumulator {
	case AccumulatorTraining, AccumulatorInference:
	default:
		err = multierr.Append(err, goutils.NewConfigValidationError(path,
			errors.Errorf("accumulator must be %q or %q, got %q", AccumulatorTraining, AccumulatorInference, c.Accumulator)))
	}
	return err
}

// Config groups every option bundle.
type Config struct {
	ImageAug  ImageAugConfig  `json:"ida_aug_conf"`
	BEVAug    BEVAugConfig    `json:"bda_aug_conf"`
	ImageNorm ImageNormConfig `json:"img_conf"`
	Dataset   DatasetConfig   `json:"dataset"`
	Lift      LiftConfig      `json:"lift"`
}

// Validate ensures all parts of the config are valid, reporting every problem at once.
func (c *Config) Validate() error {
	err := c.ImageAug.Validate("ida_aug_conf")
	err = multierr.Append(err, c.BEVAug.Validate("bda_aug_conf"))
	err = multierr.Append(err, c.ImageNorm.Validate("img_conf"))
	err = multierr.Append(err, c.Dataset.Validate("dataset"))
	err = multierr.Append(err, c.Lift.Validate("lift"))
	if c.Lift.DownsampleFactor > 0 {
		for i, d := range c.ImageAug.FinalDim {
			if d%c.Lift.DownsampleFactor != 0 {
				err = multierr.Append(err, goutils.NewConfigValidationError("lift",
					errors.Errorf("final_dim[%d]=%d is not divisible by downsample_factor %d", i, d, c.Lift.DownsampleFactor)))
			}
		}
	}
	return err
}

// DefaultCams are the six nuScenes surround cameras.
var DefaultCams = []string{
	"CAM_FRONT_LEFT", "CAM_FRONT", "CAM_FRONT_RIGHT",
	"CAM_BACK_LEFT", "CAM_BACK", "CAM_BACK_RIGHT",
}

// DefaultClasses are the ten nuScenes detection classes.
var DefaultClasses = []string{
	"car", "truck", "construction_vehicle", "bus", "trailer",
	"barrier", "motorcycle", "bicycle", "pedestrian", "traffic_cone",
}

// Default returns the nuScenes configuration.
func Default() *Config {
	return &Config{
		ImageAug: ImageAugConfig{
			Height:    900,
			Width:     1600,
			FinalDim:  [2]int{256, 704},
			ResizeLim: [2]float64{0.386, 0.55},
			BotPctLim: [2]float64{0, 0},
			Cams:      append([]string(nil), DefaultCams...),
			NumCams:   len(DefaultCams),
			RandFlip:  true,
			RotLim:    [2]float64{-5.4, 5.4},
		},
		BEVAug: BEVAugConfig{
			RotLim:      [2]float64{-22.5, 22.5},
			ScaleLim:    [2]float64{0.95, 1.05},
			FlipDxRatio: 0.5,
			FlipDyRatio: 0.5,
		},
		ImageNorm: ImageNormConfig{
			Mean:  [3]float64{123.675, 116.28, 103.53},
			Std:   [3]float64{58.395, 57.12, 57.375},
			ToRGB: true,
		},
		Dataset: DatasetConfig{
			Classes:     append([]string(nil), DefaultClasses...),
			ReturnDepth: true,
			IsTrain:     true,
			LidarFields: 5,
		},
		Lift: LiftConfig{
			XBound:           [3]float64{-51.2, 51.2, 0.8},
			YBound:           [3]float64{-51.2, 51.2, 0.8},
			ZBound:           [3]float64{-5, 3, 8},
			DBound:           [3]float64{2.0, 58.0, 0.5},
			DownsampleFactor: 16,
			InChannels:       512,
			MidChannels:      512,
			OutputChannels:   80,
			Accumulator:      AccumulatorTraining,
		},
	}
}

// Read loads a JSON config file on top of Default and validates it.
func Read(path string) (*Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", path)
	}
	conf := Default()
	if err := json.Unmarshal(data, conf); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", path)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// FromAttributes decodes a loosely typed attribute map (as produced by a JSON or YAML
// decoder) on top of Default and validates the result.
func FromAttributes(attributes map[string]interface{}) (*Config, error) {
	conf := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           conf,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		ZeroFields:       true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "cannot decode config attributes")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func checkRange(path, field string, lim [2]float64, lower, upper float64) error {
	if lim[0] > lim[1] {
		return goutils.NewConfigValidationError(path,
			errors.Wrapf(ErrInvalidRange, "%s must be non-decreasing, got %v", field, lim))
	}
	if lim[0] < lower || lim[1] > upper {
		return goutils.NewConfigValidationError(path,
			errors.Wrapf(ErrInvalidRange, "%s must lie within [%v, %v], got %v", field, lower, upper, lim))
	}
	return nil
}

// String renders the config as indented JSON.
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", *c)
	}
	return string(data)
}
