package dataset

import (
	"context"
	"image"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/bevdepth/config"
	"go.viam.com/bevdepth/logging"
	"go.viam.com/bevdepth/ml"
	"go.viam.com/bevdepth/rimage"
	"go.viam.com/bevdepth/rimage/transform"
	"go.viam.com/bevdepth/spatialmath"
)

// Dataset assembles samples from an info store. It holds no mutable state after
// construction, so Get may be called concurrently.
type Dataset struct {
	conf     *config.Config
	infos    InfoStore
	images   ImageLoader
	lidar    LidarLoader
	taxonomy *config.Taxonomy
	logger   logging.Logger
	seed     int64

	sampleIndices []int
}

// Option configures a Dataset.
type Option func(*Dataset)

// WithLogger sets the logger. The global logger is used otherwise.
func WithLogger(logger logging.Logger) Option {
	return func(d *Dataset) {
		d.logger = logger
	}
}

// WithSeed sets the seed every per-sample random source derives from.
func WithSeed(seed int64) Option {
	return func(d *Dataset) {
		d.seed = seed
	}
}

// NewDataset returns a dataset over infos. lidar may be nil when neither depth maps nor
// fusion are configured.
func NewDataset(
	conf *config.Config,
	infos InfoStore,
	images ImageLoader,
	lidar LidarLoader,
	taxonomy *config.Taxonomy,
	opts ...Option,
) (*Dataset, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if taxonomy == nil {
		return nil, errors.New("a taxonomy is required")
	}
	if images == nil {
		return nil, errors.New("an image loader is required")
	}
	if conf.Dataset.ReturnDepth && lidar == nil {
		return nil, errors.New("depth maps need a lidar loader")
	}
	d := &Dataset{
		conf:     conf,
		infos:    infos,
		images:   images,
		lidar:    lidar,
		taxonomy: taxonomy,
		logger:   logging.Global().Sublogger("dataset"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if conf.Dataset.UseCBGS {
		indices, err := ClassBalancedIndices(infos, conf.Dataset.Classes, taxonomy, rand.New(rand.NewSource(d.seed)), d.logger)
		if err != nil {
			return nil, err
		}
		d.sampleIndices = indices
		d.logger.Infow("class-balanced sampling", "infos", infos.Len(), "samples", len(indices))
	}
	return d, nil
}

// Len is the number of samples, which differs from the number of infos with class-balanced
// sampling.
func (d *Dataset) Len() int {
	if d.sampleIndices != nil {
		return len(d.sampleIndices)
	}
	return d.infos.Len()
}

// InfoIndex maps a sample index to the info it is built around.
func (d *Dataset) InfoIndex(idx int) (int, error) {
	if idx < 0 || idx >= d.Len() {
		return 0, errors.Errorf("sample index %d out of range [0, %d)", idx, d.Len())
	}
	if d.sampleIndices != nil {
		return d.sampleIndices[idx], nil
	}
	return idx, nil
}

// ChooseCams returns the cameras of one sample. Training with a camera cap below the
// configured set draws that many cameras without replacement; otherwise every configured
// camera is used in order.
func (d *Dataset) ChooseCams(rng *rand.Rand) []string {
	all := d.conf.ImageAug.Cams
	if !d.conf.Dataset.IsTrain || d.conf.ImageAug.NumCams >= len(all) {
		return append([]string(nil), all...)
	}
	perm := rng.Perm(len(all))[:d.conf.ImageAug.NumCams]
	out := make([]string, len(perm))
	for i, p := range perm {
		out[i] = all[p]
	}
	return out
}

// Get assembles sample idx with a random source derived from the dataset seed and idx.
func (d *Dataset) Get(ctx context.Context, idx int) (*Sample, error) {
	return d.GetWithRand(ctx, idx, rand.New(rand.NewSource(d.seed+int64(idx))))
}

// GetWithRand assembles sample idx drawing every augmentation from rng.
func (d *Dataset) GetWithRand(ctx context.Context, idx int, rng *rand.Rand) (*Sample, error) {
	infoIdx, err := d.InfoIndex(idx)
	if err != nil {
		return nil, err
	}
	info, err := d.infos.Info(infoIdx)
	if err != nil {
		return nil, err
	}
	cams := d.ChooseCams(rng)
	frames, err := d.ResolveFrames(infoIdx, cams)
	if err != nil {
		return nil, err
	}

	sample, err := d.assembleImages(ctx, frames, cams, rng)
	if err != nil {
		return nil, errors.Wrapf(err, "sample %d (%s)", idx, info.SampleToken)
	}
	egoPose, err := MeanEgoPose(frames[0].Cams, cams)
	if err != nil {
		return nil, err
	}
	sample.Meta = Meta{Token: info.SampleToken, EgoToGlobal: egoPose, Cams: cams}

	train := d.conf.Dataset.IsTrain
	boxes, labels := []spatialmath.Box3D{}, []int{}
	if train {
		if boxes, labels, err = GroundTruth(info, cams, d.conf.Dataset.Classes, d.taxonomy); err != nil {
			return nil, errors.Wrapf(err, "ground truth of %s", info.SampleToken)
		}
		sample.Caps |= CapGroundTruth
	}
	bda := spatialmath.NewBEVAugmentationSampler(d.conf.BEVAug, rng).Sample(train)
	sample.GTBoxes, _ = bda.Apply(boxes)
	sample.GTLabels = labels
	sample.BDA = ml.NewFloat64(4, 4)
	ml.SetMat4(sample.BDA, bda.Mat4())

	d.logger.Debugw("assembled sample", "idx", idx, "info", infoIdx, "token", info.SampleToken,
		"frames", len(frames), "cams", len(cams), "boxes", len(sample.GTBoxes))
	return sample, nil
}

// assembleImages fills images, matrices, timestamps and depth maps. Every camera samples one
// image augmentation shared by all its frames.
func (d *Dataset) assembleImages(ctx context.Context, frames []Frame, cams []string, rng *rand.Rand) (*Sample, error) {
	s, n := len(frames), len(cams)
	h, w := d.conf.ImageAug.FinalHeight(), d.conf.ImageAug.FinalWidth()
	sample := &Sample{
		Images:         ml.NewFloat32(s, n, 3, h, w),
		SensorToEgo:    ml.NewFloat64(s, n, 4, 4),
		Intrinsics:     ml.NewFloat64(s, n, 4, 4),
		IDA:            ml.NewFloat64(s, n, 4, 4),
		SensorToSensor: ml.NewFloat64(s, n, 4, 4),
		Timestamps:     ml.NewInt64(s, n),
	}
	depthFrames := 0
	if d.conf.Dataset.ReturnDepth {
		depthFrames = 1
		if d.conf.Dataset.UseFusion {
			depthFrames = s
		}
		sample.Depth = ml.NewFloat32(depthFrames, n, h, w)
		sample.Caps |= CapDepth
	}

	points := make([][]r3.Vector, depthFrames)
	for si := 0; si < depthFrames; si++ {
		lidarRec, ok := frames[si].Lidar[LidarTop]
		if !ok {
			return nil, errors.Errorf("frame %d has no %s record", si, LidarTop)
		}
		pts, err := d.lidar.LoadPoints(ctx, lidarRec.Filename)
		if err != nil {
			return nil, errors.Wrapf(err, "lidar of frame %d", si)
		}
		points[si] = pts
	}

	sampler := transform.NewImageAugmentationSampler(d.conf.ImageAug, rng)
	norm := d.conf.ImageNorm
	timestamps := sample.Timestamps.Int64s()
	for ni, cam := range cams {
		aug := sampler.Sample(d.conf.Dataset.IsTrain)
		ida := aug.Matrix()
		key := frames[0].Cams[cam]
		for si, frame := range frames {
			rec := frame.Cams[cam]
			fr, err := rec.FrameRecord()
			if err != nil {
				return nil, err
			}
			if fr.Intrinsic == nil {
				return nil, errors.Errorf("camera %s of frame %d has no intrinsic", cam, si)
			}
			chain := spatialmath.CameraChain{
				SweepSensorToEgo: fr.SensorToEgo,
				SweepEgoToGlobal: fr.EgoToGlobal,
				KeyEgoToGlobal:   key.EgoToGlobal(),
				KeySensorToEgo:   key.SensorToEgo(),
			}
			sensorToEgo, sensorToSensor, err := chain.Mats()
			if err != nil {
				return nil, errors.Wrapf(err, "camera %s of frame %d", cam, si)
			}
			ml.SetMat4(sample.SensorToEgo, sensorToEgo, si, ni)
			ml.SetMat4(sample.SensorToSensor, sensorToSensor, si, ni)
			ml.SetMat4(sample.Intrinsics, fr.Intrinsic.Mat4(), si, ni)
			ml.SetMat4(sample.IDA, ida, si, ni)
			timestamps[si*n+ni] = fr.Timestamp

			img, err := d.images.LoadImage(ctx, fr.Filename)
			if err != nil {
				return nil, errors.Wrapf(err, "image of camera %s, frame %d", cam, si)
			}
			if si < depthFrames {
				dm, err := d.depthMap(points[si], frame.Lidar[LidarTop], fr, img.Bounds().Size(), aug)
				if err != nil {
					return nil, errors.Wrapf(err, "depth of camera %s, frame %d", cam, si)
				}
				copyInto(sample.Depth, dm.Tensor(), si, ni)
			}
			normalized := rimage.NormalizeImage(aug.ApplyToImage(img), norm.Mean, norm.Std, norm.ToRGB)
			copyInto(sample.Images, normalized, si, ni)
		}
	}
	return sample, nil
}

func (d *Dataset) depthMap(
	points []r3.Vector,
	lidarRec SensorRecord,
	cam SensorFrameRecord,
	size image.Point,
	aug transform.ImageAugmentation,
) (*rimage.DepthMap, error) {
	poses := transform.LidarCameraPoses{
		LidarToEgo:        lidarRec.SensorToEgo(),
		LidarEgoToGlobal:  lidarRec.EgoToGlobal(),
		CameraEgoToGlobal: cam.EgoToGlobal,
		CameraToEgo:       cam.SensorToEgo,
	}
	projected, err := transform.MapPointCloudToImage(points, poses, cam.Intrinsic, size, d.conf.Dataset.MinDist)
	if err != nil {
		return nil, err
	}
	return transform.RasterizeDepth(projected, aug), nil
}

// copyInto writes src into the float32 tensor dst at the leading indices idx.
func copyInto(dst, src *tensor.Dense, idx ...int) {
	off := ml.Offset(dst.Shape(), idx...)
	data := src.Float32s()
	copy(dst.Float32s()[off:off+len(data)], data)
}
