package cli

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"go.viam.com/bevdepth/config"
	"go.viam.com/bevdepth/dataset"
	"go.viam.com/bevdepth/logging"
	"go.viam.com/bevdepth/ml"
)

// InspectAction assembles a range of samples and prints one row per sample.
func InspectAction(c *cli.Context) error {
	logger := newLogger(c)
	d, err := newDatasetFromFlags(c, logger)
	if err != nil {
		return err
	}
	first := c.Int(datasetFlagIndex)
	samples, err := assembleSamples(c.Context, d, first, c.Int(datasetFlagCount), c.Int(datasetFlagWorkers))
	if err != nil {
		return err
	}

	t := newTable(c.App.Writer, "index", "token", "sweeps", "cams", "boxes", "depth hits")
	for i, s := range samples {
		if s.Has(dataset.CapDepth) && depthHits(s) == 0 {
			warningf(c.App.ErrWriter, "sample %d has no lidar points inside any camera", first+i)
		}
		t.AppendRow([]interface{}{
			first + i,
			s.Meta.Token,
			s.Images.Shape()[0],
			len(s.Meta.Cams),
			len(s.GTBoxes),
			depthHits(s),
		})
	}
	t.Render()
	return nil
}

// BalanceAction prints, per class, how many infos carry it before and after class-balanced
// resampling.
func BalanceAction(c *cli.Context) error {
	logger := newLogger(c)
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	infos, err := dataset.LoadInfos(c.StringSlice(datasetFlagInfos)...)
	if err != nil {
		return err
	}
	taxonomy := config.DefaultTaxonomy()
	classes := conf.Dataset.Classes

	all := lo.Range(infos.Len())
	before, err := classCounts(infos, all, classes, taxonomy)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(c.Int64(datasetFlagSeed))) //nolint:gosec
	balanced, err := dataset.ClassBalancedIndices(infos, classes, taxonomy, rng, logger)
	if err != nil {
		return err
	}
	after, err := classCounts(infos, balanced, classes, taxonomy)
	if err != nil {
		return err
	}

	total := lo.Sum(after)
	t := newTable(c.App.Writer, "class", "infos", "resampled", "share")
	for i, class := range classes {
		share := 0.0
		if total > 0 {
			share = float64(after[i]) / float64(total)
		}
		t.AppendRow([]interface{}{class, before[i], after[i], fmt.Sprintf("%.3f", share)})
	}
	t.AppendFooter([]interface{}{"total", infos.Len(), len(balanced), ""})
	t.Render()
	return nil
}

// LiftAction collates a range of samples and lifts them into BEV features with the
// reference layers.
func LiftAction(c *cli.Context) error {
	logger := newLogger(c)
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	d, err := newDataset(c, conf, logger)
	if err != nil {
		return err
	}
	samples, err := assembleSamples(c.Context, d, c.Int(datasetFlagIndex), c.Int(datasetFlagCount), c.Int(datasetFlagWorkers))
	if err != nil {
		return err
	}
	batch, err := dataset.Collate(samples)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(c.Int64(datasetFlagSeed))) //nolint:gosec
	model, err := ml.NewReferenceFusionLSS(conf, rng, logger.Sublogger("lift"))
	if err != nil {
		return err
	}
	var prior *tensor.Dense
	if conf.Dataset.UseFusion {
		prior = batch.Depth
	}
	returnDepth := c.Bool(liftFlagReturnDepth)
	res, err := model.Forward(c.Context, batch.Images, batch.Mats, prior, returnDepth)
	if err != nil {
		return err
	}

	occupied, mean := occupancy(res.BEV)
	t := newTable(c.App.Writer, "output", "shape", "summary")
	t.AppendRow([]interface{}{"bev", res.BEV.Shape(), fmt.Sprintf("%d occupied cells, mean |feature| %.4f", occupied, mean)})
	if returnDepth && res.KeyDepth != nil {
		peak, err := meanPeakProbability(res.KeyDepth)
		if err != nil {
			return err
		}
		t.AppendRow([]interface{}{"key depth", res.KeyDepth.Shape(), fmt.Sprintf("mean peak probability %.4f", peak)})
	}
	t.Render()
	return nil
}

func newDatasetFromFlags(c *cli.Context, logger logging.Logger) (*dataset.Dataset, error) {
	conf, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return newDataset(c, conf, logger)
}

func newDataset(c *cli.Context, conf *config.Config, logger logging.Logger) (*dataset.Dataset, error) {
	if c.Bool(datasetFlagEval) {
		conf.Dataset.IsTrain = false
		conf.Dataset.UseCBGS = false
	}
	infos, err := dataset.LoadInfos(c.StringSlice(datasetFlagInfos)...)
	if err != nil {
		return nil, err
	}
	root := c.Path(datasetFlagDataRoot)
	var lidar dataset.LidarLoader
	if conf.Dataset.NeedsLidar() {
		lidar = dataset.FileLidarLoader{Root: root, FieldsPerPoint: conf.Dataset.LidarFields}
	}
	return dataset.NewDataset(conf, infos, dataset.FileImageLoader{Root: root}, lidar, config.DefaultTaxonomy(),
		dataset.WithLogger(logger.Sublogger("dataset")), dataset.WithSeed(c.Int64(datasetFlagSeed)))
}

// assembleSamples gets samples [first, first+count) on at most workers goroutines. The result
// is in index order.
func assembleSamples(ctx context.Context, d *dataset.Dataset, first, count, workers int) ([]*dataset.Sample, error) {
	if count < 1 {
		return nil, errors.Errorf("%s must be at least 1, got %d", datasetFlagCount, count)
	}
	if first < 0 || first+count > d.Len() {
		return nil, errors.Errorf("samples [%d, %d) are outside the dataset of %d", first, first+count, d.Len())
	}
	samples := make([]*dataset.Sample, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))
	for i := range samples {
		i := i
		g.Go(func() error {
			s, err := d.Get(gctx, first+i)
			if err != nil {
				return errors.Wrapf(err, "sample %d", first+i)
			}
			samples[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return samples, nil
}

func depthHits(s *dataset.Sample) int {
	if !s.Has(dataset.CapDepth) {
		return 0
	}
	return lo.CountBy(s.Depth.Float32s(), func(v float32) bool { return v != 0 })
}

// classCounts counts, per class, the listed infos carrying at least one annotation of it.
func classCounts(infos dataset.InfoStore, indices []int, classes []string, taxonomy *config.Taxonomy) ([]int, error) {
	counts := make([]int, len(classes))
	for _, idx := range indices {
		info, err := infos.Info(idx)
		if err != nil {
			return nil, err
		}
		seen := map[int]bool{}
		for _, ann := range info.AnnInfos {
			if c, ok := taxonomy.ClassIndex(ann.CategoryName, classes); ok && !seen[c] {
				seen[c] = true
				counts[c]++
			}
		}
	}
	return counts, nil
}

// occupancy counts BEV cells of a [B, C, Ny, Nx] map with any non-zero channel and returns
// the mean absolute feature over those cells.
func occupancy(bev *tensor.Dense) (int, float64) {
	shape := bev.Shape()
	b, ch, ny, nx := shape[0], shape[1], shape[2], shape[3]
	data := bev.Float32s()
	var magnitudes stats.Float64Data
	for bi := 0; bi < b; bi++ {
		for cell := 0; cell < ny*nx; cell++ {
			occupied := false
			for c := 0; c < ch; c++ {
				v := float64(data[(bi*ch+c)*ny*nx+cell])
				if v != 0 {
					occupied = true
				}
				magnitudes = append(magnitudes, math.Abs(v))
			}
			if !occupied {
				magnitudes = magnitudes[:len(magnitudes)-ch]
			}
		}
	}
	if len(magnitudes) == 0 {
		return 0, 0
	}
	mean, err := magnitudes.Mean()
	if err != nil {
		return 0, 0
	}
	return len(magnitudes) / ch, mean
}

// meanPeakProbability averages, over the pixels of a [BN, D, h, w] distribution, the
// probability of the most likely bin.
func meanPeakProbability(probs *tensor.Dense) (float64, error) {
	shape := probs.Shape()
	n, bins, plane := shape[0], shape[1], shape[2]*shape[3]
	data := probs.Float32s()
	peaks := make(stats.Float64Data, 0, n*plane)
	for i := 0; i < n; i++ {
		for p := 0; p < plane; p++ {
			peak := float32(0)
			for d := 0; d < bins; d++ {
				peak = max(peak, data[(i*bins+d)*plane+p])
			}
			peaks = append(peaks, float64(peak))
		}
	}
	return stats.Mean(peaks)
}
