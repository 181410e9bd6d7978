package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/bevdepth/config"
	"go.viam.com/bevdepth/logging"
)

// ClassBalancedIndices resamples info indices so every class appears about equally often.
// Each info joins the bucket of every class among its annotation categories, once per
// distinct general category. Each non-empty bucket is then drawn from with replacement
// int(len · (1/numClasses) / (len/total)) times, where total is the summed bucket size.
// Classes no info carries are skipped with a warning.
func ClassBalancedIndices(
	infos InfoStore,
	classes []string,
	taxonomy *config.Taxonomy,
	rng *rand.Rand,
	logger logging.Logger,
) ([]int, error) {
	buckets := make([][]int, len(classes))
	for idx := 0; idx < infos.Len(); idx++ {
		info, err := infos.Info(idx)
		if err != nil {
			return nil, err
		}
		names := lo.Uniq(lo.Map(info.AnnInfos, func(ann Annotation, _ int) string { return ann.CategoryName }))
		for _, name := range names {
			if c, ok := taxonomy.ClassIndex(name, classes); ok {
				buckets[c] = append(buckets[c], idx)
			}
		}
	}
	total := lo.SumBy(buckets, func(b []int) int { return len(b) })
	if total == 0 {
		return nil, errors.New("no info carries any configured class")
	}

	frac := 1.0 / float64(len(classes))
	var out []int
	for c, bucket := range buckets {
		if len(bucket) == 0 {
			logger.Warnw("class has no samples, skipping it in class-balanced sampling", "class", classes[c])
			continue
		}
		ratio := frac / (float64(len(bucket)) / float64(total))
		n := int(float64(len(bucket)) * ratio)
		for i := 0; i < n; i++ {
			out = append(out, bucket[rng.Intn(len(bucket))])
		}
		logger.Debugw("class-balanced bucket", "class", classes[c], "infos", len(bucket), "draws", n)
	}
	return out, nil
}
