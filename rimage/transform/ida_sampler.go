package transform

import (
	"image"
	"math"
	"math/rand"

	"go.viam.com/bevdepth/config"
)

// ImageAugmentationSampler draws image augmentations for one camera.
type ImageAugmentationSampler struct {
	conf config.ImageAugConfig
	rng  *rand.Rand
}

// NewImageAugmentationSampler returns a sampler using rng for train-mode draws.
func NewImageAugmentationSampler(conf config.ImageAugConfig, rng *rand.Rand) *ImageAugmentationSampler {
	return &ImageAugmentationSampler{conf: conf, rng: rng}
}

// Sample returns a random augmentation in train mode. In eval mode the image is resized by
// the smallest factor that fits the final size, cropped at the mean bottom percentage and
// centered horizontally.
func (s *ImageAugmentationSampler) Sample(train bool) ImageAugmentation {
	h, w := float64(s.conf.Height), float64(s.conf.Width)
	fH, fW := s.conf.FinalHeight(), s.conf.FinalWidth()

	var aug ImageAugmentation
	var botPct float64
	if train {
		aug.Resize = s.uniform(s.conf.ResizeLim[0], s.conf.ResizeLim[1])
		botPct = s.uniform(s.conf.BotPctLim[0], s.conf.BotPctLim[1])
	} else {
		aug.Resize = math.Max(float64(fH)/h, float64(fW)/w)
		botPct = (s.conf.BotPctLim[0] + s.conf.BotPctLim[1]) / 2
	}
	newW, newH := int(w*aug.Resize), int(h*aug.Resize)
	aug.ResizeDims = image.Pt(newW, newH)

	cropH := int((1-botPct)*float64(newH)) - fH
	var cropW int
	if train {
		cropW = int(s.uniform(0, float64(max(0, newW-fW))))
		aug.Flip = s.conf.RandFlip && s.rng.Intn(2) == 1
		aug.RotateDeg = s.uniform(s.conf.RotLim[0], s.conf.RotLim[1])
	} else {
		cropW = max(0, newW-fW) / 2
	}
	aug.Crop = image.Rect(cropW, cropH, cropW+fW, cropH+fH)
	return aug
}

func (s *ImageAugmentationSampler) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.rng.Float64()
}
