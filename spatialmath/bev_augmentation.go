package spatialmath

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/bevdepth/config"
	"go.viam.com/bevdepth/utils"
)

// BEVAugmentation is a rotation about the vertical axis, an isotropic scale and optional
// sign flips of the two horizontal axes, applied jointly to boxes and to the lifted geometry.
type BEVAugmentation struct {
	RotateDeg float64
	Scale     float64
	FlipX     bool
	FlipY     bool
}

// IdentityBEVAugmentation returns the augmentation used in eval mode.
func IdentityBEVAugmentation() BEVAugmentation {
	return BEVAugmentation{Scale: 1}
}

func (a BEVAugmentation) rotation() mgl64.Mat3 {
	h := utils.DegToRad(a.RotateDeg)
	s, c := math.Sin(h), math.Cos(h)
	// column-major: [[c, -s, 0], [s, c, 0], [0, 0, 1]]
	return mgl64.Mat3{c, s, 0, -s, c, 0, 0, 0, 1}
}

func (a BEVAugmentation) flip() mgl64.Mat3 {
	flip := mgl64.Ident3()
	if a.FlipX {
		flip = flip.Mul3(mgl64.Diag3(mgl64.Vec3{-1, 1, 1}))
	}
	if a.FlipY {
		flip = flip.Mul3(mgl64.Diag3(mgl64.Vec3{1, -1, 1}))
	}
	return flip
}

// Matrix returns flip · (scale · rot).
func (a BEVAugmentation) Matrix() mgl64.Mat3 {
	scale := mgl64.Diag3(mgl64.Vec3{a.Scale, a.Scale, a.Scale})
	return a.flip().Mul3(scale.Mul3(a.rotation()))
}

// Mat4 embeds Matrix in a homogeneous transform with no translation.
func (a BEVAugmentation) Mat4() mgl64.Mat4 {
	return a.Matrix().Mat4()
}

// Apply returns augmented copies of boxes together with the 3x3 matrix used on their centers.
// The input slice is left untouched.
func (a BEVAugmentation) Apply(boxes []Box3D) ([]Box3D, mgl64.Mat3) {
	m := a.Matrix()
	planar := a.flip().Mul3(a.rotation())
	angle := utils.DegToRad(a.RotateDeg)

	out := make([]Box3D, len(boxes))
	for i, box := range boxes {
		c := m.Mul3x1(mgl64.Vec3{box.Center.X, box.Center.Y, box.Center.Z})
		yaw := box.Yaw + angle
		if a.FlipX {
			yaw = math.Pi - yaw
		}
		if a.FlipY {
			yaw = -yaw
		}
		v := planar.Mul3x1(mgl64.Vec3{box.Velocity.X, box.Velocity.Y, 0})
		out[i] = Box3D{
			Center:   r3.Vector{X: c[0], Y: c[1], Z: c[2]},
			Size:     box.Size.Mul(a.Scale),
			Yaw:      yaw,
			Velocity: r2.Point{X: v[0], Y: v[1]},
		}
	}
	return out, m
}

// BEVAugmentationSampler draws BEV augmentations from a configured range.
type BEVAugmentationSampler struct {
	conf config.BEVAugConfig
	rng  *rand.Rand
}

// NewBEVAugmentationSampler returns a sampler using rng for train-mode draws.
func NewBEVAugmentationSampler(conf config.BEVAugConfig, rng *rand.Rand) *BEVAugmentationSampler {
	return &BEVAugmentationSampler{conf: conf, rng: rng}
}

// Sample returns a random augmentation in train mode and the identity otherwise.
func (s *BEVAugmentationSampler) Sample(train bool) BEVAugmentation {
	if !train {
		return IdentityBEVAugmentation()
	}
	return BEVAugmentation{
		RotateDeg: uniform(s.rng, s.conf.RotLim),
		Scale:     uniform(s.rng, s.conf.ScaleLim),
		FlipX:     s.rng.Float64() < s.conf.FlipDxRatio,
		FlipY:     s.rng.Float64() < s.conf.FlipDyRatio,
	}
}

func uniform(rng *rand.Rand, lim [2]float64) float64 {
	return lim[0] + (lim[1]-lim[0])*rng.Float64()
}
