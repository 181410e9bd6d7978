package transform

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r2"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"go.viam.com/bevdepth/utils"
)

// ImageAugmentation is a 2D affine image augmentation: resize, crop, optional horizontal
// flip, then a rotation about the center of the crop. Crop is expressed in resized-image
// pixels and may extend past the resized image, in which case the outside is zero filled.
type ImageAugmentation struct {
	Resize     float64
	ResizeDims image.Point
	Crop       image.Rectangle
	Flip       bool
	RotateDeg  float64
}

// FinalDims is the size of the augmented image.
func (a ImageAugmentation) FinalDims() image.Point {
	return a.Crop.Size()
}

// rotation returns [[cos h, sin h], [-sin h, cos h]].
func (a ImageAugmentation) rotation() mgl64.Mat2 {
	h := utils.DegToRad(a.RotateDeg)
	s, c := math.Sin(h), math.Cos(h)
	return mgl64.Mat2{c, -s, s, c}
}

// Matrix returns the homogeneous transform taking a pixel of the source image to the
// augmented image. Only the top-left 2x2 block and the first two rows of the last column
// are non-trivial.
func (a ImageAugmentation) Matrix() mgl64.Mat4 {
	rot := mgl64.Ident2().Mul(a.Resize)
	tran := mgl64.Vec2{-float64(a.Crop.Min.X), -float64(a.Crop.Min.Y)}
	size := a.FinalDims()
	w, h := float64(size.X), float64(size.Y)

	if a.Flip {
		mirror := mgl64.Mat2{-1, 0, 0, 1}
		rot = mirror.Mul2(rot)
		tran = mirror.Mul2x1(tran).Add(mgl64.Vec2{w, 0})
	}

	r := a.rotation()
	center := mgl64.Vec2{w / 2, h / 2}
	b := r.Mul2x1(center.Mul(-1)).Add(center)
	rot = r.Mul2(rot)
	tran = r.Mul2x1(tran).Add(b)

	m := mgl64.Ident4()
	m.Set(0, 0, rot.At(0, 0))
	m.Set(0, 1, rot.At(0, 1))
	m.Set(1, 0, rot.At(1, 0))
	m.Set(1, 1, rot.At(1, 1))
	m.Set(0, 3, tran[0])
	m.Set(1, 3, tran[1])
	return m
}

// ApplyToPoint runs a source pixel coordinate through the augmentation step by step,
// without going through Matrix.
func (a ImageAugmentation) ApplyToPoint(p r2.Point) r2.Point {
	size := a.FinalDims()
	w, h := float64(size.X), float64(size.Y)

	x := p.X*a.Resize - float64(a.Crop.Min.X)
	y := p.Y*a.Resize - float64(a.Crop.Min.Y)
	if a.Flip {
		x = w - x
	}
	x -= w / 2
	y -= h / 2
	hRad := utils.DegToRad(a.RotateDeg)
	s, c := math.Sin(hRad), math.Cos(hRad)
	x, y = c*x+s*y, -s*x+c*y
	return r2.Point{X: x + w/2, Y: y + h/2}
}

// ApplyToImage resizes, crops, flips and rotates img. Rotation is counter-clockwise about
// the center of the crop, bilinear, and keeps the crop size; uncovered pixels are black.
func (a ImageAugmentation) ApplyToImage(img image.Image) *image.NRGBA {
	var resized *image.NRGBA
	if img.Bounds().Size() == a.ResizeDims {
		resized = imaging.Clone(img)
	} else {
		resized = imaging.Resize(img, a.ResizeDims.X, a.ResizeDims.Y, imaging.CatmullRom)
	}

	size := a.FinalDims()
	canvas := imaging.New(size.X, size.Y, color.Black)
	out := imaging.Paste(canvas, resized, image.Pt(-a.Crop.Min.X, -a.Crop.Min.Y))

	if a.Flip {
		out = imaging.FlipH(out)
	}
	if a.RotateDeg != 0 {
		rotated := imaging.New(size.X, size.Y, color.Black)
		draw.BiLinear.Transform(rotated, a.rotationAff3(), out, out.Bounds(), draw.Src, nil)
		out = rotated
	}
	return out
}

// rotationAff3 is the rotation step of Matrix on its own, taking flipped crop pixels to
// output pixels.
func (a ImageAugmentation) rotationAff3() f64.Aff3 {
	size := a.FinalDims()
	cx, cy := float64(size.X)/2, float64(size.Y)/2
	r := a.rotation()
	return f64.Aff3{
		r.At(0, 0), r.At(0, 1), cx - r.At(0, 0)*cx - r.At(0, 1)*cy,
		r.At(1, 0), r.At(1, 1), cy - r.At(1, 0)*cx - r.At(1, 1)*cy,
	}
}
