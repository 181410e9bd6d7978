package transform

import (
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/bevdepth/spatialmath"
)

func identityPoses() LidarCameraPoses {
	return LidarCameraPoses{
		LidarToEgo:        spatialmath.IdentityPose(),
		LidarEgoToGlobal:  spatialmath.IdentityPose(),
		CameraEgoToGlobal: spatialmath.IdentityPose(),
		CameraToEgo:       spatialmath.IdentityPose(),
	}
}

func TestIntrinsic(t *testing.T) {
	k, err := NewCameraIntrinsic([][]float64{{100, 0, 20}, {0, 120, 15}, {0, 0, 1}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, k.Fx(), test.ShouldEqual, 100.0)
	test.That(t, k.Fy(), test.ShouldEqual, 120.0)
	test.That(t, k.Ppx(), test.ShouldEqual, 20.0)
	test.That(t, k.Ppy(), test.ShouldEqual, 15.0)
	test.That(t, k.Mat4().At(0, 2), test.ShouldEqual, 20.0)
	test.That(t, k.Mat4().At(3, 3), test.ShouldEqual, 1.0)

	px, depth := k.PointToPixel(r3.Vector{X: 1, Y: -2, Z: 10})
	test.That(t, px.X, test.ShouldAlmostEqual, 30)
	test.That(t, px.Y, test.ShouldAlmostEqual, -9)
	test.That(t, depth, test.ShouldEqual, 10.0)

	back, err := k.PixelToPoint(px.X, px.Y, depth)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.X, test.ShouldAlmostEqual, 1)
	test.That(t, back.Y, test.ShouldAlmostEqual, -2)
	test.That(t, back.Z, test.ShouldAlmostEqual, 10)
}

func TestIntrinsicInvalid(t *testing.T) {
	_, err := NewCameraIntrinsic([][]float64{{1, 0, 0}, {0, 1, 0}})
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	_, err = NewCameraIntrinsic([][]float64{{0, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	_, err = NewCameraIntrinsic([][]float64{{1, 0, 0}, {0, 1, 0}, {0, 1, 1}})
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	var missing *CameraIntrinsic
	test.That(t, errors.Is(missing.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)
	_, err = MapPointCloudToImage(nil, identityPoses(), missing, image.Pt(10, 10), 0)
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
}

func TestMapPointCloudToImageFilters(t *testing.T) {
	k := NewPinholeIntrinsic(100, 100, 20, 15)
	points := []r3.Vector{
		{X: 0, Y: 0, Z: 5},          // principal point
		{X: 0, Y: 0, Z: -5},         // behind the camera
		{X: -0.95, Y: 0, Z: 5},      // x = 1, on the margin
		{X: 0.9, Y: 0, Z: 5},        // x = 38, inside
		{X: 0.95, Y: 0, Z: 5},       // x = 39 = W-1, on the margin
		{X: 0, Y: -0.7, Z: 5},       // y = 1, on the margin
		{X: 0, Y: 0.65, Z: 5},       // y = 28, inside
		{X: 0, Y: 0, Z: 0},          // on the camera plane
		{X: 0.01, Y: 0.01, Z: 0.25}, // (24, 19), closer than minDist below
	}
	out, err := MapPointCloudToImage(points, identityPoses(), k, image.Pt(40, 30), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldHaveLength, 4)
	test.That(t, out[0], test.ShouldResemble, r3.Vector{X: 20, Y: 15, Z: 5})
	test.That(t, out[1].X, test.ShouldAlmostEqual, 38)
	test.That(t, out[2].Y, test.ShouldAlmostEqual, 28)

	out, err = MapPointCloudToImage(points, identityPoses(), k, image.Pt(40, 30), 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldHaveLength, 3)
}

func TestMapPointCloudToImageChain(t *testing.T) {
	// camera looks down +x of the ego frame: camera z = ego x, camera x = -ego y, camera y = -ego z
	camToEgo := spatialmath.NewCalibratedPose([4]float64{0.5, -0.5, 0.5, -0.5}, [3]float64{1, 0, 1.5})
	poses := LidarCameraPoses{
		LidarToEgo:        spatialmath.NewCalibratedPose([4]float64{1, 0, 0, 0}, [3]float64{0, 0, 1.8}),
		LidarEgoToGlobal:  spatialmath.NewCalibratedPose([4]float64{1, 0, 0, 0}, [3]float64{100, 0, 0}),
		CameraEgoToGlobal: spatialmath.NewCalibratedPose([4]float64{1, 0, 0, 0}, [3]float64{100.5, 0, 0}),
		CameraToEgo:       camToEgo,
	}
	toCam, err := poses.LidarToCamera()
	test.That(t, err, test.ShouldBeNil)
	// lidar origin sits at ego (0, 0, 1.8); camera ego is 0.5 ahead, so the point is at camera
	// ego (-0.5, 0, 1.8) and camera frame (0, -0.3, -1.5)
	p := spatialmath.TransformPoint(toCam, r3.Vector{})
	test.That(t, p.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, p.Y, test.ShouldAlmostEqual, -0.3, 1e-9)
	test.That(t, p.Z, test.ShouldAlmostEqual, -1.5, 1e-9)

	k := NewPinholeIntrinsic(100, 100, 50, 50)
	out, err := MapPointCloudToImage([]r3.Vector{{X: 11.5, Y: 0, Z: -0.3}, {}}, poses, k, image.Pt(100, 100), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldHaveLength, 1)
	test.That(t, out[0].X, test.ShouldAlmostEqual, 50, 1e-9)
	test.That(t, out[0].Y, test.ShouldAlmostEqual, 50, 1e-9)
	test.That(t, out[0].Z, test.ShouldAlmostEqual, 10, 1e-9)

	poses.CameraToEgo = spatialmath.CalibratedPose{}
	_, err = MapPointCloudToImage(nil, poses, k, image.Pt(100, 100), 0)
	test.That(t, errors.Is(err, spatialmath.ErrZeroQuaternion), test.ShouldBeTrue)
}

func TestSinglePointDepthAfterResize(t *testing.T) {
	const f, cx, cy = 100.0, 20.0, 15.0
	k := NewPinholeIntrinsic(f, f, cx, cy)
	out, err := MapPointCloudToImage([]r3.Vector{{X: 0, Y: 0, Z: 5}}, identityPoses(), k, image.Pt(40, 30), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, []r3.Vector{{X: cx, Y: cy, Z: 5}})

	aug := ImageAugmentation{Resize: 2, ResizeDims: image.Pt(80, 60), Crop: image.Rect(0, 0, 80, 60)}
	dm := RasterizeDepth(out, aug)
	test.That(t, dm.Width(), test.ShouldEqual, 80)
	test.That(t, dm.Height(), test.ShouldEqual, 60)
	test.That(t, dm.GetDepth(2*cx, 2*cy), test.ShouldEqual, float32(5))
	test.That(t, dm.NonZeroCount(), test.ShouldEqual, 1)
}

func TestRasterizeDepth(t *testing.T) {
	aug := ImageAugmentation{Resize: 1, ResizeDims: image.Pt(10, 8), Crop: image.Rect(2, 0, 8, 8), Flip: true}
	points := []r3.Vector{
		{X: 3.2, Y: 1.7, Z: 4},  // crop (1.2, 1.7), flip (4.8, 1.7) -> (4, 1)
		{X: 3.9, Y: 1.1, Z: 7},  // same pixel, written last
		{X: 1.5, Y: 2, Z: 9},    // crop x = -0.5, flip 6.5 -> 6, outside
		{X: 5, Y: 8.5, Z: 2},    // below the map
		{X: 7.9, Y: 0.2, Z: 11}, // crop 5.9, flip 0.1 -> (0, 0)
	}
	dm := RasterizeDepth(points, aug)
	test.That(t, dm.Bounds(), test.ShouldResemble, image.Rect(0, 0, 6, 8))
	test.That(t, dm.GetDepth(4, 1), test.ShouldEqual, float32(7))
	test.That(t, dm.Get(image.Pt(0, 0)), test.ShouldEqual, float32(11))
	test.That(t, dm.NonZeroCount(), test.ShouldEqual, 2)
}

func TestRasterizerAgreesWithMatrix(t *testing.T) {
	aug := ImageAugmentation{Resize: 0.5, ResizeDims: image.Pt(50, 40), Crop: image.Rect(5, 10, 45, 40), Flip: true, RotateDeg: 3}
	m := aug.Matrix()
	for _, p := range []r2.Point{{X: 40, Y: 40}, {X: 51.3, Y: 60.2}, {X: 77, Y: 33}} {
		dm := RasterizeDepth([]r3.Vector{{X: p.X, Y: p.Y, Z: 3}}, aug)
		q := applyMatrix(m, p)
		test.That(t, dm.GetDepth(int(q.X), int(q.Y)), test.ShouldEqual, float32(3))
	}
}

func TestRasterizeDepthTruncatesTowardZero(t *testing.T) {
	aug := ImageAugmentation{Resize: 1, ResizeDims: image.Pt(8, 4), Crop: image.Rect(0, 0, 8, 4)}
	dm := RasterizeDepth([]r3.Vector{
		{X: -0.5, Y: 1.2, Z: 7},
		{X: 3.5, Y: -0.9, Z: 2},
		{X: -1, Y: 2, Z: 5},
		{X: 7.99, Y: 3.99, Z: 4},
		{X: 8, Y: 0, Z: 6},
	}, aug)
	test.That(t, dm.GetDepth(0, 1), test.ShouldEqual, float32(7))
	test.That(t, dm.GetDepth(3, 0), test.ShouldEqual, float32(2))
	test.That(t, dm.GetDepth(7, 3), test.ShouldEqual, float32(4))
	test.That(t, dm.NonZeroCount(), test.ShouldEqual, 3)
}
