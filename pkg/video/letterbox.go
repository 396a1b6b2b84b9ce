package video

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Placement describes where a scaled source lands on a letterbox canvas.
type Placement struct {
	Scale  float64
	Size   image.Point // scaled source dimensions
	Offset image.Point // top-left corner on the canvas
}

// Rect returns the canvas region covered by the scaled source.
func (p Placement) Rect() image.Rectangle {
	return image.Rectangle{Min: p.Offset, Max: p.Offset.Add(p.Size)}
}

// Fit scales src to fit inside target while keeping its aspect ratio and
// centres it. The scaled size never exceeds target in either dimension.
func Fit(src, target image.Point) Placement {
	if src.X <= 0 || src.Y <= 0 || target.X <= 0 || target.Y <= 0 {
		return Placement{}
	}

	scale := math.Min(float64(target.X)/float64(src.X), float64(target.Y)/float64(src.Y))
	w := clamp(int(math.Round(float64(src.X)*scale)), 1, target.X)
	h := clamp(int(math.Round(float64(src.Y)*scale)), 1, target.Y)

	return Placement{
		Scale:  scale,
		Size:   image.Pt(w, h),
		Offset: image.Pt((target.X-w)/2, (target.Y-h)/2),
	}
}

// Letterbox returns a new target-sized BGR image with src scaled and
// centred on black. The caller owns the result.
func Letterbox(src gocv.Mat, target image.Point) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), fmt.Errorf("video: letterbox empty image")
	}
	if target.X <= 0 || target.Y <= 0 {
		return gocv.NewMat(), fmt.Errorf("video: letterbox target %v", target)
	}

	p := Fit(image.Pt(src.Cols(), src.Rows()), target)

	canvas := gocv.NewMatWithSize(target.Y, target.X, gocv.MatTypeCV8UC3)
	canvas.SetTo(gocv.NewScalar(0, 0, 0, 0))

	roi := canvas.Region(p.Rect())
	defer roi.Close()

	if p.Size.X == src.Cols() && p.Size.Y == src.Rows() {
		src.CopyTo(&roi)
		return canvas, nil
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, p.Size, 0, 0, gocv.InterpolationArea)
	resized.CopyTo(&roi)

	return canvas, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
