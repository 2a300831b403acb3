// Package capture acquires desktop frames from the compositor display and
// provides the immutable pixel-grid type consumed by the screen classifier.
package capture

import (
	"image"
	"image/draw"
	"time"
)

// Frame is one decoded screenshot at a point in time. It is owned by the
// call that requested it and must be treated as read-only.
type Frame struct {
	img        *image.RGBA
	capturedAt time.Time
}

// NewFrame wraps an RGBA image. The caller hands over ownership; the image
// must not be mutated afterwards.
func NewFrame(img *image.RGBA, at time.Time) *Frame {
	return &Frame{img: img, capturedAt: at}
}

// FromImage converts an arbitrary decoded image into a frame.
func FromImage(src image.Image, at time.Time) *Frame {
	if rgba, ok := src.(*image.RGBA); ok {
		return NewFrame(rgba, at)
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return NewFrame(dst, at)
}

// Bounds returns the pixel bounds of the frame.
func (f *Frame) Bounds() image.Rectangle {
	if f == nil || f.img == nil {
		return image.Rectangle{}
	}
	return f.img.Bounds()
}

// CapturedAt returns the capture instant.
func (f *Frame) CapturedAt() time.Time { return f.capturedAt }

// At returns the RGB triple at (x, y). ok is false when the coordinate lies
// outside the frame; callers must skip such samples.
func (f *Frame) At(x, y int) (r, g, b int, ok bool) {
	if f == nil || f.img == nil {
		return 0, 0, 0, false
	}
	bounds := f.img.Bounds()
	if x < bounds.Min.X || x >= bounds.Max.X || y < bounds.Min.Y || y >= bounds.Max.Y {
		return 0, 0, 0, false
	}
	i := f.img.PixOffset(x, y)
	p := f.img.Pix[i : i+3 : i+3]
	return int(p[0]), int(p[1]), int(p[2]), true
}

// RGBA exposes the backing image for encoding/recording. Read-only.
func (f *Frame) RGBA() *image.RGBA { return f.img }

// Crop copies the given region into a new frame whose bounds start at the
// origin, so region-relative coordinates address it directly.
func (f *Frame) Crop(r image.Rectangle) *Frame {
	r = r.Intersect(f.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	if !r.Empty() {
		draw.Draw(dst, dst.Bounds(), f.img, r.Min, draw.Src)
	}
	return NewFrame(dst, f.capturedAt)
}
