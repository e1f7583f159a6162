// Package gltex keeps OpenGL textures in step with assembled scene textures.
// All functions must be called on the thread that owns the GL context.
package gltex

import "github.com/Faultbox/texlink/internal/engine/scene"

const bytesPerPixel = 4

// region is a band of whole rows to upload.
type region struct {
	Y    int
	Rows int
}

// dirtyRows widens the byte range [lo, hi) of an RGBA8 image width pixels
// wide to the rows it touches. GL sub-image uploads are rectangular, so a
// range starting mid-row still uploads that row in full.
func dirtyRows(lo, hi, width, height int) (region, bool) {
	stride := width * bytesPerPixel
	if stride <= 0 || hi <= lo {
		return region{}, false
	}
	lo = max(lo, 0)
	hi = min(hi, stride*height)
	if hi <= lo {
		return region{}, false
	}
	y0 := lo / stride
	y1 := (hi + stride - 1) / stride
	return region{Y: y0, Rows: y1 - y0}, true
}

// plan is what Sync must do for one texture.
type plan struct {
	allocate bool
	full     bool
	rows     region
}

// planUpload consumes the texture's pending changes. A texture whose size
// differs from the allocated one must be respecified.
func planUpload(tex *scene.Texture, allocW, allocH int) (plan, bool) {
	if !tex.NeedsUpdate() && allocW == tex.Width && allocH == tex.Height {
		return plan{}, false
	}
	lo, hi, full := tex.TakeDirty()
	if allocW != tex.Width || allocH != tex.Height {
		return plan{allocate: true, full: true}, true
	}
	if full {
		return plan{full: true}, true
	}
	r, ok := dirtyRows(lo, hi, tex.Width, tex.Height)
	if !ok {
		return plan{}, false
	}
	return plan{rows: r}, true
}
