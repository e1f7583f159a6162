package scene

import "github.com/google/uuid"

// Texture is an RGBA8 image kept in memory and uploaded by the renderer.
// Writers mark the byte ranges they touch; the uploader takes them.
type Texture struct {
	uuid   string
	Name   string
	Width  int
	Height int
	Pixels []byte

	version   int
	full      bool
	dirtyLo   int
	dirtyHi   int
	disposed  bool
	onDispose []func(*Texture)
}

// NewDataTexture wraps an RGBA8 buffer of width*height*4 bytes. The whole
// texture needs uploading.
func NewDataTexture(pixels []byte, width, height int) *Texture {
	return &Texture{
		uuid:    uuid.NewString(),
		Width:   width,
		Height:  height,
		Pixels:  pixels,
		version: 1,
		full:    true,
	}
}

// UUID returns the texture identity.
func (t *Texture) UUID() string { return t.uuid }

// Version increases every time the texture is marked for upload.
func (t *Texture) Version() int { return t.version }

// MarkDirty records that bytes [lo, hi) changed.
func (t *Texture) MarkDirty(lo, hi int) {
	if lo >= hi {
		return
	}
	t.version++
	if t.full {
		return
	}
	if t.dirtyHi == 0 {
		t.dirtyLo, t.dirtyHi = lo, hi
		return
	}
	t.dirtyLo = min(t.dirtyLo, lo)
	t.dirtyHi = max(t.dirtyHi, hi)
}

// MarkAllDirty requests a full upload.
func (t *Texture) MarkAllDirty() {
	t.version++
	t.full = true
	t.dirtyLo, t.dirtyHi = 0, 0
}

// NeedsUpdate reports whether anything is waiting to be uploaded.
func (t *Texture) NeedsUpdate() bool {
	return t.full || t.dirtyHi > 0
}

// TakeDirty returns and clears the pending upload. full means the whole
// texture must be (re)specified; otherwise [lo, hi) bytes changed.
func (t *Texture) TakeDirty() (lo, hi int, full bool) {
	lo, hi, full = t.dirtyLo, t.dirtyHi, t.full
	t.dirtyLo, t.dirtyHi, t.full = 0, 0, false
	return lo, hi, full
}

// OnDispose registers fn to run when the texture is disposed.
func (t *Texture) OnDispose(fn func(*Texture)) {
	t.onDispose = append(t.onDispose, fn)
}

// Dispose releases the texture. Calling it twice is harmless.
func (t *Texture) Dispose() {
	if t.disposed {
		return
	}
	t.disposed = true
	for _, fn := range t.onDispose {
		fn(t)
	}
	t.onDispose = nil
}

// Disposed reports whether Dispose was called.
func (t *Texture) Disposed() bool { return t.disposed }
