package gltex

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/texlink/internal/engine/scene"
	"github.com/Faultbox/texlink/internal/logger"
)

// ErrDisposed is returned when syncing a texture that was disposed.
var ErrDisposed = errors.New("texture disposed")

type entry struct {
	name          uint32
	width, height int
}

// Uploader owns one GL texture name per scene texture. Sync and Close must
// run on the thread holding the GL context; textures may be disposed from
// any goroutine, their names are deleted on the next Sync.
type Uploader struct {
	mu       sync.Mutex
	textures map[string]*entry
	dead     []uint32
	log      *zap.Logger
}

// NewUploader creates an uploader. A nil log uses the package logger.
func NewUploader(log *zap.Logger) *Uploader {
	if log == nil {
		log = logger.Named("gltex")
	}
	return &Uploader{textures: make(map[string]*entry), log: log}
}

// Sync uploads whatever changed in tex since the last call and returns its
// GL texture name. The first call allocates the texture and arranges for the
// name to be deleted when tex is disposed.
func (u *Uploader) Sync(tex *scene.Texture) (uint32, error) {
	if tex.Disposed() {
		return 0, fmt.Errorf("%w: %s", ErrDisposed, tex.UUID())
	}
	if len(tex.Pixels) < tex.Width*tex.Height*bytesPerPixel {
		return 0, fmt.Errorf("texture %s: %d bytes for %dx%d", tex.UUID(), len(tex.Pixels), tex.Width, tex.Height)
	}

	u.collect()
	u.mu.Lock()
	defer u.mu.Unlock()

	e, ok := u.textures[tex.UUID()]
	if !ok {
		e = &entry{}
		gl.GenTextures(1, &e.name)
		gl.BindTexture(gl.TEXTURE_2D, e.name)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
		u.textures[tex.UUID()] = e
		tex.OnDispose(u.release)
	}

	p, dirty := planUpload(tex, e.width, e.height)
	if !dirty {
		return e.name, nil
	}

	gl.BindTexture(gl.TEXTURE_2D, e.name)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	w, h := int32(tex.Width), int32(tex.Height)
	switch {
	case p.allocate:
		gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, w, h, 0, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(tex.Pixels))
		e.width, e.height = tex.Width, tex.Height
		u.log.Debug("texture allocated", zap.String("uuid", tex.UUID()),
			zap.Int("width", tex.Width), zap.Int("height", tex.Height))
	case p.full:
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, w, h, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(tex.Pixels))
	default:
		off := p.rows.Y * tex.Width * bytesPerPixel
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, int32(p.rows.Y), w, int32(p.rows.Rows),
			gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(tex.Pixels[off:]))
	}
	return e.name, nil
}

// Name returns the GL name of an uploaded texture.
func (u *Uploader) Name(tex *scene.Texture) (uint32, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.textures[tex.UUID()]
	if !ok {
		return 0, false
	}
	return e.name, true
}

// Len returns the number of live GL textures.
func (u *Uploader) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.textures)
}

// release runs from Texture.Dispose, possibly off the GL thread.
func (u *Uploader) release(tex *scene.Texture) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.textures[tex.UUID()]
	if !ok {
		return
	}
	u.dead = append(u.dead, e.name)
	delete(u.textures, tex.UUID())
	u.log.Debug("texture released", zap.String("uuid", tex.UUID()))
}

// collect deletes the names of disposed textures.
func (u *Uploader) collect() {
	u.mu.Lock()
	dead := u.dead
	u.dead = nil
	u.mu.Unlock()
	if len(dead) > 0 {
		gl.DeleteTextures(int32(len(dead)), &dead[0])
	}
}

// Close deletes every GL texture the uploader still owns.
func (u *Uploader) Close() {
	u.collect()
	u.mu.Lock()
	defer u.mu.Unlock()
	for id, e := range u.textures {
		gl.DeleteTextures(1, &e.name)
		delete(u.textures, id)
	}
}
