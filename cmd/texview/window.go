//go:build window

package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/Faultbox/texlink/internal/config"
	"github.com/Faultbox/texlink/internal/engine/gltex"
	"github.com/Faultbox/texlink/internal/engine/resource"
	"github.com/Faultbox/texlink/internal/viewer"
)

func init() {
	// OpenGL calls must be made from the main thread
	runtime.LockOSThread()
	showWindow = runWindow
}

// runWindow shows the active document until the window closes or ctx ends.
// The texture is blitted straight from a read framebuffer, so no shaders
// are involved.
func runWindow(ctx context.Context, cfg config.WindowConfig, v *viewer.Viewer, log *zap.Logger) error {
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return fmt.Errorf("SDL_Init failed: %w", err)
	}
	defer sdl.Quit()

	// OpenGL 4.1 Core Profile (max supported on macOS)
	sdl.GLSetAttribute(sdl.GL_CONTEXT_MAJOR_VERSION, 4)
	sdl.GLSetAttribute(sdl.GL_CONTEXT_MINOR_VERSION, 1)
	sdl.GLSetAttribute(sdl.GL_CONTEXT_PROFILE_MASK, sdl.GL_CONTEXT_PROFILE_CORE)
	sdl.GLSetAttribute(sdl.GL_DOUBLEBUFFER, 1)

	win, err := sdl.CreateWindow("texview", sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(cfg.Width), int32(cfg.Height), uint32(sdl.WINDOW_OPENGL|sdl.WINDOW_RESIZABLE|sdl.WINDOW_ALLOW_HIGHDPI))
	if err != nil {
		return fmt.Errorf("SDL_CreateWindow failed: %w", err)
	}
	defer win.Destroy()

	glctx, err := win.GLCreateContext()
	if err != nil {
		return fmt.Errorf("SDL_GL_CreateContext failed: %w", err)
	}
	defer sdl.GLDeleteContext(glctx)

	if err := gl.Init(); err != nil {
		return fmt.Errorf("initializing OpenGL: %w", err)
	}
	interval := 0
	if cfg.VSync {
		interval = 1
	}
	if err := sdl.GLSetSwapInterval(interval); err != nil {
		log.Warn("failed to set swap interval", zap.Error(err))
	}
	log.Info("window created", zap.Int("width", cfg.Width), zap.Int("height", cfg.Height),
		zap.String("gl", gl.GoStr(gl.GetString(gl.VERSION))))

	up := gltex.NewUploader(log)
	defer up.Close()

	var fbo uint32
	gl.GenFramebuffers(1, &fbo)
	defer gl.DeleteFramebuffers(1, &fbo)

	title := ""
	for ctx.Err() == nil {
		for ev := sdl.PollEvent(); ev != nil; ev = sdl.PollEvent() {
			switch e := ev.(type) {
			case *sdl.QuitEvent:
				return nil
			case *sdl.KeyboardEvent:
				if e.Type == sdl.KEYDOWN && e.Keysym.Sym == sdl.K_ESCAPE {
					return nil
				}
			}
		}

		viewW, viewH := win.GLGetDrawableSize()
		gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, 0)
		gl.Viewport(0, 0, viewW, viewH)
		gl.ClearColor(0.12, 0.12, 0.14, 1)
		gl.Clear(gl.COLOR_BUFFER_BIT)

		next := "texview"
		if doc, ok := v.Active(); ok {
			var (
				name    uint32
				w, h    int
				drawn   bool
				syncErr error
			)
			// Pixels are only read under the viewer's lock.
			v.WithResources(func(m *resource.Manager) {
				tex, ok := m.DocumentTexture(doc)
				if !ok {
					return
				}
				name, syncErr = up.Sync(tex)
				w, h, drawn = tex.Width, tex.Height, syncErr == nil
			})
			if syncErr != nil {
				log.Warn("texture upload failed", zap.Int("documentID", doc), zap.Error(syncErr))
			}
			if drawn {
				gl.BindFramebuffer(gl.READ_FRAMEBUFFER, fbo)
				gl.FramebufferTexture2D(gl.READ_FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, name, 0)
				r := letterbox(w, h, int(viewW), int(viewH))
				// Row 0 of the texture is the document's top row; flip the blit.
				gl.BlitFramebuffer(0, 0, int32(w), int32(h),
					int32(r.X0), int32(r.Y1), int32(r.X1), int32(r.Y0),
					gl.COLOR_BUFFER_BIT, gl.LINEAR)
				gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
				next = fmt.Sprintf("texview - document %d (%dx%d)", doc, w, h)
			}
		}
		if next != title {
			title = next
			win.SetTitle(title)
		}

		win.GLSwap()
		if !cfg.VSync {
			sdl.Delay(16)
		}
	}
	return nil
}
