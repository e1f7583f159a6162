// Package viewer is the consumer end of the bridge. It rebuilds document
// textures from pixel updates and keeps the scene's resource graph in step
// with the documents the host reports.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/texlink/internal/bridge"
	"github.com/Faultbox/texlink/internal/engine/camera"
	"github.com/Faultbox/texlink/internal/engine/resource"
	"github.com/Faultbox/texlink/internal/engine/scene"
	"github.com/Faultbox/texlink/internal/engine/texture"
	"github.com/Faultbox/texlink/internal/logger"
	"github.com/Faultbox/texlink/internal/protocol"
	"github.com/Faultbox/texlink/internal/settings"
)

// Update describes one applied pixel update.
type Update struct {
	DocumentID int
	Texture    *scene.Texture
	// Allocated is set when the update created a new texture.
	Allocated bool
	Offset    int
	Size      int
}

// Option configures a Viewer.
type Option func(*Viewer)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(v *Viewer) { v.log = log }
}

// WithPreview adds a textured quad to the scene for every document, so each
// document is visible without a model of its own.
func WithPreview(enabled bool) Option {
	return func(v *Viewer) { v.preview = enabled }
}

// OnUpdate registers a callback run after each applied pixel update.
func OnUpdate(fn func(Update)) Option {
	return func(v *Viewer) { v.onUpdate = fn }
}

// OnSettings registers a callback run when the host pushes settings.
func OnSettings(fn func(settings.UserSettings)) Option {
	return func(v *Viewer) { v.onSettings = fn }
}

// OnClosed registers a callback run when the host closes a document.
func OnClosed(fn func(documentID int)) Option {
	return func(v *Viewer) { v.onClosed = fn }
}

// Viewer owns the consumer-side state. Callbacks run on the goroutine
// calling Run or Handle, without the viewer's lock held.
type Viewer struct {
	conn bridge.Conn
	log  *zap.Logger

	mu       sync.Mutex
	asm      *texture.Assembler
	res      *resource.Manager
	preview  bool
	previews map[int]string
	camera   *camera.Controller

	active      int
	hasActive   bool
	settings    settings.UserSettings
	hasSettings bool

	onUpdate   func(Update)
	onSettings func(settings.UserSettings)
	onClosed   func(int)
}

// New creates a viewer talking over conn.
func New(conn bridge.Conn, opts ...Option) *Viewer {
	v := &Viewer{
		conn:     conn,
		log:      logger.Named("viewer"),
		previews: make(map[int]string),
		settings: settings.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.asm = texture.New(v.log.Named("texture"))
	v.res = resource.NewManager(scene.NewScene(), v.log.Named("resource"))
	v.camera = camera.NewController(v.settings)
	return v
}

// Run announces readiness and applies incoming messages until ctx is done
// or the bridge closes. Bad messages are logged and skipped.
func (v *Viewer) Run(ctx context.Context) error {
	if err := v.conn.Send(ctx, protocol.Ready()); err != nil {
		return fmt.Errorf("sending ready: %w", err)
	}
	v.log.Info("viewer ready")

	for {
		m, err := v.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bridge.ErrClosed) {
				v.log.Info("viewer stopping", zap.Error(err))
				return nil
			}
			return fmt.Errorf("receiving from host: %w", err)
		}
		if err := v.Handle(m); err != nil {
			v.log.Warn("dropping message", zap.String("kind", string(m.Kind)),
				zap.Int("documentID", m.DocumentID), zap.Error(err))
		}
	}
}

// Handle applies one message from the host.
func (v *Viewer) Handle(m protocol.Message) error {
	v.mu.Lock()
	after, err := v.handle(m)
	v.mu.Unlock()
	if after != nil {
		after()
	}
	return err
}

// handle runs under v.mu and returns the callback to run once unlocked.
func (v *Viewer) handle(m protocol.Message) (func(), error) {
	switch m.Kind {
	case protocol.KindPartialUpdate, protocol.KindFullUpdate:
		return v.applyPixels(m)
	case protocol.KindDocumentChanged:
		v.active, v.hasActive = m.DocumentID, true
		v.log.Debug("active document", zap.Int("documentID", m.DocumentID))
		return nil, nil
	case protocol.KindDocumentClosed:
		return v.closeDocument(m.DocumentID), nil
	case protocol.KindPushSettings:
		if m.Settings == nil {
			return nil, fmt.Errorf("%w: %s without settings", protocol.ErrInvalidMessage, m.Kind)
		}
		us := m.Settings.Clone()
		v.settings, v.hasSettings = us, true
		v.camera.Apply(us)
		if v.onSettings == nil {
			return nil, nil
		}
		return func() { v.onSettings(us) }, nil
	}
	v.log.Debug("ignoring message", zap.String("kind", string(m.Kind)))
	return nil, nil
}

func (v *Viewer) applyPixels(m protocol.Message) (func(), error) {
	rec, allocated, err := v.asm.Apply(m)
	if err != nil {
		return nil, err
	}
	// A texture the resource manager does not hold yet is handed over even
	// when this batch did not allocate it.
	if cur, ok := v.res.DocumentTexture(m.DocumentID); allocated || !ok || cur != rec.Texture {
		if err := v.res.SetDocumentTexture(m.DocumentID, rec.Texture); err != nil {
			return nil, err
		}
		if v.preview {
			if err := v.ensurePreview(m.DocumentID, rec.Texture); err != nil {
				return nil, err
			}
		}
	}
	if v.onUpdate == nil {
		return nil, nil
	}
	offset, size := m.Batch()
	u := Update{DocumentID: m.DocumentID, Texture: rec.Texture, Allocated: allocated, Offset: offset, Size: size}
	return func() { v.onUpdate(u) }, nil
}

// ensurePreview adds the document's quad on first allocation. Later
// allocations reach the quad's material through SetDocumentTexture.
func (v *Viewer) ensurePreview(documentID int, tex *scene.Texture) error {
	if _, ok := v.previews[documentID]; ok {
		return nil
	}
	name := fmt.Sprintf("document-%d", documentID)
	mat := scene.NewStandardMaterial(name)
	mat.Map = tex
	mat.Transparent = true
	mesh := scene.NewMesh(name, scene.NewQuad(name), mat)
	if err := v.res.AddObjectToScene(mesh); err != nil {
		return err
	}
	v.previews[documentID] = mesh.UUID()
	return nil
}

func (v *Viewer) closeDocument(documentID int) func() {
	v.asm.Close(documentID)
	if id, ok := v.previews[documentID]; ok {
		delete(v.previews, documentID)
		if err := v.res.RemoveObjectFromScene(id); err != nil {
			v.log.Warn("removing preview", zap.Int("documentID", documentID), zap.Error(err))
		}
	}
	if err := v.res.RemoveDocument(documentID); err != nil {
		v.log.Warn("removing document", zap.Int("documentID", documentID), zap.Error(err))
	}
	if v.hasActive && v.active == documentID {
		v.hasActive = false
	}
	v.log.Debug("document closed", zap.Int("documentID", documentID))
	if v.onClosed == nil {
		return nil
	}
	return func() { v.onClosed(documentID) }
}

// LoadObject adds a model to the scene and asks the host to resend every
// document, so textures the model maps are filled in.
func (v *Viewer) LoadObject(ctx context.Context, root scene.Node) error {
	v.mu.Lock()
	err := v.res.AddObjectToScene(root)
	v.mu.Unlock()
	if err != nil {
		return err
	}
	return v.RequestUpdate(ctx)
}

// RemoveObject takes a model out of the scene.
func (v *Viewer) RemoveObject(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.res.RemoveObjectFromScene(id)
}

// AssignDocument maps a document's texture into a material slot.
func (v *Viewer) AssignDocument(materialID, slot string, documentID int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	tex, ok := v.res.DocumentTexture(documentID)
	if !ok {
		return fmt.Errorf("%w: document %d has no texture yet", resource.ErrUnknownEntity, documentID)
	}
	return v.res.SetMaterialTexture(materialID, slot, tex)
}

// ToggleLighting switches every mesh between its lit and unlit face.
func (v *Viewer) ToggleLighting() resource.LightingMode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.res.ToggleLightingMode()
}

// RequestUpdate asks the host to resend every open document.
func (v *Viewer) RequestUpdate(ctx context.Context) error {
	return v.conn.Send(ctx, protocol.RequestUpdate())
}

// UpdateSettings sends edited settings to the host, which validates and
// persists them.
func (v *Viewer) UpdateSettings(ctx context.Context, us settings.UserSettings) error {
	if err := us.Validate(); err != nil {
		return err
	}
	return v.conn.Send(ctx, protocol.UpdateSettings(us))
}

// Settings returns the last settings the host pushed, or the defaults.
func (v *Viewer) Settings() (settings.UserSettings, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settings.Clone(), v.hasSettings
}

// Active returns the document the host reports as active.
func (v *Viewer) Active() (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active, v.hasActive
}

// Documents returns how many documents have a texture.
func (v *Viewer) Documents() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.asm.Documents()
}

// Stats returns the resource graph counts.
func (v *Viewer) Stats() resource.Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.res.Stats()
}

// Image copies a document's assembled texture.
func (v *Viewer) Image(documentID int) (*image.NRGBA, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.asm.Record(documentID)
	if !ok {
		return nil, false
	}
	img := image.NewNRGBA(image.Rect(0, 0, rec.Width(), rec.Height()))
	copy(img.Pix, rec.Pixels())
	return img, true
}

// WithCamera runs fn with exclusive access to the camera controller, for
// input handlers and renderers.
func (v *Viewer) WithCamera(fn func(*camera.Controller)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v.camera)
}

// WithResources runs fn with exclusive access to the resource manager, for
// renderers walking the scene.
func (v *Viewer) WithResources(fn func(*resource.Manager)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v.res)
}
