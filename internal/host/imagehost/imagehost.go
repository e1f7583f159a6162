// Package imagehost is an in-memory host whose documents are decoded images.
package imagehost

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/Faultbox/texlink/internal/host"
	"github.com/Faultbox/texlink/internal/logger"
)

type document struct {
	info host.DocumentInfo
	img  image.Image
	path string
}

// Host serves images as documents. It is safe for concurrent use.
type Host struct {
	mu        sync.Mutex
	docs      map[int]*document
	active    int
	nextID    int
	listeners map[int]func(host.Event)
	nextSub   int

	modal     sync.Mutex
	modalName string

	notify func(string)
	log    *zap.Logger
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Host) { h.log = log }
}

// WithNotifier routes user notifications to fn instead of the log.
func WithNotifier(fn func(string)) Option {
	return func(h *Host) { h.notify = fn }
}

// New creates an empty host.
func New(opts ...Option) *Host {
	h := &Host{
		docs:      make(map[int]*document),
		listeners: make(map[int]func(host.Event)),
		nextID:    1,
		log:       logger.Named("imagehost"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open adds img as a new document, makes it active and returns its id.
// The color mode follows the image model: gray, CMYK and paletted images
// open in their own (unsupported) modes.
func (h *Host) Open(name string, img image.Image) int {
	return h.open(name, "", img, modeOf(img))
}

func (h *Host) open(name, path string, img image.Image, mode host.ColorMode) int {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	b := img.Bounds()
	h.docs[id] = &document{
		info: host.DocumentInfo{
			ID:       id,
			Name:     name,
			Width:    b.Dx(),
			Height:   b.Dy(),
			Mode:     mode,
			HasAlpha: !opaque(img),
		},
		img:  img,
		path: path,
	}
	h.active = id
	h.mu.Unlock()

	h.log.Debug("document opened", zap.Int("documentID", id), zap.String("name", name),
		zap.Int("width", b.Dx()), zap.Int("height", b.Dy()), zap.String("mode", string(mode)))
	h.emit(host.Event{Kind: host.EventOpened, DocumentID: id})
	h.emit(host.Event{Kind: host.EventSelected, DocumentID: id})
	return id
}

// Update replaces a document's content and notifies listeners.
func (h *Host) Update(id int, img image.Image) error {
	h.mu.Lock()
	doc, ok := h.docs[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %d", host.ErrDocumentNotFound, id)
	}
	b := img.Bounds()
	doc.img = img
	doc.info.Width, doc.info.Height = b.Dx(), b.Dy()
	doc.info.HasAlpha = !opaque(img)
	h.mu.Unlock()

	h.emit(host.Event{Kind: host.EventChanged, DocumentID: id})
	return nil
}

// SetColorMode changes the color mode a document reports.
func (h *Host) SetColorMode(id int, mode host.ColorMode) error {
	h.mu.Lock()
	doc, ok := h.docs[id]
	if ok {
		doc.info.Mode = mode
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", host.ErrDocumentNotFound, id)
	}
	h.emit(host.Event{Kind: host.EventChanged, DocumentID: id})
	return nil
}

// Select makes a document the active one.
func (h *Host) Select(id int) error {
	h.mu.Lock()
	_, ok := h.docs[id]
	if ok {
		h.active = id
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", host.ErrDocumentNotFound, id)
	}
	h.emit(host.Event{Kind: host.EventSelected, DocumentID: id})
	return nil
}

// Close removes a document. The lowest remaining id becomes active.
func (h *Host) Close(id int) error {
	h.mu.Lock()
	if _, ok := h.docs[id]; !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %d", host.ErrDocumentNotFound, id)
	}
	delete(h.docs, id)
	if h.active == id {
		h.active = 0
		if ids := h.sortedIDs(); len(ids) > 0 {
			h.active = ids[0]
		}
	}
	h.mu.Unlock()

	h.log.Debug("document closed", zap.Int("documentID", id))
	h.emit(host.Event{Kind: host.EventClosed, DocumentID: id})
	return nil
}

// Documents lists open documents ordered by id.
func (h *Host) Documents(ctx context.Context) ([]host.DocumentInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := h.sortedIDs()
	out := make([]host.DocumentInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.docs[id].info)
	}
	return out, nil
}

// Document returns one open document.
func (h *Host) Document(ctx context.Context, id int) (host.DocumentInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[id]
	if !ok {
		return host.DocumentInfo{}, fmt.Errorf("%w: %d", host.ErrDocumentNotFound, id)
	}
	return doc.info, nil
}

// ActiveDocument returns the focused document.
func (h *Host) ActiveDocument(ctx context.Context) (host.DocumentInfo, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[h.active]
	if !ok {
		return host.DocumentInfo{}, false, nil
	}
	return doc.info, true, nil
}

// ExecuteAsModal runs fn holding the modal lock, or returns host.ErrBusy.
func (h *Host) ExecuteAsModal(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !h.modal.TryLock() {
		h.mu.Lock()
		holder := h.modalName
		h.mu.Unlock()
		return fmt.Errorf("%w: %q is running", host.ErrBusy, holder)
	}
	h.mu.Lock()
	h.modalName = name
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.modalName = ""
		h.mu.Unlock()
		h.modal.Unlock()
	}()
	return fn(ctx)
}

// GetPixels renders the document at the requested size.
func (h *Host) GetPixels(ctx context.Context, req host.PixelRequest) (host.Pixels, error) {
	h.mu.Lock()
	doc, ok := h.docs[req.DocumentID]
	var (
		img  image.Image
		info host.DocumentInfo
	)
	if ok {
		img, info = doc.img, doc.info
	}
	h.mu.Unlock()

	if !ok {
		return host.Pixels{}, fmt.Errorf("%w: %d", host.ErrDocumentNotFound, req.DocumentID)
	}
	if !info.Mode.Supported() {
		return host.Pixels{}, fmt.Errorf("%w: document %d is %s", host.ErrUnsupportedColorMode, info.ID, info.Mode)
	}
	if req.ComponentSize != 0 && req.ComponentSize != 8 {
		return host.Pixels{}, fmt.Errorf("%d-bit components are not available", req.ComponentSize)
	}

	w, h2 := req.TargetWidth, req.TargetHeight
	if w <= 0 {
		w = info.Width
	}
	if h2 <= 0 {
		h2 = info.Height
	}
	if err := ctx.Err(); err != nil {
		return host.Pixels{}, err
	}

	rgba := render(img, w, h2)
	components := 3
	if info.HasAlpha {
		components = 4
	}
	return host.Pixels{
		Data:          pack(rgba, components, req.Chunky),
		Width:         w,
		Height:        h2,
		Components:    components,
		ComponentSize: 8,
		Chunky:        req.Chunky,
	}, nil
}

// Notify reports a message to the user.
func (h *Host) Notify(message string) {
	if h.notify != nil {
		h.notify(message)
		return
	}
	h.log.Warn(message)
}

// Subscribe registers fn for document events.
func (h *Host) Subscribe(fn func(host.Event)) func() {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.listeners[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *Host) emit(ev host.Event) {
	h.mu.Lock()
	fns := make([]func(host.Event), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// sortedIDs must be called with mu held.
func (h *Host) sortedIDs() []int {
	ids := make([]int, 0, len(h.docs))
	for id := range h.docs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// render draws img into a non-premultiplied buffer of the target size.
func render(img image.Image, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	src := img.Bounds()
	if src.Dx() == w && src.Dy() == h {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}

// pack lays an NRGBA buffer out as chunky or planar components.
func pack(img *image.NRGBA, components int, chunky bool) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	total := w * h
	out := make([]byte, total*components)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			p := y*w + x
			for c := 0; c < components; c++ {
				v := row[x*4+c]
				if chunky {
					out[p*components+c] = v
				} else {
					out[c*total+p] = v
				}
			}
		}
	}
	return out
}

func opaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

func modeOf(img image.Image) host.ColorMode {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return host.ModeGrayscale
	case *image.CMYK:
		return host.ModeCMYK
	case *image.Paletted:
		return host.ModeIndexed
	}
	return host.ModeRGB
}
