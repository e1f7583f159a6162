// Package host describes the image-editing application the producer captures
// pixels from. The producer only talks to the Host interface; imagehost is an
// in-memory implementation used by texlinkd and the tests.
package host

import (
	"context"
	"errors"
)

var (
	// ErrBusy is returned when the host's modal execution context is held by
	// another operation.
	ErrBusy = errors.New("host is busy with another modal operation")

	// ErrUnsupportedColorMode is returned when pixels are requested from a
	// document that is not in RGB mode.
	ErrUnsupportedColorMode = errors.New("unsupported color mode")

	// ErrDocumentNotFound is returned for documents that are not open.
	ErrDocumentNotFound = errors.New("document not found")
)

// ColorMode is a document's color model.
type ColorMode string

const (
	ModeRGB       ColorMode = "RGB"
	ModeGrayscale ColorMode = "Grayscale"
	ModeCMYK      ColorMode = "CMYK"
	ModeIndexed   ColorMode = "Indexed"
	ModeLab       ColorMode = "Lab"
)

// Supported reports whether pixels can be streamed from this mode.
func (m ColorMode) Supported() bool {
	return m == ModeRGB
}

// DocumentInfo describes an open document at its native size.
type DocumentInfo struct {
	ID       int
	Name     string
	Width    int
	Height   int
	Mode     ColorMode
	HasAlpha bool
}

// PixelRequest asks for a document's composite pixels scaled to a target size.
type PixelRequest struct {
	DocumentID    int
	TargetWidth   int // zero keeps the native width
	TargetHeight  int // zero keeps the native height
	ComponentSize int // bits per component
	Chunky        bool
}

// Pixels is a captured buffer. Chunky buffers interleave components per
// pixel; planar buffers store one full plane per component.
type Pixels struct {
	Data          []byte
	Width         int
	Height        int
	Components    int
	ComponentSize int
	Chunky        bool
}

// EventKind identifies a host notification.
type EventKind int

const (
	EventOpened EventKind = iota
	EventChanged
	EventSelected
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventChanged:
		return "changed"
	case EventSelected:
		return "selected"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// Event is a document notification from the host.
type Event struct {
	Kind       EventKind
	DocumentID int
}

// Host is the host application's imaging surface.
type Host interface {
	// Documents lists open documents.
	Documents(ctx context.Context) ([]DocumentInfo, error)
	// Document returns one document or ErrDocumentNotFound.
	Document(ctx context.Context, id int) (DocumentInfo, error)
	// ActiveDocument returns the focused document; ok is false when none is open.
	ActiveDocument(ctx context.Context) (info DocumentInfo, ok bool, err error)
	// ExecuteAsModal runs fn while holding the host's exclusive context.
	// It returns ErrBusy without running fn when the context is held.
	ExecuteAsModal(ctx context.Context, name string, fn func(ctx context.Context) error) error
	// GetPixels captures a document's pixels.
	GetPixels(ctx context.Context, req PixelRequest) (Pixels, error)
	// Notify shows a short message to the user.
	Notify(message string)
	// Subscribe registers fn for document events and returns a function that
	// removes it. fn may be called from any goroutine.
	Subscribe(fn func(Event)) (unsubscribe func())
}
