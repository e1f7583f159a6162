// Package texture rebuilds document textures from streamed pixel updates.
package texture

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/texlink/internal/engine/scene"
	"github.com/Faultbox/texlink/internal/logger"
	"github.com/Faultbox/texlink/internal/metrics"
	"github.com/Faultbox/texlink/internal/protocol"
)

// ErrInvalidUpdate is returned for pixel updates that cannot be applied.
var ErrInvalidUpdate = errors.New("invalid texture update")

// Record is the assembled texture of one document.
type Record struct {
	DocumentID int
	Texture    *scene.Texture
}

// UUID returns the texture identity.
func (r *Record) UUID() string { return r.Texture.UUID() }

// Width returns the texture width in pixels.
func (r *Record) Width() int { return r.Texture.Width }

// Height returns the texture height in pixels.
func (r *Record) Height() int { return r.Texture.Height }

// Pixels returns the RGBA buffer.
func (r *Record) Pixels() []byte { return r.Texture.Pixels }

// Assembler keeps one RGBA buffer per document and writes incoming batches
// into it. It is not safe for concurrent use.
type Assembler struct {
	records map[int]*Record
	log     *zap.Logger
}

// New creates an empty assembler. A nil log uses the package logger.
func New(log *zap.Logger) *Assembler {
	if log == nil {
		log = logger.Named("texture")
	}
	return &Assembler{records: make(map[int]*Record), log: log}
}

// Apply writes a PARTIAL_UPDATE or FULL_UPDATE into the document's buffer.
// allocated is true when a new texture replaced the previous one (first
// update or a size change); the caller must then hand it to the renderer.
func (a *Assembler) Apply(m protocol.Message) (rec *Record, allocated bool, err error) {
	if m.Kind != protocol.KindPartialUpdate && m.Kind != protocol.KindFullUpdate {
		return nil, false, fmt.Errorf("%w: %s carries no pixels", ErrInvalidUpdate, m.Kind)
	}
	if err := m.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
	}
	if m.ComponentSize != 0 && m.ComponentSize != 8 {
		return nil, false, fmt.Errorf("%w: %d-bit components", ErrInvalidUpdate, m.ComponentSize)
	}
	offset, size := m.Batch()
	if got := protocol.PixelStringLen(m.PixelString); got != size*4 {
		return nil, false, fmt.Errorf("%w: %d bytes for %d pixels", ErrInvalidUpdate, got, size)
	}

	lo, hi := offset*4, (offset+size)*4
	rec, ok := a.records[m.DocumentID]
	if ok && rec.Width() == m.Width && rec.Height() == m.Height {
		if _, err := protocol.DecodePixelString(m.PixelString, rec.Texture.Pixels[lo:hi]); err != nil {
			return rec, false, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
		}
	} else {
		// Zero-filled so regions not yet received stay transparent. The
		// record is only replaced once the batch decoded.
		buf := make([]byte, m.Width*m.Height*4)
		if _, err := protocol.DecodePixelString(m.PixelString, buf[lo:hi]); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
		}
		tex := scene.NewDataTexture(buf, m.Width, m.Height)
		tex.Name = fmt.Sprintf("document-%d", m.DocumentID)
		rec = &Record{DocumentID: m.DocumentID, Texture: tex}
		a.records[m.DocumentID] = rec
		allocated = true
		metrics.TexturesAllocated.Inc()
		a.log.Debug("texture allocated", zap.Int("documentID", m.DocumentID),
			zap.Int("width", m.Width), zap.Int("height", m.Height), zap.String("uuid", tex.UUID()))
	}
	rec.Texture.MarkDirty(lo, hi)
	metrics.UpdatesApplied.WithLabelValues(string(m.Kind)).Inc()
	return rec, allocated, nil
}

// Record returns the assembled texture of a document.
func (a *Assembler) Record(documentID int) (*Record, bool) {
	rec, ok := a.records[documentID]
	return rec, ok
}

// Documents returns how many documents have a texture.
func (a *Assembler) Documents() int { return len(a.records) }

// Close forgets a document's buffer. The texture itself is released by
// whoever owns its references. Close reports whether a buffer existed.
func (a *Assembler) Close(documentID int) bool {
	rec, ok := a.records[documentID]
	if !ok {
		return false
	}
	delete(a.records, documentID)
	a.log.Debug("texture released", zap.Int("documentID", documentID), zap.String("uuid", rec.UUID()))
	return true
}
