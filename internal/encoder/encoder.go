// Package encoder converts windows of captured pixel buffers into RGBA pixel
// strings and skips windows that have not changed since they were last sent.
package encoder

import (
	"errors"
	"fmt"

	"github.com/Faultbox/texlink/internal/protocol"
	"github.com/Faultbox/texlink/internal/queue"
)

// DefaultBatchSize is the number of pixels encoded per batch (512x512).
const DefaultBatchSize = 512 * 512

// ErrInvalidBatch is returned when a batch window does not fit the buffer.
var ErrInvalidBatch = errors.New("invalid pixel batch")

// Encoder keeps, per document, the RGBA bytes last handed out for every pixel.
// It is not safe for concurrent use.
type Encoder struct {
	cache map[int][]byte
}

// New creates an encoder with an empty cache.
func New() *Encoder {
	return &Encoder{cache: make(map[int][]byte)}
}

// Batch is one encoded window of a job.
type Batch struct {
	Offset  int // pixels
	Size    int // pixels
	Payload string
	Changed bool
}

// Encode converts size pixels starting at offset from buf (RGB or RGBA,
// chunky or planar, 8 bits per component) to an RGBA pixel string.
// ok is false when the window matches what was last encoded for the document
// and force is not set; the cache is updated either way.
func (e *Encoder) Encode(buf []byte, documentID, components int, chunky bool, offset, size int, force bool) (payload string, ok bool, err error) {
	if components != 3 && components != 4 {
		return "", false, fmt.Errorf("%w: %d components", ErrInvalidBatch, components)
	}
	if len(buf)%components != 0 {
		return "", false, fmt.Errorf("%w: %d bytes is not a multiple of %d components", ErrInvalidBatch, len(buf), components)
	}
	total := len(buf) / components
	if offset < 0 || size <= 0 || offset+size > total {
		return "", false, fmt.Errorf("%w: window %d+%d outside %d pixels", ErrInvalidBatch, offset, size, total)
	}

	// A new document or a new capture size starts from an all-zero cache,
	// matching the viewer's freshly allocated buffer.
	cached := e.cache[documentID]
	if len(cached) != total*4 {
		cached = make([]byte, total*4)
		e.cache[documentID] = cached
	}
	window := cached[offset*4 : (offset+size)*4]

	changed := force
	if chunky {
		changed = copyChunky(window, buf[offset*components:(offset+size)*components], components) || changed
	} else {
		changed = copyPlanar(window, buf, total, components, offset, size) || changed
	}

	if !changed {
		return "", false, nil
	}
	return protocol.EncodePixelString(window), true, nil
}

// Next encodes the job's next window of at most batchSize pixels. It does not
// advance the job; the caller does that once the batch has been dealt with.
func (e *Encoder) Next(job *queue.Job, batchSize int, force bool) (Batch, error) {
	if job.ComponentSize != 8 {
		return Batch{}, fmt.Errorf("%w: %d-bit components", ErrInvalidBatch, job.ComponentSize)
	}
	size := min(batchSize, job.Remaining())
	payload, changed, err := e.Encode(job.Pixels, job.DocumentID, job.Components, job.Chunky,
		job.PixelsPushed, size, force || job.ForceFullUpdate)
	if err != nil {
		return Batch{}, err
	}
	return Batch{Offset: job.PixelsPushed, Size: size, Payload: payload, Changed: changed}, nil
}

// Forget drops the cache for a document.
func (e *Encoder) Forget(documentID int) {
	delete(e.cache, documentID)
}

// Cached reports whether a cache exists for the document.
func (e *Encoder) Cached(documentID int) bool {
	_, ok := e.cache[documentID]
	return ok
}

// copyChunky writes interleaved src pixels into dst as RGBA and reports whether anything differed.
func copyChunky(dst, src []byte, components int) bool {
	changed := false
	if components == 4 {
		for i, v := range src {
			if dst[i] != v {
				dst[i] = v
				changed = true
			}
		}
		return changed
	}
	for p, s := 0, 0; s+2 < len(src); p, s = p+4, s+3 {
		for c := 0; c < 3; c++ {
			if dst[p+c] != src[s+c] {
				dst[p+c] = src[s+c]
				changed = true
			}
		}
		if dst[p+3] != 255 {
			dst[p+3] = 255
			changed = true
		}
	}
	return changed
}

// copyPlanar gathers one window from per-channel planes of total pixels each.
func copyPlanar(dst, src []byte, total, components, offset, size int) bool {
	changed := false
	for c := 0; c < 4; c++ {
		if c >= components {
			for i := 0; i < size; i++ {
				if dst[i*4+c] != 255 {
					dst[i*4+c] = 255
					changed = true
				}
			}
			continue
		}
		plane := src[c*total+offset : c*total+offset+size]
		for i, v := range plane {
			if dst[i*4+c] != v {
				dst[i*4+c] = v
				changed = true
			}
		}
	}
	return changed
}
