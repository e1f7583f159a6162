package producer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/texlink/internal/host"
	"github.com/Faultbox/texlink/internal/metrics"
	"github.com/Faultbox/texlink/internal/protocol"
	"github.com/Faultbox/texlink/internal/queue"
	"github.com/Faultbox/texlink/internal/settings"
)

// captureRequest is a capture waiting for the one in flight to finish.
type captureRequest struct {
	documentID int
	force      bool
}

// capture queues a capture of a document. Captures run one at a time and in
// request order, so only a foreign modal holder makes the host report busy and
// a newer capture never lands before an older one. A document already waiting
// keeps its place and keeps any force flag.
func (p *Producer) capture(documentID int, force bool) {
	for i := range p.captures {
		if p.captures[i].documentID == documentID {
			p.captures[i].force = p.captures[i].force || force
			return
		}
	}
	p.captures = append(p.captures, captureRequest{documentID: documentID, force: force})
	p.nextCapture()
}

// nextCapture starts the oldest waiting capture unless one is in flight.
func (p *Producer) nextCapture() {
	if p.capturing || len(p.captures) == 0 {
		return
	}
	req := p.captures[0]
	p.captures = p.captures[1:]
	p.capturing = true

	display := p.settings().Display
	ctx := p.ctx
	p.sched.Go(func() {
		start := time.Now()
		job, err := p.grab(ctx, req.documentID, req.force, display)
		metrics.CaptureSeconds.Observe(time.Since(start).Seconds())
		p.sched.Post(func() {
			p.capturing = false
			p.captured(req.documentID, job, err)
			p.nextCapture()
		})
	})
}

// dropCaptures forgets waiting captures of a closed document.
func (p *Producer) dropCaptures(documentID int) {
	kept := p.captures[:0]
	for _, req := range p.captures {
		if req.documentID != documentID {
			kept = append(kept, req)
		}
	}
	p.captures = kept
}

// grab runs on the capture goroutine and must not touch loop state.
func (p *Producer) grab(ctx context.Context, documentID int, force bool, display settings.DisplaySettings) (*queue.Job, error) {
	var job *queue.Job
	err := p.host.ExecuteAsModal(ctx, ModalName, func(ctx context.Context) error {
		info, err := p.host.Document(ctx, documentID)
		if err != nil {
			return err
		}
		if !info.Mode.Supported() {
			return fmt.Errorf("%w: %s", host.ErrUnsupportedColorMode, info.Mode)
		}
		w, h := fitTexture(display.TargetSize(info.Width, info.Height))
		px, err := p.host.GetPixels(ctx, host.PixelRequest{
			DocumentID:    documentID,
			TargetWidth:   w,
			TargetHeight:  h,
			ComponentSize: 8,
			Chunky:        true,
		})
		if err != nil {
			return err
		}
		if want := px.Width * px.Height * px.Components; len(px.Data) != want {
			return fmt.Errorf("host returned %d bytes for %dx%dx%d", len(px.Data), px.Width, px.Height, px.Components)
		}
		job = &queue.Job{
			DocumentID:      documentID,
			Pixels:          px.Data,
			Width:           px.Width,
			Height:          px.Height,
			Components:      px.Components,
			ComponentSize:   px.ComponentSize,
			Chunky:          px.Chunky,
			TotalPixels:     px.Width * px.Height,
			ForceFullUpdate: force,
		}
		return nil
	})
	return job, err
}

// fitTexture shrinks a capture size, keeping its aspect, until neither side
// exceeds what the viewer accepts.
func fitTexture(w, h int) (int, int) {
	longest := max(w, h)
	if longest <= protocol.MaxTextureSize {
		return w, h
	}
	scale := float64(protocol.MaxTextureSize) / float64(longest)
	fit := func(n int) int {
		return min(max(int(math.Round(float64(n)*scale)), 1), protocol.MaxTextureSize)
	}
	return fit(w), fit(h)
}

// captured runs on the loop with the outcome of grab.
func (p *Producer) captured(documentID int, job *queue.Job, err error) {
	log := p.log.With(zap.Int("documentID", documentID))
	switch {
	case err == nil:
		metrics.Captures.WithLabelValues(metrics.OutcomeOK).Inc()
		delete(p.busyNotified, documentID)
		delete(p.unsupported, documentID)
		p.queue.Enqueue(job)
		// A coalesced job restarts from pixel zero, so any retry is stale.
		if p.retry != nil && p.retry.documentID == documentID {
			p.retry = nil
		}
		metrics.QueueDepth.Set(float64(p.queue.Len()))
		log.Debug("captured", zap.Int("width", job.Width), zap.Int("height", job.Height),
			zap.Int("components", job.Components), zap.Bool("force", job.ForceFullUpdate))

	case errors.Is(err, host.ErrBusy):
		metrics.Captures.WithLabelValues(metrics.OutcomeBusy).Inc()
		log.Warn("host busy, capture skipped", zap.Error(err))
		if !p.busyNotified[documentID] {
			p.busyNotified[documentID] = true
			p.host.Notify("Texture update skipped: the document is busy with another operation.")
		}

	case errors.Is(err, host.ErrUnsupportedColorMode):
		metrics.Captures.WithLabelValues(metrics.OutcomeUnsupported).Inc()
		if !p.unsupported[documentID] {
			p.unsupported[documentID] = true
			log.Warn("document color mode not supported", zap.Error(err))
			p.host.Notify("Only RGB documents can be shown in the 3D viewer.")
		}

	case errors.Is(err, host.ErrDocumentNotFound):
		metrics.Captures.WithLabelValues(metrics.OutcomeError).Inc()
		log.Debug("document vanished before capture")
		p.closeDocument(p.ctx, documentID)

	default:
		metrics.Captures.WithLabelValues(metrics.OutcomeError).Inc()
		log.Error("capture failed", zap.Error(err))
	}
}
