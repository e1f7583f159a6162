package producer

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Faultbox/texlink/internal/encoder"
	"github.com/Faultbox/texlink/internal/host"
	"github.com/Faultbox/texlink/internal/metrics"
	"github.com/Faultbox/texlink/internal/protocol"
	"github.com/Faultbox/texlink/internal/queue"
)

// Tick flushes held control messages, announces a changed active document
// and sends at most one batch of the head job. It does nothing until the
// viewer is ready.
func (p *Producer) Tick(ctx context.Context) {
	if !p.ready {
		return
	}
	if !p.flushPending(ctx) {
		return
	}
	p.announceActive(ctx)

	job := p.queue.Peek()
	if job == nil {
		return
	}
	if _, err := p.host.Document(ctx, job.DocumentID); errors.Is(err, host.ErrDocumentNotFound) {
		p.log.Debug("dropping job for closed document", zap.Int("documentID", job.DocumentID))
		p.closeDocument(ctx, job.DocumentID)
		return
	}
	retrying := p.retry != nil && p.retry.documentID == job.DocumentID
	if retrying && p.clock.Now().Before(p.retry.notBefore) {
		return
	}

	for !job.Done() {
		// A batch that failed to go out already updated the encoder cache,
		// so its retry must be forced.
		batch, err := p.enc.Next(job, p.cfg.BatchSize, retrying)
		if err != nil {
			p.dropJob(job, err)
			return
		}
		if !batch.Changed {
			job.PixelsPushed += batch.Size
			metrics.Batches.WithLabelValues(metrics.OutcomeSkipped).Inc()
			continue
		}

		m := protocol.PartialUpdate(job.DocumentID, job.Width, job.Height, job.ComponentSize,
			batch.Offset, batch.Size, batch.Payload)
		if err := p.conn.Send(ctx, m); err != nil {
			p.batchFailed(ctx, job, err)
			return
		}
		p.retry = nil
		job.PixelsPushed += batch.Size
		metrics.Batches.WithLabelValues(metrics.OutcomeSent).Inc()
		if job.Done() {
			p.finishJob(ctx)
		}
		return
	}
	// Nothing in the job differed from what the viewer already has.
	p.finishJob(ctx)
}

// announceActive sends DOCUMENT_CHANGED when the focused document moved.
func (p *Producer) announceActive(ctx context.Context) {
	info, ok, err := p.host.ActiveDocument(ctx)
	if err != nil {
		p.log.Warn("reading active document", zap.Error(err))
		return
	}
	if !ok || (p.hasActive && info.ID == p.announced) {
		return
	}
	p.send(ctx, protocol.DocumentChanged(info.ID))
	p.announced = info.ID
	p.hasActive = true
}

// finishJob dequeues the finished head job and checks its document still exists.
func (p *Producer) finishJob(ctx context.Context) {
	job := p.queue.Dequeue()
	if job == nil {
		return
	}
	job.Release()
	metrics.Jobs.WithLabelValues(metrics.OutcomeCompleted).Inc()
	metrics.QueueDepth.Set(float64(p.queue.Len()))
	p.log.Debug("job complete", zap.Int("documentID", job.DocumentID))

	// The document may have closed while its last batches were in flight.
	if _, err := p.host.Document(ctx, job.DocumentID); errors.Is(err, host.ErrDocumentNotFound) {
		p.closeDocument(ctx, job.DocumentID)
	}
}

// batchFailed schedules a retry of the same batch or drops the job once the
// attempts run out.
func (p *Producer) batchFailed(ctx context.Context, job *queue.Job, err error) {
	metrics.Batches.WithLabelValues(metrics.OutcomeFailed).Inc()
	if p.retry == nil || p.retry.documentID != job.DocumentID || p.retry.offset != job.PixelsPushed {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.cfg.RetryInitial
		b.MaxInterval = p.cfg.RetryMax
		b.MaxElapsedTime = 0
		b.Clock = p.clock
		b.Reset()
		p.retry = &retryState{documentID: job.DocumentID, offset: job.PixelsPushed, backoff: b}
	}
	p.retry.attempts++

	log := p.log.With(zap.Int("documentID", job.DocumentID), zap.Int("offset", job.PixelsPushed),
		zap.Int("attempt", p.retry.attempts), zap.Error(err))
	if p.retry.attempts >= p.cfg.MaxBatchAttempts {
		log.Error("giving up on batch")
		p.dropJob(job, err)
		return
	}
	p.retry.notBefore = p.clock.Now().Add(p.retry.backoff.NextBackOff())
	log.Warn("batch send failed, will retry")
}

// dropJob abandons the head job. The encoder cache no longer matches what the
// viewer holds, so it is forgotten and the next capture resends everything.
func (p *Producer) dropJob(job *queue.Job, err error) {
	if errors.Is(err, encoder.ErrInvalidBatch) {
		p.log.Error("dropping malformed job", zap.Int("documentID", job.DocumentID), zap.Error(err))
	}
	if head := p.queue.Remove(job.DocumentID); head != nil {
		head.Release()
	}
	p.enc.Forget(job.DocumentID)
	p.retry = nil
	metrics.Jobs.WithLabelValues(metrics.OutcomeDropped).Inc()
	metrics.QueueDepth.Set(float64(p.queue.Len()))
}
