// Package producer turns host document changes into pixel captures and
// streams the captured buffers to the viewer in bounded batches.
//
// All producer state is owned by a single loop. Host events, viewer messages,
// throttle timers and finished captures are posted onto it, so nothing inside
// the producer needs a lock.
package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/texlink/internal/bridge"
	"github.com/Faultbox/texlink/internal/config"
	"github.com/Faultbox/texlink/internal/encoder"
	"github.com/Faultbox/texlink/internal/host"
	"github.com/Faultbox/texlink/internal/logger"
	"github.com/Faultbox/texlink/internal/metrics"
	"github.com/Faultbox/texlink/internal/protocol"
	"github.com/Faultbox/texlink/internal/queue"
	"github.com/Faultbox/texlink/internal/settings"
	"github.com/Faultbox/texlink/internal/throttle"
)

// ModalName is the label the host shows while a capture holds its modal context.
const ModalName = "Updating Texture Data"

// Scheduler decides where captures run and how results get back to the loop.
type Scheduler interface {
	// Go runs a capture.
	Go(fn func())
	// Post runs fn on the producer loop.
	Post(fn func())
}

// Option configures a Producer.
type Option func(*Producer)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Producer) { p.log = log }
}

// WithClock replaces the clock used by the throttle and the retry schedule.
func WithClock(c throttle.Clock) Option {
	return func(p *Producer) { p.clock = c }
}

// WithScheduler replaces the default goroutine-and-loop scheduler.
func WithScheduler(s Scheduler) Option {
	return func(p *Producer) { p.sched = s }
}

// retryState tracks repeated failures of the head job's current batch.
type retryState struct {
	documentID int
	offset     int
	attempts   int
	notBefore  time.Time
	backoff    *backoff.ExponentialBackOff
}

// Producer is the host-side coordinator.
type Producer struct {
	host  host.Host
	conn  bridge.Conn
	store *settings.Store
	cfg   config.ProducerConfig
	log   *zap.Logger
	clock throttle.Clock
	sched Scheduler

	queue    *queue.Queue
	enc      *encoder.Encoder
	throttle *throttle.Throttle[int]

	ctx       context.Context
	ready     bool
	suspended bool
	announced int
	hasActive bool
	lastScale float64

	busyNotified map[int]bool
	unsupported  map[int]bool
	retry        *retryState

	pending []protocol.Message

	captures  []captureRequest
	capturing bool

	events chan func()
	done   chan struct{}
}

// New creates a producer reading from h and writing to conn. store may be nil,
// in which case default settings are used and settings edits are refused.
func New(h host.Host, conn bridge.Conn, store *settings.Store, cfg config.ProducerConfig, opts ...Option) *Producer {
	p := &Producer{
		host:         h,
		conn:         conn,
		store:        store,
		cfg:          cfg,
		log:          logger.Named("producer"),
		clock:        throttle.RealClock{},
		queue:        queue.New(),
		enc:          encoder.New(),
		ctx:          context.Background(),
		busyNotified: make(map[int]bool),
		unsupported:  make(map[int]bool),
		events:       make(chan func(), 256),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sched == nil {
		p.sched = loopScheduler{p}
	}
	if p.cfg.BatchSize <= 0 {
		p.cfg.BatchSize = encoder.DefaultBatchSize
	}
	if p.cfg.MaxBatchAttempts <= 0 {
		p.cfg.MaxBatchAttempts = 1
	}
	p.throttle = throttle.New(p.cfg.ThrottleWindow, p.clock, p.sched.Post, func(id int) {
		p.capture(id, false)
	})
	p.lastScale = p.settings().Display.TextureResolutionScale
	return p
}

// loopScheduler runs captures on their own goroutines and posts results to
// the producer's event channel.
type loopScheduler struct{ p *Producer }

func (s loopScheduler) Go(fn func()) { go fn() }

func (s loopScheduler) Post(fn func()) {
	select {
	case s.p.events <- fn:
	case <-s.p.done:
	}
}

func (p *Producer) settings() settings.UserSettings {
	if p.store == nil {
		return settings.Default()
	}
	return p.store.Get()
}

// Ready reports whether the viewer has signalled readiness.
func (p *Producer) Ready() bool { return p.ready }

// QueueLen returns the number of queued jobs.
func (p *Producer) QueueLen() int { return p.queue.Len() }

// SetSuspended pauses or resumes reacting to document changes. Jobs already
// queued keep draining.
func (p *Producer) SetSuspended(suspended bool) {
	p.suspended = suspended
	if suspended {
		p.throttle.CancelAll()
	}
}

// Run drives the producer until ctx is done or the viewer disconnects.
func (p *Producer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	p.ctx = ctx

	unsubscribe := p.host.Subscribe(func(ev host.Event) {
		p.sched.Post(func() { p.handleHostEvent(ev) })
	})
	defer unsubscribe()

	g.Go(func() error { return p.loop(ctx) })
	g.Go(func() error {
		for {
			m, err := p.conn.Receive(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, bridge.ErrClosed) {
					p.log.Info("viewer gone, stopping", zap.Error(err))
					return errViewerGone
				}
				return fmt.Errorf("receiving from viewer: %w", err)
			}
			p.sched.Post(func() { p.HandleMessage(ctx, m) })
		}
	})
	if p.store != nil {
		g.Go(func() error {
			return p.store.Watch(ctx, func(us settings.UserSettings) {
				p.sched.Post(func() { p.settingsChanged(ctx, us, true) })
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errViewerGone) {
		return err
	}
	return nil
}

// errViewerGone stops the errgroup when the bridge closes.
var errViewerGone = errors.New("viewer gone")

func (p *Producer) loop(ctx context.Context) error {
	defer close(p.done)
	defer p.throttle.CancelAll()

	interval := p.cfg.TickInterval
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-p.events:
			fn()
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

func (p *Producer) handleHostEvent(ev host.Event) {
	switch ev.Kind {
	case host.EventOpened:
		p.OnDocumentChanged(ev.DocumentID, true)
	case host.EventChanged:
		p.OnDocumentChanged(ev.DocumentID, false)
	case host.EventSelected:
		// The next tick announces the new active document.
	case host.EventClosed:
		p.closeDocument(p.ctx, ev.DocumentID)
	}
}

// OnDocumentChanged reacts to a document edit. Forced updates capture right
// away; others go through the per-document throttle.
func (p *Producer) OnDocumentChanged(documentID int, force bool) {
	if p.suspended {
		return
	}
	if force {
		p.capture(documentID, true)
		return
	}
	p.throttle.Trigger(documentID)
}

// HandleMessage applies a message from the viewer.
func (p *Producer) HandleMessage(ctx context.Context, m protocol.Message) {
	switch m.Kind {
	case protocol.KindReady:
		p.log.Info("viewer ready")
		p.ready = true
		p.hasActive = false
		p.send(ctx, protocol.PushSettings(p.settings()))
		p.announceActive(ctx)
		p.refreshAll(ctx)
	case protocol.KindRequestUpdate:
		p.refreshAll(ctx)
	case protocol.KindUpdateSettings:
		p.updateSettings(ctx, m)
	default:
		p.log.Debug("ignoring message", zap.String("kind", string(m.Kind)))
	}
}

func (p *Producer) updateSettings(ctx context.Context, m protocol.Message) {
	if m.Settings == nil {
		p.log.Warn("settings update without settings")
		return
	}
	if p.store == nil {
		p.log.Warn("settings update ignored, no settings store")
		return
	}
	if err := p.store.Update(*m.Settings); err != nil {
		p.log.Warn("rejecting settings update", zap.Error(err))
		// Put the viewer back in sync with what is actually in effect.
		p.send(ctx, protocol.PushSettings(p.settings()))
		return
	}
	p.settingsChanged(ctx, p.store.Get(), false)
}

// settingsChanged applies new settings. push forwards them to the viewer,
// which is only needed when they did not come from it. A new capture scale
// recaptures every document.
func (p *Producer) settingsChanged(ctx context.Context, us settings.UserSettings, push bool) {
	if push && p.ready {
		p.send(ctx, protocol.PushSettings(us))
	}
	scale := us.Display.TextureResolutionScale
	if scale == p.lastScale {
		return
	}
	p.log.Info("texture resolution scale changed",
		zap.Float64("from", p.lastScale), zap.Float64("to", scale))
	p.lastScale = scale
	p.refreshAll(ctx)
}

// refreshAll forces a capture of every open document.
func (p *Producer) refreshAll(ctx context.Context) {
	docs, err := p.host.Documents(ctx)
	if err != nil {
		p.log.Error("listing documents", zap.Error(err))
		return
	}
	for _, d := range docs {
		p.OnDocumentChanged(d.ID, true)
	}
}

// send delivers a control message. When the viewer cannot take it, or older
// control messages are still waiting, it is held and flushed on a later tick
// ahead of any pixel batch.
func (p *Producer) send(ctx context.Context, m protocol.Message) {
	if len(p.pending) == 0 {
		err := p.conn.Send(ctx, m)
		if err == nil {
			return
		}
		p.log.Warn("sending to viewer failed, holding message", zap.String("kind", string(m.Kind)),
			zap.Int("documentID", m.DocumentID), zap.Error(err))
	}
	p.hold(m)
}

// hold appends m to the pending control messages. Only the newest settings
// push and active-document announcement are kept, and a document is closed once.
func (p *Producer) hold(m protocol.Message) {
	kept := p.pending[:0]
	for _, q := range p.pending {
		if q.Kind == m.Kind && (m.Kind != protocol.KindDocumentClosed || q.DocumentID == m.DocumentID) {
			continue
		}
		kept = append(kept, q)
	}
	p.pending = append(kept, m)
}

// flushPending resends held control messages in order and reports whether
// all of them went out.
func (p *Producer) flushPending(ctx context.Context) bool {
	for len(p.pending) > 0 {
		m := p.pending[0]
		if err := p.conn.Send(ctx, m); err != nil {
			p.log.Debug("viewer still not taking messages", zap.String("kind", string(m.Kind)), zap.Error(err))
			return false
		}
		p.pending = p.pending[1:]
	}
	p.pending = nil
	return true
}

// closeDocument releases everything held for a document and tells the viewer.
func (p *Producer) closeDocument(ctx context.Context, documentID int) {
	p.enc.Forget(documentID)
	p.throttle.Cancel(documentID)
	p.dropCaptures(documentID)
	if job := p.queue.Remove(documentID); job != nil {
		job.Release()
		metrics.Jobs.WithLabelValues(metrics.OutcomeClosed).Inc()
	}
	if p.retry != nil && p.retry.documentID == documentID {
		p.retry = nil
	}
	delete(p.busyNotified, documentID)
	delete(p.unsupported, documentID)
	if p.hasActive && p.announced == documentID {
		p.hasActive = false
	}
	metrics.QueueDepth.Set(float64(p.queue.Len()))
	p.log.Debug("document closed", zap.Int("documentID", documentID))
	if p.ready {
		p.send(ctx, protocol.DocumentClosed(documentID))
	}
}
