package producer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Faultbox/texlink/internal/bridge"
	"github.com/Faultbox/texlink/internal/config"
	"github.com/Faultbox/texlink/internal/host"
	"github.com/Faultbox/texlink/internal/host/imagehost"
	"github.com/Faultbox/texlink/internal/protocol"
	"github.com/Faultbox/texlink/internal/settings"
	"github.com/Faultbox/texlink/internal/throttle"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// inline runs captures and posted callbacks immediately.
type inline struct{}

func (inline) Go(fn func())   { fn() }
func (inline) Post(fn func()) { fn() }

// countingHost counts pixel captures.
type countingHost struct {
	*imagehost.Host
	mu       sync.Mutex
	captures map[int]int
}

func (h *countingHost) GetPixels(ctx context.Context, req host.PixelRequest) (host.Pixels, error) {
	h.mu.Lock()
	h.captures[req.DocumentID]++
	h.mu.Unlock()
	return h.Host.GetPixels(ctx, req)
}

func (h *countingHost) count(id int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.captures[id]
}

// flakyConn fails the first failures sends of kind (pixel batches when
// unset), or all of them when negative.
type flakyConn struct {
	bridge.Conn
	failures int
	kind     protocol.Kind
}

func (c *flakyConn) Send(ctx context.Context, m protocol.Message) error {
	kind := c.kind
	if kind == "" {
		kind = protocol.KindPartialUpdate
	}
	if m.Kind == kind && c.failures != 0 {
		if c.failures > 0 {
			c.failures--
		}
		return bridge.ErrBackpressure
	}
	return c.Conn.Send(ctx, m)
}

type fixture struct {
	p       *Producer
	host    *countingHost
	viewer  bridge.Conn
	clock   *throttle.ManualClock
	store   *settings.Store
	notices []string
}

func testConfig() config.ProducerConfig {
	cfg := config.Default().Producer
	cfg.ThrottleWindow = time.Second
	return cfg
}

type fixtureOpt func(*fixtureSetup)

type fixtureSetup struct {
	cfg   config.ProducerConfig
	wrap  func(bridge.Conn) bridge.Conn
	log   *zap.Logger
	sched Scheduler
}

func withConfig(fn func(*config.ProducerConfig)) fixtureOpt {
	return func(s *fixtureSetup) { fn(&s.cfg) }
}

func withConn(wrap func(bridge.Conn) bridge.Conn) fixtureOpt {
	return func(s *fixtureSetup) { s.wrap = wrap }
}

func withLog(log *zap.Logger) fixtureOpt {
	return func(s *fixtureSetup) { s.log = log }
}

func withScheduler(sched Scheduler) fixtureOpt {
	return func(s *fixtureSetup) { s.sched = sched }
}

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()
	setup := fixtureSetup{cfg: testConfig(), log: zaptest.NewLogger(t), sched: inline{}}
	for _, opt := range opts {
		opt(&setup)
	}

	f := &fixture{clock: throttle.NewManualClock(epoch)}
	f.host = &countingHost{
		Host: imagehost.New(
			imagehost.WithLogger(setup.log),
			imagehost.WithNotifier(func(m string) { f.notices = append(f.notices, m) }),
		),
		captures: make(map[int]int),
	}

	f.store = settings.NewStore(filepath.Join(t.TempDir(), "usersettings.json"), setup.log)
	full := settings.Default()
	full.Display.TextureResolutionScale = 1
	require.NoError(t, f.store.Update(full))

	producerEnd, viewerEnd := bridge.Pipe(64)
	f.viewer = viewerEnd
	var conn bridge.Conn = producerEnd
	if setup.wrap != nil {
		conn = setup.wrap(producerEnd)
	}
	f.p = New(f.host, conn, f.store, setup.cfg,
		WithLogger(setup.log), WithClock(f.clock), WithScheduler(setup.sched))
	return f
}

func rgb(w, h int, v uint8) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v/2, v/3, 255
	}
	return img
}

// drain returns every message the producer has sent so far.
func (f *fixture) drain(t *testing.T) []protocol.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out []protocol.Message
	for {
		m, err := f.viewer.Receive(ctx)
		if err != nil {
			return out
		}
		out = append(out, m)
	}
}

func kinds(ms []protocol.Message) []protocol.Kind {
	out := make([]protocol.Kind, len(ms))
	for i, m := range ms {
		out[i] = m.Kind
	}
	return out
}

func (f *fixture) ready(t *testing.T) []protocol.Message {
	f.p.HandleMessage(context.Background(), protocol.Ready())
	return f.drain(t)
}

func (f *fixture) tickUntilIdle(t *testing.T) []protocol.Message {
	t.Helper()
	for i := 0; i < 1000 && f.p.QueueLen() > 0; i++ {
		f.p.Tick(context.Background())
	}
	require.Zero(t, f.p.QueueLen(), "queue did not drain")
	return f.drain(t)
}

func TestEndToEndSingleBatch(t *testing.T) {
	f := newFixture(t)
	doc := f.host.Open("a", rgb(64, 64, 90))

	got := f.ready(t)
	require.Equal(t, []protocol.Kind{protocol.KindPushSettings, protocol.KindDocumentChanged}, kinds(got))
	assert.Equal(t, doc, got[1].DocumentID)
	assert.Equal(t, 1, f.p.QueueLen())

	f.p.Tick(context.Background())
	msgs := f.drain(t)
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, protocol.KindPartialUpdate, m.Kind)
	assert.Equal(t, doc, m.DocumentID)
	assert.Equal(t, 64, m.Width)
	assert.Equal(t, 64, m.Height)
	assert.Equal(t, 8, m.ComponentSize)
	assert.Equal(t, 0, m.PixelBatchOffset)
	assert.Equal(t, 4096, m.PixelBatchSize)
	assert.Zero(t, f.p.QueueLen())

	buf := make([]byte, 64*64*4)
	n, err := protocol.DecodePixelString(m.PixelString, buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, []byte{90, 45, 30, 255}, buf[:4])
	assert.Equal(t, []byte{90, 45, 30, 255}, buf[len(buf)-4:])
}

func TestCaptureUsesResolutionScale(t *testing.T) {
	f := newFixture(t)
	half := settings.Default()
	half.Display.TextureResolutionScale = 0.5
	require.NoError(t, f.store.Update(half))
	f.host.Open("a", rgb(64, 30, 90))

	f.ready(t)
	f.p.Tick(context.Background())
	msgs := f.drain(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, 32, msgs[0].Width)
	assert.Equal(t, 15, msgs[0].Height)
	assert.Equal(t, 32*15, msgs[0].PixelBatchSize)
}

func TestFitTexture(t *testing.T) {
	const most = protocol.MaxTextureSize
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"within bounds", 4000, 3000, 4000, 3000},
		{"at the limit", most, most, most, most},
		{"too wide", 2 * most, most, most, most / 2},
		{"too tall", 100, 4 * most, 25, most},
		{"sliver", 40 * most, 2, most, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := fitTexture(tt.w, tt.h)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestThrottleCoalescesBurst(t *testing.T) {
	f := newFixture(t)
	a := f.host.Open("a", rgb(8, 8, 1))
	b := f.host.Open("b", rgb(8, 8, 2))

	f.p.OnDocumentChanged(a, false)
	assert.Equal(t, 1, f.host.count(a), "first change is captured immediately")

	f.clock.Advance(100 * time.Millisecond)
	f.p.OnDocumentChanged(a, false)
	f.clock.Advance(100 * time.Millisecond)
	f.p.OnDocumentChanged(a, false)
	assert.Equal(t, 1, f.host.count(a))

	// Another document is throttled on its own.
	f.p.OnDocumentChanged(b, false)
	assert.Equal(t, 1, f.host.count(b))

	f.clock.Advance(800 * time.Millisecond)
	assert.Equal(t, 2, f.host.count(a), "one trailing capture")

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, 2, f.host.count(a))
	assert.Equal(t, 1, f.host.count(b))
	// Coalesced into one job per document.
	assert.Equal(t, 2, f.p.QueueLen())
}

func TestForcedChangeBypassesThrottle(t *testing.T) {
	f := newFixture(t)
	a := f.host.Open("a", rgb(8, 8, 1))
	f.p.OnDocumentChanged(a, false)
	f.p.OnDocumentChanged(a, true)
	f.p.OnDocumentChanged(a, true)
	assert.Equal(t, 3, f.host.count(a))
	assert.Equal(t, 1, f.p.QueueLen())
}

func TestSuspendedIgnoresChanges(t *testing.T) {
	f := newFixture(t)
	a := f.host.Open("a", rgb(8, 8, 1))
	f.p.SetSuspended(true)
	f.p.OnDocumentChanged(a, false)
	f.p.OnDocumentChanged(a, true)
	assert.Zero(t, f.host.count(a))

	f.p.SetSuspended(false)
	f.p.OnDocumentChanged(a, false)
	assert.Equal(t, 1, f.host.count(a))
}

func TestNothingSentBeforeReady(t *testing.T) {
	f := newFixture(t)
	a := f.host.Open("a", rgb(8, 8, 1))
	f.p.OnDocumentChanged(a, true)
	f.p.Tick(context.Background())
	f.p.Tick(context.Background())
	assert.Empty(t, f.drain(t))
	assert.Equal(t, 1, f.p.QueueLen())
	assert.False(t, f.p.Ready())
}

func TestOneBatchPerTick(t *testing.T) {
	f := newFixture(t, withConfig(func(c *config.ProducerConfig) { c.BatchSize = 1000 }))
	f.host.Open("a", rgb(64, 64, 7))
	f.ready(t)

	var offsets, sizes []int
	for i := 0; i < 5; i++ {
		f.p.Tick(context.Background())
		msgs := f.drain(t)
		require.Len(t, msgs, 1, "tick %d", i)
		offsets = append(offsets, msgs[0].PixelBatchOffset)
		sizes = append(sizes, msgs[0].PixelBatchSize)
	}
	assert.Equal(t, []int{0, 1000, 2000, 3000, 4000}, offsets)
	assert.Equal(t, []int{1000, 1000, 1000, 1000, 96}, sizes)
	assert.Zero(t, f.p.QueueLen())
}

func TestUnchangedJobSendsNothing(t *testing.T) {
	f := newFixture(t)
	a := f.host.Open("a", rgb(16, 16, 7))
	f.ready(t)
	require.Len(t, f.tickUntilIdle(t), 1)

	f.p.OnDocumentChanged(a, false)
	require.Equal(t, 1, f.p.QueueLen())
	assert.Empty(t, f.tickUntilIdle(t))
}

func TestOnlyChangedBatchesAreSent(t *testing.T) {
	f := newFixture(t, withConfig(func(c *config.ProducerConfig) { c.BatchSize = 64 }))
	a := f.host.Open("a", rgb(16, 16, 7))
	f.ready(t)
	require.Len(t, f.tickUntilIdle(t), 4)

	img := rgb(16, 16, 7).(*image.NRGBA)
	img.SetNRGBA(3, 10, color.NRGBA{255, 255, 255, 255}) // pixel 163, third batch
	require.NoError(t, f.host.Update(a, img))
	f.p.OnDocumentChanged(a, true)
	f.p.OnDocumentChanged(a, false)
	f.clock.Advance(time.Hour)

	// The forced capture resends everything.
	require.Len(t, f.tickUntilIdle(t), 4)

	f.p.OnDocumentChanged(a, false)
	img.SetNRGBA(3, 10, color.NRGBA{0, 0, 0, 255})
	require.NoError(t, f.host.Update(a, img))
	f.clock.Advance(time.Hour)
	f.p.OnDocumentChanged(a, false)
	msgs := f.tickUntilIdle(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, 128, msgs[0].PixelBatchOffset)
	assert.Equal(t, 64, msgs[0].PixelBatchSize)
}

func TestRequestUpdateForcesResend(t *testing.T) {
	f := newFixture(t)
	f.host.Open("a", rgb(16, 16, 7))
	f.host.Open("b", rgb(4, 4, 7))
	f.ready(t)
	require.Len(t, f.tickUntilIdle(t), 2)

	f.p.HandleMessage(context.Background(), protocol.RequestUpdate())
	assert.Equal(t, 2, f.p.QueueLen())
	assert.Len(t, f.tickUntilIdle(t), 2)
}

func TestActiveDocumentAnnounced(t *testing.T) {
	f := newFixture(t)
	a := f.host.Open("a", rgb(4, 4, 1))
	f.ready(t)
	f.tickUntilIdle(t)

	b := f.host.Open("b", rgb(4, 4, 1))
	f.p.Tick(context.Background())
	msgs := f.drain(t)
	require.NotEmpty(t, msgs)
	assert.Equal(t, protocol.DocumentChanged(b), msgs[0])

	require.NoError(t, f.host.Select(a))
	f.p.Tick(context.Background())
	f.p.Tick(context.Background())
	msgs = f.drain(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.DocumentChanged(a), msgs[0])
}

func TestBusyNotifiesOncePerStreak(t *testing.T) {
	f := newFixture(t)
	a := f.host.Open("a", rgb(4, 4, 1))

	hold := func() func() {
		entered := make(chan struct{})
		release := make(chan struct{})
		done := make(chan struct{})
		go func() {
			_ = f.host.ExecuteAsModal(context.Background(), "Other", func(context.Context) error {
				close(entered)
				<-release
				return nil
			})
			close(done)
		}()
		<-entered
		return func() { close(release); <-done }
	}

	release := hold()
	f.p.OnDocumentChanged(a, true)
	f.p.OnDocumentChanged(a, true)
	assert.Len(t, f.notices, 1)
	assert.Zero(t, f.p.QueueLen())
	release()

	f.p.OnDocumentChanged(a, true)
	assert.Equal(t, 1, f.p.QueueLen())

	release = hold()
	f.p.OnDocumentChanged(a, true)
	release()
	assert.Len(t, f.notices, 2, "a new busy streak notifies again")
}

func TestUnsupportedColorModeReportedOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(t, withLog(zap.New(core)))
	a := f.host.Open("a", rgb(4, 4, 1))
	require.NoError(t, f.host.SetColorMode(a, host.ModeCMYK))

	f.p.OnDocumentChanged(a, true)
	f.p.OnDocumentChanged(a, true)
	assert.Zero(t, f.p.QueueLen())
	assert.Zero(t, f.host.count(a))
	assert.Len(t, f.notices, 1)
	assert.Equal(t, 1, logs.FilterMessage("document color mode not supported").Len())
}

func TestTransportFailureRetriesSameBatch(t *testing.T) {
	var flaky *flakyConn
	f := newFixture(t, withConn(func(c bridge.Conn) bridge.Conn {
		flaky = &flakyConn{Conn: c, failures: 2}
		return flaky
	}))
	f.host.Open("a", rgb(8, 8, 3))
	f.ready(t)

	f.p.Tick(context.Background())
	assert.Empty(t, f.drain(t))
	assert.Equal(t, 1, f.p.QueueLen())

	// Not before the backoff elapses.
	f.p.Tick(context.Background())
	assert.Equal(t, 1, flaky.failures)

	f.clock.Advance(time.Second)
	f.p.Tick(context.Background())
	assert.Empty(t, f.drain(t))
	assert.Zero(t, flaky.failures)

	f.clock.Advance(time.Second)
	f.p.Tick(context.Background())
	msgs := f.drain(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, 0, msgs[0].PixelBatchOffset)
	assert.Equal(t, 64, msgs[0].PixelBatchSize)
	assert.Zero(t, f.p.QueueLen())
}

func TestTransportFailureDropsJobAfterMaxAttempts(t *testing.T) {
	f := newFixture(t,
		withConfig(func(c *config.ProducerConfig) { c.MaxBatchAttempts = 3 }),
		withConn(func(c bridge.Conn) bridge.Conn { return &flakyConn{Conn: c, failures: -1} }),
	)
	a := f.host.Open("a", rgb(8, 8, 3))
	f.ready(t)

	for i := 0; i < 3; i++ {
		require.Equal(t, 1, f.p.QueueLen(), "attempt %d", i)
		f.p.Tick(context.Background())
		f.clock.Advance(time.Second)
	}
	assert.Zero(t, f.p.QueueLen())
	assert.False(t, f.p.enc.Cached(a))
	assert.Nil(t, f.p.retry)
}

func TestDocumentClosedMidDrain(t *testing.T) {
	f := newFixture(t, withConfig(func(c *config.ProducerConfig) { c.BatchSize = 10 }))
	a := f.host.Open("a", rgb(8, 8, 3))
	f.ready(t)

	f.p.Tick(context.Background())
	require.Len(t, f.drain(t), 1)

	require.NoError(t, f.host.Close(a))
	f.p.Tick(context.Background())
	msgs := f.drain(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.DocumentClosed(a), msgs[0])
	assert.Zero(t, f.p.QueueLen())
	assert.False(t, f.p.enc.Cached(a))
}

func TestCloseEventReleasesDocument(t *testing.T) {
	f := newFixture(t)
	a := f.host.Open("a", rgb(8, 8, 3))
	f.ready(t)
	f.p.OnDocumentChanged(a, false)
	f.p.OnDocumentChanged(a, false)
	require.Equal(t, throttle.CoolingWithPending, f.p.throttle.State(a))

	f.p.handleHostEvent(host.Event{Kind: host.EventClosed, DocumentID: a})
	assert.Zero(t, f.p.QueueLen())
	assert.Equal(t, throttle.Idle, f.p.throttle.State(a))
	assert.Contains(t, f.drain(t), protocol.DocumentClosed(a))
}

func TestCloseResentAfterBackpressure(t *testing.T) {
	f := newFixture(t, withConn(func(c bridge.Conn) bridge.Conn {
		return &flakyConn{Conn: c, failures: 1, kind: protocol.KindDocumentClosed}
	}))
	a := f.host.Open("a", rgb(8, 8, 3))
	f.host.Open("b", rgb(8, 8, 4))
	f.ready(t)
	f.tickUntilIdle(t)

	f.p.handleHostEvent(host.Event{Kind: host.EventClosed, DocumentID: a})
	assert.Empty(t, f.drain(t))

	f.p.Tick(context.Background())
	assert.Equal(t, []protocol.Message{protocol.DocumentClosed(a)}, f.drain(t))

	f.p.Tick(context.Background())
	assert.Empty(t, f.drain(t), "sent once")
}

func TestHeldMessagesGoBeforeBatches(t *testing.T) {
	f := newFixture(t, withConn(func(c bridge.Conn) bridge.Conn {
		return &flakyConn{Conn: c, failures: 2, kind: protocol.KindPushSettings}
	}))
	f.host.Open("a", rgb(8, 8, 3))

	// The refused update's push replaces the held ready push, behind the
	// held announcement.
	f.p.HandleMessage(context.Background(), protocol.Ready())
	bad := settings.Default()
	bad.Display.TextureResolutionScale = 3
	f.p.HandleMessage(context.Background(), protocol.UpdateSettings(bad))
	assert.Empty(t, f.drain(t))
	require.Equal(t, 1, f.p.QueueLen())

	f.p.Tick(context.Background())
	assert.Equal(t, []protocol.Kind{protocol.KindDocumentChanged}, kinds(f.drain(t)))

	f.p.Tick(context.Background())
	got := f.drain(t)
	require.Equal(t, []protocol.Kind{protocol.KindPushSettings, protocol.KindPartialUpdate}, kinds(got))
	assert.Equal(t, 1.0, got[0].Settings.Display.TextureResolutionScale)
}

// stepScheduler holds captures until the test runs them.
type stepScheduler struct{ runs []func() }

func (s *stepScheduler) Go(fn func())   { s.runs = append(s.runs, fn) }
func (s *stepScheduler) Post(fn func()) { fn() }

func (s *stepScheduler) step(t *testing.T) {
	t.Helper()
	require.NotEmpty(t, s.runs)
	fn := s.runs[0]
	s.runs = s.runs[1:]
	fn()
}

func TestCapturesRunOneAtATime(t *testing.T) {
	sched := &stepScheduler{}
	f := newFixture(t, withScheduler(sched))
	a := f.host.Open("a", rgb(4, 4, 1))
	b := f.host.Open("b", rgb(4, 4, 2))
	c := f.host.Open("c", rgb(4, 4, 3))

	f.p.OnDocumentChanged(a, true)
	f.p.OnDocumentChanged(b, true)
	f.p.OnDocumentChanged(c, true)
	f.p.OnDocumentChanged(b, true)
	require.Len(t, sched.runs, 1, "one capture in flight")

	// a again while its capture is in flight queues a fresh capture behind c.
	f.p.OnDocumentChanged(a, true)

	for i := 0; i < 4; i++ {
		sched.step(t)
		assert.LessOrEqual(t, len(sched.runs), 1)
	}
	assert.Empty(t, sched.runs)
	assert.Equal(t, 2, f.host.count(a))
	assert.Equal(t, 1, f.host.count(b), "waiting captures coalesce")
	assert.Equal(t, 1, f.host.count(c))
	assert.Equal(t, 3, f.p.QueueLen())
	assert.Empty(t, f.notices)
}

func TestClosedDocumentLosesWaitingCapture(t *testing.T) {
	sched := &stepScheduler{}
	f := newFixture(t, withScheduler(sched))
	a := f.host.Open("a", rgb(4, 4, 1))
	b := f.host.Open("b", rgb(4, 4, 2))

	f.p.OnDocumentChanged(a, true)
	f.p.OnDocumentChanged(b, true)
	f.p.handleHostEvent(host.Event{Kind: host.EventClosed, DocumentID: b})

	sched.step(t)
	assert.Empty(t, sched.runs)
	assert.Zero(t, f.host.count(b))
}

func TestUpdateSettingsScaleChangeRecaptures(t *testing.T) {
	f := newFixture(t)
	f.host.Open("a", rgb(64, 64, 3))
	f.ready(t)
	f.tickUntilIdle(t)

	next := f.store.Get()
	next.Display.TextureResolutionScale = 0.25
	f.p.HandleMessage(context.Background(), protocol.UpdateSettings(next))
	assert.Equal(t, 0.25, f.store.Get().Display.TextureResolutionScale)

	msgs := f.tickUntilIdle(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, 16, msgs[0].Width)

	// Other edits are stored without a recapture.
	next.Grid.Visible = false
	f.p.HandleMessage(context.Background(), protocol.UpdateSettings(next))
	assert.False(t, f.store.Get().Grid.Visible)
	assert.Zero(t, f.p.QueueLen())
}

func TestInvalidSettingsAreRejected(t *testing.T) {
	f := newFixture(t)
	f.ready(t)

	bad := settings.Default()
	bad.Display.TextureResolutionScale = 3
	f.p.HandleMessage(context.Background(), protocol.UpdateSettings(bad))

	msgs := f.drain(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.KindPushSettings, msgs[0].Kind)
	assert.Equal(t, 1.0, msgs[0].Settings.Display.TextureResolutionScale)
}

func TestRunStreamsToViewer(t *testing.T) {
	log := zap.NewNop()
	h := imagehost.New(imagehost.WithLogger(log))
	h.Open("a", rgb(16, 16, 5))

	producerEnd, viewer := bridge.Pipe(64)
	cfg := testConfig()
	cfg.TickInterval = time.Millisecond
	p := New(h, producerEnd, nil, cfg, WithLogger(log))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	require.NoError(t, viewer.Send(ctx, protocol.Ready()))

	want := map[protocol.Kind]bool{}
	for !want[protocol.KindPartialUpdate] {
		m, err := viewer.Receive(ctx)
		require.NoError(t, err)
		want[m.Kind] = true
		if m.Kind == protocol.KindPartialUpdate {
			// Default settings capture at half size.
			assert.Equal(t, 8, m.Width)
		}
	}
	assert.True(t, want[protocol.KindPushSettings])
	assert.True(t, want[protocol.KindDocumentChanged])

	require.NoError(t, viewer.Close())
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("producer did not stop")
	}
}

func TestRunStreamsEveryDocumentAfterReady(t *testing.T) {
	log := zap.NewNop()
	var (
		mu      sync.Mutex
		notices []string
	)
	h := imagehost.New(imagehost.WithLogger(log), imagehost.WithNotifier(func(m string) {
		mu.Lock()
		notices = append(notices, m)
		mu.Unlock()
	}))
	want := map[int]bool{}
	for i := 0; i < 4; i++ {
		want[h.Open("doc", rgb(256, 256, uint8(40*i+1)))] = true
	}

	producerEnd, viewer := bridge.Pipe(64)
	cfg := testConfig()
	cfg.TickInterval = time.Millisecond
	p := New(h, producerEnd, nil, cfg, WithLogger(log))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	require.NoError(t, viewer.Send(ctx, protocol.Ready()))
	streamed := map[int]bool{}
	for len(streamed) < len(want) {
		m, err := viewer.Receive(ctx)
		require.NoError(t, err, "streamed %v", streamed)
		if m.Kind == protocol.KindPartialUpdate {
			streamed[m.DocumentID] = true
		}
	}
	assert.Equal(t, want, streamed)

	require.NoError(t, viewer.Close())
	require.NoError(t, <-errc)
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, notices, "the producer's own captures never collide")
}

func TestRunStopsOnContext(t *testing.T) {
	h := imagehost.New(imagehost.WithLogger(zap.NewNop()))
	producerEnd, _ := bridge.Pipe(4)
	p := New(h, producerEnd, nil, testConfig(), WithLogger(zap.NewNop()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()
	cancel()
	select {
	case err := <-errc:
		assert.True(t, err == nil || errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not stop")
	}
}
