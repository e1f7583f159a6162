package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/texlink/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Pixel batches of 512x512 RGBA run to about 2 MiB of UTF-8.
	maxMessageSize = 8 << 20
)

// wsConn adapts a websocket to Conn. Writes go through a single writer
// goroutine fed by a bounded outbox; reads go through a single reader.
type wsConn struct {
	conn   *websocket.Conn
	outbox chan []byte
	inbox  chan protocol.Message
	done   chan struct{}
	once   sync.Once
	err    error
	errMu  sync.Mutex
	log    *zap.Logger
}

func newWSConn(conn *websocket.Conn, outbox int, log *zap.Logger) *wsConn {
	if outbox < 1 {
		outbox = 1
	}
	c := &wsConn{
		conn:   conn,
		outbox: make(chan []byte, outbox),
		inbox:  make(chan protocol.Message, outbox),
		done:   make(chan struct{}),
		log:    log,
	}
	conn.SetReadLimit(maxMessageSize)

	// Either pump ending takes the whole connection down.
	pump := func(fn func() error) func() error {
		return func() error {
			err := fn()
			c.fail(err)
			return err
		}
	}
	var g errgroup.Group
	g.Go(pump(c.readPump))
	g.Go(pump(c.writePump))
	go func() {
		if err := g.Wait(); err != nil && !errors.Is(err, ErrClosed) {
			log.Debug("bridge connection ended", zap.Error(err))
		}
	}()
	return c
}

func (c *wsConn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil && err != nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsConn) closedErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err != nil && !errors.Is(c.err, ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, c.err)
	}
	return ErrClosed
}

func (c *wsConn) Send(ctx context.Context, m protocol.Message) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}
	data, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	select {
	case c.outbox <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case m := <-c.inbox:
		return m, nil
	default:
	}
	select {
	case m := <-c.inbox:
		return m, nil
	case <-c.done:
		return protocol.Message{}, c.closedErr()
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (c *wsConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.conn.Close()
	})
	return nil
}

func (c *wsConn) readPump() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrClosed
			}
			select {
			case <-c.done:
				return nil
			default:
			}
			return fmt.Errorf("reading message: %w", err)
		}
		m, err := protocol.Unmarshal(data)
		if err != nil {
			c.log.Warn("dropping malformed message", zap.Error(err))
			continue
		}
		select {
		case c.inbox <- m:
		case <-c.done:
			return nil
		}
	}
}

func (c *wsConn) writePump() error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return nil
		case data := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("writing message: %w", err)
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("writing ping: %w", err)
			}
		}
	}
}

// Handler upgrades HTTP requests to bridge connections and hands each one to
// serve. Only one viewer is served at a time; further upgrades are refused
// until the current one disconnects.
type Handler struct {
	upgrader websocket.Upgrader
	outbox   int
	serve    func(ctx context.Context, c Conn)
	log      *zap.Logger

	mu     sync.Mutex
	active bool
	ctx    context.Context
}

// NewHandler creates a Handler. serve runs on the request goroutine and the
// connection is closed when it returns.
func NewHandler(ctx context.Context, outbox int, log *zap.Logger, serve func(ctx context.Context, c Conn)) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 << 10,
			// Viewers are local webviews and tools without a fixed origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		outbox: outbox,
		serve:  serve,
		log:    log,
		ctx:    ctx,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.active {
		h.mu.Unlock()
		http.Error(w, "a viewer is already connected", http.StatusConflict)
		return
	}
	h.active = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.active = false
		h.mu.Unlock()
	}()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.log.Info("viewer connected", zap.String("remote", r.RemoteAddr))
	c := newWSConn(ws, h.outbox, h.log)
	defer c.Close()

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	h.serve(ctx, c)
	h.log.Info("viewer disconnected", zap.String("remote", r.RemoteAddr))
}

// Dial connects to a bridge Handler.
func Dial(ctx context.Context, url string, outbox int, log *zap.Logger) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return newWSConn(ws, outbox, log), nil
}
