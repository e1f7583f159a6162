package bridge

import (
	"context"
	"sync"

	"github.com/Faultbox/texlink/internal/protocol"
)

type pipeShared struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	in     chan protocol.Message
	out    chan protocol.Message
	shared *pipeShared
}

// Pipe returns two connected in-process ends, each buffering up to buffer
// messages towards its peer.
func Pipe(buffer int) (Conn, Conn) {
	if buffer < 1 {
		buffer = 1
	}
	ab := make(chan protocol.Message, buffer)
	ba := make(chan protocol.Message, buffer)
	shared := &pipeShared{done: make(chan struct{})}
	return &pipeEnd{in: ba, out: ab, shared: shared}, &pipeEnd{in: ab, out: ba, shared: shared}
}

func (p *pipeEnd) Send(ctx context.Context, m protocol.Message) error {
	select {
	case <-p.shared.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- m:
		return nil
	default:
		return ErrBackpressure
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (protocol.Message, error) {
	// Messages already buffered are delivered even after Close.
	select {
	case m := <-p.in:
		return m, nil
	default:
	}
	select {
	case m := <-p.in:
		return m, nil
	case <-p.shared.done:
		return protocol.Message{}, ErrClosed
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.shared.once.Do(func() { close(p.shared.done) })
	return nil
}
