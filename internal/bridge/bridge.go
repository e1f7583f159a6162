// Package bridge carries protocol messages between the producer and the viewer.
package bridge

import (
	"context"
	"errors"

	"github.com/Faultbox/texlink/internal/protocol"
)

var (
	// ErrBackpressure is returned by Send when the outbound buffer is full.
	ErrBackpressure = errors.New("bridge outbox is full")

	// ErrClosed is returned once either side has closed the connection.
	ErrClosed = errors.New("bridge closed")
)

// Conn is one end of a bridge.
type Conn interface {
	// Send queues m for delivery without blocking on the peer.
	Send(ctx context.Context, m protocol.Message) error
	// Receive blocks until a message arrives, ctx is done or the bridge closes.
	Receive(ctx context.Context) (protocol.Message, error)
	// Close tears the bridge down for both ends.
	Close() error
}
