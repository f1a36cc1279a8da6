package registry

import (
	"context"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v3"
)

// Interface guard
var _ Connector = (*connect)(nil)

// Connector is the gateway's view of one live client connection. Transport
// adapters speak to the core only through this interface, which keeps the
// dispatcher agnostic of the wire library.
type Connector interface {
	ID() string
	// UserID is the identity presented at handshake time; it may be empty
	// until the connection registry associates one later.
	UserID() string
	// Send enqueues a frame for the connection's single writer. It never
	// blocks longer than timeout and reports whether the frame was accepted.
	Send(payload []byte, timeout time.Duration) bool
	// Recv is drained by exactly one transport write pump, which preserves
	// per-connection send order.
	Recv() <-chan []byte
	Done() <-chan struct{}
	Close()
}

type connect struct {
	id        string
	userID    string
	createdAt time.Time

	ctx      context.Context
	cancelFn context.CancelFunc

	sendCh    chan []byte
	closeOnce sync.Once
}

// NewConnector creates a connection handle with a buffered outbound mailbox.
// The mailbox decouples routing from delivery: a slow consumer fills its own
// buffer and starts dropping, without ever stalling the router.
func NewConnector(ctx context.Context, userID string, bufferSize int) Connector {
	childCtx, cancel := context.WithCancel(ctx)
	return &connect{
		id:        shortuuid.New(),
		userID:    userID,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		sendCh:    make(chan []byte, bufferSize),
	}
}

func (c *connect) ID() string     { return c.id }
func (c *connect) UserID() string { return c.userID }

func (c *connect) Send(payload []byte, timeout time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- payload:
		return true
	default:
	}

	// Buffer full: wait up to timeout for space, which smooths transient
	// jitter, then drop. A saturated consumer sheds its own load.
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- payload:
		return true
	case <-t.C:
		return false
	}
}

func (c *connect) Recv() <-chan []byte   { return c.sendCh }
func (c *connect) Done() <-chan struct{} { return c.ctx.Done() }

// Close terminates the connection handle. Safe to call from the registry
// (unregister), the dispatcher (shutdown) and the transport defer
// concurrently; a Send racing Close aborts via the context instead of
// panicking on the closed channel.
func (c *connect) Close() {
	c.closeOnce.Do(func() {
		c.cancelFn()
	})
}
