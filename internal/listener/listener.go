// Package listener implements the Connection Listener (spec.md §4.2):
// it binds a TCP listener and turns accepted connections into events
// the Swarm hands to the Session Manager. Grounded on the teacher's
// acceptLoop (internal/p2p/server.go): a goroutine looping on
// listener.Accept(), publishing a bound address through a mutex-
// guarded cell once, and treating accept errors as non-fatal.
package listener

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/empower1/netcore/internal/netlog"
)

// Event is one outcome of the accept loop.
type Event struct {
	// Conn is set on a successful accept.
	Conn net.Conn
	// Err is set on a non-fatal accept error (TcpListenerError).
	Err error
	// Closed (with Conn and Err both nil) signals the terminal
	// TcpListenerClosed condition.
	Closed bool
}

// Listener owns the bound net.Listener and publishes accepted
// connections on a channel.
type Listener struct {
	mu       sync.Mutex
	addr     net.Addr
	ln       net.Listener
	events   chan Event
	log      *zap.Logger
}

// Bind listens on addr (port 0 means ephemeral) and starts the accept
// loop. Each call returns a new, independent Listener; there is no
// in-place rebind, and a Listener's address never changes after Bind.
func Bind(ctx context.Context, addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		ln:     ln,
		addr:   ln.Addr(),
		events: make(chan Event, 64),
		log:    netlog.Component("listener"),
	}
	go l.acceptLoop(ctx)
	return l, nil
}

// Addr returns the bound address, safe to call concurrently with the
// accept loop (it is set once at Bind and never mutated after).
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Events returns the channel of accept outcomes.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// Close stops the accept loop. A terminal TcpListenerClosed event is
// still delivered so the Swarm can react, matching spec.md §4.2's
// "does not kill the Manager" requirement.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) acceptLoop(ctx context.Context) {
	defer close(l.events)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.events <- Event{Closed: true}
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				l.events <- Event{Closed: true}
				return
			}
			l.log.Warn("accept error", zap.Error(err))
			select {
			case l.events <- Event{Err: err}:
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case l.events <- Event{Conn: conn}:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}
