// Package statussocket pushes session status changes to the requester's
// front end over a websocket.
package statussocket

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/anoncred-broker/internal/session"
)

const (
	msgConnected    = "CONNECTED"
	msgDone         = "DONE"
	msgCancelled    = "CANCELLED"
	msgTimeout      = "TIMEOUT"
	msgNotSupported = "NOT SUPPORTED"

	sendBuffer   = 8
	writeTimeout = 5 * time.Second
)

// Socket is a session.Observer backed by a websocket connection.
// Sends never block: messages are queued and written by a dedicated goroutine.
type Socket struct {
	conn  *websocket.Conn
	token string

	out       chan string
	done      chan struct{}
	stopped   chan struct{}
	connected atomic.Bool
	closeOnce sync.Once
}

var _ = session.Observer(&Socket{})

func newSocket(ctx context.Context, conn *websocket.Conn, token string) *Socket {
	s := &Socket{
		conn:    conn,
		token:   token,
		out:     make(chan string, sendBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.connected.Store(true)

	go s.writeLoop(ctx)

	return s
}

func (s *Socket) SendConnected() { s.send(msgConnected) }
func (s *Socket) SendDone()      { s.send(msgDone) }
func (s *Socket) SendCancelled() { s.send(msgCancelled) }
func (s *Socket) SendTimeout()   { s.send(msgTimeout) }

func (s *Socket) IsConnected() bool {
	return s.connected.Load()
}

// Close flushes queued messages and closes the connection. It is safe to call more than once.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Wait blocks until the connection has been closed.
func (s *Socket) Wait() {
	<-s.stopped
}

func (s *Socket) send(msg string) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.out <- msg:
	default:
		slog.Warn("Dropping status message, socket buffer full", slog.String("message", msg))
	}
}

func (s *Socket) writeLoop(ctx context.Context) {
	defer close(s.stopped)
	defer s.connected.Store(false)

	for {
		select {
		case msg := <-s.out:
			if err := s.write(ctx, msg); err != nil {
				slogctx.Debug(ctx, "Failed to write status message", slog.String("error", err.Error()))
				_ = s.conn.CloseNow()
				return
			}
		case <-s.done:
			s.flush(ctx)
			if err := s.conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil &&
				websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				slogctx.Debug(ctx, "Failed to close status socket", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// flush writes what is still queued, e.g. a TIMEOUT sent right before the session closed.
func (s *Socket) flush(ctx context.Context) {
	for {
		select {
		case msg := <-s.out:
			if err := s.write(ctx, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Socket) write(ctx context.Context, msg string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	return s.conn.Write(ctx, websocket.MessageText, []byte(msg))
}
