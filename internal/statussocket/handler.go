package statussocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/anoncred-broker/internal/serviceerr"
	"github.com/openkcm/anoncred-broker/internal/session"
)

// Lookuper finds a live session of any flow by token.
type Lookuper interface {
	Lookup(token string) (session.Handle, error)
}

// ErrorWriter renders a lookup failure before the connection is upgraded.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Handler upgrades GET /status/{token} requests and attaches the connection to the session as its observer.
type Handler struct {
	sessions       Lookuper
	originPatterns []string
	writeError     ErrorWriter
}

type Option func(*Handler)

// WithOriginPatterns sets the host patterns allowed to open cross origin connections.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) {
		h.originPatterns = patterns
	}
}

func WithErrorWriter(ew ErrorWriter) Option {
	return func(h *Handler) {
		h.writeError = ew
	}
}

func NewHandler(sessions Lookuper, opts ...Option) *Handler {
	h := &Handler{
		sessions:   sessions,
		writeError: defaultErrorWriter,
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	ctx := slogctx.With(r.Context(), slog.String("flow", "status"))

	sess, err := h.sessions.Lookup(token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx = slogctx.With(ctx, slog.String("sessionFlow", string(sess.Flow())))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slogctx.Warn(ctx, "Failed to accept status socket", slog.String("error", err.Error()))
		return
	}

	sock := newSocket(context.WithoutCancel(ctx), conn, token)
	if !sess.AttachObserver(sock) {
		sock.Close()
		sock.Wait()
		return
	}
	slogctx.Debug(ctx, "Status socket attached")

	h.readLoop(ctx, conn, sock)
}

// readLoop answers every peer message and returns when the connection is gone.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sock *Socket) {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				slogctx.Debug(ctx, "Status socket read ended", slog.String("error", err.Error()))
			}
			sock.connected.Store(false)
			sock.Close()
			sock.Wait()
			return
		}

		slogctx.Debug(ctx, "Received message from status socket peer", slog.Int("length", len(msg)))
		sock.send(msgNotSupported)
	}
}

func defaultErrorWriter(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusInternalServerError
	var se *serviceerr.Error
	if errors.As(err, &se) {
		status = se.HTTPStatus()
	}

	http.Error(w, err.Error(), status)
}
