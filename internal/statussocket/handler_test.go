package statussocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/anoncred-broker/internal/session"
	"github.com/openkcm/anoncred-broker/internal/statussocket"
)

type testSession = session.Session[string, string]

type fixture struct {
	registry *session.Registry
	store    *session.Store[string, string]
	server   *httptest.Server
}

func newFixture(t *testing.T, timeouts session.Timeouts) *fixture {
	t.Helper()

	scheduler := session.NewScheduler()
	t.Cleanup(scheduler.Stop)

	registry := session.NewRegistry(scheduler, timeouts)
	mux := http.NewServeMux()
	mux.Handle("GET /status/{token}", statussocket.NewHandler(registry))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &fixture{
		registry: registry,
		store:    session.NewStore[string, string](registry, session.FlowVerification),
		server:   srv,
	}
}

func (f *fixture) newSession(t *testing.T, timeout time.Duration) *testSession {
	t.Helper()

	token, err := f.store.NewToken()
	require.NoError(t, err)

	s := session.New[string, string](token, session.FlowVerification, "shop", "", "request", timeout)
	require.NoError(t, f.store.Put(s))

	return s
}

func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/status/" + token
	conn, _, err := websocket.Dial(t.Context(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	typ, msg, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	return string(msg)
}

var longTimeouts = session.Timeouts{TokenGet: time.Minute, TokenResponse: time.Minute, ClientGet: time.Minute}

func TestHandler_StatusTransitions(t *testing.T) {
	f := newFixture(t, longTimeouts)
	s := f.newSession(t, 0)

	conn := f.dial(t, s.Token())
	require.Eventually(t, s.ObserverConnected, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Connect("2.3"))
	assert.Equal(t, "CONNECTED", readText(t, conn))

	require.NoError(t, s.BeginSubmit())
	require.NoError(t, s.Complete("result"))
	assert.Equal(t, "DONE", readText(t, conn))

	s.Close()
	_, _, err := conn.Read(t.Context())
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestHandler_Cancelled(t *testing.T) {
	f := newFixture(t, longTimeouts)
	s := f.newSession(t, 0)

	conn := f.dial(t, s.Token())
	require.Eventually(t, s.ObserverConnected, 5*time.Second, 5*time.Millisecond)

	require.True(t, s.Cancel())
	assert.Equal(t, "CANCELLED", readText(t, conn))
}

func TestHandler_TimeoutThenClose(t *testing.T) {
	f := newFixture(t, longTimeouts)
	s := f.newSession(t, 200*time.Millisecond)

	conn := f.dial(t, s.Token())

	assert.Equal(t, "TIMEOUT", readText(t, conn))

	_, _, err := conn.Read(t.Context())
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	assert.Equal(t, 0, f.registry.Len())
}

func TestHandler_PeerMessagesNotSupported(t *testing.T) {
	f := newFixture(t, longTimeouts)
	s := f.newSession(t, 0)

	conn := f.dial(t, s.Token())
	require.NoError(t, conn.Write(t.Context(), websocket.MessageText, []byte("hello")))

	assert.Equal(t, "NOT SUPPORTED", readText(t, conn))
}

func TestHandler_PeerDisconnects(t *testing.T) {
	f := newFixture(t, longTimeouts)
	s := f.newSession(t, 0)

	conn := f.dial(t, s.Token())
	require.Eventually(t, s.ObserverConnected, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return !s.ObserverConnected() }, 5*time.Second, 5*time.Millisecond)

	// the session does not depend on its observer
	assert.NoError(t, s.Connect("2.3"))
	assert.Equal(t, session.StatusConnected, s.Status())
}

func TestHandler_UnknownSession(t *testing.T) {
	f := newFixture(t, longTimeouts)

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{name: "Unknown token", token: "doesnotexist", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/status/" + tt.token
			_, resp, err := websocket.Dial(t.Context(), url, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestHandler_ReplacesObserver(t *testing.T) {
	f := newFixture(t, longTimeouts)
	s := f.newSession(t, 0)

	first := f.dial(t, s.Token())
	require.Eventually(t, s.ObserverConnected, 5*time.Second, 5*time.Millisecond)

	second := f.dial(t, s.Token())

	// the first connection is closed once the second one is attached
	_, _, err := first.Read(t.Context())
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	require.NoError(t, s.Connect("2.3"))
	assert.Equal(t, "CONNECTED", readText(t, second))
}
