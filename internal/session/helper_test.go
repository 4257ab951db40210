package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/openkcm/anoncred-broker/internal/session"
)

type request struct {
	Content string
}

type result struct {
	Status string
}

type recordingObserver struct {
	mu        sync.Mutex
	messages  []string
	connected bool
	closed    int
}

func newRecordingObserver(connected bool) *recordingObserver {
	return &recordingObserver{connected: connected}
}

func (o *recordingObserver) record(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
}

func (o *recordingObserver) SendConnected() { o.record("CONNECTED") }
func (o *recordingObserver) SendDone()      { o.record("DONE") }
func (o *recordingObserver) SendCancelled() { o.record("CANCELLED") }
func (o *recordingObserver) SendTimeout()   { o.record("TIMEOUT") }

func (o *recordingObserver) IsConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected
}

func (o *recordingObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
	o.connected = false
}

func (o *recordingObserver) Messages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.messages...)
}

func (o *recordingObserver) Closed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

var longTimeouts = session.Timeouts{
	TokenGet:      time.Minute,
	TokenResponse: time.Minute,
	ClientGet:     time.Minute,
}

func newTestStore(t *testing.T, timeouts session.Timeouts) (*session.Registry, *session.Store[request, result]) {
	t.Helper()

	scheduler := session.NewScheduler()
	t.Cleanup(scheduler.Stop)

	registry := session.NewRegistry(scheduler, timeouts)

	return registry, session.NewStore[request, result](registry, session.FlowVerification)
}

func putSession(t *testing.T, store *session.Store[request, result], timeout time.Duration) *session.Session[request, result] {
	t.Helper()

	token, err := store.NewToken()
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	s := session.New[request, result](token, store.Flow(), "requester", "jwt", request{Content: "age"}, timeout)
	if err := store.Put(s); err != nil {
		t.Fatalf("storing session: %v", err)
	}

	return s
}
