package session

import (
	"sync"
	"time"

	"github.com/openkcm/anoncred-broker/internal/serviceerr"
)

// Session is one in-progress protocol run of a flow. R is the decoded client
// request, Res the result produced when the holder's artifact was processed.
type Session[R, Res any] struct {
	token     string
	flow      Flow
	requester string
	jwt       string
	request   R
	timeout   time.Duration
	createdAt time.Time

	mu         sync.Mutex
	status     Status
	version    string
	result     *Res
	submitting bool
	observer   Observer
	closed     bool
	generation uint64

	registry *Registry
}

// New creates a session in state INITIALIZED. It becomes visible once stored.
// A zero timeout falls back to the registry's pre-connect timeout.
func New[R, Res any](token string, flow Flow, requester, jwt string, request R, timeout time.Duration) *Session[R, Res] {
	return &Session[R, Res]{
		token:     token,
		flow:      flow,
		requester: requester,
		jwt:       jwt,
		request:   request,
		timeout:   timeout,
		createdAt: time.Now(),
		status:    StatusInitialized,
	}
}

func (s *Session[R, Res]) Token() string        { return s.token }
func (s *Session[R, Res]) Flow() Flow           { return s.flow }
func (s *Session[R, Res]) Requester() string    { return s.requester }
func (s *Session[R, Res]) JWT() string          { return s.jwt }
func (s *Session[R, Res]) Request() R           { return s.request }
func (s *Session[R, Res]) CreatedAt() time.Time { return s.createdAt }

func (s *Session[R, Res]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

func (s *Session[R, Res]) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.version
}

// Result returns the stored result, if any.
func (s *Session[R, Res]) Result() (Res, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result == nil {
		var zero Res
		return zero, false
	}

	return *s.result, true
}

// Connect moves an INITIALIZED session to CONNECTED and pins the protocol version.
func (s *Session[R, Res]) Connect(version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.status != StatusInitialized {
		return serviceerr.ErrUnexpectedRequest
	}

	s.status = StatusConnected
	s.version = version
	s.rescheduleLocked(s.registry.timeouts.TokenResponse)

	if s.observer != nil {
		s.observer.SendConnected()
	}

	return nil
}

// BeginSubmit claims the single submission slot of a CONNECTED session.
// Exactly one caller succeeds; it must follow up with Complete or Abort.
func (s *Session[R, Res]) BeginSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.status != StatusConnected || s.submitting || s.result != nil {
		return serviceerr.ErrUnexpectedRequest
	}

	s.submitting = true

	return nil
}

// Complete stores the result and moves the session to DONE. It fails if the
// session was cancelled, expired or closed while the artifact was processed.
func (s *Session[R, Res]) Complete(res Res) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submitting = false
	if s.closed || s.status != StatusConnected {
		return serviceerr.ErrUnexpectedRequest
	}

	s.result = &res
	s.status = StatusDone
	s.rescheduleLocked(s.registry.timeouts.ClientGet)

	if s.observer != nil {
		s.observer.SendDone()
	}

	return nil
}

// Abort releases the submission slot without storing a result.
func (s *Session[R, Res]) Abort() {
	s.mu.Lock()
	s.submitting = false
	s.mu.Unlock()
}

// Cancel moves a non terminal session to CANCELLED. It reports whether the
// status changed.
func (s *Session[R, Res]) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.status.Terminal() {
		return false
	}

	s.status = StatusCancelled
	s.rescheduleLocked(s.registry.timeouts.ClientGet)

	if s.observer != nil {
		s.observer.SendCancelled()
	}

	return true
}

// ObserverConnected reports whether a live observer is attached.
func (s *Session[R, Res]) ObserverConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.observer != nil && s.observer.IsConnected()
}

// AttachObserver links o to the session, replacing a previous observer.
// It returns false when the session is already closed.
func (s *Session[R, Res]) AttachObserver(o Observer) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	prev := s.observer
	s.observer = o
	s.mu.Unlock()

	if prev != nil && prev != o {
		prev.Close()
	}

	return true
}

// Close cancels the expiry, removes the session from the registry and
// detaches the observer. Calling Close more than once is a no-op.
func (s *Session[R, Res]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	obs := s.markClosedLocked()
	s.mu.Unlock()

	s.release(obs)
}

// TakeResult hands out the result at most once and closes the session in the
// same critical section. keep runs under the session lock before the session is
// closed; when it fails the session and its result are left untouched.
// Without a result the session stays open and ok is false.
func (s *Session[R, Res]) TakeResult(keep func(Res) error) (res Res, ok bool, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return res, false, serviceerr.ErrSessionUnknown
	}
	if s.result == nil {
		s.mu.Unlock()
		return res, false, nil
	}

	res = *s.result
	if keep != nil {
		if err := keep(res); err != nil {
			s.mu.Unlock()
			var zero Res
			return zero, false, err
		}
	}

	obs := s.markClosedLocked()
	s.mu.Unlock()

	s.release(obs)

	return res, true, nil
}

func (s *Session[R, Res]) markClosedLocked() Observer {
	s.closed = true
	s.generation++
	obs := s.observer
	s.observer = nil

	return obs
}

func (s *Session[R, Res]) release(obs Observer) {
	if s.registry != nil {
		s.registry.scheduler.Cancel(s.token)
		s.registry.remove(s.token, s)
	}

	if obs != nil {
		obs.Close()
	}
}

func (s *Session[R, Res]) expire(generation uint64) {
	s.mu.Lock()
	if s.closed || generation != s.generation {
		s.mu.Unlock()
		return
	}

	if !s.status.Terminal() && s.observer != nil {
		s.observer.SendTimeout()
	}
	s.mu.Unlock()

	s.Close()
}

func (s *Session[R, Res]) rescheduleLocked(d time.Duration) {
	s.generation++
	gen := s.generation
	s.registry.scheduler.Schedule(s.token, d, func() { s.expire(gen) })
}
