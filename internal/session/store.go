package session

import (
	"fmt"

	"github.com/openkcm/anoncred-broker/internal/serviceerr"
)

// Store is the typed view of the registry for the sessions of one flow.
type Store[R, Res any] struct {
	registry *Registry
	flow     Flow
}

func NewStore[R, Res any](registry *Registry, flow Flow) *Store[R, Res] {
	return &Store[R, Res]{
		registry: registry,
		flow:     flow,
	}
}

func (st *Store[R, Res]) Flow() Flow { return st.flow }

// NewToken returns a token unique across all flows.
func (st *Store[R, Res]) NewToken() (string, error) {
	return st.registry.NewToken()
}

// Put makes s visible and starts its pre-connect expiry.
func (st *Store[R, Res]) Put(s *Session[R, Res]) error {
	if s.flow != st.flow {
		return fmt.Errorf("storing %s session in %s store", s.flow, st.flow)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry = st.registry
	if err := st.registry.put(s); err != nil {
		return err
	}

	timeout := s.timeout
	if timeout <= 0 {
		timeout = st.registry.timeouts.TokenGet
	}
	s.rescheduleLocked(timeout)

	return nil
}

// Get returns the live session of this flow for token.
func (st *Store[R, Res]) Get(token string) (*Session[R, Res], error) {
	h, err := st.registry.Lookup(token)
	if err != nil {
		return nil, err
	}

	s, ok := h.(*Session[R, Res])
	if !ok || s.flow != st.flow {
		return nil, serviceerr.ErrSessionUnknown
	}

	return s, nil
}

// Remove closes the session for token, if it belongs to this flow.
func (st *Store[R, Res]) Remove(token string) {
	s, err := st.Get(token)
	if err != nil {
		return
	}

	s.Close()
}
