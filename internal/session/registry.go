package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/openkcm/anoncred-broker/internal/serviceerr"
)

const (
	tokenBytes        = 33
	maxTokenAttempts  = 8
	tokenStripPattern = "+/"
)

var ErrTokenInUse = errors.New("session token already in use")

// Handle is the flow independent view of a session used by components that
// only know the token, such as the status socket.
type Handle interface {
	Token() string
	Flow() Flow
	Status() Status
	AttachObserver(o Observer) bool
	Close()
}

// Registry is the single token namespace shared by the sessions of every flow.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Handle

	scheduler *Scheduler
	timeouts  Timeouts
	rand      io.Reader
}

type RegistryOption func(*Registry)

// WithRandom replaces the source used for token generation.
func WithRandom(r io.Reader) RegistryOption {
	return func(reg *Registry) { reg.rand = r }
}

func NewRegistry(scheduler *Scheduler, timeouts Timeouts, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions:  make(map[string]Handle),
		scheduler: scheduler,
		timeouts:  timeouts,
		rand:      rand.Reader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// NewToken returns a fresh URL safe token not used by any live session.
func (r *Registry) NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	for range maxTokenAttempts {
		if _, err := io.ReadFull(r.rand, buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}

		token := strings.Map(func(c rune) rune {
			if strings.ContainsRune(tokenStripPattern, c) {
				return -1
			}
			return c
		}, base64.StdEncoding.EncodeToString(buf))

		r.mu.RLock()
		_, taken := r.sessions[token]
		r.mu.RUnlock()

		if !taken && token != "" {
			return token, nil
		}
	}

	return "", ErrTokenInUse
}

// Lookup returns the live session for token regardless of its flow.
func (r *Registry) Lookup(token string) (Handle, error) {
	if token == "" {
		return nil, serviceerr.ErrSessionTokenMalformed
	}

	r.mu.RLock()
	h, ok := r.sessions[token]
	r.mu.RUnlock()

	if !ok {
		return nil, serviceerr.ErrSessionUnknown
	}

	return h, nil
}

// Timeouts returns the per phase expiry durations applied to sessions.
func (r *Registry) Timeouts() Timeouts {
	return r.timeouts
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

func (r *Registry) put(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[h.Token()]; ok {
		return ErrTokenInUse
	}
	r.sessions[h.Token()] = h

	return nil
}

// remove deletes token only if it still maps to h.
func (r *Registry) remove(token string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[token]; ok && cur == h {
		delete(r.sessions, token)
	}
}
