// Package session keeps the in-memory, token addressed protocol sessions and
// drives their lifecycle: status transitions, expiry and observer notification.
package session

import "time"

type Status string

const (
	StatusInitialized Status = "INITIALIZED"
	StatusConnected   Status = "CONNECTED"
	StatusCancelled   Status = "CANCELLED"
	StatusDone        Status = "DONE"
)

// Terminal reports whether no further transition is possible except closing.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Flow names the protocol a session belongs to.
type Flow string

const (
	FlowVerification Flow = "verification"
	FlowSignature    Flow = "signature"
	FlowIssue        Flow = "issue"
)

// Timeouts are the per phase expiry durations.
type Timeouts struct {
	// TokenGet applies before the client connects when the request does not carry its own timeout.
	TokenGet time.Duration
	// TokenResponse applies after the client connected.
	TokenResponse time.Duration
	// ClientGet is how long a finished or cancelled session is retained.
	ClientGet time.Duration
}

// Observer receives status transitions of a single session.
// Implementations must not block.
type Observer interface {
	SendConnected()
	SendDone()
	SendCancelled()
	SendTimeout()
	IsConnected() bool
	Close()
}
