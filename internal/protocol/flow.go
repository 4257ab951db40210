// Package protocol runs the disclosure, signing and issuance sessions between
// a requester and the holder's client.
package protocol

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/openkcm/anoncred-broker/internal/authz"
	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/session"
)

const (
	statusSubject = "irma_status"

	defaultResultValidity = time.Hour
	issueResultValidity   = 120 * time.Second
)

// Flow holds everything that differs between the three protocols.
// R is the protocol request, Res the result stored on the session.
type Flow[R, Res any] interface {
	// Name is the URL path segment and session flow.
	Name() session.Flow
	// Action is the flow name announced in the QR payload.
	Action() string
	// RequestSubject and RequestField locate the payload in a signed request.
	RequestSubject() string
	RequestField() string
	KeyKind() authz.Kind
	ResultSubject() string
	DefaultValidity() time.Duration

	// Validate checks the request structurally, against the metadata store and
	// against the requester's permissions. It runs before any session exists.
	Validate(ctx context.Context, requester string, req R) error
	// Prepare sets the nonce and context.
	Prepare(req *R) error
	// Binding returns the values the holder's proofs are bound to.
	Binding(req R) (Binding, error)
	// Process hands the holder's artifact to the credential engine.
	Process(ctx context.Context, sub Submission[R]) (Res, error)

	Invalid() Res
	Waiting() Res
	Status(res Res) credential.ProofStatus
	WithData(res Res, data json.RawMessage) Res
	// Response is what the holder's client receives after submitting.
	Response(res Res) any
}

// EventSource is implemented by flows whose results are recorded by the historian.
type EventSource[Res any] interface {
	Events(res Res) []string
}

// Submission is the input of Flow.Process.
type Submission[R any] struct {
	Request  credential.ClientRequest[R]
	Version  string
	Artifact json.RawMessage
}

// Binding is the session state the holder's client binds its proofs to.
type Binding struct {
	Nonce      *big.Int
	Context    *big.Int
	PublicKeys map[credential.IssuerIdentifier]int
}

// QR is returned to the requester on creation and rendered as a QR code for the holder.
type QR struct {
	Version    string `json:"v"`
	MaxVersion string `json:"vmax"`
	Token      string `json:"u"`
	Action     string `json:"irmaqr"`
}

// JWTRequest wraps the original signed request for clients that verify it themselves.
type JWTRequest struct {
	JWT        string                              `json:"jwt"`
	Nonce      *big.Int                            `json:"nonce"`
	Context    *big.Int                            `json:"context"`
	PublicKeys map[credential.IssuerIdentifier]int `json:"pks,omitempty"`
}

type statusClaims struct {
	Status session.Status `json:"status"`
}

func prepareNonceAndContext(nonce, context **big.Int, v any) error {
	n, err := credential.NewNonce()
	if err != nil {
		return err
	}

	c, err := credential.DeriveContext(*context, v)
	if err != nil {
		return err
	}

	*nonce = n
	*context = c

	return nil
}
