package credentialmock

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/openkcm/anoncred-broker/internal/credential"
)

type EngineOption func(*Engine)

// Engine is a scripted credential engine. By default every artifact verifies
// and disclosed attributes are taken from the artifact itself, which is
// expected to be a JSON object of attribute identifier to value.
type Engine struct {
	mu    sync.Mutex
	calls int

	status     credential.ProofStatus
	signatures json.RawMessage
	verifyErr  error
	issueErr   error
	blockUntil chan struct{}
}

func WithStatus(status credential.ProofStatus) EngineOption {
	return func(e *Engine) { e.status = status }
}
func WithSignatures(sigs json.RawMessage) EngineOption {
	return func(e *Engine) { e.signatures = sigs }
}
func WithVerifyError(err error) EngineOption {
	return func(e *Engine) { e.verifyErr = err }
}
func WithIssueError(err error) EngineOption {
	return func(e *Engine) { e.issueErr = err }
}

// WithBlock makes every verification wait until ch is closed.
func WithBlock(ch chan struct{}) EngineOption {
	return func(e *Engine) { e.blockUntil = ch }
}

var _ = credential.Engine(&Engine{})

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		status:     credential.ProofValid,
		signatures: json.RawMessage(`[{"A":"1","e":"2","v":"3"}]`),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Calls returns how many verifications were performed.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Engine) VerifyDisclosure(ctx context.Context, _ credential.DisclosureRequest, proofs json.RawMessage) (credential.DisclosureResult, error) {
	return e.verify(ctx, proofs)
}

func (e *Engine) VerifySignature(ctx context.Context, req credential.SignatureRequest, proofs json.RawMessage) (credential.SignatureResult, error) {
	res, err := e.verify(ctx, proofs)
	if err != nil {
		return credential.SignatureResult{}, err
	}

	return credential.SignatureResult{
		DisclosureResult: res,
		Message:          req.Message,
		MessageType:      req.MessageType,
		Signature:        proofs,
		Nonce:            req.Nonce,
		Context:          req.Context,
	}, nil
}

func (e *Engine) VerifySignedMessage(ctx context.Context, msg credential.SignedMessage, _ time.Time, _ bool) (credential.SignatureResult, error) {
	res, err := e.verify(ctx, msg.Signature)
	if err != nil {
		return credential.SignatureResult{}, err
	}

	return credential.SignatureResult{
		DisclosureResult: res,
		Message:          msg.Message,
		MessageType:      msg.MessageType,
		Signature:        msg.Signature,
		Nonce:            msg.Nonce,
		Context:          msg.Context,
	}, nil
}

func (e *Engine) VerifyCommitments(ctx context.Context, _ credential.IssuanceRequest, _ string, commitments json.RawMessage) (credential.DisclosureResult, error) {
	return e.verify(ctx, commitments)
}

func (e *Engine) IssueSignatures(_ context.Context, _ credential.IssuanceRequest, _ string, _ json.RawMessage) (json.RawMessage, error) {
	if e.issueErr != nil {
		return nil, e.issueErr
	}
	return e.signatures, nil
}

func (e *Engine) verify(ctx context.Context, artifact json.RawMessage) (credential.DisclosureResult, error) {
	e.mu.Lock()
	e.calls++
	block := e.blockUntil
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return credential.DisclosureResult{}, ctx.Err()
		}
	}

	if e.verifyErr != nil {
		return credential.DisclosureResult{}, e.verifyErr
	}

	attrs := make(map[credential.AttributeIdentifier]string)
	if len(artifact) > 0 {
		_ = json.Unmarshal(artifact, &attrs)
	}

	return credential.DisclosureResult{Status: e.status, Attributes: attrs}, nil
}
