package protocol

import (
	"context"
	"log/slog"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/jwtcodec"
	"github.com/openkcm/anoncred-broker/internal/serviceerr"
)

// SignatureChecker verifies attribute-based signatures outside of a session.
type SignatureChecker struct {
	engine credential.Engine
	sealer *jwtcodec.Sealer
	now    func() time.Time
}

func NewSignatureChecker(engine credential.Engine, sealer *jwtcodec.Sealer) *SignatureChecker {
	return &SignatureChecker{
		engine: engine,
		sealer: sealer,
		now:    time.Now,
	}
}

// Check verifies msg and returns the sealed result. Without at the signature
// is checked as of now and expired credentials are tolerated; with at it is
// checked as of that moment and must not have been expired then.
func (c *SignatureChecker) Check(ctx context.Context, msg credential.SignedMessage, at *time.Time) (string, error) {
	if msg.Nonce == nil || msg.Context == nil {
		return "", serviceerr.ErrMalformedInput.WithDescription("signature without nonce or context")
	}

	when, allowExpired := c.now(), true
	if at != nil {
		when, allowExpired = *at, false
	}

	res, err := c.engine.VerifySignedMessage(ctx, msg, when, allowExpired)
	if err != nil {
		slogctx.Error(ctx, "Verifying signed message failed", slog.String("error", err.Error()))
		return "", serviceerr.ErrUnknown.WithDescription("verifying signature: %v", err)
	}

	return c.sealer.Seal(signatureResultSubject, res, defaultResultValidity)
}
