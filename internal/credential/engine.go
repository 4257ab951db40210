package credential

import (
	"context"
	"encoding/json"
	"time"
)

// Engine performs the zero-knowledge operations of the protocol.
type Engine interface {
	VerifyDisclosure(ctx context.Context, req DisclosureRequest, proofs json.RawMessage) (DisclosureResult, error)
	// VerifySignature checks proofs made over SignatureNonce(req.Nonce, req.Message).
	VerifySignature(ctx context.Context, req SignatureRequest, proofs json.RawMessage) (SignatureResult, error)
	// VerifySignedMessage checks a standalone signature as of at. Expired
	// credentials only yield EXPIRED when allowExpired is false.
	VerifySignedMessage(ctx context.Context, msg SignedMessage, at time.Time, allowExpired bool) (SignatureResult, error)
	// VerifyCommitments checks the holder's commitments and the proofs of any
	// attributes disclosed during issuance.
	VerifyCommitments(ctx context.Context, req IssuanceRequest, version string, commitments json.RawMessage) (DisclosureResult, error)
	IssueSignatures(ctx context.Context, req IssuanceRequest, version string, commitments json.RawMessage) (json.RawMessage, error)
}

// Metadata answers questions about schemes, issuers, credential types and keys.
type Metadata interface {
	AttributeExists(id AttributeIdentifier) bool
	// CredentialAttributes lists the attribute names of a credential type.
	CredentialAttributes(id CredentialIdentifier) ([]string, bool)
	HasPublicKey(issuer IssuerIdentifier, counter int) bool
	HasSecretKey(issuer IssuerIdentifier, counter int) bool
	// LatestKeyCounter returns the counter of the issuer's most recent public key.
	LatestKeyCounter(issuer IssuerIdentifier) (int, bool)
	// Distributed reports whether the scheme uses a keyshare server.
	Distributed(scheme SchemeManager) bool
}
