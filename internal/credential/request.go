package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// ValidityEpoch is the granularity credential validity timestamps are floored to.
const ValidityEpoch = 7 * 24 * time.Hour

// nonceBits is the statistical zero-knowledge security parameter.
const nonceBits = 80

// ClientRequest is the envelope a requester sends in the signed request.
// Validity and Timeout are in seconds.
type ClientRequest[R any] struct {
	Validity    int             `json:"validity,omitempty"`
	Timeout     int             `json:"timeout,omitempty"`
	CallbackURL string          `json:"callbackUrl,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Request     R               `json:"request"`
}

type AttributeDisjunction struct {
	Label      string                `json:"label"`
	Attributes []AttributeIdentifier `json:"attributes"`
}

type DisclosureRequest struct {
	Content []AttributeDisjunction `json:"content"`
	Nonce   *big.Int               `json:"nonce,omitempty"`
	Context *big.Int               `json:"context,omitempty"`
}

// Attributes returns every attribute named in the request.
func (r DisclosureRequest) Attributes() []AttributeIdentifier {
	return disjunctionAttributes(r.Content)
}

type SignatureRequest struct {
	DisclosureRequest

	Message     string `json:"message"`
	MessageType string `json:"messageType,omitempty"`
}

type CredentialRequest struct {
	// Validity is a unix timestamp in seconds.
	Validity   int64                `json:"validity"`
	Credential CredentialIdentifier `json:"credential"`
	KeyCounter int                  `json:"keyCounter"`
	Attributes map[string]string    `json:"attributes"`
}

// ValidityFloored reports whether the validity is a multiple of the validity epoch.
func (c CredentialRequest) ValidityFloored() bool {
	return c.Validity%int64(ValidityEpoch/time.Second) == 0
}

type IssuanceRequest struct {
	Credentials []CredentialRequest    `json:"credentials"`
	Disclose    []AttributeDisjunction `json:"disclose,omitempty"`
	Nonce       *big.Int               `json:"nonce,omitempty"`
	Context     *big.Int               `json:"context,omitempty"`
}

// PublicKeys lists the key counter of the issuer of every credential.
func (r IssuanceRequest) PublicKeys() map[IssuerIdentifier]int {
	pks := make(map[IssuerIdentifier]int, len(r.Credentials))
	for _, c := range r.Credentials {
		pks[c.Credential.Issuer()] = c.KeyCounter
	}

	return pks
}

// DisclosedAttributes returns every attribute that must be disclosed alongside issuance.
func (r IssuanceRequest) DisclosedAttributes() []AttributeIdentifier {
	return disjunctionAttributes(r.Disclose)
}

// SignedMessage is a standalone attribute-based signature presented for checking.
type SignedMessage struct {
	Nonce       *big.Int               `json:"nonce"`
	Context     *big.Int               `json:"context"`
	Message     string                 `json:"message"`
	MessageType string                 `json:"messageType"`
	Signature   json.RawMessage        `json:"signature"`
	Conditions  []AttributeDisjunction `json:"conditions,omitempty"`
}

// NewNonce returns a fresh random nonce.
func NewNonce() (*big.Int, error) {
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), nonceBits))
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return n, nil
}

// DeriveContext returns context unchanged unless it is unset, in which case
// it is derived from the hash of v.
func DeriveContext(context *big.Int, v any) (*big.Int, error) {
	if context != nil && context.Sign() != 0 {
		return context, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling request for context: %w", err)
	}

	sum := sha256.Sum256(b)

	return new(big.Int).SetBytes(sum[:]), nil
}

// SignatureNonce binds nonce to message: the SHA-256 of the DER sequence of
// nonce and the SHA-256 of the message.
func SignatureNonce(nonce *big.Int, message string) (*big.Int, error) {
	if nonce == nil {
		return nil, fmt.Errorf("signature nonce without session nonce")
	}

	msgHash := sha256.Sum256([]byte(message))
	der, err := asn1.Marshal([]*big.Int{nonce, new(big.Int).SetBytes(msgHash[:])})
	if err != nil {
		return nil, fmt.Errorf("encoding signature nonce: %w", err)
	}

	sum := sha256.Sum256(der)

	return new(big.Int).SetBytes(sum[:]), nil
}

func disjunctionAttributes(content []AttributeDisjunction) []AttributeIdentifier {
	var attrs []AttributeIdentifier
	for _, d := range content {
		attrs = append(attrs, d.Attributes...)
	}

	return attrs
}
