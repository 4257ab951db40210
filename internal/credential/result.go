package credential

import (
	"encoding/json"
	"math/big"
)

type ProofStatus string

const (
	ProofValid             ProofStatus = "VALID"
	ProofInvalid           ProofStatus = "INVALID"
	ProofExpired           ProofStatus = "EXPIRED"
	ProofMissingAttributes ProofStatus = "MISSING_ATTRIBUTES"
	ProofWaiting           ProofStatus = "WAITING"
)

type DisclosureResult struct {
	Status     ProofStatus                    `json:"status"`
	Attributes map[AttributeIdentifier]string `json:"attributes,omitempty"`
	Data       json.RawMessage                `json:"data,omitempty"`
}

type SignatureResult struct {
	DisclosureResult

	Message     string          `json:"message,omitempty"`
	MessageType string          `json:"messageType,omitempty"`
	Signature   json.RawMessage `json:"signature,omitempty"`
	Nonce       *big.Int        `json:"nonce,omitempty"`
	Context     *big.Int        `json:"context,omitempty"`
}

// IssuanceResult is what the requester sees of an issuance. The signatures
// only go to the holder's client.
type IssuanceResult struct {
	Status      ProofStatus                    `json:"status"`
	Attributes  map[AttributeIdentifier]string `json:"attributes,omitempty"`
	Credentials []CredentialIdentifier         `json:"credentials,omitempty"`
	Data        json.RawMessage                `json:"data,omitempty"`

	Signatures json.RawMessage `json:"-"`
}

// IssuanceResponse is returned to the holder's client after submitting commitments.
type IssuanceResponse struct {
	Status     ProofStatus     `json:"status"`
	Signatures json.RawMessage `json:"signatures,omitempty"`
}
