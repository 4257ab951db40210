package credentialmock

import (
	"slices"

	"github.com/openkcm/anoncred-broker/internal/credential"
)

type MetadataOption func(*Metadata)

// Metadata is an in-memory metadata store.
type Metadata struct {
	credentials map[credential.CredentialIdentifier][]string
	publicKeys  map[credential.IssuerIdentifier][]int
	secretKeys  map[credential.IssuerIdentifier][]int
	distributed map[credential.SchemeManager]bool
}

func WithCredential(id credential.CredentialIdentifier, attributes ...string) MetadataOption {
	return func(m *Metadata) { m.credentials[id] = attributes }
}

// WithKeys registers a public key for the issuer and, if secret is set, its secret key.
func WithKeys(issuer credential.IssuerIdentifier, counter int, secret bool) MetadataOption {
	return func(m *Metadata) {
		m.publicKeys[issuer] = append(m.publicKeys[issuer], counter)
		if secret {
			m.secretKeys[issuer] = append(m.secretKeys[issuer], counter)
		}
	}
}

func WithDistributed(scheme credential.SchemeManager) MetadataOption {
	return func(m *Metadata) { m.distributed[scheme] = true }
}

var _ = credential.Metadata(&Metadata{})

func NewMetadata(opts ...MetadataOption) *Metadata {
	m := &Metadata{
		credentials: make(map[credential.CredentialIdentifier][]string),
		publicKeys:  make(map[credential.IssuerIdentifier][]int),
		secretKeys:  make(map[credential.IssuerIdentifier][]int),
		distributed: make(map[credential.SchemeManager]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Metadata) AttributeExists(id credential.AttributeIdentifier) bool {
	attrs, ok := m.credentials[id.Credential()]
	if !ok {
		return false
	}
	if id.IsCredential() {
		return true
	}
	return slices.Contains(attrs, id.Name())
}

func (m *Metadata) CredentialAttributes(id credential.CredentialIdentifier) ([]string, bool) {
	attrs, ok := m.credentials[id]
	return attrs, ok
}

func (m *Metadata) HasPublicKey(issuer credential.IssuerIdentifier, counter int) bool {
	return slices.Contains(m.publicKeys[issuer], counter)
}

func (m *Metadata) HasSecretKey(issuer credential.IssuerIdentifier, counter int) bool {
	return slices.Contains(m.secretKeys[issuer], counter)
}

func (m *Metadata) LatestKeyCounter(issuer credential.IssuerIdentifier) (int, bool) {
	if len(m.publicKeys[issuer]) == 0 {
		return 0, false
	}

	return slices.Max(m.publicKeys[issuer]), true
}

func (m *Metadata) Distributed(scheme credential.SchemeManager) bool {
	return m.distributed[scheme]
}
