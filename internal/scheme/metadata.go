// Package scheme loads credential scheme metadata from a YAML document.
//
// Example:
//
//	schemes:
//	  irma-demo:
//	    distributed: false
//	    issuers:
//	      MijnOverheid:
//	        publicKeys: [0, 1]
//	        secretKeys: [1]
//	        credentials:
//	          ageLower: [over12, over16, over18, over21]
package scheme

import (
	"fmt"
	"slices"

	"github.com/goccy/go-yaml"

	"github.com/openkcm/anoncred-broker/internal/credential"
)

type document struct {
	Schemes map[string]schemeManager `yaml:"schemes"`
}

type schemeManager struct {
	Distributed bool              `yaml:"distributed"`
	Issuers     map[string]issuer `yaml:"issuers"`
}

type issuer struct {
	PublicKeys  []int               `yaml:"publicKeys"`
	SecretKeys  []int               `yaml:"secretKeys"`
	Credentials map[string][]string `yaml:"credentials"`
}

// Store is a read only credential.Metadata.
type Store struct {
	distributed map[credential.SchemeManager]bool
	issuers     map[credential.IssuerIdentifier]issuer
	credentials map[credential.CredentialIdentifier][]string
}

var _ = credential.Metadata(&Store{})

// Parse builds a Store from a YAML document.
func Parse(data []byte) (*Store, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshalling scheme metadata: %w", err)
	}

	s := &Store{
		distributed: make(map[credential.SchemeManager]bool),
		issuers:     make(map[credential.IssuerIdentifier]issuer),
		credentials: make(map[credential.CredentialIdentifier][]string),
	}

	for schemeName, sm := range doc.Schemes {
		s.distributed[credential.SchemeManager(schemeName)] = sm.Distributed

		for issuerName, iss := range sm.Issuers {
			issuerID := credential.IssuerIdentifier(schemeName + "." + issuerName)
			if !issuerID.Valid() {
				return nil, fmt.Errorf("invalid issuer identifier %q", issuerID)
			}

			for _, counter := range iss.SecretKeys {
				if !slices.Contains(iss.PublicKeys, counter) {
					return nil, fmt.Errorf("issuer %s: secret key %d without public key", issuerID, counter)
				}
			}

			s.issuers[issuerID] = iss
			for credName, attrs := range iss.Credentials {
				s.credentials[credential.CredentialIdentifier(string(issuerID)+"."+credName)] = attrs
			}
		}
	}

	return s, nil
}

func (s *Store) AttributeExists(id credential.AttributeIdentifier) bool {
	if !id.Valid() {
		return false
	}

	attrs, ok := s.credentials[id.Credential()]
	if !ok {
		return false
	}

	return id.IsCredential() || slices.Contains(attrs, id.Name())
}

func (s *Store) CredentialAttributes(id credential.CredentialIdentifier) ([]string, bool) {
	attrs, ok := s.credentials[id]
	return attrs, ok
}

func (s *Store) HasPublicKey(issuer credential.IssuerIdentifier, counter int) bool {
	iss, ok := s.issuers[issuer]
	return ok && slices.Contains(iss.PublicKeys, counter)
}

func (s *Store) HasSecretKey(issuer credential.IssuerIdentifier, counter int) bool {
	iss, ok := s.issuers[issuer]
	return ok && slices.Contains(iss.SecretKeys, counter)
}

func (s *Store) LatestKeyCounter(issuer credential.IssuerIdentifier) (int, bool) {
	iss, ok := s.issuers[issuer]
	if !ok || len(iss.PublicKeys) == 0 {
		return 0, false
	}

	return slices.Max(iss.PublicKeys), true
}

func (s *Store) Distributed(scheme credential.SchemeManager) bool {
	return s.distributed[scheme]
}
