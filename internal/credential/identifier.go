// Package credential holds the data exchanged in the three protocol flows and
// the contracts of the external credential engine and metadata store.
package credential

import "strings"

// SchemeManager is the first component of every identifier.
type SchemeManager string

// IssuerIdentifier has the form scheme.issuer.
type IssuerIdentifier string

func (i IssuerIdentifier) SchemeManager() SchemeManager {
	return SchemeManager(part(string(i), 0))
}

func (i IssuerIdentifier) Valid() bool {
	return partsValid(string(i), 2)
}

// CredentialIdentifier has the form scheme.issuer.credential.
type CredentialIdentifier string

func (c CredentialIdentifier) SchemeManager() SchemeManager {
	return SchemeManager(part(string(c), 0))
}

func (c CredentialIdentifier) Issuer() IssuerIdentifier {
	return IssuerIdentifier(prefix(string(c), 2))
}

func (c CredentialIdentifier) Name() string {
	return part(string(c), 2)
}

func (c CredentialIdentifier) Valid() bool {
	return partsValid(string(c), 3)
}

// AttributeIdentifier has the form scheme.issuer.credential.attribute. The
// three component form scheme.issuer.credential requests only the possession
// of a credential.
type AttributeIdentifier string

func (a AttributeIdentifier) SchemeManager() SchemeManager {
	return SchemeManager(part(string(a), 0))
}

func (a AttributeIdentifier) Issuer() IssuerIdentifier {
	return IssuerIdentifier(prefix(string(a), 2))
}

func (a AttributeIdentifier) Credential() CredentialIdentifier {
	return CredentialIdentifier(prefix(string(a), 3))
}

// Name returns the attribute name, empty for a credential-only identifier.
func (a AttributeIdentifier) Name() string {
	return part(string(a), 3)
}

func (a AttributeIdentifier) IsCredential() bool {
	return partsValid(string(a), 3)
}

func (a AttributeIdentifier) Valid() bool {
	return partsValid(string(a), 3) || partsValid(string(a), 4)
}

func part(id string, i int) string {
	parts := strings.Split(id, ".")
	if i >= len(parts) {
		return ""
	}

	return parts[i]
}

func prefix(id string, n int) string {
	parts := strings.Split(id, ".")
	if len(parts) < n {
		return id
	}

	return strings.Join(parts[:n], ".")
}

func partsValid(id string, n int) bool {
	parts := strings.Split(id, ".")
	if len(parts) != n {
		return false
	}

	for _, p := range parts {
		if p == "" {
			return false
		}
	}

	return true
}
