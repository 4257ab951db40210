// Package authz decides which requesters may ask for which attributes and
// issue which credentials.
package authz

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/serviceerr"
)

// Kind is the requester role a permission applies to. Its value doubles as
// the key directory name of that role.
type Kind string

const (
	KindVerifier Kind = "verifiers"
	KindSigner   Kind = "sigclients"
	KindIssuer   Kind = "issuers"
)

const wildcard = "*"

// Repository returns the permission patterns granted to a requester.
// An unknown requester has no patterns.
type Repository interface {
	Patterns(ctx context.Context, kind Kind, requester string) ([]string, error)
}

type Authorizer struct {
	repo Repository
}

func NewAuthorizer(repo Repository) *Authorizer {
	return &Authorizer{repo: repo}
}

// AuthorizeAttributes fails with ErrUnauthorized unless requester may request every attribute.
func (a *Authorizer) AuthorizeAttributes(ctx context.Context, kind Kind, requester string, attrs []credential.AttributeIdentifier) error {
	patterns, err := a.repo.Patterns(ctx, kind, requester)
	if err != nil {
		return fmt.Errorf("loading %s permissions of %q: %w", kind, requester, err)
	}

	for _, attr := range attrs {
		if !AttributeAllowed(patterns, attr) {
			return serviceerr.ErrUnauthorized.WithDescription("%q may not request %s", requester, attr)
		}
	}

	return nil
}

// AuthorizeCredentials fails with ErrUnauthorized unless requester may issue every credential.
func (a *Authorizer) AuthorizeCredentials(ctx context.Context, requester string, creds []credential.CredentialIdentifier) error {
	patterns, err := a.repo.Patterns(ctx, KindIssuer, requester)
	if err != nil {
		return fmt.Errorf("loading issuer permissions of %q: %w", requester, err)
	}

	for _, cred := range creds {
		if !CredentialAllowed(patterns, cred) {
			return serviceerr.ErrUnauthorized.WithDescription("%q may not issue %s", requester, cred)
		}
	}

	return nil
}

// AttributeAllowed matches attr against "*", "scheme.*", "scheme.issuer.*",
// "scheme.issuer.credential.*" or the exact identifier.
func AttributeAllowed(patterns []string, attr credential.AttributeIdentifier) bool {
	candidates := []string{
		wildcard,
		string(attr.SchemeManager()) + ".*",
		string(attr.Issuer()) + ".*",
		string(attr.Credential()) + ".*",
		string(attr),
	}

	return slices.ContainsFunc(patterns, func(p string) bool {
		return slices.Contains(candidates, p)
	})
}

// CredentialAllowed matches cred against "*", "scheme.*", "scheme.issuer.*"
// or the exact identifier.
func CredentialAllowed(patterns []string, cred credential.CredentialIdentifier) bool {
	candidates := []string{
		wildcard,
		string(cred.SchemeManager()) + ".*",
		string(cred.Issuer()) + ".*",
		string(cred),
	}

	return slices.ContainsFunc(patterns, func(p string) bool {
		return slices.Contains(candidates, p)
	})
}

// ValidPattern reports whether pattern can match identifiers of the given
// kind: "*", a full identifier, or a shorter identifier prefix followed by ".*".
func ValidPattern(kind Kind, pattern string) bool {
	if pattern == wildcard {
		return true
	}

	full := 4
	if kind == KindIssuer {
		full = 3
	}

	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		n := validParts(prefix)
		return n > 0 && n < full
	}

	n := validParts(pattern)
	if kind == KindIssuer {
		return n == full
	}

	return n == 3 || n == 4
}

// validParts counts the dot separated parts of id, zero if any is empty or a wildcard.
func validParts(id string) int {
	parts := strings.Split(id, ".")
	for _, p := range parts {
		if p == "" || p == wildcard {
			return 0
		}
	}

	return len(parts)
}
