package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openkcm/anoncred-broker/internal/authz"
	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/serviceerr"
)

func TestAttributeAllowed(t *testing.T) {
	const attr = credential.AttributeIdentifier("irma-demo.MijnOverheid.ageLower.over12")

	tests := []struct {
		name     string
		patterns []string
		want     bool
	}{
		{name: "Everything", patterns: []string{"*"}, want: true},
		{name: "Scheme", patterns: []string{"irma-demo.*"}, want: true},
		{name: "Issuer", patterns: []string{"irma-demo.MijnOverheid.*"}, want: true},
		{name: "Credential", patterns: []string{"irma-demo.MijnOverheid.ageLower.*"}, want: true},
		{name: "Exact", patterns: []string{"irma-demo.MijnOverheid.ageLower.over12"}, want: true},
		{name: "Other attribute", patterns: []string{"irma-demo.MijnOverheid.ageLower.over18"}, want: false},
		{name: "Other issuer", patterns: []string{"irma-demo.RU.*"}, want: false},
		{name: "Prefix without wildcard", patterns: []string{"irma-demo.MijnOverheid"}, want: false},
		{name: "None", patterns: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, authz.AttributeAllowed(tt.patterns, attr))
		})
	}
}

func TestCredentialAllowed(t *testing.T) {
	const cred = credential.CredentialIdentifier("irma-demo.MijnOverheid.root")

	tests := []struct {
		name     string
		patterns []string
		want     bool
	}{
		{name: "Everything", patterns: []string{"*"}, want: true},
		{name: "Scheme", patterns: []string{"irma-demo.*"}, want: true},
		{name: "Issuer", patterns: []string{"irma-demo.MijnOverheid.*"}, want: true},
		{name: "Exact", patterns: []string{"irma-demo.MijnOverheid.root"}, want: true},
		{name: "Other credential", patterns: []string{"irma-demo.MijnOverheid.ageLower"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, authz.CredentialAllowed(tt.patterns, cred))
		})
	}
}

type failingRepository struct{}

func (failingRepository) Patterns(context.Context, authz.Kind, string) ([]string, error) {
	return nil, errors.New("db down")
}

func TestAuthorizer(t *testing.T) {
	repo := authz.NewConfigRepository(
		map[string][]string{"shop": {"irma-demo.MijnOverheid.ageLower.*"}},
		map[string][]string{"notary": {"*"}},
		map[string][]string{"gov": {"irma-demo.MijnOverheid.*"}},
	)
	a := authz.NewAuthorizer(repo)
	ctx := t.Context()

	assert.NoError(t, a.AuthorizeAttributes(ctx, authz.KindVerifier, "shop",
		[]credential.AttributeIdentifier{"irma-demo.MijnOverheid.ageLower.over12", "irma-demo.MijnOverheid.ageLower.over18"}))

	err := a.AuthorizeAttributes(ctx, authz.KindVerifier, "shop",
		[]credential.AttributeIdentifier{"irma-demo.MijnOverheid.ageLower.over12", "irma-demo.MijnOverheid.root.BSN"})
	assert.ErrorIs(t, err, serviceerr.ErrUnauthorized)

	// permissions do not carry over between roles
	err = a.AuthorizeAttributes(ctx, authz.KindSigner, "shop", []credential.AttributeIdentifier{"irma-demo.MijnOverheid.ageLower.over12"})
	assert.ErrorIs(t, err, serviceerr.ErrUnauthorized)

	assert.NoError(t, a.AuthorizeAttributes(ctx, authz.KindSigner, "notary", []credential.AttributeIdentifier{"pbdf.pbdf.email.email"}))

	assert.NoError(t, a.AuthorizeCredentials(ctx, "gov", []credential.CredentialIdentifier{"irma-demo.MijnOverheid.root"}))
	assert.ErrorIs(t, a.AuthorizeCredentials(ctx, "gov", []credential.CredentialIdentifier{"irma-demo.RU.studentCard"}), serviceerr.ErrUnauthorized)
	assert.ErrorIs(t, a.AuthorizeCredentials(ctx, "unknown", []credential.CredentialIdentifier{"irma-demo.MijnOverheid.root"}), serviceerr.ErrUnauthorized)

	failing := authz.NewAuthorizer(failingRepository{})
	err = failing.AuthorizeCredentials(ctx, "gov", []credential.CredentialIdentifier{"irma-demo.MijnOverheid.root"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, serviceerr.ErrUnauthorized)
}

func TestValidPattern(t *testing.T) {
	tests := []struct {
		name    string
		kind    authz.Kind
		pattern string
		want    bool
	}{
		{name: "Everything", kind: authz.KindVerifier, pattern: "*", want: true},
		{name: "Attribute", kind: authz.KindVerifier, pattern: "irma-demo.MijnOverheid.ageLower.over12", want: true},
		{name: "Credential possession", kind: authz.KindSigner, pattern: "irma-demo.MijnOverheid.ageLower", want: true},
		{name: "Credential wildcard", kind: authz.KindVerifier, pattern: "irma-demo.MijnOverheid.ageLower.*", want: true},
		{name: "Scheme wildcard", kind: authz.KindIssuer, pattern: "irma-demo.*", want: true},
		{name: "Issued credential", kind: authz.KindIssuer, pattern: "irma-demo.MijnOverheid.root", want: true},
		{name: "Issued attribute", kind: authz.KindIssuer, pattern: "irma-demo.MijnOverheid.root.BSN", want: false},
		{name: "Issuer credential wildcard", kind: authz.KindIssuer, pattern: "irma-demo.MijnOverheid.root.*", want: false},
		{name: "Inner wildcard", kind: authz.KindVerifier, pattern: "irma-demo.*.ageLower.over12", want: false},
		{name: "Empty part", kind: authz.KindVerifier, pattern: "irma-demo..ageLower.over12", want: false},
		{name: "Empty", kind: authz.KindVerifier, pattern: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, authz.ValidPattern(tt.kind, tt.pattern))
		})
	}
}
