// Package jwtcodec decodes the signed session requests sent by requesters and
// seals session results into tokens signed by the broker.
package jwtcodec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/openkcm/anoncred-broker/internal/keys"
	"github.com/openkcm/anoncred-broker/internal/serviceerr"
)

var SignatureAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// KeyResolver finds the public key a requester signed with.
type KeyResolver interface {
	Resolve(kind, keyID string) (keys.PublicKey, error)
}

// Parser validates requests of one flow.
type Parser struct {
	// Subject is the required sub claim.
	Subject string
	// Field is the claim holding the request payload.
	Field string
	// Kind selects the requester key set.
	Kind          string
	MaxAge        time.Duration
	AllowUnsigned bool
	Keys          KeyResolver

	now func() time.Time
}

// Parsed describes who sent a successfully parsed request.
type Parsed struct {
	Issuer   string
	KeyID    string
	Signed   bool
	IssuedAt time.Time
}

type claims struct {
	jwt.Claims

	raw map[string]json.RawMessage
}

// Parse validates token and projects its payload claim into into.
func (p *Parser) Parse(token string, into any) (Parsed, error) {
	var (
		parsed Parsed
		c      claims
		err    error
	)

	if p.AllowUnsigned && isUnsigned(token) {
		c, err = parseUnsigned(token)
		if err != nil {
			return Parsed{}, invalid("%v", err)
		}
		if c.Subject != p.Subject {
			return Parsed{}, invalid("subject %q, expected %q", c.Subject, p.Subject)
		}
		parsed.Issuer = c.Issuer
	} else {
		c, parsed, err = p.parseSigned(token)
		if err != nil {
			return Parsed{}, err
		}
	}

	if err := p.checkAge(c.Claims, &parsed); err != nil {
		return Parsed{}, err
	}

	if err := project(c.raw, p.Field, into); err != nil {
		return Parsed{}, err
	}

	return parsed, nil
}

func (p *Parser) parseSigned(token string) (claims, Parsed, error) {
	tok, err := jwt.ParseSigned(token, SignatureAlgorithms)
	if err != nil {
		return claims{}, Parsed{}, invalid("parsing token: %v", err)
	}
	if len(tok.Headers) != 1 {
		return claims{}, Parsed{}, invalid("expected exactly one signature")
	}

	var unverified jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&unverified); err != nil {
		return claims{}, Parsed{}, invalid("reading claims: %v", err)
	}

	if unverified.Subject != p.Subject {
		return claims{}, Parsed{}, invalid("subject %q, expected %q", unverified.Subject, p.Subject)
	}

	keyID := tok.Headers[0].KeyID
	if keyID == "" {
		keyID = unverified.Issuer
	}

	pk, err := p.Keys.Resolve(p.Kind, keyID)
	if err != nil {
		return claims{}, Parsed{}, invalid("resolving key: %v", err)
	}

	if tok.Headers[0].KeyID != "" && unverified.Issuer != "" &&
		pk.Owner != unverified.Issuer && keyID != unverified.Issuer {
		return claims{}, Parsed{}, invalid("key %q does not belong to issuer %q", keyID, unverified.Issuer)
	}

	var c claims
	if err := tok.Claims(pk.Key, &c.Claims, &c.raw); err != nil {
		return claims{}, Parsed{}, invalid("verifying signature: %v", err)
	}

	return c, Parsed{Issuer: pk.Owner, KeyID: keyID, Signed: true}, nil
}

func (p *Parser) checkAge(c jwt.Claims, parsed *Parsed) error {
	if c.IssuedAt == nil {
		if p.MaxAge > 0 {
			return invalid("missing iat claim")
		}
		return nil
	}

	parsed.IssuedAt = c.IssuedAt.Time()
	if p.MaxAge <= 0 {
		return nil
	}

	now := time.Now
	if p.now != nil {
		now = p.now
	}

	if age := now().Sub(parsed.IssuedAt); age > p.MaxAge {
		return serviceerr.RequestTooOld(p.MaxAge, age)
	}

	return nil
}

func project(raw map[string]json.RawMessage, field string, into any) error {
	payload, ok := raw[field]
	if !ok || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return serviceerr.ErrMalformedPayload.WithDescription("claim %q missing", field)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(into); err != nil {
		return serviceerr.ErrMalformedPayload.WithDescription("claim %q: %v", field, err)
	}

	return nil
}

func isUnsigned(token string) bool {
	header, _, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}

	b, err := base64.RawURLEncoding.DecodeString(header)
	if err != nil {
		return false
	}

	var h struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(b, &h); err != nil {
		return false
	}

	return strings.EqualFold(h.Alg, "none")
}

// parseUnsigned decodes a token with alg none. A token claiming to be
// unsigned but carrying a signature is rejected.
func parseUnsigned(token string) (claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return claims{}, errors.New("malformed unsigned token")
	}
	if parts[2] != "" {
		return claims{}, errors.New("unsigned token carries a signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return claims{}, fmt.Errorf("decoding payload: %w", err)
	}

	var c claims
	if err := json.Unmarshal(payload, &c.Claims); err != nil {
		return claims{}, fmt.Errorf("decoding claims: %w", err)
	}
	if err := json.Unmarshal(payload, &c.raw); err != nil {
		return claims{}, fmt.Errorf("decoding claims: %w", err)
	}

	return c, nil
}

func invalid(format string, args ...any) error {
	return serviceerr.ErrRequestInvalid.WithDescription(format, args...)
}
