// Package keys resolves the public keys requesters sign their session
// requests with, and loads the server's own signing key.
package keys

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/patrickmn/go-cache"
)

const envPrefix = "ANONCRED_JWT_"

var ErrKeyNotFound = errors.New("public key not found")

// PublicKey is a resolved requester key together with the requester it belongs to.
type PublicKey struct {
	Key   crypto.PublicKey
	Owner string
}

// Directory resolves keys per requester kind (verifiers, sigclients, issuers)
// from environment variables or from files below a root directory.
type Directory struct {
	root   string
	names  map[string]string
	cache  *cache.Cache
	lookup func(string) (string, bool)
}

type Option func(*Directory)

// WithLookupEnv replaces the environment lookup.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(d *Directory) { d.lookup = fn }
}

func NewDirectory(root string, names map[string]string, ttl time.Duration, opts ...Option) *Directory {
	d := &Directory{
		root:   root,
		names:  names,
		cache:  cache.New(ttl, 2*ttl),
		lookup: os.LookupEnv,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	return d
}

// Owner returns the requester name a key identifier belongs to.
func (d *Directory) Owner(keyID string) string {
	if name, ok := d.names[keyID]; ok {
		return name
	}

	return keyID
}

// Resolve returns the key with the given identifier of the given requester kind.
func (d *Directory) Resolve(kind, keyID string) (PublicKey, error) {
	if keyID == "" || strings.ContainsAny(keyID, `/\`) || strings.Contains(keyID, "..") {
		return PublicKey{}, fmt.Errorf("%w: invalid key id %q", ErrKeyNotFound, keyID)
	}

	cacheKey := kind + "/" + keyID
	if v, ok := d.cache.Get(cacheKey); ok {
		return v.(PublicKey), nil
	}

	key, err := d.load(kind, keyID)
	if err != nil {
		return PublicKey{}, err
	}

	pk := PublicKey{Key: key, Owner: d.Owner(keyID)}
	d.cache.Set(cacheKey, pk, cache.DefaultExpiration)

	return pk, nil
}

func (d *Directory) load(kind, keyID string) (crypto.PublicKey, error) {
	if v, ok := d.lookup(envName(kind, keyID)); ok {
		data, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("decoding key %s from environment: %w", keyID, err)
		}

		return ParsePublicKey(data)
	}

	base := filepath.Join(d.root, kind, keyID)
	for _, ext := range []string{".pem", ".der", ".jwk"} {
		data, err := os.ReadFile(base + ext)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading key %s: %w", keyID, err)
		}

		return ParsePublicKey(data)
	}

	return nil, fmt.Errorf("%w: %s/%s", ErrKeyNotFound, kind, keyID)
}

// ParsePublicKey accepts a PEM or DER encoded PKIX key or certificate, or a JWK.
func ParsePublicKey(data []byte) (crypto.PublicKey, error) {
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "{") {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON([]byte(trimmed)); err != nil {
			return nil, fmt.Errorf("parsing jwk: %w", err)
		}

		return jwk.Public().Key, nil
	}

	return parsePKIX(data)
}

func envName(kind, keyID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, kind+"_"+keyID)

	return envPrefix + name
}
