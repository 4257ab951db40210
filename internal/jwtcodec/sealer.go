package jwtcodec

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Sealer signs claim sets with the broker's private key.
type Sealer struct {
	signer jose.Signer
	public jose.JSONWebKey
	issuer string
	now    func() time.Time
}

func NewSealer(key crypto.Signer, keyID, issuer string) (*Sealer, error) {
	alg, err := algorithmFor(key)
	if err != nil {
		return nil, err
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: jose.JSONWebKey{Key: key, KeyID: keyID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Sealer{
		signer: signer,
		public: jose.JSONWebKey{Key: key.Public(), KeyID: keyID, Algorithm: string(alg), Use: "sig"},
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// PublicKey returns the verification key of sealed tokens.
func (s *Sealer) PublicKey() jose.JSONWebKey {
	return s.public
}

// Seal returns a signed token with the given subject holding payload, valid for validity.
// payload must marshal to a JSON object.
func (s *Sealer) Seal(subject string, payload any, validity time.Duration) (string, error) {
	now := s.now()

	std := jwt.Claims{
		Subject:  subject,
		Issuer:   s.issuer,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(validity)),
	}

	token, err := jwt.Signed(s.signer).Claims(payload).Claims(std).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", subject, err)
	}

	return token, nil
}

func algorithmFor(key crypto.Signer) (jose.SignatureAlgorithm, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return jose.RS256, nil
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jose.ES256, nil
		case elliptic.P384():
			return jose.ES384, nil
		case elliptic.P521():
			return jose.ES512, nil
		}
	case ed25519.PrivateKey:
		return jose.EdDSA, nil
	}

	return "", fmt.Errorf("unsupported signing key type %T", key)
}
