package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kinds of stateless tokens. A token issued for one kind must never verify
// as another, even if cryptographically well-formed.
const (
	KindMagicLink     = "magic-link"
	KindPasswordReset = "password-reset"
)

var (
	ErrExpired   = errors.New("token expired")
	ErrMalformed = errors.New("token malformed")
	ErrWrongKind = errors.New("token kind mismatch")
)

// Claims carried by stateless tokens.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Kind  string `json:"kind"`
}

// Issuer signs and verifies stateless, self-describing tokens (magic links,
// password resets) and generates opaque bearer strings for stateful rows
// (sessions, linking tokens). Verification is a pure function over current
// time; single-use bookkeeping, where needed, is the caller's job.
type Issuer struct {
	secret []byte
}

// NewIssuer creates an Issuer signing with the given secret.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Issue signs a token of the given kind for an email address, valid for ttl.
func (i *Issuer) Issue(kind, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Kind:  kind,
	})
	return tok.SignedString(i.secret)
}

// Verify checks signature and expiry, then the kind discriminator.
// Returns ErrExpired past TTL, ErrMalformed on encoding/signature failure,
// ErrWrongKind when the discriminator does not match expectedKind.
func (i *Issuer) Verify(tokenString, expectedKind string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrMalformed
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}
	if !tok.Valid {
		return nil, ErrMalformed
	}
	if claims.Kind != expectedKind {
		return nil, ErrWrongKind
	}
	return claims, nil
}

// NewOpaque returns a 256-bit random bearer string, base64url without
// padding. Used for session and linking tokens, which live as rows.
func NewOpaque() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash returns the hex SHA-256 of an opaque token. Rows store the hash, not
// the plaintext.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
