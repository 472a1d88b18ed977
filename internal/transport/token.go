package transport

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token sent to the hub.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed bearer token. Empty means no authorization.
type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

// JWTSource mints short-lived HS256 tokens and reuses one until it is
// close to expiry.
type JWTSource struct {
	Secret   []byte
	Issuer   string
	Subject  string
	Audience string
	TTL      time.Duration

	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

const defaultTokenTTL = time.Hour

// NewJWTSource returns a source signing with secret.
func NewJWTSource(secret []byte, issuer, subject, audience string, ttl time.Duration) *JWTSource {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &JWTSource{Secret: secret, Issuer: issuer, Subject: subject, Audience: audience, TTL: ttl, now: time.Now}
}

// Token returns a cached token, minting a new one in the last tenth of the
// previous token's lifetime.
func (s *JWTSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.expires.Add(-s.TTL/10)) {
		return s.token, nil
	}

	claims := jwt.RegisteredClaims{
		Issuer:    s.Issuer,
		Subject:   s.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
	}
	if s.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", err
	}
	s.token = signed
	s.expires = now.Add(s.TTL)
	return signed, nil
}
