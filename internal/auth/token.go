package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// DefaultTokenTTL bounds the validity window of issued tokens when the
// caller does not configure one.
const DefaultTokenTTL = time.Hour

// Claims is the identity material embedded in an issued token. Authorities
// keep the order they were issued with.
type Claims struct {
	Subject     string
	Authorities []string
}

// TokenOption configures a TokenManager instance.
type TokenOption func(*TokenManager)

// WithTokenClock overrides the clock used for issue and expiry checks.
// Intended for tests.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// TokenManager issues and verifies HS256-signed bearer tokens. The signing
// key is read-only after construction, so all methods are safe for
// concurrent use without locking.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager constructs a TokenManager with the provided signing secret
// and validity window.
func NewTokenManager(secret []byte, ttl time.Duration, opts ...TokenOption) (*TokenManager, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	manager := &TokenManager{secret: secret, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	return manager, nil
}

// TTL returns the validity window applied to issued tokens.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue creates a signed token for the subject carrying the provided
// authorities. Expiry is issue time plus the configured validity window.
func (m *TokenManager) Issue(subject string, authorities []string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	now := m.now()
	claims := jwt.MapClaims{
		"sub":         subject,
		"authorities": authorities,
		"iat":         now.Unix(),
		"exp":         now.Add(m.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate reports whether the token's signature verifies and its expiry has
// not elapsed. It never returns an error: malformed, tampered, and expired
// input all yield false.
func (m *TokenManager) Validate(tokenString string) bool {
	_, err := m.parse(tokenString)
	return err == nil
}

// Decode extracts the embedded claims from a token. Callers are expected to
// have checked Validate first; Decode re-verifies and fails on any invalid
// input rather than trusting the caller.
func (m *TokenManager) Decode(tokenString string) (Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return Claims{}, err
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Claims{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	decoded := Claims{Subject: sub}
	if raw, ok := claims["authorities"].([]interface{}); ok {
		decoded.Authorities = make([]string, 0, len(raw))
		for _, entry := range raw {
			if name, ok := entry.(string); ok {
				decoded.Authorities = append(decoded.Authorities, name)
			}
		}
	}
	return decoded, nil
}

func (m *TokenManager) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenFromRequest extracts a bearer token from the Authorization header.
// A missing header or a non-Bearer scheme reads as absence, not an error.
func TokenFromRequest(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
