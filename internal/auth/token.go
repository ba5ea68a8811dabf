package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for tokens that fail parsing or signature
	// checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for tokens past their expiry.
	ErrExpiredToken = errors.New("token has expired")
	// ErrNoSecret is returned when a TokenManager has no signing key.
	ErrNoSecret = errors.New("token secret not configured")
)

// DefaultTokenTTL is how long a session token stays valid.
const DefaultTokenTTL = 24 * time.Hour

// TokenConfig holds session token settings.
type TokenConfig struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

// DefaultTokenConfig returns the token settings without a secret. Tokens are
// disabled until one is set.
func DefaultTokenConfig() TokenConfig {
	return TokenConfig{
		TTL:    DefaultTokenTTL,
		Issuer: "roomrelay",
	}
}

// Claims are the claims carried by a session token. The subject is the
// username.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 session tokens.
type TokenManager struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenManager creates a TokenManager. A non-positive TTL falls back to
// DefaultTokenTTL.
func NewTokenManager(config TokenConfig) *TokenManager {
	if config.TTL <= 0 {
		config.TTL = DefaultTokenTTL
	}
	return &TokenManager{config: config, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (m *TokenManager) Enabled() bool {
	return m != nil && m.config.Secret != ""
}

// TTL returns the token lifetime.
func (m *TokenManager) TTL() time.Duration {
	return m.config.TTL
}

// Issue signs a token for user.
func (m *TokenManager) Issue(user string) (string, error) {
	if !m.Enabled() {
		return "", ErrNoSecret
	}
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   user,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.Secret))
}

// Validate checks a token and returns the username it was issued for.
func (m *TokenManager) Validate(tokenString string) (string, error) {
	if !m.Enabled() {
		return "", ErrNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.config.Secret), nil
	}, jwt.WithTimeFunc(m.now), jwt.WithIssuer(m.config.Issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
