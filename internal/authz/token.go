package authz

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken the token is missing, malformed, expired or incorrectly signed.
var ErrInvalidToken = errors.New("authz: invalid tenant token")

// TokenConfig configures the authentication boundary.
type TokenConfig struct {
	// SigningKey is the HMAC key shared with the identity service.
	SigningKey string `conf:"signing_key" yaml:"signing_key" json:"signing_key"`
	// Issuer is the expected token issuer.
	Issuer string `conf:"issuer" yaml:"issuer" json:"issuer"`
	// TTL is the lifetime of tokens issued by SignTenantToken.
	TTL time.Duration `conf:"ttl" yaml:"ttl" json:"ttl"`
}

// tenantClaims carry the {tenant, user, role} triple inside the signed token.
type tenantClaims struct {
	TenantID string `json:"tid"`
	UserID   string `json:"uid"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// ParseTenantToken validates a signed token and produces the TenantContext for
// the request. This is the only production path that constructs a
// TenantContext.
func ParseTenantToken(tokenString string, cfg TokenConfig) (TenantContext, error) {
	var claims tenantClaims

	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return []byte(cfg.SigningKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return TenantContext{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	role, err := ParseRole(claims.Role)
	if err != nil {
		return TenantContext{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	tc, err := NewTenantContext(claims.TenantID, claims.UserID, role)
	if err != nil {
		return TenantContext{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return tc, nil
}

// SignTenantToken issues a signed token for tc. Used by the identity service
// and by tests; resolvers never mint their own tokens.
func SignTenantToken(tc TenantContext, cfg TokenConfig) (string, error) {
	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tenantClaims{
		TenantID: tc.TenantID,
		UserID:   tc.UserID,
		Role:     tc.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			Subject:   tc.UserID,
		},
	})

	tokenString, err := token.SignedString([]byte(cfg.SigningKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign tenant token: %w", err)
	}

	return tokenString, nil
}
