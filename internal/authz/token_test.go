package authz

import (
	"errors"
	"testing"
	"time"
)

func testTokenConfig() TokenConfig {
	return TokenConfig{
		SigningKey: "test-signing-key",
		Issuer:     "campushub-idp",
		TTL:        time.Hour,
	}
}

func TestSignAndParseTenantToken(t *testing.T) {
	cfg := testTokenConfig()
	tc, _ := NewTenantContext("t-acme", "u-1", RoleInstructor)

	tokenString, err := SignTenantToken(tc, cfg)
	if err != nil {
		t.Fatalf("SignTenantToken failed: %v", err)
	}

	parsed, err := ParseTenantToken(tokenString, cfg)
	if err != nil {
		t.Fatalf("ParseTenantToken failed: %v", err)
	}

	if !parsed.Equal(tc) {
		t.Errorf("parsed = %s, want %s", parsed.String(), tc.String())
	}
}

func TestParseTenantToken_WrongKey(t *testing.T) {
	cfg := testTokenConfig()
	tc, _ := NewTenantContext("t-acme", "u-1", RoleStudent)

	tokenString, err := SignTenantToken(tc, cfg)
	if err != nil {
		t.Fatalf("SignTenantToken failed: %v", err)
	}

	wrong := cfg
	wrong.SigningKey = "other-key"

	if _, err := ParseTenantToken(tokenString, wrong); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTenantToken_Expired(t *testing.T) {
	cfg := testTokenConfig()
	cfg.TTL = -time.Minute

	tc, _ := NewTenantContext("t-acme", "u-1", RoleStudent)

	tokenString, err := SignTenantToken(tc, cfg)
	if err != nil {
		t.Fatalf("SignTenantToken failed: %v", err)
	}

	if _, err := ParseTenantToken(tokenString, cfg); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTenantToken_Garbage(t *testing.T) {
	if _, err := ParseTenantToken("not-a-token", testTokenConfig()); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
