package auth

import (
	"errors"
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, "user-1")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := ParseToken("secret", token, TokenTypeAccess)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("unexpected claims")
	}
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	token, err := NewRefreshToken("secret", "issuer", time.Minute, "user-1")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if _, err := ParseToken("secret", token, TokenTypeAccess); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected wrong token type, got %v", err)
	}
	if _, err := ParseToken("secret", token, TokenTypeRefresh); err != nil {
		t.Fatalf("expected refresh parse to succeed, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", -time.Minute, "user-1")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("secret", token, TokenTypeAccess); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, "user-1")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("other-secret", token, TokenTypeAccess); err == nil {
		t.Fatalf("expected signature mismatch to be rejected")
	}
}
