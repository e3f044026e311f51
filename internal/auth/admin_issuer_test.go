package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *AdminIssuer {
	t.Helper()
	issuer, err := NewAdminIssuer(AdminIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		AccessKey:     "correct-horse",
		Issuer:        "pulse-api",
		Audience:      "pulse-admin",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	return issuer
}

func TestNewAdminIssuerRequiresSecretAndKey(t *testing.T) {
	if _, err := NewAdminIssuer(AdminIssuerConfig{AccessKey: "key"}); err == nil {
		t.Fatalf("expected an error for a missing signing secret")
	}
	if _, err := NewAdminIssuer(AdminIssuerConfig{SigningSecret: []byte("secret"), AccessKey: "  "}); err == nil {
		t.Fatalf("expected an error for a missing access key")
	}
}

func TestLoginIssuesValidatableToken(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(t, func() time.Time { return now })

	token, expiresIn, err := issuer.Login("correct-horse")
	if err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if subject != "admin" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestLoginRejectsWrongAccessKey(t *testing.T) {
	issuer := newTestIssuer(t, time.Now)

	if _, _, err := issuer.Login("battery-staple"); !errors.Is(err, ErrInvalidAccessKey) {
		t.Fatalf("expected ErrInvalidAccessKey, got %v", err)
	}
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	current := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(t, func() time.Time { return current })

	token, _, err := issuer.Login("correct-horse")
	if err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}

	current = current.Add(31 * time.Minute)
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("expected an expiry error")
	}
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	issuer := newTestIssuer(t, time.Now)

	foreign, err := NewAdminIssuer(AdminIssuerConfig{
		SigningSecret: []byte("another-secret"),
		AccessKey:     "correct-horse",
		Issuer:        "pulse-api",
		Audience:      "pulse-admin",
	})
	if err != nil {
		t.Fatalf("failed to construct foreign issuer: %v", err)
	}
	token, _, err := foreign.Login("correct-horse")
	if err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}

	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("a token signed with another secret must be rejected")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	issuer := newTestIssuer(t, time.Now)

	if _, err := issuer.ValidateToken("not-a-jwt"); err == nil {
		t.Fatalf("expected a parse error")
	}
}
