package utils

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateJWT_RoundTrip(t *testing.T) {
	issuer := "test-issuer"
	deviceID := "device-42"
	key := "secret-key"

	token, err := GenerateJWT(issuer, deviceID, time.Hour, key)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token string")
	}

	subject, err := ValidateAndParseJWT(token, key, issuer)
	if err != nil {
		t.Fatalf("expected token to validate, got: %v", err)
	}
	if subject != deviceID {
		t.Errorf("expected subject %s, got %s", deviceID, subject)
	}
}

func TestGenerateJWT_InvalidParams(t *testing.T) {
	tests := []struct {
		name     string
		issuer   string
		deviceID string
		duration time.Duration
		key      string
	}{
		{"empty issuer", "", "dev", time.Hour, "key"},
		{"empty device id", "iss", "", time.Hour, "key"},
		{"zero duration", "iss", "dev", 0, "key"},
		{"empty key", "iss", "dev", time.Hour, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateJWT(tt.issuer, tt.deviceID, tt.duration, tt.key)
			if err == nil {
				t.Error("expected error for invalid parameters, got nil")
			}
		})
	}
}

func TestValidateAndParseJWT_WrongKey(t *testing.T) {
	token, err := GenerateJWT("iss", "dev", time.Hour, "right-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err = ValidateAndParseJWT(token, "wrong-key", "iss"); err == nil {
		t.Error("expected error for token signed with a different key")
	}
}

func TestValidateAndParseJWT_WrongIssuer(t *testing.T) {
	token, err := GenerateJWT("iss", "dev", time.Hour, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err = ValidateAndParseJWT(token, "key", "other-issuer"); err == nil {
		t.Error("expected error for token from a different issuer")
	}
}

func TestValidateAndParseJWT_Expired(t *testing.T) {
	token, err := GenerateJWT("iss", "dev", -time.Minute, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = ValidateAndParseJWT(token, "key", "iss")
	if !errors.Is(err, ErrTokenIsExpired) {
		t.Fatalf("expected ErrTokenIsExpired, got %v", err)
	}
}

func TestValidateAndParseJWT_Garbage(t *testing.T) {
	if _, err := ValidateAndParseJWT("not.a.token", "key", "iss"); err == nil {
		t.Error("expected error for malformed token")
	}
}
