// ABOUTME: Unit tests for JWT verification and issuance
// ABOUTME: Covers valid, tampered, expired and wrong-algorithm tokens

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-for-jwt-signing")

func TestJWTVerifier_RoundTrip(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	for _, subject := range []string{"user-1", "user-2", "svc:uploader"} {
		token, err := verifier.Generate(subject, time.Hour)
		if err != nil {
			t.Fatalf("Generate(%q) error = %v", subject, err)
		}
		got, err := verifier.Verify(token)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if got != subject {
			t.Errorf("Verify() = %q, want %q", got, subject)
		}
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	otherSecret, _ := NewJWTVerifier([]byte("different-secret")).Generate("user-1", time.Hour)
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "user-1"}).SignedString(testSecret)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "parley"}).SignedString(testSecret)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty token", "", ErrInvalidToken},
		{"garbage token", "not-a-jwt-token", ErrInvalidToken},
		{"malformed JWT", "header.payload.signature", ErrInvalidToken},
		{"wrong secret", otherSecret, ErrInvalidToken},
		{"wrong algorithm", hs512, ErrInvalidToken},
		{"missing subject", noSubject, ErrMissingClaim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := verifier.Generate("user-1", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}
