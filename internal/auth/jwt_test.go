package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func TestJWTRoundTrip(t *testing.T) {
	tok, err := GenerateJWT(testSecret, "validator-1", "oracle", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ParseJWT(testSecret, tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "validator-1" {
		t.Errorf("subject = %q", claims.Subject)
	}
	if claims.Role != "oracle" {
		t.Errorf("role = %q", claims.Role)
	}
}

func TestParseJWTRejects(t *testing.T) {
	good, _ := GenerateJWT(testSecret, "ops", "operator", time.Hour)
	fallback, _ := GenerateJWT(testSecret, "ops", "operator", -time.Hour)
	noSubject, _ := GenerateJWT(testSecret, "", "operator", time.Hour)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "operator",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", Issuer: "someone-else"},
	})
	foreignTok, _ := foreign.SignedString([]byte(testSecret))

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"wrong secret", "other", good},
		{"garbage", testSecret, "not.a.jwt"},
		{"no subject", testSecret, noSubject},
		{"wrong issuer", testSecret, foreignTok},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJWT(tt.secret, tt.token); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	// non-positive expiration falls back to 24h
	if _, err := ParseJWT(testSecret, fallback); err != nil {
		t.Fatalf("fallback expiration: %v", err)
	}
}
