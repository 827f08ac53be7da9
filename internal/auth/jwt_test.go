package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, key *rsa.PrivateKey, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	return token
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("keygen error: %v", err)
	}
	return key
}

func TestParseTokenRoundTrip(t *testing.T) {
	key := generateKey(t)
	token := signToken(t, key, jwt.SigningMethodRS256, Claims{
		UserID:   "user-1",
		UserType: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "psychometric",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})

	claims, err := ParseToken(&key.PublicKey, "psychometric", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserID != "user-1" || !claims.Operator() {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	key := generateKey(t)
	other := generateKey(t)
	valid := Claims{
		UserID:   "user-1",
		UserType: "candidate",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "psychometric",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	tests := map[string]string{
		"wrong key":    signToken(t, other, jwt.SigningMethodRS256, valid),
		"wrong issuer": signToken(t, key, jwt.SigningMethodRS256, Claims{UserID: "user-1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "elsewhere"}}),
		"expired":      signToken(t, key, jwt.SigningMethodRS256, expired),
		"wrong method": signToken(t, key, jwt.SigningMethodRS512, valid),
		"garbage":      "not-a-token",
	}
	for name, token := range tests {
		if _, err := ParseToken(&key.PublicKey, "psychometric", token); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := ParseToken(nil, "", signToken(t, key, jwt.SigningMethodRS256, valid)); err == nil {
		t.Fatalf("expected error without public key")
	}
}

func TestClaimsOperator(t *testing.T) {
	tests := map[string]bool{"admin": true, "dev": true, "proctor": false, "candidate": false}
	for userType, want := range tests {
		claims := &Claims{UserType: userType}
		if got := claims.Operator(); got != want {
			t.Fatalf("%s: expected %v, got %v", userType, want, got)
		}
	}
	var missing *Claims
	if missing.Operator() {
		t.Fatalf("nil claims must not be an operator")
	}
}

func TestParseRSAPublicKey(t *testing.T) {
	key := generateKey(t)
	pkix, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	encoded := map[string]string{
		"PUBLIC KEY":     string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkix})),
		"RSA PUBLIC KEY": string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})),
	}
	for name, data := range encoded {
		parsed, err := ParseRSAPublicKey(data)
		if err != nil {
			t.Fatalf("%s: parse error: %v", name, err)
		}
		if !parsed.Equal(&key.PublicKey) {
			t.Fatalf("%s: parsed key mismatch", name)
		}
	}
	if _, err := ParseRSAPublicKey("garbage"); err == nil {
		t.Fatalf("expected error for invalid pem")
	}
}
