package integration

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testKeyID  = "shop-es256-1"
	testIssuer = "https://api.shop.test"
)

// tokenIssuer plays the backend's auth service: it signs ES256 access
// tokens and publishes the public half as a JWKS document.
type tokenIssuer struct {
	key  *ecdsa.PrivateKey
	jwks *httptest.Server
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	ti := &tokenIssuer{key: key}

	doc, err := json.Marshal(map[string]any{"keys": []any{ecJWK(testKeyID, &key.PublicKey)}})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	ti.jwks = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/jwk-set+json")
		w.Write(doc)
	}))
	t.Cleanup(ti.jwks.Close)
	return ti
}

// ecJWK encodes pub as an RFC 7518 EC key with fixed-width coordinates.
func ecJWK(kid string, pub *ecdsa.PublicKey) map[string]any {
	size := (pub.Curve.Params().BitSize + 7) / 8
	coord := func(b []byte) string {
		padded := make([]byte, size)
		copy(padded[size-len(b):], b)
		return base64.RawURLEncoding.EncodeToString(padded)
	}
	return map[string]any{
		"kid": kid,
		"kty": "EC",
		"crv": pub.Curve.Params().Name,
		"alg": "ES256",
		"use": "sig",
		"x":   coord(pub.X.Bytes()),
		"y":   coord(pub.Y.Bytes()),
	}
}

// Issue signs an access token for an admin. A negative ttl gives a token
// that has already expired.
func (ti *tokenIssuer) Issue(subject, email string, roles []string, ttl time.Duration) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   testIssuer,
		"sub":   subject,
		"email": email,
		"iat":   jwt.NewNumericDate(now),
		"exp":   jwt.NewNumericDate(now.Add(ttl)),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(ti.key)
	if err != nil {
		panic("sign access token: " + err.Error())
	}
	return signed
}

// Verify checks a bearer token the way the backend's gateway would.
func (ti *tokenIssuer) Verify(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != testKeyID {
			return nil, errors.New("unknown signing key")
		}
		return &ti.key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(testIssuer),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (ti *tokenIssuer) JWKSURL() string {
	return ti.jwks.URL
}
