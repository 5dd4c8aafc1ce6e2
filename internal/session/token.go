package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/model"
)

// Claims are the parts of a backend token the console uses.
type Claims struct {
	Subject   string
	Email     string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenInspector reads claims from backend-issued tokens. Without a JWKS
// the token is decoded without verification, and opaque tokens yield empty
// claims: the backend stays the authority on every call either way.
type TokenInspector struct {
	jwks       *JWKSClient
	algorithms []string
	roleClaim  string
}

// NewTokenInspector creates an inspector. jwks may be nil.
func NewTokenInspector(cfg config.SessionConfig, jwks *JWKSClient) *TokenInspector {
	roleClaim := cfg.RoleClaim
	if roleClaim == "" {
		roleClaim = "roles"
	}
	return &TokenInspector{jwks: jwks, algorithms: cfg.Algorithms, roleClaim: roleClaim}
}

// Inspect returns the claims of token.
func (i *TokenInspector) Inspect(token string) (Claims, error) {
	var claims jwt.MapClaims
	if i.jwks != nil {
		parsed, err := jwt.Parse(token, i.jwks.Keyfunc,
			jwt.WithValidMethods(i.algorithms),
			jwt.WithLeeway(30*time.Second),
		)
		if err != nil {
			return Claims{}, model.NewUnauthorizedError(classifyJWTError(err))
		}
		mc, ok := parsed.Claims.(jwt.MapClaims)
		if !ok || !parsed.Valid {
			return Claims{}, model.NewUnauthorizedError("Invalid token")
		}
		claims = mc
	} else {
		if strings.Count(token, ".") != 2 {
			return Claims{}, nil
		}
		mc := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
			return Claims{}, nil
		}
		claims = mc
	}

	out := Claims{
		Subject: claimString(claims, "sub"),
		Email:   claimString(claims, "email"),
		Roles:   claimStringSlice(claims, i.roleClaim),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	return out, nil
}

func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, errUnknownKey):
		return "Unknown signing key"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Malformed token"
	default:
		return "Invalid token"
	}
}

func claimString(claims map[string]any, key string) string {
	v, _ := claims[key].(string)
	return v
}

// claimStringSlice accepts a JSON array or a single space- or
// comma-separated string.
func claimStringSlice(claims map[string]any, key string) []string {
	switch raw := claims[key].(type) {
	case []any:
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' })
	default:
		return nil
	}
}
