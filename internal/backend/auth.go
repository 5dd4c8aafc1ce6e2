package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/pitabwire/console/model"
)

// Credentials are the admin's sign-in details.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a backend bearer token.
func (c *Client) Login(ctx context.Context, creds Credentials) (string, error) {
	data, err := c.Do(ctx, nil, Request{
		Operation: "auth.login",
		Method:    http.MethodPost,
		Path:      c.loginPath,
		Body:      creds,
		Anonymous: true,
	})
	if err != nil {
		if model.HasCode(err, model.ErrSessionExpired) {
			return "", model.NewUnauthorizedError("Invalid email or password")
		}
		return "", err
	}
	token := extractToken(data)
	if token == "" {
		return "", model.NewBackendRejectedError("The backend did not return a token")
	}
	return token, nil
}

// extractToken reads the token from a bare string or from one of the usual
// object keys.
func extractToken(data json.RawMessage) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"token", "accessToken", "access_token", "jwt"} {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
