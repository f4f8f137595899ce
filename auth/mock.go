package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// MockVerifier maps tokens to user ids. A `x-uid` cookie is accepted as well,
// so browsers can connect to the dev backend without a token.
type MockVerifier struct {
	Tokens map[string]string
}

func (v *MockVerifier) Verify(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token != "" {
		if uid, ok := v.Tokens[token]; ok {
			return uid, nil
		}
		return "", fmt.Errorf("unknown token")
	}

	if c, err := r.Cookie("x-uid"); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", fmt.Errorf("empty token and x-uid cookie")
}
