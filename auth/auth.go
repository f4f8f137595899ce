package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrNoToken = errors.New("auth: empty bearer token")

type Client interface {
	// Token returns the bearer credential of the current user.
	Token(ctx context.Context) (string, error)
}

// Verifier authenticates an incoming channel request and returns the user id.
// Only the dev backend verifies; the client core just presents the token.
type Verifier interface {
	Verify(r *http.Request) (string, error)
}

// StaticClient serves a token supplied by configuration.
type StaticClient struct {
	token string
}

func NewStaticClient(token string) *StaticClient {
	return &StaticClient{token: token}
}

func (c *StaticClient) Token(ctx context.Context) (string, error) {
	if c.token == "" {
		return "", ErrNoToken
	}
	return c.token, nil
}

// ChannelURL builds `{base}/ws/chat/{tenant}/?token={token}`.
// base may use http(s) schemes, they are mapped to ws(s).
func ChannelURL(base, tenant, token string) (string, error) {
	if tenant == "" {
		return "", fmt.Errorf("auth: empty tenant id")
	}
	if token == "" {
		return "", ErrNoToken
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("auth: bad channel base %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("auth: unsupported channel scheme %q", u.Scheme)
	}
	u.Path = u.Path + "/ws/chat/" + tenant + "/"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// Redact hides the token of a channel url for logging.
func Redact(channelURL string) string {
	u, err := url.Parse(channelURL)
	if err != nil {
		return "<bad url>"
	}
	q := u.Query()
	if q.Get("token") != "" {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
