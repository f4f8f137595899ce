package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelURL(t *testing.T) {
	u, err := ChannelURL("https://chat.example.com/", "acme", "abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws/chat/acme/?token=abc", u)

	u, err = ChannelURL("ws://127.0.0.1:8080", "t1", "a b")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/ws/chat/t1/?token=a+b", u)

	_, err = ChannelURL("ftp://x", "t1", "abc")
	assert.Error(t, err)
	_, err = ChannelURL("ws://x", "", "abc")
	assert.Error(t, err)
	_, err = ChannelURL("ws://x", "t1", "")
	assert.Equal(t, ErrNoToken, err)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "wss://h/ws/chat/t/?token=REDACTED", Redact("wss://h/ws/chat/t/?token=secret"))
}

func TestStaticClient(t *testing.T) {
	tok, err := NewStaticClient("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = NewStaticClient("").Token(context.Background())
	assert.Equal(t, ErrNoToken, err)
}

func TestMockVerifier(t *testing.T) {
	v := &MockVerifier{Tokens: map[string]string{"t-1": "u1"}}

	r := httptest.NewRequest(http.MethodGet, "/ws/chat/x/?token=t-1", nil)
	uid, err := v.Verify(r)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	r = httptest.NewRequest(http.MethodGet, "/api/", nil)
	r.Header.Set("Authorization", "Bearer t-1")
	uid, err = v.Verify(r)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	r = httptest.NewRequest(http.MethodGet, "/ws/chat/x/?token=bad", nil)
	_, err = v.Verify(r)
	assert.Error(t, err)

	r = httptest.NewRequest(http.MethodGet, "/ws/chat/x/", nil)
	r.AddCookie(&http.Cookie{Name: "x-uid", Value: "u9"})
	uid, err = v.Verify(r)
	require.NoError(t, err)
	assert.Equal(t, "u9", uid)
}
