package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
ws_url: wss://chat.example.com
api_url: https://chat.example.com
tenant_id: acme
token: tok-1
conversation_id: "42"
user_id: u1
max_attachment: 25MB
typing_expiry: 6s
typing_refresh: 2
cache_ttl_days: 7
auto_reply: true
`

func write(t *testing.T, name, content string) string {
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(write(t, "minichat.yaml", sample), "")
	require.NoError(t, err)

	assert.Equal(t, "wss://chat.example.com", cfg.WSURL)
	assert.Equal(t, "42", cfg.ConversationID)
	assert.Equal(t, SizeBytes(25_000_000), cfg.MaxAttachment)
	assert.Equal(t, 6*time.Second, cfg.TypingExpiry.D())
	assert.Equal(t, 2*time.Second, cfg.TypingRefresh.D())
	assert.Equal(t, int32(7), cfg.CacheTTLDays)
	assert.True(t, cfg.AutoReply)
	// untouched defaults
	assert.Equal(t, 30*time.Second, cfg.ReconcileWindow.D())
	assert.Equal(t, 50, cfg.PageSize)
	assert.Empty(t, cfg.Validate())
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.NoError(t, err)
	assert.Equal(t, Default().MaxAttachment, cfg.MaxAttachment)
}

func TestBadYAML(t *testing.T) {
	_, err := Load(write(t, "bad.yaml", "max_attachment: lots\n"), "")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MINICHAT_TOKEN", "from-env")
	t.Setenv("MINICHAT_MAX_ATTACHMENT", "1MiB")
	t.Setenv("MINICHAT_NOTICE_TTL", "250ms")
	t.Setenv("MINICHAT_AUTO_REPLY", "false")

	cfg, err := Load(write(t, "minichat.yaml", sample), "")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Token)
	assert.Equal(t, SizeBytes(1<<20), cfg.MaxAttachment)
	assert.Equal(t, 250*time.Millisecond, cfg.NoticeTTL.D())
	assert.False(t, cfg.AutoReply)

	t.Setenv("MINICHAT_CACHE_TTL_DAYS", "week")
	_, err = Load("", "")
	assert.Error(t, err)
}

func TestDotenv(t *testing.T) {
	dotenv := write(t, ".env", "MINICHAT_USER_ID=u-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("MINICHAT_USER_ID") })

	cfg, err := Load("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, "u-dotenv", cfg.UserID)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.WSURL = "ftp://x"
	cfg.TypingRefresh = Duration(10 * time.Second)
	problems := cfg.Validate()

	assert.Contains(t, problems, "tenant_id is required")
	assert.Contains(t, problems, "token is required")
	assert.Contains(t, problems, "ws_url scheme must be one of [ws wss http https]")
	assert.Contains(t, problems, "typing_refresh (10s) must be shorter than typing_expiry (5s)")
}

func TestParseSize(t *testing.T) {
	s, err := ParseSize("10MB")
	require.NoError(t, err)
	assert.Equal(t, "10 MB", s.String())

	s, err = ParseSize("2048")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), s.Int64())

	_, err = ParseSize("big")
	assert.Error(t, err)
}
