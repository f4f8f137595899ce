package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "MINICHAT_"

// Config of the minichat client. Precedence: flags > environment (.env included) > yaml file > defaults.
type Config struct {
	WSURL          string `yaml:"ws_url"`
	APIURL         string `yaml:"api_url"`
	TenantID       string `yaml:"tenant_id"`
	Token          string `yaml:"token"`
	ConversationID string `yaml:"conversation_id"`
	UserID         string `yaml:"user_id"`
	UserName       string `yaml:"user_name"`

	DataDir       string    `yaml:"data_dir"`
	CacheTTLDays  int32     `yaml:"cache_ttl_days"`
	HistoryPages  int       `yaml:"history_pages"`
	PageSize      int       `yaml:"page_size"`
	MaxAttachment SizeBytes `yaml:"max_attachment"`

	TypingExpiry    Duration `yaml:"typing_expiry"`
	TypingRefresh   Duration `yaml:"typing_refresh"`
	ReconcileWindow Duration `yaml:"reconcile_window"`
	NoticeTTL       Duration `yaml:"notice_ttl"`
	RequestTimeout  Duration `yaml:"request_timeout"`

	AutoReply      bool     `yaml:"auto_reply"`
	AutoReplyDelay Duration `yaml:"auto_reply_delay"`

	MetricsAddr    string `yaml:"metrics_addr"`
	DisableMetrics bool   `yaml:"disable_metrics"`
}

func Default() *Config {
	return &Config{
		WSURL:           "ws://127.0.0.1:8000",
		APIURL:          "http://127.0.0.1:8000",
		DataDir:         "./.minichat",
		CacheTTLDays:    30,
		HistoryPages:    4,
		PageSize:        50,
		MaxAttachment:   10 << 20,
		TypingExpiry:    Duration(5 * time.Second),
		TypingRefresh:   Duration(3 * time.Second),
		ReconcileWindow: Duration(30 * time.Second),
		NoticeTTL:       Duration(5 * time.Second),
		RequestTimeout:  Duration(10 * time.Second),
		AutoReplyDelay:  Duration(30 * time.Second),
		MetricsAddr:     ":9108",
	}
}

// Load reads defaults, then path (if it exists), then dotenv (if it exists), then the environment.
func Load(path, dotenv string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			glog.Infof("config: loaded %s", path)
		case os.IsNotExist(err):
			glog.V(5).Infof("config: %s not found, using defaults", path)
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if dotenv != "" {
		if _, err := os.Stat(dotenv); err == nil {
			if err := godotenv.Load(dotenv); err != nil {
				return nil, fmt.Errorf("config: load %s: %w", dotenv, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	str("WS_URL", &c.WSURL)
	str("API_URL", &c.APIURL)
	str("TENANT_ID", &c.TenantID)
	str("TOKEN", &c.Token)
	str("CONVERSATION_ID", &c.ConversationID)
	str("USER_ID", &c.UserID)
	str("USER_NAME", &c.UserName)
	str("DATA_DIR", &c.DataDir)
	str("METRICS_ADDR", &c.MetricsAddr)

	if v, ok := os.LookupEnv(envPrefix + "CACHE_TTL_DAYS"); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("config: %sCACHE_TTL_DAYS: %w", envPrefix, err)
		}
		c.CacheTTLDays = int32(n)
	}
	if v, ok := os.LookupEnv(envPrefix + "MAX_ATTACHMENT"); ok {
		s, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("config: %sMAX_ATTACHMENT: %w", envPrefix, err)
		}
		c.MaxAttachment = s
	}
	for name, dst := range map[string]*Duration{
		"TYPING_EXPIRY":    &c.TypingExpiry,
		"TYPING_REFRESH":   &c.TypingRefresh,
		"RECONCILE_WINDOW": &c.ReconcileWindow,
		"NOTICE_TTL":       &c.NoticeTTL,
		"AUTO_REPLY_DELAY": &c.AutoReplyDelay,
	} {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", envPrefix, name, err)
			}
			*dst = d
		}
	}
	for name, dst := range map[string]*bool{
		"AUTO_REPLY":      &c.AutoReply,
		"DISABLE_METRICS": &c.DisableMetrics,
	} {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", envPrefix, name, err)
			}
			*dst = b
		}
	}
	return nil
}

// DBPath is the bbolt file of the offline store.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "minichat.db")
}

// Validate returns every problem found, empty when the config is usable.
func (c *Config) Validate() []string {
	var problems []string
	checkURL := func(name, v string, schemes ...string) {
		if v == "" {
			problems = append(problems, name+" is required")
			return
		}
		u, err := url.Parse(v)
		if err != nil || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%s %q is not a valid url", name, v))
			return
		}
		for _, s := range schemes {
			if u.Scheme == s {
				return
			}
		}
		problems = append(problems, fmt.Sprintf("%s scheme must be one of %v", name, schemes))
	}
	checkURL("ws_url", c.WSURL, "ws", "wss", "http", "https")
	checkURL("api_url", c.APIURL, "http", "https")

	required := []struct{ name, v string }{
		{"tenant_id", c.TenantID},
		{"token", c.Token},
		{"conversation_id", c.ConversationID},
		{"user_id", c.UserID},
		{"data_dir", c.DataDir},
	}
	for _, r := range required {
		if r.v == "" {
			problems = append(problems, r.name+" is required")
		}
	}

	if c.CacheTTLDays < 0 {
		problems = append(problems, "cache_ttl_days must be >= 0")
	}
	if c.PageSize <= 0 {
		problems = append(problems, "page_size must be > 0")
	}
	if c.MaxAttachment <= 0 {
		problems = append(problems, "max_attachment must be > 0")
	}
	if c.TypingExpiry <= 0 || c.TypingRefresh <= 0 {
		problems = append(problems, "typing_expiry and typing_refresh must be > 0")
	} else if c.TypingRefresh >= c.TypingExpiry {
		problems = append(problems, fmt.Sprintf("typing_refresh (%s) must be shorter than typing_expiry (%s)",
			c.TypingRefresh.D(), c.TypingExpiry.D()))
	}
	if c.AutoReply && c.AutoReplyDelay <= 0 {
		problems = append(problems, "auto_reply_delay must be > 0 when auto_reply is on")
	}
	return problems
}
