package config

import (
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/swingbuddy/swingbuddy/internal/errs"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Bot.Token = "123:abc"
	cfg.Bot.AdminIDs = []int64{1}
	cfg.Database.URL = "swingbuddy.db"
	cfg.Redis.URL = "redis://localhost:6379"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateFatalRules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		corrupt func(*Config)
	}{
		{"empty token", func(c *Config) { c.Bot.Token = "  " }},
		{"no admins", func(c *Config) { c.Bot.AdminIDs = nil }},
		{"empty db url", func(c *Config) { c.Database.URL = "" }},
		{"zero min connections", func(c *Config) { c.Database.MinConnections = 0 }},
		{"max below min", func(c *Config) { c.Database.MaxConnections = 1; c.Database.MinConnections = 5 }},
		{"empty redis url", func(c *Config) { c.Redis.URL = "" }},
		{"zero cas timeout", func(c *Config) { c.CAS.TimeoutSeconds = 0 }},
		{"default language unsupported", func(c *Config) { c.I18n.DefaultLanguage = "fr" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.corrupt(cfg)
			err := cfg.Validate()
			if !errors.Is(err, errs.ErrConfig) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestConfigHelpers(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Bot.AdminIDs = []int64{10, 20}

	if !cfg.IsSupportedLanguage("ru") || cfg.IsSupportedLanguage("fr") {
		t.Fatal("supported language lookup is wrong")
	}
	if !cfg.IsBotAdmin(20) || cfg.IsBotAdmin(30) {
		t.Fatal("admin lookup is wrong")
	}
	if cfg.SuperAdminID() != 10 {
		t.Fatalf("super admin should be the first id, got %d", cfg.SuperAdminID())
	}
	if cfg.CASTimeout() != 5*time.Second {
		t.Fatalf("unexpected cas timeout %s", cfg.CASTimeout())
	}
	if cfg.CacheTTL() != time.Hour {
		t.Fatalf("unexpected cache ttl %s", cfg.CacheTTL())
	}
	if cfg.LogLevel() != log.InfoLevel {
		t.Fatalf("unexpected log level %s", cfg.LogLevel())
	}
}
