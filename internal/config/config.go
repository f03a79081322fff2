package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/swingbuddy/swingbuddy/internal/errs"
)

const envPrefix = "SWINGBUDDY_"

type (
	Config struct {
		Bot      Bot      `koanf:"bot"`
		Database Database `koanf:"database"`
		Redis    Redis    `koanf:"redis"`
		Google   Google   `koanf:"google"`
		CAS      CAS      `koanf:"cas"`
		I18n     I18n     `koanf:"i18n"`
		Logging  Logging  `koanf:"logging"`
		Features Features `koanf:"features"`
	}

	Bot struct {
		Token      string  `koanf:"token"`
		WebhookURL string  `koanf:"webhook_url"`
		AdminIDs   []int64 `koanf:"admin_ids"`
	}

	Database struct {
		URL            string `koanf:"url"`
		MaxConnections int    `koanf:"max_connections"`
		MinConnections int    `koanf:"min_connections"`
	}

	Redis struct {
		URL        string `koanf:"url"`
		Prefix     string `koanf:"prefix"`
		TTLSeconds int    `koanf:"ttl_seconds"`
	}

	// Google is accepted in the file for deploys that enable calendar
	// integration; the core reads none of it.
	Google struct {
		CredentialsPath string `koanf:"credentials_path"`
		CalendarID      string `koanf:"calendar_id"`
	}

	CAS struct {
		APIURL         string `koanf:"api_url"`
		TimeoutSeconds int    `koanf:"timeout_seconds"`
		AutoBan        bool   `koanf:"auto_ban"`
	}

	I18n struct {
		DefaultLanguage    string   `koanf:"default_language"`
		SupportedLanguages []string `koanf:"supported_languages"`
	}

	Logging struct {
		Level       string `koanf:"level"`
		FilePath    string `koanf:"file_path"`
		MaxFileSize int    `koanf:"max_file_size"`
		MaxFiles    int    `koanf:"max_files"`
	}

	Features struct {
		CASProtection  bool `koanf:"cas_protection"`
		GoogleCalendar bool `koanf:"google_calendar"`
		AdminPanel     bool `koanf:"admin_panel"`
	}

	bootstrap struct {
		ConfigPath string `env:"CONFIG,default=config.toml"`
	}
)

var logLevels = map[string]log.Level{
	"trace": log.TraceLevel,
	"debug": log.DebugLevel,
	"info":  log.InfoLevel,
	"warn":  log.WarnLevel,
	"error": log.ErrorLevel,
}

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

// Load reads the TOML config file named by SWINGBUDDY_CONFIG (default
// config.toml), overlays SWINGBUDDY_* environment variables (double
// underscore separates sections, e.g. SWINGBUDDY_BOT__TOKEN -> bot.token)
// and validates the result. Loading happens once per process.
func Load() (Config, error) {
	once.Do(func() {
		cfg, err := load()
		if err != nil {
			globalErr = err
			return
		}
		globalConfig = cfg
		log.Traceln("loaded config")
	})
	return *globalConfig, globalErr
}

func load() (*Config, error) {
	var boot bootstrap
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper(envPrefix, envconfig.OsLookuper()),
		Target:   &boot,
	}
	if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
		return nil, errs.Wrap(errs.ErrConfig, err, "process bootstrap env")
	}

	k := koanf.New(".")
	if _, err := os.Stat(boot.ConfigPath); err == nil {
		if err := k.Load(file.Provider(boot.ConfigPath), toml.Parser()); err != nil {
			return nil, errs.Wrapf(errs.ErrConfig, err, "read config %s", boot.ConfigPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errs.Wrapf(errs.ErrConfig, err, "access config %s", boot.ConfigPath)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, errs.Wrap(errs.ErrConfig, err, "load env overrides")
	}

	cfg := Defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errs.Wrap(errs.ErrConfig, err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the loaded config, logging instead of failing on error. Boot
// code should call Load and treat its error as fatal.
func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

func Defaults() *Config {
	return &Config{
		Database: Database{MaxConnections: 10, MinConnections: 1},
		Redis:    Redis{Prefix: "swingbuddy", TTLSeconds: 3600},
		CAS:      CAS{APIURL: "https://api.cas.chat", TimeoutSeconds: 5},
		I18n:     I18n{DefaultLanguage: "en", SupportedLanguages: []string{"en", "ru"}},
		Logging:  Logging{Level: "info"},
		Features: Features{CASProtection: true, AdminPanel: true},
	}
}

// Validate enforces the startup rules. Any violation is fatal.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bot.Token) == "" {
		return errs.New(errs.ErrConfig, "bot.token must not be empty")
	}
	if len(c.Bot.AdminIDs) == 0 {
		return errs.New(errs.ErrConfig, "bot.admin_ids must contain at least one id")
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return errs.New(errs.ErrConfig, "database.url must not be empty")
	}
	if c.Database.MinConnections <= 0 || c.Database.MaxConnections < c.Database.MinConnections {
		return errs.Newf(errs.ErrConfig, "database connections out of range: max=%d min=%d",
			c.Database.MaxConnections, c.Database.MinConnections)
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		return errs.New(errs.ErrConfig, "redis.url must not be empty")
	}
	if c.CAS.TimeoutSeconds <= 0 {
		return errs.New(errs.ErrConfig, "cas.timeout_seconds must be positive")
	}
	supported := false
	for _, lang := range c.I18n.SupportedLanguages {
		if lang == c.I18n.DefaultLanguage {
			supported = true
			break
		}
	}
	if !supported {
		return errs.Newf(errs.ErrConfig, "i18n.default_language %q is not in supported_languages", c.I18n.DefaultLanguage)
	}
	if _, ok := logLevels[c.Logging.Level]; !ok {
		return errs.Newf(errs.ErrConfig, "logging.level %q is not one of trace,debug,info,warn,error", c.Logging.Level)
	}
	return nil
}

// LogLevel maps logging.level onto a logrus level. Validate guarantees the
// value is known.
func (c *Config) LogLevel() log.Level {
	if lvl, ok := logLevels[c.Logging.Level]; ok {
		return lvl
	}
	return log.InfoLevel
}

// CASTimeout is the per-request oracle timeout.
func (c *Config) CASTimeout() time.Duration {
	return time.Duration(c.CAS.TimeoutSeconds) * time.Second
}

// CacheTTL is the default TTL for namespaced cache entries.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

// IsSupportedLanguage reports whether lang may be selected by users.
func (c *Config) IsSupportedLanguage(lang string) bool {
	for _, l := range c.I18n.SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// IsBotAdmin reports membership in bot.admin_ids.
func (c *Config) IsBotAdmin(userID int64) bool {
	for _, id := range c.Bot.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// SuperAdminID is the first configured admin id.
func (c *Config) SuperAdminID() int64 {
	if len(c.Bot.AdminIDs) == 0 {
		return 0
	}
	return c.Bot.AdminIDs[0]
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{admins=%d db=%q redis=%q cas=%q lang=%q}",
		len(c.Bot.AdminIDs), c.Database.URL, c.Redis.URL, c.CAS.APIURL, c.I18n.DefaultLanguage)
}
