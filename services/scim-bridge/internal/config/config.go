// Package config builds the bridge configuration from viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/mailbox"
)

// Config is read once at startup and never mutated afterwards.
type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	SCIM     SCIMConfig
	Mailbox  MailboxConfig
	Policy   PolicyConfig
	Log      LogConfig
}

type HTTPConfig struct {
	Addr string
}

type DatabaseConfig struct {
	// URL is a postgres:// URL or a SQLite file path.
	URL string
}

type SCIMConfig struct {
	Token string
}

type MailboxConfig struct {
	APIURL                string
	APIKey                string
	Timeout               time.Duration
	SkipVerifyCertificate bool
	Quota                 int
	AuthSource            string
	Tags                  []string
}

type PolicyConfig struct {
	AllowDelete   bool
	DeleteMailbox bool
}

type LogConfig struct {
	Level  string
	Format string
}

// legacyEnv maps keys to the environment names used by earlier deployments.
var legacyEnv = map[string]string{
	"scim.token":                      "SCIM_TOKEN",
	"mailbox.api_url":                 "MAILCOW_API_URL",
	"mailbox.api_key":                 "MAILCOW_API_KEY",
	"mailbox.skip_verify_certificate": "SKIP_VERIFY_CERTIFICATE",
	"policy.allow_delete":             "ALLOW_DELETE",
	"policy.delete_mailbox":           "MAILCOW_DELETE_MAILBOX",
	"database.url":                    "DB_PATH",
}

var required = []string{"scim.token", "mailbox.api_url", "mailbox.api_key"}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8000")
	v.SetDefault("database.url", "/data/data.db")
	v.SetDefault("mailbox.timeout", mailbox.DefaultTimeout)
	v.SetDefault("mailbox.skip_verify_certificate", false)
	v.SetDefault("mailbox.quota", mailbox.DefaultQuota)
	v.SetDefault("mailbox.authsource", mailbox.DefaultAuthSource)
	v.SetDefault("mailbox.tags", mailbox.DefaultTags)
	v.SetDefault("policy.allow_delete", true)
	v.SetDefault("policy.delete_mailbox", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		// first set name wins: the key-derived name, then the legacy one
		_ = v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
}

// Load validates v and returns the resulting Config. All missing required
// keys are reported in one error.
func Load(v *viper.Viper) (Config, error) {
	var missing []string
	for _, key := range required {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	cfg := Config{
		HTTP:     HTTPConfig{Addr: v.GetString("http.addr")},
		Database: DatabaseConfig{URL: v.GetString("database.url")},
		SCIM:     SCIMConfig{Token: v.GetString("scim.token")},
		Mailbox: MailboxConfig{
			APIURL:                v.GetString("mailbox.api_url"),
			APIKey:                v.GetString("mailbox.api_key"),
			Timeout:               v.GetDuration("mailbox.timeout"),
			SkipVerifyCertificate: v.GetBool("mailbox.skip_verify_certificate"),
			Quota:                 v.GetInt("mailbox.quota"),
			AuthSource:            v.GetString("mailbox.authsource"),
			Tags:                  v.GetStringSlice("mailbox.tags"),
		},
		Policy: PolicyConfig{
			AllowDelete:   v.GetBool("policy.allow_delete"),
			DeleteMailbox: v.GetBool("policy.delete_mailbox"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}

	if cfg.Database.URL == "" {
		return Config{}, errors.New("database.url must not be empty")
	}
	if cfg.Mailbox.Timeout <= 0 {
		return Config{}, fmt.Errorf("mailbox.timeout must be positive, got %s", cfg.Mailbox.Timeout)
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return Config{}, err
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format)
	}
	return cfg, nil
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", l.Level, err)
	}
	return level, nil
}

// MailboxOptions converts the mailbox section for mailbox.NewClient.
func (c Config) MailboxOptions() mailbox.Options {
	return mailbox.Options{
		BaseURL:               c.Mailbox.APIURL,
		APIKey:                c.Mailbox.APIKey,
		Timeout:               c.Mailbox.Timeout,
		SkipVerifyCertificate: c.Mailbox.SkipVerifyCertificate,
		Quota:                 c.Mailbox.Quota,
		AuthSource:            c.Mailbox.AuthSource,
		Tags:                  c.Mailbox.Tags,
	}
}
