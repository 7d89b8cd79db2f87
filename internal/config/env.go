package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envOverlay holds settings that are usually kept out of the config file.
type envOverlay struct {
	BotToken    string  `envconfig:"BOT_TOKEN"`
	DatabaseURL string  `envconfig:"DATABASE_URL"`
	AdminIDs    []int64 `envconfig:"ADMIN_IDS"`
	HTTPToken   string  `envconfig:"HTTP_TOKEN"`
	LogLevel    string  `envconfig:"LOG_LEVEL"`
}

// ApplyEnv overrides file values with non-empty environment variables.
// DATABASE_URL also switches the driver to postgres when the file leaves it unset.
func ApplyEnv(cfg *Config) error {
	var e envOverlay
	if err := envconfig.Process("", &e); err != nil {
		return err
	}
	if s := strings.TrimSpace(e.BotToken); s != "" {
		cfg.Telegram.Token = s
	}
	if s := strings.TrimSpace(e.DatabaseURL); s != "" {
		cfg.Storage.DSN = s
		if strings.TrimSpace(cfg.Storage.Driver) == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
	if len(e.AdminIDs) > 0 {
		cfg.Telegram.OwnerUserIDs = e.AdminIDs
	}
	if s := strings.TrimSpace(e.HTTPToken); s != "" {
		cfg.HTTP.Token = s
	}
	if s := strings.TrimSpace(e.LogLevel); s != "" {
		cfg.Logging.Level = s
	}
	return nil
}
