package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"kinobot/internal/campaign"
	"kinobot/internal/storage"
	"kinobot/internal/transport/telegram"
	logx "kinobot/pkg/logx"
)

const (
	DefaultSweepSchedule = "@every 10m"
	DefaultHTTPAddr      = "127.0.0.1:8090"
)

// Validate checks everything that would otherwise fail later at wiring time.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or BOT_TOKEN)"))
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		errs = append(errs, errors.New("telegram.owner_user_ids must not be empty (or ADMIN_IDS)"))
	}
	if _, err := cfg.TelegramSettings(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.StorageSettings(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.BroadcastSettings(); err != nil {
		errs = append(errs, err)
	}
	if s := cfg.SweepSchedule(); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			errs = append(errs, fmt.Errorf("premium.sweep_schedule: %w", err))
		}
	}
	if _, _, err := cfg.HTTPTimeouts(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) TelegramSettings() (telegram.Config, error) {
	d, err := duration("telegram.poll_timeout", c.Telegram.PollTimeout, 0)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(c.Telegram.Token), PollTimeout: d}, nil
}

func (c *Config) StorageSettings() (storage.Config, error) {
	busy, err := duration("storage.busy_timeout", c.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.TrimSpace(c.Storage.Driver)
	path := strings.TrimSpace(c.Storage.Path)
	if (driver == "" || driver == "sqlite") && path == "" {
		path = "./data/kinobot.db"
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		DSN:         strings.TrimSpace(c.Storage.DSN),
		BusyTimeout: busy,
		MaxConns:    c.Storage.MaxConns,
	}, nil
}

func (c *Config) BroadcastSettings() (campaign.Config, error) {
	pace, err := duration("broadcast.pace_delay", c.Broadcast.PaceDelay, campaign.DefaultPaceDelay)
	if err != nil {
		return campaign.Config{}, err
	}
	st, err := duration("broadcast.store_timeout", c.Broadcast.StoreTimeout, campaign.DefaultStoreTimeout)
	if err != nil {
		return campaign.Config{}, err
	}
	if c.Broadcast.CheckpointEvery < 0 {
		return campaign.Config{}, errors.New("broadcast.checkpoint_every must be >= 0")
	}
	if c.Broadcast.PreviewLen < 0 {
		return campaign.Config{}, errors.New("broadcast.preview_len must be >= 0")
	}
	return campaign.Config{
		PaceDelay:       pace,
		CheckpointEvery: c.Broadcast.CheckpointEvery,
		PreviewLen:      c.Broadcast.PreviewLen,
		StoreTimeout:    st,
	}, nil
}

// SweepSchedule returns the premium sweep spec, or "" when disabled.
func (c *Config) SweepSchedule() string {
	s := strings.TrimSpace(c.Premium.SweepSchedule)
	switch strings.ToLower(s) {
	case "":
		return DefaultSweepSchedule
	case "off", "disabled", "none":
		return ""
	}
	return s
}

func (c *Config) HTTPAddr() string {
	if s := strings.TrimSpace(c.HTTP.Addr); s != "" {
		return s
	}
	return DefaultHTTPAddr
}

func (c *Config) HTTPTimeouts() (read, write time.Duration, err error) {
	read, err = duration("http.read_timeout", c.HTTP.ReadTimeout, 10*time.Second)
	if err != nil {
		return 0, 0, err
	}
	write, err = duration("http.write_timeout", c.HTTP.WriteTimeout, 30*time.Second)
	return read, write, err
}

func (c *Config) LogSettings() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		AdminChat: logx.AdminChatConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			ChatID:     c.Logging.Telegram.ChatID,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}

func (c *Config) IsOwner(userID int64) bool {
	for _, id := range c.Telegram.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
