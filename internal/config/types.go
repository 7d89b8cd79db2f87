package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "50ms", "10s", "1m").
// Secrets may be left empty in the file and supplied through the environment
// (see ApplyEnv).
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Premium   PremiumConfig   `json:"premium"`
	HTTP      HTTPConfig      `json:"http"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs may run admin commands (/broadcast, /cancel, ...).
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors log lines at or above MinLevel into a chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/kinobot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://kino@localhost/kino" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // do not log
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int32  `json:"max_conns,omitempty"`    // postgres
}

// BroadcastConfig tunes the campaign engine.
//
// Defaults (when fields are omitted/zero):
//   - pace_delay: "50ms"
//   - checkpoint_every: 100
//   - preview_len: 100
//   - store_timeout: "5s"
//   - reconcile_on_start: false
type BroadcastConfig struct {
	PaceDelay       string `json:"pace_delay,omitempty"`
	CheckpointEvery int    `json:"checkpoint_every,omitempty"`
	PreviewLen      int    `json:"preview_len,omitempty"`
	StoreTimeout    string `json:"store_timeout,omitempty"`
	// ReconcileOnStart marks campaigns left running by a previous process as interrupted.
	ReconcileOnStart bool `json:"reconcile_on_start,omitempty"`
}

// PremiumConfig controls the expiry sweep. Schedule is a cron spec or descriptor
// ("@every 10m", "*/5 * * * *"); "off" disables the sweeper.
type PremiumConfig struct {
	SweepSchedule string `json:"sweep_schedule,omitempty"`
}

// HTTPConfig controls the ops HTTP server.
//
// Security note: prefer binding to localhost, or set a token.
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`  // default: "127.0.0.1:8090"
	Token        string `json:"token,omitempty"` // optional bearer token (do not log)
	Pprof        bool   `json:"pprof,omitempty"` // mount /debug/pprof/
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}
