package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kinobot/internal/campaign"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [11, 22]
  poll_timeout: 15s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/test.db
broadcast:
  pace_delay: 80ms
  checkpoint_every: 50
premium:
  sweep_schedule: "@every 1m"
http:
  enabled: true
  addr: 127.0.0.1:9999
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := decode("kinobot.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if !cfg.IsOwner(22) || cfg.IsOwner(33) {
		t.Fatal("IsOwner mismatch")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	bc, err := cfg.BroadcastSettings()
	if err != nil {
		t.Fatalf("BroadcastSettings error: %v", err)
	}
	if bc.PaceDelay != 80*time.Millisecond || bc.CheckpointEvery != 50 {
		t.Fatalf("broadcast = %+v", bc)
	}
	if bc.StoreTimeout != campaign.DefaultStoreTimeout {
		t.Fatalf("store timeout = %v", bc.StoreTimeout)
	}
	if cfg.HTTPAddr() != "127.0.0.1:9999" {
		t.Fatalf("addr = %s", cfg.HTTPAddr())
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := decode("kinobot.json", []byte(`{"telegram":{"token":"x"},"plugins":{}}`))
	if err == nil {
		t.Fatal("expected unknown field error")
	}
	_, err = decode("kinobot.json", []byte(`{} {}`))
	if err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("trailing data err = %v", err)
	}
}

func TestBroadcastDefaults(t *testing.T) {
	t.Parallel()
	var cfg Config
	bc, err := cfg.BroadcastSettings()
	if err != nil {
		t.Fatalf("BroadcastSettings error: %v", err)
	}
	if bc.PaceDelay != 50*time.Millisecond {
		t.Fatalf("pace = %v, want 50ms", bc.PaceDelay)
	}
	if cfg.SweepSchedule() != DefaultSweepSchedule {
		t.Fatalf("sweep = %q", cfg.SweepSchedule())
	}
	cfg.Premium.SweepSchedule = "off"
	if cfg.SweepSchedule() != "" {
		t.Fatal("off did not disable the sweeper")
	}
	st, err := cfg.StorageSettings()
	if err != nil || st.Path == "" {
		t.Fatalf("storage = %+v, %v", st, err)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Broadcast: BroadcastConfig{PaceDelay: "soon"},
		Premium:   PremiumConfig{SweepSchedule: "every tuesday"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"telegram.token", "owner_user_ids", "broadcast.pace_delay", "premium.sweep_schedule"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Setenv("BOT_TOKEN", "999:env")
	t.Setenv("DATABASE_URL", "postgres://kino@db/kino")
	t.Setenv("ADMIN_IDS", "5,6")
	t.Setenv("HTTP_TOKEN", "s3cret")

	cfg := &Config{Telegram: TelegramConfig{Token: "file"}}
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv error: %v", err)
	}
	if cfg.Telegram.Token != "999:env" || cfg.HTTP.Token != "s3cret" {
		t.Fatalf("secrets not applied: %+v", cfg)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://kino@db/kino" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[1] != 6 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
}

func TestManagerReloadPublishesChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "kinobot.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.reload(context.Background()) {
		t.Fatal("unchanged file was republished")
	}

	updated := strings.Replace(sampleYAML, "pace_delay: 80ms", "pace_delay: 120ms", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !m.reload(context.Background()) {
		t.Fatal("changed file was not published")
	}
	select {
	case cfg := <-ch:
		if cfg.Broadcast.PaceDelay != "120ms" {
			t.Fatalf("published pace = %s", cfg.Broadcast.PaceDelay)
		}
	default:
		t.Fatal("subscriber did not receive the update")
	}
	if m.Get().Broadcast.PaceDelay != "120ms" {
		t.Fatal("Get returned the stale config")
	}
}

func TestManagerValidatorRejects(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "kinobot.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	m.SetValidator(func(context.Context, *Config) error { return context.Canceled })

	_ = os.WriteFile(path, []byte(strings.Replace(sampleYAML, "level: debug", "level: warn", 1)), 0o600)
	if m.reload(context.Background()) {
		t.Fatal("rejected config was published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("rejected config was committed")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "a"}, Storage: StorageConfig{DSN: "postgres://secret"}}
	b := *a
	b.Broadcast.PaceDelay = "100ms"
	b.HTTP.Enabled = true

	changed, attrs := SummarizeConfigChange(a, &b)
	if len(changed) != 2 || changed[0] != "broadcast" || changed[1] != "http" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "http" {
		t.Fatalf("restart required = %v", got)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	if d, err := duration("k", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("empty = %v %v", d, err)
	}
	if d, err := duration("k", "0s", time.Second); err != nil || d != time.Second {
		t.Fatalf("zero = %v %v", d, err)
	}
	if d, err := duration("k", " 250ms ", time.Second); err != nil || d != 250*time.Millisecond {
		t.Fatalf("set = %v %v", d, err)
	}
	if _, err := duration("broadcast.pace_delay", "-1s", 0); err == nil || !strings.Contains(err.Error(), "broadcast.pace_delay") {
		t.Fatalf("negative err = %v", err)
	}
	if _, err := duration("k", "soon", 0); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := decode("empty.yml", nil)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if cfg.Telegram.Token != "" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
