package campaign

import (
	"context"
	"errors"
	"time"

	"kinobot/internal/transport"
)

var (
	// ErrAdmission is returned by Start when the durable record could not be created.
	ErrAdmission = errors.New("campaign admission failed")
	// ErrStopping is returned by Start once the worker runner has shut down.
	ErrStopping = errors.New("campaign runner stopping")
)

const (
	DefaultPaceDelay       = 50 * time.Millisecond
	DefaultCheckpointEvery = 100
	DefaultStoreTimeout    = 5 * time.Second

	unknownPreview = "unrecognized content"
)

type Config struct {
	// PaceDelay is the pause after every delivery attempt.
	PaceDelay time.Duration
	// CheckpointEvery is the number of attempts between counter checkpoints.
	CheckpointEvery int
	// PreviewLen caps the stored text preview, in runes.
	PreviewLen int
	// StoreTimeout bounds every single store call.
	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PaceDelay <= 0 {
		c.PaceDelay = DefaultPaceDelay
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = DefaultCheckpointEvery
	}
	if c.PreviewLen <= 0 {
		c.PreviewLen = transport.DefaultPreviewLen
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	return c
}

// Stats is the aggregate view reported to admins.
type Stats struct {
	TotalCampaigns int64 `json:"total_campaigns"`
	TotalSent      int64 `json:"total_messages_sent"`
	Active         int   `json:"active_campaigns"`
}

// Sender delivers content to one recipient.
type Sender interface {
	Deliver(ctx context.Context, recipient int64, content transport.Content) error
}

// Runner launches named background goroutines (see runtime/supervisor).
// Go reports false when the runner no longer accepts work.
type Runner interface {
	Context() context.Context
	Go(name string, fn func(ctx context.Context) error) bool
}

type job struct {
	id         int64
	recipients []int64
	content    transport.Content
	cfg        Config
	startedAt  time.Time
}
