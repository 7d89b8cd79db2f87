package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "kinobot/pkg/logx"
)

// CampaignStore is the durable campaign record collaborator.
//
// FinalizeCampaign and CancelCampaignIfRunning are single conditional statements
// guarded by status = 'running'; whichever runs first owns the terminal status.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c Campaign) error
	CheckpointCampaign(ctx context.Context, id int64, success, failed int) error
	FinalizeCampaign(ctx context.Context, id int64, success, failed int, endAt time.Time) (completed bool, err error)
	CancelCampaignIfRunning(ctx context.Context, id int64, endAt time.Time) (bool, error)
	GetCampaign(ctx context.Context, id int64) (Campaign, bool, error)
	ListCampaigns(ctx context.Context, limit int) ([]Campaign, error)
	CampaignTotals(ctx context.Context) (CampaignTotals, error)
	InterruptRunningCampaigns(ctx context.Context, endAt time.Time) (int64, error)
}

type UserStore interface {
	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id int64) (User, bool, error)
	SetBanned(ctx context.Context, id int64, banned bool) error
	UserCounts(ctx context.Context) (total, active int, err error)
	// BroadcastAudience lists non-banned users without an active premium grant at now.
	BroadcastAudience(ctx context.Context, now time.Time) ([]int64, error)
}

type PremiumStore interface {
	GrantPremium(ctx context.Context, g PremiumGrant) error
	IsPremium(ctx context.Context, userID int64, now time.Time) (bool, error)
	ExpirePremium(ctx context.Context, now time.Time) (int64, error)
}

// Store is the persistence API used by the bot.
type Store interface {
	CampaignStore
	UserStore
	PremiumStore
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, ErrDisabled) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
