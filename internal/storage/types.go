package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path (default)
//   - "postgres": PostgreSQL at DSN (pgx pool)
//
// If Driver is "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgx default
}

type CampaignStatus string

const (
	StatusRunning   CampaignStatus = "running"
	StatusCompleted CampaignStatus = "completed"
	StatusCancelled CampaignStatus = "cancelled"
	// StatusInterrupted is only written by the optional startup reconciliation.
	StatusInterrupted CampaignStatus = "interrupted"
)

func (s CampaignStatus) Terminal() bool { return s != StatusRunning }

// Campaign is the durable record of one broadcast.
type Campaign struct {
	ID             int64          `json:"id"`
	AdminID        int64          `json:"admin_id"`
	ContentType    string         `json:"content_type"`
	ContentPreview string         `json:"content_preview"`
	TotalUsers     int            `json:"total_users"`
	SuccessCount   int            `json:"success_count"`
	FailedCount    int            `json:"failed_count"`
	Status         CampaignStatus `json:"status"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
}

type CampaignTotals struct {
	Campaigns    int64 `json:"total_campaigns"`
	SuccessSends int64 `json:"total_messages_sent"`
}

type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	JoinedAt  time.Time
	LastSeen  time.Time
	Banned    bool
}

type PremiumGrant struct {
	UserID    int64
	PlanType  string
	StartAt   time.Time
	ExpiresAt time.Time
}

// AuditEntry records an admin action.
type AuditEntry struct {
	At      time.Time
	ActorID int64
	Action  string
	Target  string
	OK      bool
	Error   string
}
