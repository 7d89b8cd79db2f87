package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "kinobot/pkg/logx"
)

//go:embed postgres_schema.sql
var postgresSchema string

type postgresStore struct {
	db  *pgxpool.Pool
	log logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened", logx.Int("max_conns", int(pcfg.MaxConns)))
	return &postgresStore{db: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.db.Close()
	return nil
}

// ---- campaigns ----

func (s *postgresStore) CreateCampaign(ctx context.Context, c Campaign) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO broadcasts (id, admin_id, content_type, content_preview, start_time, status, total_users, success_count, failed_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, c.ID, c.AdminID, c.ContentType, c.ContentPreview, c.StartTime, string(c.Status), c.TotalUsers, c.SuccessCount, c.FailedCount)
	return err
}

func (s *postgresStore) CheckpointCampaign(ctx context.Context, id int64, success, failed int) error {
	_, err := s.db.Exec(ctx, `UPDATE broadcasts SET success_count=$2, failed_count=$3 WHERE id=$1`, id, success, failed)
	return err
}

func (s *postgresStore) FinalizeCampaign(ctx context.Context, id int64, success, failed int, endAt time.Time) (bool, error) {
	var status string
	err := s.db.QueryRow(ctx, `
		UPDATE broadcasts
		SET success_count=$2, failed_count=$3, end_time=$4,
		    status = CASE WHEN status='running' THEN 'completed' ELSE status END
		WHERE id=$1
		RETURNING status
	`, id, success, failed, endAt).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return CampaignStatus(status) == StatusCompleted, nil
}

func (s *postgresStore) CancelCampaignIfRunning(ctx context.Context, id int64, endAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE broadcasts SET status='cancelled', end_time=$2 WHERE id=$1 AND status='running'
	`, id, endAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const pgCampaignSelect = `SELECT id, admin_id, content_type, content_preview, total_users, success_count, failed_count, status, start_time, end_time FROM broadcasts`

func scanPostgresCampaign(r pgx.Row) (Campaign, error) {
	var (
		c      Campaign
		status string
	)
	if err := r.Scan(&c.ID, &c.AdminID, &c.ContentType, &c.ContentPreview, &c.TotalUsers,
		&c.SuccessCount, &c.FailedCount, &status, &c.StartTime, &c.EndTime); err != nil {
		return Campaign{}, err
	}
	c.Status = CampaignStatus(status)
	return c, nil
}

func (s *postgresStore) GetCampaign(ctx context.Context, id int64) (Campaign, bool, error) {
	c, err := scanPostgresCampaign(s.db.QueryRow(ctx, pgCampaignSelect+` WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Campaign{}, false, nil
	}
	if err != nil {
		return Campaign{}, false, err
	}
	return c, true, nil
}

func (s *postgresStore) ListCampaigns(ctx context.Context, limit int) ([]Campaign, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, pgCampaignSelect+` ORDER BY start_time DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Campaign, 0, limit)
	for rows.Next() {
		c, err := scanPostgresCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *postgresStore) CampaignTotals(ctx context.Context) (CampaignTotals, error) {
	var t CampaignTotals
	err := s.db.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(success_count), 0) FROM broadcasts`).Scan(&t.Campaigns, &t.SuccessSends)
	return t, err
}

func (s *postgresStore) InterruptRunningCampaigns(ctx context.Context, endAt time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE broadcasts SET status='interrupted', end_time=$1 WHERE status='running'`, endAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ---- users ----

func (s *postgresStore) UpsertUser(ctx context.Context, u User) error {
	now := u.LastSeen
	if now.IsZero() {
		now = time.Now()
	}
	joined := u.JoinedAt
	if joined.IsZero() {
		joined = now
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (user_id, username, first_name, last_name, joined_at, last_seen, is_banned)
		VALUES ($1,$2,$3,$4,$5,$6,FALSE)
		ON CONFLICT (user_id) DO UPDATE SET
			username=EXCLUDED.username, first_name=EXCLUDED.first_name,
			last_name=EXCLUDED.last_name, last_seen=EXCLUDED.last_seen
	`, u.ID, nullStr(u.Username), nullStr(u.FirstName), nullStr(u.LastName), joined, now)
	return err
}

func (s *postgresStore) GetUser(ctx context.Context, id int64) (User, bool, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT user_id, COALESCE(username,''), COALESCE(first_name,''), COALESCE(last_name,''), joined_at, last_seen, is_banned
		FROM users WHERE user_id=$1
	`, id).Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.JoinedAt, &u.LastSeen, &u.Banned)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *postgresStore) SetBanned(ctx context.Context, id int64, banned bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET is_banned=$2 WHERE user_id=$1`, id, banned)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) UserCounts(ctx context.Context) (int, int, error) {
	var total, active int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT is_banned) FROM users`).Scan(&total, &active)
	return total, active, err
}

func (s *postgresStore) BroadcastAudience(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.user_id FROM users u
		WHERE NOT u.is_banned
		  AND NOT EXISTS (
		    SELECT 1 FROM premium_users p
		    WHERE p.user_id = u.user_id AND p.is_active AND p.expires_at > $1)
		ORDER BY u.user_id
	`, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ---- premium ----

func (s *postgresStore) GrantPremium(ctx context.Context, g PremiumGrant) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO premium_users (user_id, plan_type, start_at, expires_at, is_active)
		VALUES ($1,$2,$3,$4,TRUE)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_type=EXCLUDED.plan_type, start_at=EXCLUDED.start_at,
			expires_at=EXCLUDED.expires_at, is_active=TRUE
	`, g.UserID, g.PlanType, g.StartAt, g.ExpiresAt)
	return err
}

func (s *postgresStore) IsPremium(ctx context.Context, userID int64, now time.Time) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM premium_users WHERE user_id=$1 AND is_active AND expires_at > $2)
	`, userID, now).Scan(&ok)
	return ok, err
}

func (s *postgresStore) ExpirePremium(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE premium_users SET is_active=FALSE WHERE is_active AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ---- audit ----

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit (at, actor_id, action, target, ok, err) VALUES ($1,$2,$3,$4,$5,$6)
	`, e.At, e.ActorID, e.Action, e.Target, e.OK, nullStr(e.Error))
	return err
}
