package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "kinobot/pkg/logx"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; campaign workers and the bot share this handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- campaigns ----

const campaignColumns = `id, admin_id, content_type, content_preview, total_users, success_count, failed_count, status, start_time, end_time`

func (s *sqliteStore) CreateCampaign(ctx context.Context, c Campaign) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(id, admin_id, content_type, content_preview, start_time, status, total_users, success_count, failed_count)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		c.ID, c.AdminID, c.ContentType, c.ContentPreview, toMS(c.StartTime), string(c.Status), c.TotalUsers, c.SuccessCount, c.FailedCount,
	)
	return err
}

func (s *sqliteStore) CheckpointCampaign(ctx context.Context, id int64, success, failed int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts SET success_count = ?, failed_count = ? WHERE id = ?`,
		success, failed, id,
	)
	return err
}

func (s *sqliteStore) FinalizeCampaign(ctx context.Context, id int64, success, failed int, endAt time.Time) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`UPDATE broadcasts
		 SET success_count = ?, failed_count = ?, end_time = ?,
		     status = CASE WHEN status = 'running' THEN 'completed' ELSE status END
		 WHERE id = ?
		 RETURNING status`,
		success, failed, toMS(endAt), id,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return CampaignStatus(status) == StatusCompleted, nil
}

func (s *sqliteStore) CancelCampaignIfRunning(ctx context.Context, id int64, endAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts SET status = 'cancelled', end_time = ? WHERE id = ? AND status = 'running'`,
		toMS(endAt), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) GetCampaign(ctx context.Context, id int64) (Campaign, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM broadcasts WHERE id = ?`, id)
	c, err := scanSQLiteCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, false, nil
	}
	if err != nil {
		return Campaign{}, false, err
	}
	return c, true, nil
}

func (s *sqliteStore) ListCampaigns(ctx context.Context, limit int) ([]Campaign, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM broadcasts ORDER BY start_time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Campaign, 0, limit)
	for rows.Next() {
		c, err := scanSQLiteCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CampaignTotals(ctx context.Context) (CampaignTotals, error) {
	var t CampaignTotals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success_count), 0) FROM broadcasts`,
	).Scan(&t.Campaigns, &t.SuccessSends)
	return t, err
}

func (s *sqliteStore) InterruptRunningCampaigns(ctx context.Context, endAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts SET status = 'interrupted', end_time = ? WHERE status = 'running'`, toMS(endAt))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCampaign(r rowScanner) (Campaign, error) {
	var (
		c      Campaign
		status string
		start  int64
		end    sql.NullInt64
	)
	if err := r.Scan(&c.ID, &c.AdminID, &c.ContentType, &c.ContentPreview, &c.TotalUsers,
		&c.SuccessCount, &c.FailedCount, &status, &start, &end); err != nil {
		return Campaign{}, err
	}
	c.Status = CampaignStatus(status)
	c.StartTime = fromMS(start)
	if end.Valid {
		t := fromMS(end.Int64)
		c.EndTime = &t
	}
	return c, nil
}

// ---- users ----

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) error {
	now := u.LastSeen
	if now.IsZero() {
		now = time.Now()
	}
	joined := u.JoinedAt
	if joined.IsZero() {
		joined = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, username, first_name, last_name, joined_at, last_seen, is_banned)
		 VALUES(?,?,?,?,?,?,0)
		 ON CONFLICT(user_id) DO UPDATE SET
		   username = excluded.username,
		   first_name = excluded.first_name,
		   last_name = excluded.last_name,
		   last_seen = excluded.last_seen`,
		u.ID, nullStr(u.Username), nullStr(u.FirstName), nullStr(u.LastName), toMS(joined), toMS(now),
	)
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (User, bool, error) {
	var (
		u                     User
		username, first, last sql.NullString
		joined, seen          int64
		banned                int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, first_name, last_name, joined_at, last_seen, is_banned FROM users WHERE user_id = ?`, id,
	).Scan(&u.ID, &username, &first, &last, &joined, &seen, &banned)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	u.Username, u.FirstName, u.LastName = username.String, first.String, last.String
	u.JoinedAt, u.LastSeen = fromMS(joined), fromMS(seen)
	u.Banned = banned != 0
	return u, true, nil
}

func (s *sqliteStore) SetBanned(ctx context.Context, id int64, banned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_banned = ? WHERE user_id = ?`, boolInt(banned), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) UserCounts(ctx context.Context) (int, int, error) {
	var total, active int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_banned = 0 THEN 1 ELSE 0 END), 0) FROM users`,
	).Scan(&total, &active)
	return total, active, err
}

func (s *sqliteStore) BroadcastAudience(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.user_id FROM users u
		 WHERE u.is_banned = 0
		   AND NOT EXISTS (
		     SELECT 1 FROM premium_users p
		     WHERE p.user_id = u.user_id AND p.is_active = 1 AND p.expires_at > ?)
		 ORDER BY u.user_id`, toMS(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---- premium ----

func (s *sqliteStore) GrantPremium(ctx context.Context, g PremiumGrant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO premium_users(user_id, plan_type, start_at, expires_at, is_active)
		 VALUES(?,?,?,?,1)
		 ON CONFLICT(user_id) DO UPDATE SET
		   plan_type = excluded.plan_type,
		   start_at = excluded.start_at,
		   expires_at = excluded.expires_at,
		   is_active = 1`,
		g.UserID, g.PlanType, toMS(g.StartAt), toMS(g.ExpiresAt),
	)
	return err
}

func (s *sqliteStore) IsPremium(ctx context.Context, userID int64, now time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM premium_users WHERE user_id = ? AND is_active = 1 AND expires_at > ?`,
		userID, toMS(now),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) ExpirePremium(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE premium_users SET is_active = 0 WHERE is_active = 1 AND expires_at <= ?`, toMS(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- audit ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, action, target, ok, err) VALUES(?,?,?,?,?,?)`,
		toMS(e.At), e.ActorID, e.Action, e.Target, boolInt(e.OK), nullStr(e.Error),
	)
	return err
}

func toMS(t time.Time) int64    { return t.UnixMilli() }
func fromMS(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
