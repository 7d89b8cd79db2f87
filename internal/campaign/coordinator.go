package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kinobot/internal/observability"
	"kinobot/internal/storage"
	"kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

// Coordinator admits, cancels and reports on campaigns.
type Coordinator struct {
	mu     sync.Mutex
	cfg    Config
	lastID int64

	store  storage.CampaignStore
	sender Sender
	run    Runner
	reg    *Registry
	log    logx.Logger
}

func New(cfg Config, store storage.CampaignStore, sender Sender, run Runner, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		cfg:    cfg.withDefaults(),
		store:  store,
		sender: sender,
		run:    run,
		reg:    NewRegistry(),
		log:    log,
	}
}

// Apply swaps the configuration. Campaigns already running keep the settings they started with.
func (c *Coordinator) Apply(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg.withDefaults()
	c.mu.Unlock()
}

func (c *Coordinator) config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// nextID returns the current Unix time in milliseconds, bumped past the previous id
// when two campaigns start within the same millisecond.
func (c *Coordinator) nextID(now time.Time) int64 {
	id := now.UnixMilli()
	c.mu.Lock()
	if id <= c.lastID {
		id = c.lastID + 1
	}
	c.lastID = id
	c.mu.Unlock()
	return id
}

// Start persists a running campaign for recipients and launches its worker.
// It returns the campaign id without waiting for any delivery.
func (c *Coordinator) Start(ctx context.Context, recipients []int64, content transport.Content, initiator int64) (int64, error) {
	cfg := c.config()
	if c.run.Context().Err() != nil {
		return 0, fmt.Errorf("%w: %w", ErrAdmission, ErrStopping)
	}
	snapshot := append([]int64(nil), recipients...)

	kind, preview, err := content.Describe(cfg.PreviewLen)
	if err != nil {
		c.log.Warn("content not recognized; recording as unknown", logx.Int64("admin", initiator), logx.Err(err))
		kind, preview = transport.ContentUnknown, unknownPreview
	}

	now := time.Now()
	rec := storage.Campaign{
		ID:             c.nextID(now),
		AdminID:        initiator,
		ContentType:    string(kind),
		ContentPreview: preview,
		TotalUsers:     len(snapshot),
		Status:         storage.StatusRunning,
		StartTime:      now,
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	err = c.store.CreateCampaign(sctx, rec)
	cancel()
	if err != nil {
		observability.AdmissionFailures.Inc()
		c.log.Error("campaign admission failed", logx.Int64("admin", initiator), logx.Int("total", len(snapshot)), logx.Err(err))
		return 0, fmt.Errorf("%w: %w", ErrAdmission, err)
	}

	if !c.reg.Register(rec.ID) {
		// Unreachable with monotonic ids; the record exists so the campaign must still run.
		c.log.Warn("campaign id already registered", logx.Int64("campaign", rec.ID))
	}
	observability.ActiveCampaigns.Set(float64(c.reg.Len()))

	j := job{
		id:         rec.ID,
		recipients: snapshot,
		content:    content,
		cfg:        cfg,
		startedAt:  now,
	}
	launched := c.run.Go("campaign.worker", func(ctx context.Context) error {
		c.work(ctx, j)
		return nil
	})
	if !launched {
		// Shutdown won the race after the record was written; Reconcile on the
		// next start marks it interrupted.
		c.reg.Remove(rec.ID)
		observability.ActiveCampaigns.Set(float64(c.reg.Len()))
		observability.AdmissionFailures.Inc()
		c.log.Warn("campaign not launched: runner stopping; record left running",
			logx.Int64("campaign", rec.ID), logx.Int("total", rec.TotalUsers))
		return 0, fmt.Errorf("%w: %w", ErrAdmission, ErrStopping)
	}
	observability.CampaignsStarted.Inc()

	c.log.Info("campaign started",
		logx.Int64("campaign", rec.ID),
		logx.Int64("admin", initiator),
		logx.Int("total", rec.TotalUsers),
		logx.String("kind", rec.ContentType),
	)
	return rec.ID, nil
}

// Cancel stops campaign id. The in-memory flag is set whenever the worker is alive;
// the result reports whether the durable record moved from running to cancelled.
func (c *Coordinator) Cancel(ctx context.Context, id int64) bool {
	cfg := c.config()
	flagged := c.reg.Cancel(id)

	sctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	ok, err := c.store.CancelCampaignIfRunning(sctx, id, time.Now())
	if err != nil {
		observability.StoreErrors.WithLabelValues("cancel").Inc()
		c.log.Error("campaign cancel write failed", logx.Int64("campaign", id), logx.Bool("flagged", flagged), logx.Err(err))
		return false
	}
	c.log.Info("campaign cancel requested", logx.Int64("campaign", id), logx.Bool("flagged", flagged), logx.Bool("applied", ok))
	return ok
}

// History lists the most recent campaigns, newest first.
func (c *Coordinator) History(ctx context.Context, limit int) ([]storage.Campaign, error) {
	cfg := c.config()
	sctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return c.store.ListCampaigns(sctx, limit)
}

// Get returns one campaign record.
func (c *Coordinator) Get(ctx context.Context, id int64) (storage.Campaign, bool, error) {
	cfg := c.config()
	sctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	return c.store.GetCampaign(sctx, id)
}

func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	cfg := c.config()
	sctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	t, err := c.store.CampaignTotals(sctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalCampaigns: t.Campaigns,
		TotalSent:      t.SuccessSends,
		Active:         c.reg.Len(),
	}, nil
}

// ActiveCount is the number of campaigns whose worker has not exited yet.
func (c *Coordinator) ActiveCount() int { return c.reg.Len() }

func (c *Coordinator) ActiveIDs() []int64 { return c.reg.IDs() }

// Reconcile marks records left running by a previous process as interrupted.
// It must run before the first Start.
func (c *Coordinator) Reconcile(ctx context.Context) (int64, error) {
	if n := c.reg.Len(); n > 0 {
		return 0, errors.New("reconcile with active campaigns")
	}
	cfg := c.config()
	sctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	n, err := c.store.InterruptRunningCampaigns(sctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.log.Warn("stale running campaigns marked interrupted", logx.Int64("count", n))
	}
	return n, nil
}
