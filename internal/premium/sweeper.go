// Package premium keeps the premium ledger current.
//
// Premium users are excluded from broadcast audiences while their grant is
// active. The Sweeper deactivates grants whose expiry has passed on a cron
// schedule, so stale grants do not linger as "active" rows.
package premium

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kinobot/internal/observability"
	"kinobot/internal/storage"
	logx "kinobot/pkg/logx"
)

type Sweeper struct {
	store  storage.PremiumStore
	log    logx.Logger
	parser cron.Parser

	mu   sync.Mutex
	c    *cron.Cron
	spec string
	ctx  context.Context
	now  func() time.Time
}

func NewSweeper(store storage.PremiumStore, log logx.Logger) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sweeper{
		store:  store,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

// Start schedules the sweep. An empty spec leaves the sweeper idle.
// The cron runner stops when ctx is done.
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	if err := s.Apply(spec); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Apply replaces the schedule. It is a no-op when spec is unchanged.
func (s *Sweeper) Apply(spec string) error {
	spec = strings.TrimSpace(spec)
	var sched cron.Schedule
	if spec != "" {
		var err error
		sched, err = s.parser.Parse(spec)
		if err != nil {
			return fmt.Errorf("premium sweep schedule %q: %w", spec, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return errors.New("premium sweeper not started")
	}
	if s.c != nil && spec == s.spec {
		return nil
	}
	if s.c != nil {
		// jobs never take s.mu, so waiting here cannot deadlock
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.spec = spec
	if sched == nil {
		s.log.Info("premium sweep disabled")
		return nil
	}

	ctx := s.ctx
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		_, _ = s.SweepOnce(ctx)
	}))
	c.Start()
	s.c = c
	s.log.Info("premium sweep scheduled", logx.String("spec", spec))
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// SweepOnce deactivates grants that expired at or before now.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := s.store.ExpirePremium(sctx, s.now())
	if err != nil {
		s.log.Warn("premium sweep failed", logx.Err(err))
		return 0, err
	}
	if n > 0 {
		observability.PremiumExpired.Add(float64(n))
		s.log.Info("premium grants expired", logx.Int64("count", n))
	} else {
		s.log.Debug("premium sweep: nothing expired")
	}
	return n, nil
}
