// Package app wires kinobot together: config, logging, storage, the Telegram
// transport, the campaign coordinator, the command layer, the premium sweeper
// and the ops HTTP API. It owns start order, hot reload and graceful stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"kinobot/internal/bot"
	"kinobot/internal/campaign"
	"kinobot/internal/config"
	"kinobot/internal/httpapi"
	"kinobot/internal/observability"
	"kinobot/internal/premium"
	rtsup "kinobot/internal/runtime/supervisor"
	"kinobot/internal/storage"
	"kinobot/internal/transport"
	"kinobot/internal/transport/telegram"
	logx "kinobot/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

var menu = []telegram.BotCommand{
	{Command: "broadcast", Description: "Send a message to all users"},
	{Command: "cancel", Description: "Cancel a running broadcast"},
	{Command: "history", Description: "Recent broadcasts"},
	{Command: "bstats", Description: "Broadcast statistics"},
	{Command: "abort", Description: "Abort a pending /broadcast"},
}

type App struct {
	cfgm    *config.Manager
	sup     *rtsup.Supervisor
	workers *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter *telegram.Adapter
	coord   *campaign.Coordinator
	bot     *bot.Bot
	sweeper *premium.Sweeper
	http    *httpapi.Server

	updates chan transport.Update
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	// The chat log sink needs the adapter, which itself wants a logger.
	bootCfg := cfg.LogSettings()
	bootCfg.AdminChat.Enabled = false
	logSvc, root := logx.New(bootCfg, nil)
	log := root.With(logx.String("comp", "app"))

	tcfg, err := cfg.TelegramSettings()
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tcfg, root.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logSvc.SetSender(ad)
	logSvc.Apply(cfg.LogSettings())

	sc, err := cfg.StorageSettings()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		if errors.Is(err, storage.ErrDisabled) {
			return nil, errors.New("storage.driver=none is not supported: campaigns need a store")
		}
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	observability.Register(prometheus.DefaultRegisterer)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return config.Validate(c) })

	bcfg, err := cfg.BroadcastSettings()
	if err != nil {
		return err
	}
	// Campaign workers live on their own supervisor so a failed worker never
	// cancels the app, while still stopping on app shutdown.
	a.workers = rtsup.New(a.sup.Context(), rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.coord = campaign.New(bcfg, a.store, a.adapter, a.workers, a.log.With(logx.String("comp", "campaign")))

	if cfg.Broadcast.ReconcileOnStart {
		if _, err := a.coord.Reconcile(ctx); err != nil {
			return fmt.Errorf("reconcile campaigns: %w", err)
		}
	}

	a.bot = bot.New(bot.Deps{
		Replier:   a.adapter,
		Store:     a.store,
		Campaigns: a.coord,
		IsOwner:   func(id int64) bool { return a.cfgm.Get().IsOwner(id) },
		Log:       a.log.With(logx.String("comp", "bot")),
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, menu); err != nil {
			a.log.Warn("set bot commands failed", logx.Err(err))
		}
	})
	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})

	a.sweeper = premium.NewSweeper(a.store, a.log.With(logx.String("comp", "premium")))
	if err := a.sweeper.Start(a.sup.Context(), cfg.SweepSchedule()); err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		if err := a.startHTTP(cfg); err != nil {
			return err
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// keep only the latest
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("owners", len(cfg.Telegram.OwnerUserIDs)))
	return nil
}

func (a *App) startHTTP(cfg *config.Config) error {
	rt, wt, err := cfg.HTTPTimeouts()
	if err != nil {
		return err
	}
	a.http = httpapi.New(httpapi.Config{
		Addr:         cfg.HTTPAddr(),
		Token:        cfg.HTTP.Token,
		Pprof:        cfg.HTTP.Pprof,
		ReadTimeout:  rt,
		WriteTimeout: wt,
	}, httpapi.Deps{
		Campaigns: a.coord,
		Snapshot:  a.workers.Snapshot,
		Audit:     a.store,
		Log:       a.log.With(logx.String("comp", "http")),
	}, a.log.With(logx.String("comp", "http")))
	return a.http.Start(a.sup.Context())
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(newCfg.LogSettings())

	if bcfg, err := newCfg.BroadcastSettings(); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		// running campaigns keep the settings they started with
		a.coord.Apply(bcfg)
	}

	if err := a.sweeper.Apply(newCfg.SweepSchedule()); err != nil {
		a.log.Warn("invalid premium sweep schedule; keeping previous", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)), logx.Int("active_campaigns", a.coord.ActiveCount()))

	a.sup.Cancel()

	// step bounds one shutdown stage; it never extends the caller's deadline.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 2*time.Second, func(c context.Context) error {
		if a.http != nil {
			a.http.Stop(c)
		}
		return nil
	})
	step("premium", 1*time.Second, func(context.Context) error { a.sweeper.Stop(); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// Workers see the cancelled context, checkpoint and leave their records running.
	step("campaigns", 5*time.Second, func(c context.Context) error { return a.workers.Wait(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
