package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kinobot/internal/observability"
	"kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

func (c *Coordinator) work(ctx context.Context, j job) {
	log := c.log.With(logx.Int64("campaign", j.id))
	defer func() {
		c.reg.Remove(j.id)
		observability.ActiveCampaigns.Set(float64(c.reg.Len()))
		observability.CampaignDuration.Observe(time.Since(j.startedAt).Seconds())
	}()

	var success, failed int
	stoppedBy := ""
	for _, r := range j.recipients {
		// flag first so a cancel wins over a concurrent shutdown
		if c.reg.Cancelled(j.id) {
			stoppedBy = "cancel"
			break
		}
		if ctx.Err() != nil {
			stoppedBy = "shutdown"
			break
		}

		err := c.deliver(ctx, r, j.content)
		if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
			// aborted by shutdown before reaching the recipient; not an attempt
			stoppedBy = "shutdown"
			break
		}
		switch {
		case err == nil:
			success++
			observability.Deliveries.WithLabelValues("ok").Inc()
		case errors.Is(err, transport.ErrRecipientUnreachable):
			failed++
			observability.Deliveries.WithLabelValues("unreachable").Inc()
			log.Debug("recipient unreachable", logx.Int64("recipient", r), logx.Err(err))
		default:
			failed++
			observability.Deliveries.WithLabelValues("error").Inc()
			log.Warn("delivery failed", logx.Int64("recipient", r), logx.Err(err))
		}

		if (success+failed)%j.cfg.CheckpointEvery == 0 {
			c.checkpoint(ctx, log, j, success, failed)
		}
		pause(ctx, j.cfg.PaceDelay)
	}

	if stoppedBy == "shutdown" {
		c.checkpoint(ctx, log, j, success, failed)
		observability.CampaignsFinished.WithLabelValues("shutdown").Inc()
		log.Warn("campaign stopped by shutdown; record left running",
			logx.Int("success", success), logx.Int("failed", failed), logx.Int("total", len(j.recipients)))
		return
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.cfg.StoreTimeout)
	completed, err := c.store.FinalizeCampaign(sctx, j.id, success, failed, time.Now())
	cancel()
	if err != nil {
		observability.StoreErrors.WithLabelValues("finalize").Inc()
		observability.CampaignsFinished.WithLabelValues("finalize_error").Inc()
		log.Error("campaign finalize failed", logx.Int("success", success), logx.Int("failed", failed), logx.Err(err))
		return
	}

	outcome := "completed"
	if !completed {
		outcome = "cancelled"
	}
	observability.CampaignsFinished.WithLabelValues(outcome).Inc()
	log.Info("campaign finished",
		logx.String("status", outcome),
		logx.Int("success", success),
		logx.Int("failed", failed),
		logx.Int("total", len(j.recipients)),
		logx.Duration("dur", time.Since(j.startedAt)),
	)
}

// deliver turns a transport panic into a failed attempt for that recipient.
func (c *Coordinator) deliver(ctx context.Context, recipient int64, content transport.Content) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panic: %v", r)
		}
	}()
	return c.sender.Deliver(ctx, recipient, content)
}

func (c *Coordinator) checkpoint(ctx context.Context, log logx.Logger, j job, success, failed int) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.cfg.StoreTimeout)
	defer cancel()
	if err := c.store.CheckpointCampaign(sctx, j.id, success, failed); err != nil {
		observability.StoreErrors.WithLabelValues("checkpoint").Inc()
		log.Warn("campaign checkpoint failed", logx.Int("success", success), logx.Int("failed", failed), logx.Err(err))
	}
}

func pause(ctx context.Context, d time.Duration) {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
	case <-tmr.C:
	}
}
