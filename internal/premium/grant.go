package premium

import (
	"context"
	"errors"
	"time"

	"kinobot/internal/storage"
)

// Plans maps a plan name to its length.
var Plans = map[string]time.Duration{
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
	"year":  365 * 24 * time.Hour,
}

var ErrUnknownPlan = errors.New("unknown premium plan")

// Grant activates plan for userID starting at now, replacing any previous grant.
func Grant(ctx context.Context, store storage.PremiumStore, userID int64, plan string, now time.Time) (storage.PremiumGrant, error) {
	d, ok := Plans[plan]
	if !ok {
		return storage.PremiumGrant{}, ErrUnknownPlan
	}
	g := storage.PremiumGrant{UserID: userID, PlanType: plan, StartAt: now, ExpiresAt: now.Add(d)}
	if err := store.GrantPremium(ctx, g); err != nil {
		return storage.PremiumGrant{}, err
	}
	return g, nil
}
