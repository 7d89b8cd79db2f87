// Package bot is the chat-facing command layer.
//
// Every private message refreshes the sender in the user directory; banned
// users are ignored. Owners drive campaigns with /broadcast, /cancel,
// /history and /bstats, and manage users with /ban, /unban and /grant.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"kinobot/internal/campaign"
	"kinobot/internal/premium"
	"kinobot/internal/storage"
	"kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

const (
	pendingTTL      = 10 * time.Minute
	defaultHistoryN = 10
	maxHistoryN     = 50
	commandTimeout  = 15 * time.Second
)

// Campaigns is the coordinator surface used by commands.
type Campaigns interface {
	Start(ctx context.Context, recipients []int64, content transport.Content, initiator int64) (int64, error)
	Cancel(ctx context.Context, id int64) bool
	History(ctx context.Context, limit int) ([]storage.Campaign, error)
	Stats(ctx context.Context) (campaign.Stats, error)
}

type Replier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Store interface {
	storage.UserStore
	storage.PremiumStore
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Deps struct {
	Replier   Replier
	Store     Store
	Campaigns Campaigns
	IsOwner   func(userID int64) bool
	Log       logx.Logger
	Now       func() time.Time
}

type Bot struct {
	d Deps

	mu      sync.Mutex
	pending map[int64]time.Time // owner id -> /broadcast issued at
}

func New(d Deps) *Bot {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.IsOwner == nil {
		d.IsOwner = func(int64) bool { return false }
	}
	return &Bot{d: d, pending: map[int64]time.Time{}}
}

// Run handles updates until ctx is done or updates is closed.
func (b *Bot) Run(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			b.Handle(ctx, up)
		}
	}
}

func (b *Bot) Handle(ctx context.Context, up transport.Update) {
	m := up.Message
	if up.Kind != transport.UpdateMessage || m == nil || !m.Private {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	log := b.d.Log.With(logx.Int64("user", m.FromID))

	now := b.d.Now()
	if err := b.d.Store.UpsertUser(ctx, storage.User{
		ID:        m.FromID,
		Username:  m.FromUsername,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		LastSeen:  now,
	}); err != nil {
		log.Warn("user upsert failed", logx.Err(err))
	}
	if u, ok, err := b.d.Store.GetUser(ctx, m.FromID); err == nil && ok && u.Banned {
		log.Debug("ignoring banned user")
		return
	}

	owner := b.d.IsOwner(m.FromID)
	cmd, args := parseCommand(m.Text)

	if owner && cmd == "" && b.takePending(m.FromID, now) {
		b.startCampaign(ctx, log, m)
		return
	}

	switch cmd {
	case "":
		return
	case "/start":
		b.reply(ctx, m.ChatID, "Welcome! You will receive announcements about new releases here.")
		return
	}
	if !owner {
		return
	}

	switch cmd {
	case "/broadcast":
		b.setPending(m.FromID, now)
		b.reply(ctx, m.ChatID, "Send the message to broadcast (text or media). /abort to cancel.")
	case "/abort":
		if b.takePending(m.FromID, now) {
			b.reply(ctx, m.ChatID, "Broadcast aborted.")
		} else {
			b.reply(ctx, m.ChatID, "Nothing to abort.")
		}
	case "/cancel":
		b.cancelCampaign(ctx, log, m, args)
	case "/history":
		b.history(ctx, m, args)
	case "/bstats":
		b.stats(ctx, m)
	case "/ban", "/unban":
		b.setBanned(ctx, log, m, args, cmd == "/ban")
	case "/grant":
		b.grant(ctx, log, m, args)
	default:
		b.reply(ctx, m.ChatID, "Unknown command.")
	}
}

// parseCommand splits "/cmd@bot a b" into ("/cmd", ["a", "b"]). Non-commands yield "".
func parseCommand(text string) (string, []string) {
	f := strings.Fields(text)
	if len(f) == 0 || !strings.HasPrefix(f[0], "/") {
		return "", nil
	}
	cmd := strings.ToLower(f[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd, f[1:]
}

func (b *Bot) setPending(owner int64, now time.Time) {
	b.mu.Lock()
	b.pending[owner] = now
	b.mu.Unlock()
}

// takePending clears the pending /broadcast of owner and reports whether it was still valid.
func (b *Bot) takePending(owner int64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	at, ok := b.pending[owner]
	delete(b.pending, owner)
	return ok && now.Sub(at) <= pendingTTL
}

func (b *Bot) startCampaign(ctx context.Context, log logx.Logger, m *transport.Message) {
	audience, err := b.d.Store.BroadcastAudience(ctx, b.d.Now())
	if err != nil {
		log.Error("broadcast audience failed", logx.Err(err))
		b.reply(ctx, m.ChatID, "Could not load recipients: "+err.Error())
		return
	}
	if len(audience) == 0 {
		b.reply(ctx, m.ChatID, "No recipients; broadcast not started.")
		return
	}

	id, err := b.d.Campaigns.Start(ctx, audience, m.Content, m.FromID)
	b.audit(ctx, log, m.FromID, "broadcast.start", strconv.FormatInt(id, 10), err)
	if err != nil {
		b.reply(ctx, m.ChatID, "Broadcast failed to start: "+err.Error())
		return
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf("Broadcast #%d started for %d users.\nStop it with /cancel %d", id, len(audience), id))
}

func (b *Bot) cancelCampaign(ctx context.Context, log logx.Logger, m *transport.Message, args []string) {
	if len(args) != 1 {
		b.reply(ctx, m.ChatID, "Usage: /cancel <id>")
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.reply(ctx, m.ChatID, "Invalid campaign id.")
		return
	}
	ok := b.d.Campaigns.Cancel(ctx, id)
	var auditErr error
	if !ok {
		auditErr = errors.New("not running")
	}
	b.audit(ctx, log, m.FromID, "broadcast.cancel", args[0], auditErr)
	if ok {
		b.reply(ctx, m.ChatID, fmt.Sprintf("Broadcast #%d cancelled.", id))
	} else {
		b.reply(ctx, m.ChatID, fmt.Sprintf("Broadcast #%d is not running.", id))
	}
}

func (b *Bot) history(ctx context.Context, m *transport.Message, args []string) {
	n := defaultHistoryN
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			b.reply(ctx, m.ChatID, "Usage: /history [n]")
			return
		}
		n = min(v, maxHistoryN)
	}
	list, err := b.d.Campaigns.History(ctx, n)
	if err != nil {
		b.reply(ctx, m.ChatID, "History unavailable: "+err.Error())
		return
	}
	b.reply(ctx, m.ChatID, formatHistory(list))
}

func (b *Bot) stats(ctx context.Context, m *transport.Message) {
	st, err := b.d.Campaigns.Stats(ctx)
	if err != nil {
		b.reply(ctx, m.ChatID, "Stats unavailable: "+err.Error())
		return
	}
	total, active, err := b.d.Store.UserCounts(ctx)
	if err != nil {
		b.reply(ctx, m.ChatID, "Stats unavailable: "+err.Error())
		return
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf(
		"Campaigns: %d (running now: %d)\nMessages delivered: %d\nUsers: %d (active %d)",
		st.TotalCampaigns, st.Active, st.TotalSent, total, active,
	))
}

func (b *Bot) setBanned(ctx context.Context, log logx.Logger, m *transport.Message, args []string, banned bool) {
	if len(args) != 1 {
		b.reply(ctx, m.ChatID, "Usage: /ban <user_id> or /unban <user_id>")
		return
	}
	uid, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.reply(ctx, m.ChatID, "Invalid user id.")
		return
	}
	action := "user.unban"
	if banned {
		action = "user.ban"
	}
	err = b.d.Store.SetBanned(ctx, uid, banned)
	b.audit(ctx, log, m.FromID, action, args[0], err)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.reply(ctx, m.ChatID, "Unknown user.")
	case err != nil:
		b.reply(ctx, m.ChatID, "Failed: "+err.Error())
	default:
		b.reply(ctx, m.ChatID, "Done.")
	}
}

func (b *Bot) grant(ctx context.Context, log logx.Logger, m *transport.Message, args []string) {
	if len(args) != 2 {
		b.reply(ctx, m.ChatID, "Usage: /grant <user_id> <week|month|year>")
		return
	}
	uid, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.reply(ctx, m.ChatID, "Invalid user id.")
		return
	}
	g, err := premium.Grant(ctx, b.d.Store, uid, strings.ToLower(args[1]), b.d.Now())
	b.audit(ctx, log, m.FromID, "premium.grant", args[0]+":"+args[1], err)
	if err != nil {
		b.reply(ctx, m.ChatID, "Failed: "+err.Error())
		return
	}
	b.reply(ctx, m.ChatID, fmt.Sprintf("Premium (%s) active until %s.", g.PlanType, g.ExpiresAt.UTC().Format("2006-01-02 15:04 MST")))
}

func (b *Bot) audit(ctx context.Context, log logx.Logger, actor int64, action, target string, err error) {
	e := storage.AuditEntry{At: b.d.Now(), ActorID: actor, Action: action, Target: target, OK: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := b.d.Store.AppendAudit(ctx, e); aerr != nil {
		log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.d.Replier.SendText(ctx, chatID, text); err != nil {
		b.d.Log.Warn("reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}
