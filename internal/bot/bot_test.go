package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"kinobot/internal/campaign"
	"kinobot/internal/storage"
	"kinobot/internal/transport"
)

const ownerID = 1

type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]storage.User
	grants   []storage.PremiumGrant
	audit    []storage.AuditEntry
	audience []int64
}

func newFakeStore() *fakeStore { return &fakeStore{users: map[int64]storage.User{}} }

func (f *fakeStore) UpsertUser(_ context.Context, u storage.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if old, ok := f.users[u.ID]; ok {
		u.Banned = old.Banned
	}
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) GetUser(_ context.Context, id int64) (storage.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	return u, ok, nil
}

func (f *fakeStore) SetBanned(_ context.Context, id int64, banned bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.Banned = banned
	f.users[id] = u
	return nil
}

func (f *fakeStore) UserCounts(context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	active := 0
	for _, u := range f.users {
		if !u.Banned {
			active++
		}
	}
	return len(f.users), active, nil
}

func (f *fakeStore) BroadcastAudience(context.Context, time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.audience...), nil
}

func (f *fakeStore) GrantPremium(_ context.Context, g storage.PremiumGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, g)
	return nil
}

func (f *fakeStore) IsPremium(context.Context, int64, time.Time) (bool, error) { return false, nil }
func (f *fakeStore) ExpirePremium(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(f.audit, e)
	return nil
}

type started struct {
	recipients []int64
	content    transport.Content
	initiator  int64
}

type fakeCampaigns struct {
	starts   []started
	startErr error
	running  map[int64]bool
	history  []storage.Campaign
	lastN    int
}

func (f *fakeCampaigns) Start(_ context.Context, recipients []int64, c transport.Content, initiator int64) (int64, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.starts = append(f.starts, started{recipients, c, initiator})
	id := int64(1000 + len(f.starts))
	f.running[id] = true
	return id, nil
}

func (f *fakeCampaigns) Cancel(_ context.Context, id int64) bool {
	if !f.running[id] {
		return false
	}
	f.running[id] = false
	return true
}

func (f *fakeCampaigns) History(_ context.Context, n int) ([]storage.Campaign, error) {
	f.lastN = n
	return f.history, nil
}

func (f *fakeCampaigns) Stats(context.Context) (campaign.Stats, error) {
	return campaign.Stats{TotalCampaigns: 3, TotalSent: 42, Active: 1}, nil
}

type fakeReplier struct{ sent []string }

func (f *fakeReplier) SendText(_ context.Context, _ int64, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeReplier) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type harness struct {
	bot   *Bot
	store *fakeStore
	camps *fakeCampaigns
	out   *fakeReplier
	now   time.Time
}

func newHarness() *harness {
	h := &harness{
		store: newFakeStore(),
		camps: &fakeCampaigns{running: map[int64]bool{}},
		out:   &fakeReplier{},
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.bot = New(Deps{
		Replier:   h.out,
		Store:     h.store,
		Campaigns: h.camps,
		IsOwner:   func(id int64) bool { return id == ownerID },
		Now:       func() time.Time { return h.now },
	})
	return h
}

func (h *harness) send(from int64, text string) {
	h.sendContent(from, text, transport.Content{Kind: transport.ContentText, Text: text, FromChatID: from, MessageID: 7})
}

func (h *harness) sendContent(from int64, text string, c transport.Content) {
	h.bot.Handle(context.Background(), transport.Update{
		Kind: transport.UpdateMessage,
		Message: &transport.Message{
			ID: c.MessageID, ChatID: from, FromID: from, Text: text, Private: true, Content: c,
		},
	})
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	cmd, args := parseCommand("/Cancel@kinobot 12 x")
	if cmd != "/cancel" || len(args) != 2 || args[0] != "12" {
		t.Fatalf("parseCommand = %q %v", cmd, args)
	}
	if cmd, _ := parseCommand("hello /cancel"); cmd != "" {
		t.Fatalf("non-command parsed as %q", cmd)
	}
}

func TestEveryMessageUpsertsUser(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.send(55, "hi there")
	u, ok, _ := h.store.GetUser(context.Background(), 55)
	if !ok || !u.LastSeen.Equal(h.now) {
		t.Fatalf("user = %+v ok=%v", u, ok)
	}
	if len(h.out.sent) != 0 {
		t.Fatalf("plain message got replies: %v", h.out.sent)
	}
}

func TestNonOwnerCannotBroadcast(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.send(55, "/broadcast")
	h.send(55, "spam")
	if len(h.camps.starts) != 0 {
		t.Fatal("non-owner started a campaign")
	}
}

func TestBroadcastFlow(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.store.audience = []int64{10, 20, 30}

	h.send(ownerID, "/broadcast")
	photo := transport.Content{Kind: transport.ContentPhoto, Caption: "new", FromChatID: ownerID, MessageID: 99}
	h.sendContent(ownerID, "", photo)

	if len(h.camps.starts) != 1 {
		t.Fatalf("starts = %d", len(h.camps.starts))
	}
	s := h.camps.starts[0]
	if len(s.recipients) != 3 || s.content != photo || s.initiator != ownerID {
		t.Fatalf("start = %+v", s)
	}
	if !strings.Contains(h.out.last(), "#1001") || !strings.Contains(h.out.last(), "3 users") {
		t.Fatalf("reply = %q", h.out.last())
	}
	if len(h.store.audit) != 1 || h.store.audit[0].Action != "broadcast.start" || !h.store.audit[0].OK {
		t.Fatalf("audit = %+v", h.store.audit)
	}

	// pending state is consumed
	h.send(ownerID, "just chatting")
	if len(h.camps.starts) != 1 {
		t.Fatal("second message started another campaign")
	}
}

func TestBroadcastEmptyAudience(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.send(ownerID, "/broadcast")
	h.send(ownerID, "hello all")
	if len(h.camps.starts) != 0 {
		t.Fatal("campaign started with no recipients")
	}
	if !strings.Contains(h.out.last(), "No recipients") {
		t.Fatalf("reply = %q", h.out.last())
	}
}

func TestBroadcastStartFailureAudited(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.store.audience = []int64{10}
	h.camps.startErr = errors.New("db down")
	h.send(ownerID, "/broadcast")
	h.send(ownerID, "hello")
	if len(h.store.audit) != 1 || h.store.audit[0].OK || h.store.audit[0].Error != "db down" {
		t.Fatalf("audit = %+v", h.store.audit)
	}
	if !strings.Contains(h.out.last(), "failed to start") {
		t.Fatalf("reply = %q", h.out.last())
	}
}

func TestAbortAndExpiry(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.store.audience = []int64{10}

	h.send(ownerID, "/broadcast")
	h.send(ownerID, "/abort")
	h.send(ownerID, "hello")
	if len(h.camps.starts) != 0 {
		t.Fatal("aborted broadcast started")
	}

	h.send(ownerID, "/broadcast")
	h.now = h.now.Add(pendingTTL + time.Second)
	h.send(ownerID, "hello")
	if len(h.camps.starts) != 0 {
		t.Fatal("expired pending broadcast started")
	}
}

func TestCancelCommand(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.camps.running[77] = true

	h.send(ownerID, "/cancel 77")
	if !strings.Contains(h.out.last(), "cancelled") {
		t.Fatalf("reply = %q", h.out.last())
	}
	h.send(ownerID, "/cancel 77")
	if !strings.Contains(h.out.last(), "not running") {
		t.Fatalf("reply = %q", h.out.last())
	}
	h.send(ownerID, "/cancel abc")
	if !strings.Contains(h.out.last(), "Invalid") {
		t.Fatalf("reply = %q", h.out.last())
	}
	if len(h.store.audit) != 2 || !h.store.audit[0].OK || h.store.audit[1].OK {
		t.Fatalf("audit = %+v", h.store.audit)
	}
}

func TestHistoryCommand(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.camps.history = []storage.Campaign{{
		ID: 5, Status: storage.StatusCompleted, ContentType: "text", ContentPreview: "hello",
		TotalUsers: 4, SuccessCount: 3, FailedCount: 1, StartTime: h.now,
	}}

	h.send(ownerID, "/history")
	if h.camps.lastN != defaultHistoryN {
		t.Fatalf("default n = %d", h.camps.lastN)
	}
	if got := h.out.last(); !strings.Contains(got, "#5 [done]") || !strings.Contains(got, "3/4 ok, 1 failed") {
		t.Fatalf("reply = %q", got)
	}
	h.send(ownerID, "/history 1000")
	if h.camps.lastN != maxHistoryN {
		t.Fatalf("capped n = %d", h.camps.lastN)
	}
}

func TestStatsCommand(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.send(ownerID, "/bstats")
	if got := h.out.last(); !strings.Contains(got, "Campaigns: 3") || !strings.Contains(got, "Messages delivered: 42") {
		t.Fatalf("reply = %q", got)
	}
}

func TestBannedUserIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.send(55, "hi")
	h.send(ownerID, "/ban 55")
	n := len(h.out.sent)

	h.send(55, "/start")
	if len(h.out.sent) != n {
		t.Fatalf("banned user got a reply: %q", h.out.last())
	}

	h.send(ownerID, "/unban 55")
	h.send(55, "/start")
	if !strings.Contains(h.out.last(), "Welcome") {
		t.Fatalf("reply = %q", h.out.last())
	}

	h.send(ownerID, "/ban 999")
	if !strings.Contains(h.out.last(), "Unknown user") {
		t.Fatalf("reply = %q", h.out.last())
	}
}

func TestGrantCommand(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.send(ownerID, "/grant 55 month")
	if len(h.store.grants) != 1 {
		t.Fatalf("grants = %+v", h.store.grants)
	}
	g := h.store.grants[0]
	if g.UserID != 55 || !g.ExpiresAt.Equal(h.now.Add(30*24*time.Hour)) {
		t.Fatalf("grant = %+v", g)
	}
	h.send(ownerID, "/grant 55 decade")
	if !strings.Contains(h.out.last(), "unknown premium plan") {
		t.Fatalf("reply = %q", h.out.last())
	}
}

func TestRunStopsOnClose(t *testing.T) {
	t.Parallel()
	h := newHarness()
	ch := make(chan transport.Update, 1)
	ch <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 9, FromID: 9, Text: "/start", Private: true}}
	close(ch)
	if err := h.bot.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(h.out.last(), "Welcome") {
		t.Fatalf("reply = %q", h.out.last())
	}
}
