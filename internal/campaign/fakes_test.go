package campaign

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"kinobot/internal/runtime/supervisor"
	"kinobot/internal/storage"
	"kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

type checkpointCall struct {
	id              int64
	success, failed int
}

// memStore is a CampaignStore with the same conditional-update semantics as the SQL drivers.
type memStore struct {
	mu          sync.Mutex
	recs        map[int64]storage.Campaign
	checkpoints []checkpointCall
	finalizes   int

	createErr     error
	checkpointErr error
	finalizeErr   error
}

func newMemStore() *memStore {
	return &memStore{recs: map[int64]storage.Campaign{}}
}

func (s *memStore) CreateCampaign(_ context.Context, c storage.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.recs[c.ID]; ok {
		return errors.New("duplicate id")
	}
	s.recs[c.ID] = c
	return nil
}

func (s *memStore) CheckpointCampaign(_ context.Context, id int64, success, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, checkpointCall{id, success, failed})
	if s.checkpointErr != nil {
		return s.checkpointErr
	}
	c := s.recs[id]
	c.SuccessCount, c.FailedCount = success, failed
	s.recs[id] = c
	return nil
}

func (s *memStore) FinalizeCampaign(_ context.Context, id int64, success, failed int, endAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizes++
	if s.finalizeErr != nil {
		return false, s.finalizeErr
	}
	c, ok := s.recs[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	c.SuccessCount, c.FailedCount = success, failed
	c.EndTime = &endAt
	if c.Status == storage.StatusRunning {
		c.Status = storage.StatusCompleted
	}
	s.recs[id] = c
	return c.Status == storage.StatusCompleted, nil
}

func (s *memStore) CancelCampaignIfRunning(_ context.Context, id int64, endAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.recs[id]
	if !ok || c.Status != storage.StatusRunning {
		return false, nil
	}
	c.Status = storage.StatusCancelled
	c.EndTime = &endAt
	s.recs[id] = c
	return true, nil
}

func (s *memStore) GetCampaign(_ context.Context, id int64) (storage.Campaign, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.recs[id]
	return c, ok, nil
}

func (s *memStore) ListCampaigns(_ context.Context, limit int) ([]storage.Campaign, error) {
	s.mu.Lock()
	out := make([]storage.Campaign, 0, len(s.recs))
	for _, c := range s.recs {
		out = append(out, c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CampaignTotals(_ context.Context) (storage.CampaignTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := storage.CampaignTotals{Campaigns: int64(len(s.recs))}
	for _, c := range s.recs {
		t.SuccessSends += int64(c.SuccessCount)
	}
	return t, nil
}

func (s *memStore) InterruptRunningCampaigns(_ context.Context, endAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.recs {
		if c.Status == storage.StatusRunning {
			c.Status = storage.StatusInterrupted
			c.EndTime = &endAt
			s.recs[id] = c
			n++
		}
	}
	return n, nil
}

func (s *memStore) get(t *testing.T, id int64) storage.Campaign {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.recs[id]
	if !ok {
		t.Fatalf("campaign %d not stored", id)
	}
	return c
}

func (s *memStore) checkpointCalls() []checkpointCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]checkpointCall(nil), s.checkpoints...)
}

// fakeSender records deliveries; fn, when set, decides each outcome.
type fakeSender struct {
	mu   sync.Mutex
	sent []int64
	at   []time.Time
	fn   func(n int, recipient int64) error
}

func (f *fakeSender) Deliver(_ context.Context, recipient int64, _ transport.Content) error {
	f.mu.Lock()
	f.sent = append(f.sent, recipient)
	f.at = append(f.at, time.Now())
	n := len(f.sent)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(n, recipient)
	}
	return nil
}

func (f *fakeSender) delivered() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.sent...)
}

func (f *fakeSender) times() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.at...)
}

var testContent = transport.Content{Kind: transport.ContentText, Text: "new movie tonight", FromChatID: 1, MessageID: 77}

func fastConfig() Config {
	return Config{PaceDelay: time.Microsecond, CheckpointEvery: 100, StoreTimeout: time.Second}
}

func newTestCoordinator(t *testing.T, store *memStore, sender Sender) (*Coordinator, *supervisor.Supervisor) {
	t.Helper()
	return newTestCoordinatorWith(t, fastConfig(), store, sender)
}

func newTestCoordinatorWith(t *testing.T, cfg Config, store *memStore, sender Sender) (*Coordinator, *supervisor.Supervisor) {
	t.Helper()
	sup := supervisor.New(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	return New(cfg, store, sender, sup, logx.Nop()), sup
}

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.ActiveCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("campaigns still active: %v", c.ActiveIDs())
		}
		time.Sleep(time.Millisecond)
	}
}

func recipientsN(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(1000 + i)
	}
	return out
}
