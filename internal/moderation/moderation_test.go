package moderation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/livepage/livepage/internal/docstore"
)

type failingStore struct {
	docstore.Store
	err error
}

func (s failingStore) Get(context.Context, string, string) (docstore.Document, error) {
	return docstore.Document{}, s.err
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTestPolicy(t *testing.T) (*Policy, *docstore.Memory, *clock) {
	t.Helper()
	store := docstore.NewMemory()
	c := &clock{t: time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC)}
	store.SetClock(c.now)
	policy := NewPolicy(store)
	policy.now = c.now
	return policy, store, c
}

// --- StatusAt Tests ---

func TestStatusAt(t *testing.T) {
	now := time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC)
	future := now.Add(90 * time.Second)
	past := now.Add(-time.Second)
	oneMinute := now.Add(30 * time.Second)

	tests := []struct {
		name   string
		rec    *Record
		muted  bool
		reason string
	}{
		{"no record", nil, false, ""},
		{"permanent", &Record{PermanentlyMuted: true}, true, "permanently muted"},
		{"permanent with expired until", &Record{PermanentlyMuted: true, MutedUntil: &past}, true, "permanently muted"},
		{"timed rounds up", &Record{MutedUntil: &future}, true, "muted for 2 more minutes"},
		{"timed singular", &Record{MutedUntil: &oneMinute}, true, "muted for 1 more minute"},
		{"expired", &Record{MutedUntil: &past}, false, ""},
		{"expiring exactly now", &Record{MutedUntil: &now}, false, ""},
		{"record without until", &Record{}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StatusAt(tt.rec, now)
			if got.Muted != tt.muted || got.Reason != tt.reason {
				t.Errorf("expected muted=%v reason=%q, got muted=%v reason=%q", tt.muted, tt.reason, got.Muted, got.Reason)
			}
		})
	}
}

// --- Key Tests ---

func TestKeyDocumentID_DeterministicAndCollisionFree(t *testing.T) {
	a := Key{VideoID: "v1", Username: "alice"}
	if a.DocumentID() != a.DocumentID() {
		t.Fatal("expected deterministic id")
	}

	left := Key{VideoID: "a_b", Username: "c"}
	right := Key{VideoID: "a", Username: "b_c"}
	if left.DocumentID() == right.DocumentID() {
		t.Error("expected pairs that concatenate identically to get different ids")
	}

	swapped := Key{VideoID: "alice", Username: "v1"}
	if a.DocumentID() == swapped.DocumentID() {
		t.Error("expected swapped fields to get different ids")
	}
}

// --- Policy Tests ---

func TestEvaluate_FailOpenOnLookupError(t *testing.T) {
	policy := NewPolicy(failingStore{err: errors.New("store unavailable")})

	status := policy.Evaluate(context.Background(), Key{VideoID: "v1", Username: "alice"})
	if status.Muted {
		t.Errorf("expected not muted on lookup error, got %+v", status)
	}
}

func TestEvaluate_NoRecord(t *testing.T) {
	policy, _, _ := newTestPolicy(t)
	if status := policy.Evaluate(context.Background(), Key{VideoID: "v1", Username: "nobody"}); status.Muted {
		t.Errorf("expected not muted, got %+v", status)
	}
}

func TestMute_TwiceLeavesSingleRecord(t *testing.T) {
	policy, store, _ := newTestPolicy(t)
	ctx := context.Background()
	key := Key{VideoID: "v1", Username: "alice"}

	for range 2 {
		if err := policy.Mute(ctx, key, MuteOptions{Permanent: true}); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := store.Query(ctx, docstore.Query{
		Collection: Collection,
		Filters: []docstore.Filter{
			docstore.Where("videoId", docstore.OpEq, "v1"),
			docstore.Where("username", docstore.OpEq, "alice"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected exactly 1 record, got %d", len(docs))
	}
	if !docs[0].Bool("permanentlyMuted") {
		t.Error("expected permanentlyMuted=true")
	}
}

func TestMute_DefaultsToPermanent(t *testing.T) {
	policy, _, _ := newTestPolicy(t)
	ctx := context.Background()
	key := Key{VideoID: "v1", Username: "alice"}

	if err := policy.Mute(ctx, key, MuteOptions{}); err != nil {
		t.Fatal(err)
	}
	status := policy.Evaluate(ctx, key)
	if !status.Muted || !status.Permanent {
		t.Errorf("expected permanent mute, got %+v", status)
	}
}

func TestMute_LastWriteWins(t *testing.T) {
	policy, _, _ := newTestPolicy(t)
	ctx := context.Background()
	key := Key{VideoID: "v1", Username: "alice"}

	_ = policy.Mute(ctx, key, MuteOptions{Permanent: true})
	_ = policy.Mute(ctx, key, MuteOptions{Duration: 3 * time.Minute})

	status := policy.Evaluate(ctx, key)
	if status.Permanent || status.Reason != "muted for 3 more minutes" {
		t.Errorf("expected timed mute to replace permanent one, got %+v", status)
	}
}

func TestMuteThenUnmute(t *testing.T) {
	policy, _, _ := newTestPolicy(t)
	ctx := context.Background()
	key := Key{VideoID: "v1", Username: "alice"}

	if err := policy.Mute(ctx, key, MuteOptions{Permanent: true}); err != nil {
		t.Fatal(err)
	}
	if err := policy.Unmute(ctx, key); err != nil {
		t.Fatal(err)
	}
	if status := policy.Evaluate(ctx, key); status.Muted {
		t.Errorf("expected not muted after unmute, got %+v", status)
	}
	if err := policy.Unmute(ctx, key); err != nil {
		t.Errorf("expected repeated unmute to succeed, got %v", err)
	}
}

func TestTimedMuteExpiry(t *testing.T) {
	policy, store, c := newTestPolicy(t)
	ctx := context.Background()
	start := c.now()

	until := start.Add(5 * time.Minute)
	key := Key{VideoID: "v1", Username: "bob"}
	if err := store.Upsert(ctx, Collection, key.DocumentID(), docstore.Fields{
		"videoId":          "v1",
		"username":         "bob",
		"mutedUntil":       until,
		"permanentlyMuted": false,
	}); err != nil {
		t.Fatal(err)
	}

	status := policy.Evaluate(ctx, key)
	if !status.Muted || !strings.Contains(status.Reason, "5") {
		t.Fatalf("expected muted with reason containing 5, got %+v", status)
	}

	c.set(start.Add(6 * time.Minute))
	if status := policy.Evaluate(ctx, key); status.Muted {
		t.Errorf("expected not muted after expiry, got %+v", status)
	}
}

func TestInvalidKey(t *testing.T) {
	policy, _, _ := newTestPolicy(t)
	ctx := context.Background()

	if err := policy.Mute(ctx, Key{VideoID: "v1"}, MuteOptions{}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey from Mute, got %v", err)
	}
	if err := policy.Unmute(ctx, Key{Username: "a"}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey from Unmute, got %v", err)
	}
	if status := policy.Evaluate(ctx, Key{}); status.Muted {
		t.Error("expected invalid key to evaluate as not muted")
	}
}

func TestSubscribeListsRecordsForVideo(t *testing.T) {
	policy, _, c := newTestPolicy(t)
	ctx := context.Background()

	_ = policy.Mute(ctx, Key{VideoID: "v1", Username: "alice"}, MuteOptions{})
	c.set(c.now().Add(time.Minute))
	_ = policy.Mute(ctx, Key{VideoID: "v1", Username: "bob"}, MuteOptions{Duration: time.Minute})
	_ = policy.Mute(ctx, Key{VideoID: "v2", Username: "carol"}, MuteOptions{})

	got := make(chan []Record, 4)
	sub, err := policy.Subscribe(ctx, "v1", func(records []Record) { got <- records })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	select {
	case records := <-got:
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		if records[0].Username != "bob" {
			t.Errorf("expected newest record first, got %s", records[0].Username)
		}
		if records[0].MutedUntil == nil || records[1].MutedUntil != nil {
			t.Errorf("unexpected mutedUntil values: %+v", records)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for records")
	}
}
