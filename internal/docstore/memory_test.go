package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Write Tests ---

func TestMemory_InsertAssignsIDAndServerTimestamp(t *testing.T) {
	store := NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(fixedClock(now))

	id, err := store.Insert(context.Background(), "chatMessages", Fields{
		"text":      "hello",
		"timestamp": ServerTimestamp,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}

	doc, err := store.Get(context.Background(), "chatMessages", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.String("text") != "hello" {
		t.Errorf("expected text hello, got %q", doc.String("text"))
	}
	if !doc.Time("timestamp").Equal(now) {
		t.Errorf("expected timestamp %v, got %v", now, doc.Time("timestamp"))
	}
}

func TestMemory_UpsertOverwrites(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.Upsert(ctx, "chatModeration", "k", Fields{"permanentlyMuted": true, "reason": "spam"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, "chatModeration", "k", Fields{"permanentlyMuted": false}); err != nil {
		t.Fatal(err)
	}

	doc, err := store.Get(ctx, "chatModeration", "k")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Bool("permanentlyMuted") {
		t.Error("expected permanentlyMuted to be overwritten to false")
	}
	if _, ok := doc.Fields["reason"]; ok {
		t.Error("expected upsert to drop fields missing from the new document")
	}
}

func TestMemory_UpdateMergesAndRequiresDocument(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	err := store.Update(ctx, "pinnedMessages", "missing", Fields{"isActive": true})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	id, _ := store.Insert(ctx, "pinnedMessages", Fields{"message": "hi", "isActive": false})
	if err := store.Update(ctx, "pinnedMessages", id, Fields{"isActive": true}); err != nil {
		t.Fatal(err)
	}
	doc, _ := store.Get(ctx, "pinnedMessages", id)
	if doc.String("message") != "hi" || !doc.Bool("isActive") {
		t.Errorf("expected merged fields, got %v", doc.Fields)
	}
}

func TestMemory_DeleteMissingIsNotAnError(t *testing.T) {
	store := NewMemory()
	if err := store.Delete(context.Background(), "chatMessages", "nope"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	id, _ := store.Insert(ctx, "videos", Fields{"title": "a"})

	doc, _ := store.Get(ctx, "videos", id)
	doc.Fields["title"] = "mutated"

	again, _ := store.Get(ctx, "videos", id)
	if again.String("title") != "a" {
		t.Errorf("expected stored document to be unaffected, got %q", again.String("title"))
	}
}

// --- Query Tests ---

func TestMemory_QueryFiltersOrdersAndLimits(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b", "d"} {
		video := "v1"
		if id == "d" {
			video = "v2"
		}
		if err := store.Upsert(ctx, "chatMessages", id, Fields{
			"videoId":   video,
			"timestamp": base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := store.Query(ctx, Query{
		Collection: "chatMessages",
		Filters:    []Filter{Where("videoId", OpEq, "v1")},
		OrderBy:    "timestamp",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(docs); !equalIDs(got, []string{"c", "a", "b"}) {
		t.Errorf("expected ascending [c a b], got %v", got)
	}

	docs, _ = store.Query(ctx, Query{
		Collection: "chatMessages",
		Filters:    []Filter{Where("videoId", OpEq, "v1")},
		OrderBy:    "timestamp",
		Desc:       true,
		Limit:      2,
	})
	if got := ids(docs); !equalIDs(got, []string{"b", "a"}) {
		t.Errorf("expected descending [b a], got %v", got)
	}
}

func TestMemory_QueryRangeOnTimestamps(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		_ = store.Upsert(ctx, "analytics", id, Fields{"timestamp": base.Add(time.Duration(i) * 24 * time.Hour)})
	}

	docs, err := store.Query(ctx, Query{
		Collection: "analytics",
		Filters:    []Filter{Where("timestamp", OpGte, base.Add(24*time.Hour))},
		OrderBy:    "timestamp",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(docs); !equalIDs(got, []string{"mid", "new"}) {
		t.Errorf("expected [mid new], got %v", got)
	}
}

func TestMemory_QueryMissingOrderFieldSortsLast(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	_ = store.Upsert(ctx, "c", "pending", Fields{"other": 1})
	_ = store.Upsert(ctx, "c", "x", Fields{"updatedAt": "2026"})

	docs, _ := store.Query(ctx, Query{Collection: "c", OrderBy: "updatedAt"})
	if got := ids(docs); !equalIDs(got, []string{"x", "pending"}) {
		t.Errorf("expected [x pending], got %v", got)
	}
	docs, _ = store.Query(ctx, Query{Collection: "c", OrderBy: "updatedAt", Desc: true})
	if got := ids(docs); !equalIDs(got, []string{"pending", "x"}) {
		t.Errorf("expected [pending x], got %v", got)
	}
}

func TestMemory_QueryNumericEquality(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	_ = store.Upsert(ctx, "c", "one", Fields{"n": 1})
	_ = store.Upsert(ctx, "c", "str", Fields{"n": "1"})

	docs, _ := store.Query(ctx, Query{Collection: "c", Filters: []Filter{Where("n", OpEq, int64(1))}})
	if got := ids(docs); !equalIDs(got, []string{"one"}) {
		t.Errorf("expected [one], got %v", got)
	}
}

func TestMemory_QueryRejectsInvalidQuery(t *testing.T) {
	store := NewMemory()
	tests := []struct {
		name string
		q    Query
	}{
		{"no collection", Query{}},
		{"bad operator", Query{Collection: "c", Filters: []Filter{{Field: "a", Op: "!=", Value: 1}}}},
		{"empty field", Query{Collection: "c", Filters: []Filter{{Op: OpEq, Value: 1}}}},
		{"negative limit", Query{Collection: "c", Limit: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Query(context.Background(), tt.q)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

// --- Subscription Tests ---

func TestMemory_SubscribeDeliversInitialAndChanges(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	_ = store.Upsert(ctx, "chatMessages", "m1", Fields{"videoId": "v1"})

	got := make(chan Snapshot, 8)
	sub, err := store.Subscribe(ctx, Query{
		Collection: "chatMessages",
		Filters:    []Filter{Where("videoId", OpEq, "v1")},
	}, func(s Snapshot) { got <- s })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	first := waitSnapshot(t, got)
	if len(first.Docs) != 1 {
		t.Fatalf("expected 1 initial doc, got %d", len(first.Docs))
	}

	_ = store.Upsert(ctx, "chatMessages", "m2", Fields{"videoId": "v1"})
	for {
		snap := waitSnapshot(t, got)
		if len(snap.Docs) == 2 {
			break
		}
	}
}

func TestMemory_SubscribeNoDeliveryAfterCancel(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	got := make(chan Snapshot, 8)
	sub, err := store.Subscribe(ctx, Query{Collection: "pinnedMessages"}, func(s Snapshot) { got <- s })
	if err != nil {
		t.Fatal(err)
	}
	waitSnapshot(t, got)

	sub.Cancel()
	sub.Cancel()
	<-sub.Done()

	_ = store.Upsert(ctx, "pinnedMessages", "p1", Fields{"isActive": true})
	select {
	case s := <-got:
		t.Fatalf("expected no delivery after cancel, got %v", s)
	case <-time.After(100 * time.Millisecond):
	}

	feed := store.feed.(*LocalFeed)
	if n := feed.listenerCount("pinnedMessages"); n != 0 {
		t.Errorf("expected listener to be removed, got %d", n)
	}
}

func TestMemory_SubscribeCancelFromListener(t *testing.T) {
	store := NewMemory()
	var sub *Subscription
	ready := make(chan struct{})
	called := make(chan struct{}, 4)

	sub, err := store.Subscribe(context.Background(), Query{Collection: "c"}, func(Snapshot) {
		<-ready
		sub.Cancel()
		called <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}
	close(ready)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop after cancel from listener")
	}
	if len(called) != 1 {
		t.Errorf("expected exactly one delivery, got %d", len(called))
	}
}

func TestMemory_SubscribeStopsWithContext(t *testing.T) {
	store := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := store.Subscribe(ctx, Query{Collection: "c"}, func(Snapshot) {})
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop with its context")
	}
}

func TestMemory_SubscribeRejectsInvalidQuery(t *testing.T) {
	store := NewMemory()
	if _, err := store.Subscribe(context.Background(), Query{}, func(Snapshot) {}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}
