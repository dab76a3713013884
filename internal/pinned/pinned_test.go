package pinned

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/livepage/livepage/internal/docstore"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestChannel(t *testing.T) (*Channel, *docstore.Memory) {
	t.Helper()
	store := docstore.NewMemory()
	store.SetClock((&stepClock{t: time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)}).now)
	return NewChannel(store), store
}

type pinUpdate struct {
	pin *Pin
}

func waitPin(t *testing.T, ch <-chan pinUpdate, match func(*Pin) bool) *Pin {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-ch:
			if match(u.pin) {
				return u.pin
			}
		case <-deadline:
			t.Fatal("timed out waiting for pinned update")
			return nil
		}
	}
}

func isNil(p *Pin) bool { return p == nil }

func hasMessage(msg string) func(*Pin) bool {
	return func(p *Pin) bool { return p != nil && p.Message == msg }
}

func subscribe(t *testing.T, c *Channel, videoID string) <-chan pinUpdate {
	t.Helper()
	ch := make(chan pinUpdate, 16)
	sub, err := c.Subscribe(context.Background(), videoID, func(p *Pin) { ch <- pinUpdate{pin: p} })
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sub.Cancel)
	return ch
}

// --- Subscribe Tests ---

func TestSubscribe_SingletonWithTwoActivePins(t *testing.T) {
	c, _ := newTestChannel(t)
	ctx := context.Background()

	if _, err := c.Create(ctx, "v1", Input{Message: "first", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	secondID, err := c.Create(ctx, "v1", Input{Message: "second", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}

	ch := subscribe(t, c, "v1")
	pin := waitPin(t, ch, func(p *Pin) bool { return p != nil })
	if pin.ID != secondID {
		t.Errorf("expected most recently updated pin %s, got %s (%q)", secondID, pin.ID, pin.Message)
	}
}

func TestSubscribe_MostRecentlyUpdatedWins(t *testing.T) {
	c, _ := newTestChannel(t)
	ctx := context.Background()

	firstID, _ := c.Create(ctx, "v1", Input{Message: "first", IsActive: true})
	if _, err := c.Create(ctx, "v1", Input{Message: "second", IsActive: true}); err != nil {
		t.Fatal(err)
	}

	ch := subscribe(t, c, "v1")
	waitPin(t, ch, hasMessage("second"))

	if err := c.Update(ctx, firstID, Input{Message: "first, edited", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	waitPin(t, ch, hasMessage("first, edited"))
}

func TestSubscribe_DeletedPinDisappears(t *testing.T) {
	c, _ := newTestChannel(t)
	ctx := context.Background()

	ch := subscribe(t, c, "v1")
	waitPin(t, ch, isNil)

	id, err := c.Create(ctx, "v1", Input{Message: "Offer ends tonight", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	waitPin(t, ch, hasMessage("Offer ends tonight"))

	if err := c.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	waitPin(t, ch, isNil)
}

func TestSubscribe_InactiveAndOtherVideosIgnored(t *testing.T) {
	c, _ := newTestChannel(t)
	ctx := context.Background()

	_, _ = c.Create(ctx, "v1", Input{Message: "hidden", IsActive: false})
	_, _ = c.Create(ctx, "v2", Input{Message: "elsewhere", IsActive: true})

	pin, err := c.Active(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if pin != nil {
		t.Errorf("expected no active pin, got %+v", pin)
	}
}

func TestToggleActive(t *testing.T) {
	c, _ := newTestChannel(t)
	ctx := context.Background()

	id, _ := c.Create(ctx, "v1", Input{Message: "toggle me", IsActive: true})
	ch := subscribe(t, c, "v1")
	waitPin(t, ch, hasMessage("toggle me"))

	if err := c.ToggleActive(ctx, id, true); err != nil {
		t.Fatal(err)
	}
	waitPin(t, ch, isNil)

	if err := c.ToggleActive(ctx, id, false); err != nil {
		t.Fatal(err)
	}
	waitPin(t, ch, hasMessage("toggle me"))
}

func TestSubscribeAll(t *testing.T) {
	c, _ := newTestChannel(t)
	ctx := context.Background()

	_, _ = c.Create(ctx, "v1", Input{Message: "a", IsActive: false})
	_, _ = c.Create(ctx, "v1", Input{Message: "b", IsActive: true})

	ch := make(chan []Pin, 4)
	sub, err := c.SubscribeAll(ctx, "v1", func(pins []Pin) { ch <- pins })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	select {
	case pins := <-ch:
		if len(pins) != 2 || pins[0].Message != "b" {
			t.Errorf("expected both pins newest first, got %+v", pins)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pins")
	}
}

// --- Write Tests ---

func TestCreate_Validation(t *testing.T) {
	c, store := newTestChannel(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   Input
	}{
		{"empty", Input{Message: "  "}},
		{"too long", Input{Message: strings.Repeat("a", 501)}},
		{"bad link", Input{Message: "hi", Link: "ftp://example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Create(ctx, "v1", tt.in)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	docs, _ := store.Query(ctx, docstore.Query{Collection: Collection})
	if len(docs) != 0 {
		t.Errorf("expected nothing stored, got %d", len(docs))
	}

	if _, err := c.Create(ctx, "v1", Input{Message: strings.Repeat("a", 500)}); err != nil {
		t.Errorf("expected 500 characters to be accepted, got %v", err)
	}
}

func TestUpdateAndToggle_MissingIsNoop(t *testing.T) {
	c, _ := newTestChannel(t)
	ctx := context.Background()

	if err := c.Update(ctx, "missing", Input{Message: "hi"}); err != nil {
		t.Errorf("expected no-op update, got %v", err)
	}
	if err := c.ToggleActive(ctx, "missing", true); err != nil {
		t.Errorf("expected no-op toggle, got %v", err)
	}
	if err := c.Delete(ctx, "missing"); err != nil {
		t.Errorf("expected no-op delete, got %v", err)
	}
}
