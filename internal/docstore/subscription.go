package docstore

import (
	"context"
	"log/slog"
	"sync"
)

// Subscription is a live query. Each subscription owns one goroutine, so
// deliveries to its listener never overlap.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	// mu orders Cancel against the admission of each delivery. It is never
	// held while the listener runs.
	mu       sync.Mutex
	canceled bool
}

// Cancel stops future deliveries: once it returns, no further delivery is
// admitted. A delivery admitted before the call may still be running, which
// is what lets the listener cancel its own subscription. Cancel is safe to
// call more than once.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()
	s.cancel()
}

// admit reports whether a delivery may start.
func (s *Subscription) admit(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.canceled && ctx.Err() == nil
}

// Done is closed once the subscription goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

type queryFunc func(ctx context.Context, q Query) ([]Document, error)

func startSubscription(ctx context.Context, feed Feed, q Query, query queryFunc, fn Listener) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{cancel: cancel, done: make(chan struct{})}

	// Listen before the first query so a write landing in between still
	// triggers a refresh.
	changes, stop := feed.Listen(q.Collection)

	go func() {
		defer close(s.done)
		defer stop()
		defer cancel()

		s.refresh(ctx, q, query, fn)
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				s.refresh(ctx, q, query, fn)
			}
		}
	}()
	return s
}

func (s *Subscription) refresh(ctx context.Context, q Query, query queryFunc, fn Listener) {
	docs, err := query(ctx, q)
	if !s.admit(ctx) {
		return
	}
	if err != nil {
		slog.Error("docstore: subscription refresh failed", "collection", q.Collection, "error", err)
		docs = nil
	}
	if docs == nil {
		docs = []Document{}
	}
	fn(Snapshot{Docs: docs, Err: err})
}
