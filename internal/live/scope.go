package live

import (
	"context"
	"errors"
	"sync"

	"github.com/livepage/livepage/internal/docstore"
)

// scope is the set of subscriptions bound to the currently selected video.
// Replacing it cancels every subscription before issuing the new ones, and
// each delivery carries the generation it was issued under so late callbacks
// from a cancelled scope are dropped.
type scope struct {
	conn *conn

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	subs   []*docstore.Subscription
}

type starter func(ctx context.Context, gen uint64) ([]*docstore.Subscription, error)

func (s *scope) replace(parent context.Context, start starter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.gen++
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	subs, err := start(ctx, s.gen)
	if err != nil {
		for _, sub := range subs {
			sub.Cancel()
		}
		cancel()
		return err
	}
	s.subs = subs
	return nil
}

func (s *scope) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.gen++
}

func (s *scope) stopLocked() {
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *scope) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// deliver enqueues e only if gen is still the current generation.
func (s *scope) deliver(gen uint64, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.conn.enqueue(e)
}

// collector gathers subscriptions issued for one scope.
type collector struct {
	subs []*docstore.Subscription
	errs []error
}

func (c *collector) add(sub *docstore.Subscription, err error) {
	if err != nil {
		c.errs = append(c.errs, err)
		return
	}
	c.subs = append(c.subs, sub)
}

func (c *collector) result() ([]*docstore.Subscription, error) {
	return c.subs, errors.Join(c.errs...)
}
