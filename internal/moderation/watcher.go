package moderation

import (
	"context"
	"sync"
	"time"
)

const DefaultCheckInterval = 10 * time.Second

// Watcher re-evaluates a participant's mute status on a fixed period. Mutes
// issued between ticks take effect on the next tick.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Watch evaluates once immediately and then every interval until Stop is
// called or ctx ends. fn runs on the watcher goroutine.
func (p *Policy) Watch(ctx context.Context, key Key, interval time.Duration, fn func(Status)) *Watcher {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		check := func() {
			status := p.Evaluate(ctx, key)
			if ctx.Err() == nil {
				fn(status)
			}
		}

		check()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
	return w
}

func (w *Watcher) Stop() {
	w.once.Do(w.cancel)
}

func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
