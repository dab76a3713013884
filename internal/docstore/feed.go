package docstore

import (
	"context"
	"sync"
)

// Feed announces that a collection changed. Listeners get a coalescing
// signal: any number of publishes between two reads produce one wake-up.
type Feed interface {
	Publish(ctx context.Context, collection string) error
	Listen(collection string) (<-chan struct{}, func())
}

type LocalFeed struct {
	mu        sync.Mutex
	listeners map[string]map[chan struct{}]struct{}
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{listeners: make(map[string]map[chan struct{}]struct{})}
}

func (f *LocalFeed) Listen(collection string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	set, ok := f.listeners[collection]
	if !ok {
		set = make(map[chan struct{}]struct{})
		f.listeners[collection] = set
	}
	set[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.listeners[collection], ch)
			if len(f.listeners[collection]) == 0 {
				delete(f.listeners, collection)
			}
		})
	}
}

func (f *LocalFeed) Publish(_ context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.listeners[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *LocalFeed) listenerCount(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[collection])
}
