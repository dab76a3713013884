package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory keeps documents in process memory. Values go through the same JSON
// encoding as Postgres so both implementations return identical shapes.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Fields
	feed        Feed
	now         func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithFeed(NewLocalFeed())
}

func NewMemoryWithFeed(feed Feed) *Memory {
	return &Memory{
		collections: make(map[string]map[string]Fields),
		feed:        feed,
		now:         time.Now,
	}
}

// SetClock replaces the clock used for ServerTimestamp.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Subscribe(ctx context.Context, q Query, fn Listener) (*Subscription, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	return startSubscription(ctx, m.feed, q, m.Query, fn), nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	docs := make([]Document, 0, len(m.collections[q.Collection]))
	for id, fields := range m.collections[q.Collection] {
		if matches(fields, filters) {
			docs = append(docs, Document{ID: id, Fields: copyFields(fields)})
		}
	}
	m.mu.RUnlock()

	sortDocuments(docs, q.OrderBy, q.Desc)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (m *Memory) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: copyFields(fields)}, nil
}

func (m *Memory) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	id := uuid.NewString()
	if err := m.write(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Memory) Upsert(ctx context.Context, collection, id string, fields Fields) error {
	return m.write(ctx, collection, id, fields, false)
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields Fields) error {
	return m.write(ctx, collection, id, fields, true)
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	_, ok := m.collections[collection][id]
	delete(m.collections[collection], id)
	m.mu.Unlock()
	if ok {
		m.publish(ctx, collection)
	}
	return nil
}

func (m *Memory) write(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	if collection == "" || id == "" {
		return fmt.Errorf("%w: collection and id are required", ErrInvalidQuery)
	}
	m.mu.Lock()
	raw, err := marshalFields(fields, m.now())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	decoded, err := unmarshalFields(raw)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]Fields)
		m.collections[collection] = docs
	}
	existing, exists := docs[id]
	if merge {
		if !exists {
			m.mu.Unlock()
			return ErrNotFound
		}
		merged := copyFields(existing)
		maps.Copy(merged, decoded)
		decoded = merged
	}
	docs[id] = decoded
	m.mu.Unlock()

	m.publish(ctx, collection)
	return nil
}

func (m *Memory) publish(ctx context.Context, collection string) {
	if err := m.feed.Publish(ctx, collection); err != nil {
		slog.Error("docstore: failed to publish change", "collection", collection, "error", err)
	}
}

// copyFields deep-copies through JSON so callers cannot alias stored maps.
func copyFields(fields Fields) Fields {
	b, err := json.Marshal(fields)
	if err != nil {
		return Fields{}
	}
	out, err := unmarshalFields(b)
	if err != nil {
		return Fields{}
	}
	return out
}
