package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/livepage/livepage/internal/docstore"
)

const (
	historyCollection     = "moderatorBroadcasts"
	lastMessageCollection = "moderatorLastMessage"
	MaxHistory            = 20
)

var (
	ErrNoLastMessage   = errors.New("no previous message to repeat")
	ErrHistoryNotFound = errors.New("history item not found")
)

type HistoryItem struct {
	ID     string    `json:"id"`
	Text   string    `json:"message"`
	Link   string    `json:"link,omitempty"`
	SentAt time.Time `json:"sentAt"`
}

type LastMessage struct {
	Text string `json:"message"`
	Link string `json:"link,omitempty"`
}

// Broadcaster sends moderator messages and remembers, per admin, the last
// message and a bounded history of past broadcasts.
type Broadcaster struct {
	feed  *Feed
	store docstore.Store
}

func NewBroadcaster(feed *Feed, store docstore.Store) *Broadcaster {
	return &Broadcaster{feed: feed, store: store}
}

// Send posts as the moderator and records the message in the admin's history.
// The message is already visible when history bookkeeping fails, so those
// failures are logged rather than returned.
func (b *Broadcaster) Send(ctx context.Context, adminID, videoID, text, link string) (string, error) {
	text, link = strings.TrimSpace(text), strings.TrimSpace(link)
	id, err := b.feed.Submit(ctx, SubmitRequest{VideoID: videoID, Text: text, Link: link, IsModerator: true})
	if err != nil {
		return "", err
	}
	b.remember(ctx, adminID, text, link)
	return id, nil
}

func (b *Broadcaster) remember(ctx context.Context, adminID, text, link string) {
	if err := b.store.Upsert(ctx, lastMessageCollection, adminID, docstore.Fields{
		"message":   text,
		"link":      link,
		"updatedAt": docstore.ServerTimestamp,
	}); err != nil {
		slog.Error("chat: failed to save last moderator message", "admin_id", adminID, "error", err)
	}

	if _, err := b.store.Insert(ctx, historyCollection, docstore.Fields{
		"adminId": adminID,
		"message": text,
		"link":    link,
		"sentAt":  docstore.ServerTimestamp,
	}); err != nil {
		slog.Error("chat: failed to record moderator history", "admin_id", adminID, "error", err)
		return
	}
	if err := b.trimHistory(ctx, adminID); err != nil {
		slog.Error("chat: failed to trim moderator history", "admin_id", adminID, "error", err)
	}
}

func (b *Broadcaster) trimHistory(ctx context.Context, adminID string) error {
	docs, err := b.store.Query(ctx, historyQuery(adminID, 0))
	if err != nil {
		return err
	}
	for i := MaxHistory; i < len(docs); i++ {
		if err := b.store.Delete(ctx, historyCollection, docs[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// Last returns nil when the admin has not sent anything yet.
func (b *Broadcaster) Last(ctx context.Context, adminID string) (*LastMessage, error) {
	doc, err := b.store.Get(ctx, lastMessageCollection, adminID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last moderator message: %w", err)
	}
	return &LastMessage{Text: doc.String("message"), Link: doc.String("link")}, nil
}

// Repeat resends the last message without adding it to history again.
func (b *Broadcaster) Repeat(ctx context.Context, adminID, videoID string) (string, error) {
	last, err := b.Last(ctx, adminID)
	if err != nil {
		return "", err
	}
	if last == nil || last.Text == "" {
		return "", ErrNoLastMessage
	}
	return b.feed.Submit(ctx, SubmitRequest{VideoID: videoID, Text: last.Text, Link: last.Link, IsModerator: true})
}

func historyQuery(adminID string, limit int) docstore.Query {
	return docstore.Query{
		Collection: historyCollection,
		Filters:    []docstore.Filter{docstore.Where("adminId", docstore.OpEq, adminID)},
		OrderBy:    "sentAt",
		Desc:       true,
		Limit:      limit,
	}
}

func (b *Broadcaster) History(ctx context.Context, adminID string) ([]HistoryItem, error) {
	docs, err := b.store.Query(ctx, historyQuery(adminID, MaxHistory))
	if err != nil {
		return nil, fmt.Errorf("load moderator history: %w", err)
	}
	items := make([]HistoryItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, HistoryItem{
			ID:     doc.ID,
			Text:   doc.String("message"),
			Link:   doc.String("link"),
			SentAt: doc.Time("sentAt"),
		})
	}
	return items, nil
}

func (b *Broadcaster) ownedHistoryItem(ctx context.Context, adminID, historyID string) (docstore.Document, error) {
	doc, err := b.store.Get(ctx, historyCollection, historyID)
	if errors.Is(err, docstore.ErrNotFound) || (err == nil && doc.String("adminId") != adminID) {
		return docstore.Document{}, ErrHistoryNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("load history item: %w", err)
	}
	return doc, nil
}

func (b *Broadcaster) Resend(ctx context.Context, adminID, historyID, videoID string) (string, error) {
	doc, err := b.ownedHistoryItem(ctx, adminID, historyID)
	if err != nil {
		return "", err
	}
	return b.feed.Submit(ctx, SubmitRequest{
		VideoID:     videoID,
		Text:        doc.String("message"),
		Link:        doc.String("link"),
		IsModerator: true,
	})
}

// DeleteHistoryItem succeeds when the item is already gone.
func (b *Broadcaster) DeleteHistoryItem(ctx context.Context, adminID, historyID string) error {
	_, err := b.ownedHistoryItem(ctx, adminID, historyID)
	if errors.Is(err, ErrHistoryNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return b.store.Delete(ctx, historyCollection, historyID)
}

func (b *Broadcaster) ClearHistory(ctx context.Context, adminID string) error {
	docs, err := b.store.Query(ctx, historyQuery(adminID, 0))
	if err != nil {
		return fmt.Errorf("load moderator history: %w", err)
	}
	for _, doc := range docs {
		if err := b.store.Delete(ctx, historyCollection, doc.ID); err != nil {
			return fmt.Errorf("clear moderator history: %w", err)
		}
	}
	return nil
}
