// Package pinned keeps the moderator announcement shown above a video's chat.
package pinned

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livepage/livepage/internal/docstore"
	"github.com/livepage/livepage/internal/validate"
)

const Collection = "pinnedMessages"

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type Pin struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"videoId"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Input struct {
	Message  string
	Link     string
	IsActive bool
}

func (in *Input) validate() error {
	in.Message = strings.TrimSpace(in.Message)
	in.Link = strings.TrimSpace(in.Link)
	if in.Message == "" {
		return &ValidationError{Message: "message is required"}
	}
	if msg := validate.PinnedMessage(in.Message); msg != "" {
		return &ValidationError{Message: msg}
	}
	if in.Link != "" {
		if msg := validate.Link(in.Link); msg != "" {
			return &ValidationError{Message: msg}
		}
	}
	return nil
}

func (in Input) fields() docstore.Fields {
	fields := docstore.Fields{
		"message":   in.Message,
		"link":      nil,
		"isActive":  in.IsActive,
		"updatedAt": docstore.ServerTimestamp,
	}
	if in.Link != "" {
		fields["link"] = in.Link
	}
	return fields
}

type Channel struct {
	store docstore.Store
}

func NewChannel(store docstore.Store) *Channel {
	return &Channel{store: store}
}

// activeQuery orders by updatedAt so that, with several active pins, the
// most recently updated one is shown. The id breaks ties.
func activeQuery(videoID string) docstore.Query {
	return docstore.Query{
		Collection: Collection,
		Filters: []docstore.Filter{
			docstore.Where("videoId", docstore.OpEq, videoID),
			docstore.Where("isActive", docstore.OpEq, true),
		},
		OrderBy: "updatedAt",
		Desc:    true,
		Limit:   1,
	}
}

func allQuery(videoID string) docstore.Query {
	return docstore.Query{
		Collection: Collection,
		Filters:    []docstore.Filter{docstore.Where("videoId", docstore.OpEq, videoID)},
		OrderBy:    "createdAt",
		Desc:       true,
	}
}

// Subscribe exposes at most one pin for the video: nil when none is active.
func (c *Channel) Subscribe(ctx context.Context, videoID string, fn func(*Pin)) (*docstore.Subscription, error) {
	sub, err := c.store.Subscribe(ctx, activeQuery(videoID), func(snap docstore.Snapshot) {
		if len(snap.Docs) == 0 {
			fn(nil)
			return
		}
		pin := pinFromDocument(snap.Docs[0])
		fn(&pin)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to pinned message: %w", err)
	}
	return sub, nil
}

// Active is a one-shot read of the pin Subscribe would expose.
func (c *Channel) Active(ctx context.Context, videoID string) (*Pin, error) {
	docs, err := c.store.Query(ctx, activeQuery(videoID))
	if err != nil {
		return nil, fmt.Errorf("load pinned message: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	pin := pinFromDocument(docs[0])
	return &pin, nil
}

// SubscribeAll delivers every pin of the video, newest first.
func (c *Channel) SubscribeAll(ctx context.Context, videoID string, fn func([]Pin)) (*docstore.Subscription, error) {
	sub, err := c.store.Subscribe(ctx, allQuery(videoID), func(snap docstore.Snapshot) {
		fn(pinsFromDocuments(snap.Docs))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to pinned messages: %w", err)
	}
	return sub, nil
}

func (c *Channel) List(ctx context.Context, videoID string) ([]Pin, error) {
	docs, err := c.store.Query(ctx, allQuery(videoID))
	if err != nil {
		return nil, fmt.Errorf("list pinned messages: %w", err)
	}
	return pinsFromDocuments(docs), nil
}

func (c *Channel) Get(ctx context.Context, id string) (Pin, error) {
	doc, err := c.store.Get(ctx, Collection, id)
	if err != nil {
		return Pin{}, err
	}
	return pinFromDocument(doc), nil
}

func (c *Channel) Create(ctx context.Context, videoID string, in Input) (string, error) {
	if videoID == "" {
		return "", &ValidationError{Message: "video is required"}
	}
	if err := in.validate(); err != nil {
		return "", err
	}
	fields := in.fields()
	fields["videoId"] = videoID
	fields["createdAt"] = docstore.ServerTimestamp

	id, err := c.store.Insert(ctx, Collection, fields)
	if err != nil {
		return "", fmt.Errorf("create pinned message: %w", err)
	}
	return id, nil
}

// Update rewrites a pin's content. Updating a deleted pin is a no-op.
func (c *Channel) Update(ctx context.Context, id string, in Input) error {
	if err := in.validate(); err != nil {
		return err
	}
	return c.update(ctx, id, in.fields())
}

func (c *Channel) ToggleActive(ctx context.Context, id string, current bool) error {
	return c.update(ctx, id, docstore.Fields{
		"isActive":  !current,
		"updatedAt": docstore.ServerTimestamp,
	})
}

func (c *Channel) update(ctx context.Context, id string, fields docstore.Fields) error {
	err := c.store.Update(ctx, Collection, id, fields)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update pinned message: %w", err)
	}
	return nil
}

func (c *Channel) Delete(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, Collection, id); err != nil {
		return fmt.Errorf("delete pinned message: %w", err)
	}
	return nil
}

func pinsFromDocuments(docs []docstore.Document) []Pin {
	pins := make([]Pin, 0, len(docs))
	for _, doc := range docs {
		pins = append(pins, pinFromDocument(doc))
	}
	return pins
}

func pinFromDocument(doc docstore.Document) Pin {
	return Pin{
		ID:        doc.ID,
		VideoID:   doc.String("videoId"),
		Message:   doc.String("message"),
		Link:      doc.String("link"),
		IsActive:  doc.Bool("isActive"),
		CreatedAt: doc.Time("createdAt"),
		UpdatedAt: doc.Time("updatedAt"),
	}
}
