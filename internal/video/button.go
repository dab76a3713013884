package video

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/livepage/livepage/internal/docstore"
	"github.com/livepage/livepage/internal/validate"
)

const ButtonCollection = "featureButtons"

const (
	defaultButtonBackground = "#00DBD9"
	defaultButtonText       = "#000000"
)

// Button is a call-to-action shown under the player.
type Button struct {
	ID              string    `json:"id"`
	VideoID         string    `json:"videoId"`
	Text            string    `json:"text"`
	Link            string    `json:"link"`
	IsActive        bool      `json:"isActive"`
	BackgroundColor string    `json:"backgroundColor"`
	TextColor       string    `json:"textColor"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type ButtonInput struct {
	Text            string `json:"text"`
	Link            string `json:"link"`
	IsActive        bool   `json:"isActive"`
	BackgroundColor string `json:"backgroundColor"`
	TextColor       string `json:"textColor"`
}

func (in *ButtonInput) validate() error {
	in.Text = strings.TrimSpace(in.Text)
	in.Link = strings.TrimSpace(in.Link)
	in.BackgroundColor = strings.TrimSpace(in.BackgroundColor)
	in.TextColor = strings.TrimSpace(in.TextColor)
	if in.BackgroundColor == "" {
		in.BackgroundColor = defaultButtonBackground
	}
	if in.TextColor == "" {
		in.TextColor = defaultButtonText
	}

	if in.Text == "" {
		return invalid("button text is required")
	}
	if msg := validate.ButtonText(in.Text); msg != "" {
		return invalid(msg)
	}
	if in.Link == "" {
		return invalid("link is required")
	}
	if msg := validate.Link(in.Link); msg != "" {
		return invalid(msg)
	}
	if msg := validate.Color(in.BackgroundColor); msg != "" {
		return invalid("background " + msg)
	}
	if msg := validate.Color(in.TextColor); msg != "" {
		return invalid("text " + msg)
	}
	return nil
}

func (in ButtonInput) fields() docstore.Fields {
	return docstore.Fields{
		"text":            in.Text,
		"link":            in.Link,
		"isActive":        in.IsActive,
		"backgroundColor": in.BackgroundColor,
		"textColor":       in.TextColor,
		"updatedAt":       docstore.ServerTimestamp,
	}
}

type Buttons struct {
	store docstore.Store
}

func NewButtons(store docstore.Store) *Buttons {
	return &Buttons{store: store}
}

// activeButtonQuery shows the most recently updated active button, like the
// pinned message channel does.
func activeButtonQuery(videoID string) docstore.Query {
	return docstore.Query{
		Collection: ButtonCollection,
		Filters: []docstore.Filter{
			docstore.Where("videoId", docstore.OpEq, videoID),
			docstore.Where("isActive", docstore.OpEq, true),
		},
		OrderBy: "updatedAt",
		Desc:    true,
		Limit:   1,
	}
}

func (b *Buttons) List(ctx context.Context, videoID string) ([]Button, error) {
	docs, err := b.store.Query(ctx, docstore.Query{
		Collection: ButtonCollection,
		Filters:    []docstore.Filter{docstore.Where("videoId", docstore.OpEq, videoID)},
		OrderBy:    "createdAt",
		Desc:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("list buttons: %w", err)
	}
	buttons := make([]Button, 0, len(docs))
	for _, doc := range docs {
		buttons = append(buttons, buttonFromDocument(doc))
	}
	return buttons, nil
}

func (b *Buttons) Get(ctx context.Context, id string) (Button, error) {
	doc, err := b.store.Get(ctx, ButtonCollection, id)
	if err != nil {
		return Button{}, err
	}
	return buttonFromDocument(doc), nil
}

func (b *Buttons) Active(ctx context.Context, videoID string) (*Button, error) {
	docs, err := b.store.Query(ctx, activeButtonQuery(videoID))
	if err != nil {
		return nil, fmt.Errorf("load active button: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	button := buttonFromDocument(docs[0])
	return &button, nil
}

// SubscribeActive delivers the button shown on the page, or nil.
func (b *Buttons) SubscribeActive(ctx context.Context, videoID string, fn func(*Button)) (*docstore.Subscription, error) {
	sub, err := b.store.Subscribe(ctx, activeButtonQuery(videoID), func(snap docstore.Snapshot) {
		if len(snap.Docs) == 0 {
			fn(nil)
			return
		}
		button := buttonFromDocument(snap.Docs[0])
		fn(&button)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to button: %w", err)
	}
	return sub, nil
}

func (b *Buttons) Create(ctx context.Context, videoID string, in ButtonInput) (Button, error) {
	if videoID == "" {
		return Button{}, invalid("video is required")
	}
	if err := in.validate(); err != nil {
		return Button{}, err
	}
	fields := in.fields()
	fields["videoId"] = videoID
	fields["createdAt"] = docstore.ServerTimestamp

	id, err := b.store.Insert(ctx, ButtonCollection, fields)
	if err != nil {
		return Button{}, fmt.Errorf("create button: %w", err)
	}
	return b.Get(ctx, id)
}

// Update is a no-op for a deleted button.
func (b *Buttons) Update(ctx context.Context, id string, in ButtonInput) error {
	if err := in.validate(); err != nil {
		return err
	}
	return b.update(ctx, id, in.fields())
}

func (b *Buttons) ToggleActive(ctx context.Context, id string, current bool) error {
	return b.update(ctx, id, docstore.Fields{"isActive": !current, "updatedAt": docstore.ServerTimestamp})
}

func (b *Buttons) update(ctx context.Context, id string, fields docstore.Fields) error {
	err := b.store.Update(ctx, ButtonCollection, id, fields)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update button: %w", err)
	}
	return nil
}

func (b *Buttons) Delete(ctx context.Context, id string) error {
	if err := b.store.Delete(ctx, ButtonCollection, id); err != nil {
		return fmt.Errorf("delete button: %w", err)
	}
	return nil
}

func buttonFromDocument(doc docstore.Document) Button {
	return Button{
		ID:              doc.ID,
		VideoID:         doc.String("videoId"),
		Text:            doc.String("text"),
		Link:            doc.String("link"),
		IsActive:        doc.Bool("isActive"),
		BackgroundColor: doc.String("backgroundColor"),
		TextColor:       doc.String("textColor"),
		CreatedAt:       doc.Time("createdAt"),
		UpdatedAt:       doc.Time("updatedAt"),
	}
}
