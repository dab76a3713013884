// Package moderation decides whether a participant may currently post in a
// video's chat, and records moderator mutes.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/livepage/livepage/internal/docstore"
)

const Collection = "chatModeration"

var ErrInvalidKey = errors.New("video id and username are required")

var keyNamespace = uuid.MustParse("6f1c2d8e-3b7a-4c55-9a0e-2f4d8b1e7c93")

// Key identifies the single moderation record for a participant in a video.
type Key struct {
	VideoID  string
	Username string
}

func (k Key) valid() bool {
	return k.VideoID != "" && k.Username != ""
}

// DocumentID derives a stable identifier for the pair. The video id is length
// prefixed so no two distinct pairs encode to the same name.
func (k Key) DocumentID() string {
	name := fmt.Sprintf("%d:%s%s", len(k.VideoID), k.VideoID, k.Username)
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

type Record struct {
	VideoID          string     `json:"videoId"`
	Username         string     `json:"username"`
	MutedUntil       *time.Time `json:"mutedUntil"`
	PermanentlyMuted bool       `json:"permanentlyMuted"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type Status struct {
	Muted      bool       `json:"muted"`
	Reason     string     `json:"reason,omitempty"`
	Permanent  bool       `json:"permanent,omitempty"`
	MutedUntil *time.Time `json:"mutedUntil,omitempty"`
}

// StatusAt applies the mute decision table to a record at the given instant.
// A nil record means the participant was never muted.
func StatusAt(rec *Record, now time.Time) Status {
	if rec == nil {
		return Status{}
	}
	if rec.PermanentlyMuted {
		return Status{Muted: true, Permanent: true, Reason: "permanently muted"}
	}
	if rec.MutedUntil == nil || !now.Before(*rec.MutedUntil) {
		return Status{}
	}
	minutes := int(math.Ceil(rec.MutedUntil.Sub(now).Minutes()))
	reason := fmt.Sprintf("muted for %d more minutes", minutes)
	if minutes == 1 {
		reason = "muted for 1 more minute"
	}
	until := *rec.MutedUntil
	return Status{Muted: true, Reason: reason, MutedUntil: &until}
}

type MuteOptions struct {
	Permanent bool
	Duration  time.Duration
}

// Policy reads and writes moderation records.
type Policy struct {
	store docstore.Store
	now   func() time.Time
}

func NewPolicy(store docstore.Store) *Policy {
	return &Policy{store: store, now: time.Now}
}

// Lookup returns nil when no record exists.
func (p *Policy) Lookup(ctx context.Context, key Key) (*Record, error) {
	if !key.valid() {
		return nil, ErrInvalidKey
	}
	doc, err := p.store.Get(ctx, Collection, key.DocumentID())
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup moderation record: %w", err)
	}
	rec := recordFromDocument(doc)
	return &rec, nil
}

// Evaluate is fail-open: when the record cannot be read the participant is
// treated as not muted.
func (p *Policy) Evaluate(ctx context.Context, key Key) Status {
	rec, err := p.Lookup(ctx, key)
	if err != nil {
		slog.Error("moderation: failed to evaluate mute status", "video_id", key.VideoID, "username", key.Username, "error", err)
		return Status{}
	}
	return StatusAt(rec, p.now())
}

// Mute overwrites any existing record for the key. A zero MuteOptions mutes
// permanently.
func (p *Policy) Mute(ctx context.Context, key Key, opts MuteOptions) error {
	if !key.valid() {
		return ErrInvalidKey
	}
	permanent := opts.Permanent || opts.Duration <= 0
	fields := docstore.Fields{
		"videoId":          key.VideoID,
		"username":         key.Username,
		"permanentlyMuted": permanent,
		"mutedUntil":       nil,
		"createdAt":        docstore.ServerTimestamp,
	}
	if !permanent {
		fields["mutedUntil"] = p.now().Add(opts.Duration)
	}
	if err := p.store.Upsert(ctx, Collection, key.DocumentID(), fields); err != nil {
		return fmt.Errorf("mute %s in %s: %w", key.Username, key.VideoID, err)
	}
	return nil
}

func (p *Policy) Unmute(ctx context.Context, key Key) error {
	if !key.valid() {
		return ErrInvalidKey
	}
	if err := p.store.Delete(ctx, Collection, key.DocumentID()); err != nil {
		return fmt.Errorf("unmute %s in %s: %w", key.Username, key.VideoID, err)
	}
	return nil
}

func recordsQuery(videoID string) docstore.Query {
	return docstore.Query{
		Collection: Collection,
		Filters:    []docstore.Filter{docstore.Where("videoId", docstore.OpEq, videoID)},
		OrderBy:    "createdAt",
		Desc:       true,
	}
}

func (p *Policy) List(ctx context.Context, videoID string) ([]Record, error) {
	docs, err := p.store.Query(ctx, recordsQuery(videoID))
	if err != nil {
		return nil, fmt.Errorf("list moderation records: %w", err)
	}
	return recordsFromDocuments(docs), nil
}

// Subscribe delivers every moderation record of a video, newest first.
func (p *Policy) Subscribe(ctx context.Context, videoID string, fn func([]Record)) (*docstore.Subscription, error) {
	return p.store.Subscribe(ctx, recordsQuery(videoID), func(snap docstore.Snapshot) {
		fn(recordsFromDocuments(snap.Docs))
	})
}

func recordsFromDocuments(docs []docstore.Document) []Record {
	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, recordFromDocument(doc))
	}
	return records
}

func recordFromDocument(doc docstore.Document) Record {
	return Record{
		VideoID:          doc.String("videoId"),
		Username:         doc.String("username"),
		MutedUntil:       doc.TimePtr("mutedUntil"),
		PermanentlyMuted: doc.Bool("permanentlyMuted"),
		CreatedAt:        doc.Time("createdAt"),
	}
}
