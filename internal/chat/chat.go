// Package chat stores and streams a video's chat messages.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/livepage/livepage/internal/docstore"
	"github.com/livepage/livepage/internal/metrics"
	"github.com/livepage/livepage/internal/moderation"
	"github.com/livepage/livepage/internal/validate"
)

const (
	Collection        = "chatMessages"
	ModeratorUsername = "Moderator"
)

var ErrChatClosed = errors.New("chat is closed for this video")

// ValidationError rejects a message before anything is written.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// MutedError rejects a message from a muted participant.
type MutedError struct {
	Reason string
}

func (e *MutedError) Error() string { return "muted: " + e.Reason }

type Message struct {
	ID          string    `json:"id"`
	VideoID     string    `json:"videoId"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	Text        string    `json:"message"`
	Link        string    `json:"link,omitempty"`
	IsModerator bool      `json:"isModerator"`
	Timestamp   time.Time `json:"timestamp"`
}

// PublicMessage is what viewers of a page see. The participant's email stays
// with moderators.
type PublicMessage struct {
	ID          string    `json:"id"`
	VideoID     string    `json:"videoId"`
	Username    string    `json:"username"`
	Text        string    `json:"message"`
	Link        string    `json:"link,omitempty"`
	IsModerator bool      `json:"isModerator"`
	Timestamp   time.Time `json:"timestamp"`
}

func (m Message) Public() PublicMessage {
	return PublicMessage{
		ID:          m.ID,
		VideoID:     m.VideoID,
		Username:    m.Username,
		Text:        m.Text,
		Link:        m.Link,
		IsModerator: m.IsModerator,
		Timestamp:   m.Timestamp,
	}
}

func PublicMessages(messages []Message) []PublicMessage {
	out := make([]PublicMessage, len(messages))
	for i, m := range messages {
		out[i] = m.Public()
	}
	return out
}

// Gate reports whether a video currently accepts chat.
type Gate interface {
	ChatOpen(ctx context.Context, videoID string) (bool, error)
}

// MuteChecker evaluates a participant's mute status.
type MuteChecker interface {
	Evaluate(ctx context.Context, key moderation.Key) moderation.Status
}

type Feed struct {
	store  docstore.Store
	gate   Gate
	policy MuteChecker
}

func NewFeed(store docstore.Store, gate Gate, policy MuteChecker) *Feed {
	return &Feed{store: store, gate: gate, policy: policy}
}

type SubmitRequest struct {
	VideoID     string
	Username    string
	Email       string
	Text        string
	Link        string
	IsModerator bool
}

func validateSubmit(req *SubmitRequest) error {
	req.Text = strings.TrimSpace(req.Text)
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.Link = strings.TrimSpace(req.Link)

	if req.VideoID == "" {
		return &ValidationError{Message: "video is required"}
	}
	if req.Text == "" {
		return &ValidationError{Message: "message is required"}
	}
	if msg := validate.ChatMessage(req.Text); msg != "" {
		return &ValidationError{Message: msg}
	}
	if req.IsModerator {
		req.Username = ModeratorUsername
		req.Email = ""
	} else {
		if req.Username == "" {
			return &ValidationError{Message: "username is required"}
		}
		if msg := validate.Username(req.Username); msg != "" {
			return &ValidationError{Message: msg}
		}
		if req.Email != "" {
			if msg := validate.Email(req.Email); msg != "" {
				return &ValidationError{Message: msg}
			}
		}
	}
	if req.Link != "" {
		if msg := validate.Link(req.Link); msg != "" {
			return &ValidationError{Message: msg}
		}
	}
	return nil
}

// Submit validates and stores a message. Participants are subject to the
// video's chat gate and to mutes; moderators are not. The new message
// reaches viewers through their subscriptions.
func (f *Feed) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := validateSubmit(&req); err != nil {
		metrics.IncChatRejection("invalid")
		return "", err
	}

	if !req.IsModerator && f.gate != nil {
		open, err := f.gate.ChatOpen(ctx, req.VideoID)
		if err != nil {
			slog.Error("chat: failed to check video state", "video_id", req.VideoID, "error", err)
		} else if !open {
			metrics.IncChatRejection("closed")
			return "", ErrChatClosed
		}
	}

	if !req.IsModerator && f.policy != nil {
		status := f.policy.Evaluate(ctx, moderation.Key{VideoID: req.VideoID, Username: req.Username})
		if status.Muted {
			metrics.IncChatRejection("muted")
			return "", &MutedError{Reason: status.Reason}
		}
	}

	fields := docstore.Fields{
		"videoId":     req.VideoID,
		"username":    req.Username,
		"message":     req.Text,
		"link":        nil,
		"isModerator": req.IsModerator,
		"timestamp":   docstore.ServerTimestamp,
	}
	if req.Link != "" {
		fields["link"] = req.Link
	}
	if req.Email != "" {
		fields["email"] = req.Email
	}

	id, err := f.store.Insert(ctx, Collection, fields)
	if err != nil {
		return "", fmt.Errorf("store chat message: %w", err)
	}

	source := "participant"
	if req.IsModerator {
		source = "moderator"
	}
	metrics.IncChatMessage(source)
	return id, nil
}

// Delete removes a message. Deleting a missing message succeeds.
func (f *Feed) Delete(ctx context.Context, id string) error {
	if err := f.store.Delete(ctx, Collection, id); err != nil {
		return fmt.Errorf("delete chat message: %w", err)
	}
	return nil
}

func (f *Feed) Get(ctx context.Context, id string) (Message, error) {
	doc, err := f.store.Get(ctx, Collection, id)
	if err != nil {
		return Message{}, err
	}
	return messageFromDocument(doc), nil
}

func messagesQuery(videoID string, newestFirst bool) docstore.Query {
	return docstore.Query{
		Collection: Collection,
		Filters:    []docstore.Filter{docstore.Where("videoId", docstore.OpEq, videoID)},
		OrderBy:    "timestamp",
		Desc:       newestFirst,
	}
}

// List is a one-shot read of the video's messages, newest first.
func (f *Feed) List(ctx context.Context, videoID string, limit int) ([]Message, error) {
	q := messagesQuery(videoID, true)
	q.Limit = limit
	docs, err := f.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return messagesFromDocuments(docs), nil
}

// Subscribe delivers the video's messages oldest first. A failed refresh
// delivers an empty list.
func (f *Feed) Subscribe(ctx context.Context, videoID string, fn func([]Message)) (*docstore.Subscription, error) {
	return f.subscribe(ctx, messagesQuery(videoID, false), fn)
}

// SubscribeModeration delivers the same messages newest first.
func (f *Feed) SubscribeModeration(ctx context.Context, videoID string, fn func([]Message)) (*docstore.Subscription, error) {
	return f.subscribe(ctx, messagesQuery(videoID, true), fn)
}

func (f *Feed) subscribe(ctx context.Context, q docstore.Query, fn func([]Message)) (*docstore.Subscription, error) {
	sub, err := f.store.Subscribe(ctx, q, func(snap docstore.Snapshot) {
		fn(messagesFromDocuments(snap.Docs))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to chat: %w", err)
	}
	return sub, nil
}

func messagesFromDocuments(docs []docstore.Document) []Message {
	messages := make([]Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, messageFromDocument(doc))
	}
	return messages
}

func messageFromDocument(doc docstore.Document) Message {
	return Message{
		ID:          doc.ID,
		VideoID:     doc.String("videoId"),
		Username:    doc.String("username"),
		Email:       doc.String("email"),
		Text:        doc.String("message"),
		Link:        doc.String("link"),
		IsModerator: doc.Bool("isModerator"),
		Timestamp:   doc.Time("timestamp"),
	}
}
