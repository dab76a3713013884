package live

import (
	"context"
	"errors"
	"log/slog"

	"github.com/livepage/livepage/internal/chat"
	"github.com/livepage/livepage/internal/docstore"
	"github.com/livepage/livepage/internal/moderation"
	"github.com/livepage/livepage/internal/pinned"
)

type moderatorSession struct {
	h     *Handler
	ctx   context.Context
	conn  *conn
	scope scope
}

func (s *moderatorSession) handle(msg clientMessage) {
	switch msg.Type {
	case "select":
		s.selectVideo(msg.VideoID)
	default:
		s.conn.enqueue(errorEvent("unknown message type"))
	}
}

// selectVideo moves the session to another video. Selecting "" clears it.
func (s *moderatorSession) selectVideo(videoID string) {
	if videoID != "" {
		if _, err := s.h.opts.Videos.Get(s.ctx, videoID); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				s.conn.enqueue(errorEvent("video not found"))
			} else {
				slog.Error("live: failed to load video", "video_id", videoID, "error", err)
				s.conn.enqueue(errorEvent("could not select video"))
			}
			return
		}
	}

	err := s.scope.replace(s.ctx, func(ctx context.Context, gen uint64) ([]*docstore.Subscription, error) {
		if videoID == "" {
			return nil, nil
		}
		o := s.h.opts
		var c collector
		c.add(o.Chat.SubscribeModeration(ctx, videoID, func(messages []chat.Message) {
			s.scope.deliver(gen, Event{Type: "messages", Data: messages})
		}))
		c.add(o.Policy.Subscribe(ctx, videoID, func(records []moderation.Record) {
			s.scope.deliver(gen, Event{Type: "moderation", Data: records})
		}))
		c.add(o.Pins.SubscribeAll(ctx, videoID, func(pins []pinned.Pin) {
			s.scope.deliver(gen, Event{Type: "pins", Data: pins})
		}))
		return c.result()
	})
	if err != nil {
		slog.Error("live: failed to subscribe moderator", "video_id", videoID, "error", err)
		s.conn.enqueue(errorEvent("could not select video"))
	}
}
