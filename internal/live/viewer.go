package live

import (
	"context"
	"log/slog"
	"sync"

	"github.com/livepage/livepage/internal/chat"
	"github.com/livepage/livepage/internal/docstore"
	"github.com/livepage/livepage/internal/identity"
	"github.com/livepage/livepage/internal/moderation"
	"github.com/livepage/livepage/internal/pinned"
	"github.com/livepage/livepage/internal/video"
)

type videoEvent struct {
	Video    *video.Video     `json:"video"`
	Page     *video.PageState `json:"page,omitempty"`
	Previous *video.NavLink   `json:"previous,omitempty"`
	Next     *video.NavLink   `json:"next,omitempty"`
}

type viewerSession struct {
	h        *Handler
	ctx      context.Context
	conn     *conn
	scope    scope
	viewerID string

	mu          sync.Mutex
	videoID     string
	participant *identity.Participant
	watcher     *moderation.Watcher
}

// onVideo runs on the slug subscription goroutine.
func (s *viewerSession) onVideo(v *video.Video) {
	event := videoEvent{Video: v}
	id := ""
	if v != nil {
		id = v.ID
		page := video.State(*v)
		event.Page = &page
		event.Previous, event.Next = s.h.opts.Videos.Navigation(s.ctx, *v)
	}
	s.conn.enqueue(Event{Type: "video", Data: event})

	s.mu.Lock()
	changed := id != s.videoID
	s.videoID = id
	s.mu.Unlock()
	if !changed {
		return
	}

	if err := s.scope.replace(s.ctx, s.subscribeVideo(id)); err != nil {
		slog.Error("live: failed to subscribe viewer", "video_id", id, "error", err)
		s.conn.enqueue(errorEvent("could not follow video"))
	}
	s.restartWatcher()
}

func (s *viewerSession) subscribeVideo(videoID string) starter {
	return func(ctx context.Context, gen uint64) ([]*docstore.Subscription, error) {
		if videoID == "" {
			return nil, nil
		}
		o := s.h.opts
		var c collector
		c.add(o.Chat.Subscribe(ctx, videoID, func(messages []chat.Message) {
			s.scope.deliver(gen, Event{Type: "messages", Data: chat.PublicMessages(messages)})
		}))
		c.add(o.Pins.Subscribe(ctx, videoID, func(pin *pinned.Pin) {
			s.scope.deliver(gen, Event{Type: "pinned", Data: pin})
		}))
		c.add(o.Buttons.SubscribeActive(ctx, videoID, func(button *video.Button) {
			s.scope.deliver(gen, Event{Type: "button", Data: button})
		}))
		c.add(o.Likes.Subscribe(ctx, videoID, s.viewerID, func(state video.LikeState) {
			s.scope.deliver(gen, Event{Type: "likes", Data: state})
		}))
		return c.result()
	}
}

// restartWatcher follows the mute status of the identified participant in
// the current video. Deliveries from a replaced watcher are dropped.
func (s *viewerSession) restartWatcher() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
	if s.videoID == "" || s.participant == nil {
		return
	}

	key := moderation.Key{VideoID: s.videoID, Username: s.participant.Username}
	var w *moderation.Watcher
	w = s.h.opts.Policy.Watch(s.ctx, key, s.h.opts.MuteCheckInterval, func(status moderation.Status) {
		s.mu.Lock()
		current := s.watcher == w
		s.mu.Unlock()
		if current {
			s.conn.enqueue(Event{Type: "mute", Data: status})
		}
	})
	s.watcher = w
}

func (s *viewerSession) handle(msg clientMessage) {
	switch msg.Type {
	case "identify":
		p, err := s.h.opts.Identities.Parse(msg.Token)
		if err != nil {
			s.conn.enqueue(errorEvent("invalid identity token"))
			return
		}
		s.mu.Lock()
		s.participant = &p
		s.mu.Unlock()
		s.restartWatcher()
	default:
		s.conn.enqueue(errorEvent("unknown message type"))
	}
}

func (s *viewerSession) stop() {
	s.scope.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
}
