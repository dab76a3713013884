// Package live pushes realtime page state to viewers and moderators over
// WebSockets.
package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/livepage/livepage/internal/chat"
	"github.com/livepage/livepage/internal/docstore"
	"github.com/livepage/livepage/internal/httputil"
	"github.com/livepage/livepage/internal/identity"
	"github.com/livepage/livepage/internal/metrics"
	"github.com/livepage/livepage/internal/moderation"
	"github.com/livepage/livepage/internal/pinned"
	"github.com/livepage/livepage/internal/video"
)

const (
	kindViewer    = "viewer"
	kindModerator = "moderator"
)

type Options struct {
	Videos     *video.Service
	Buttons    *video.Buttons
	Likes      *video.Likes
	Chat       *chat.Feed
	Pins       *pinned.Channel
	Policy     *moderation.Policy
	Identities *identity.Issuer

	// AllowedOrigins restricts upgrades by Origin header. Empty means same
	// origin only.
	AllowedOrigins    []string
	MuteCheckInterval time.Duration
}

type Handler struct {
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(opts Options) *Handler {
	if opts.MuteCheckInterval <= 0 {
		opts.MuteCheckInterval = moderation.DefaultCheckInterval
	}
	h := &Handler{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(opts.AllowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			return slices.Contains(opts.AllowedOrigins, r.Header.Get("Origin"))
		}
	}
	return h
}

// run drives a connection until the client disconnects, then tears down
// everything the session started.
func (h *Handler) run(c *conn, handle func(clientMessage), cleanup func()) {
	metrics.IncLiveActive(c.kind)
	defer metrics.DecLiveActive(c.kind)

	go c.writeLoop()
	c.readLoop(handle)
	cleanup()
	c.close(websocket.CloseNormalClosure, "")
}

// Viewer serves GET /api/live/{slug}.
func (h *Handler) Viewer(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if _, err := h.opts.Videos.VideoIDBySlug(r.Context(), slug); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "video not found")
			return
		}
		slog.Error("live: failed to resolve slug", "slug", slug, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not open live session")
		return
	}

	viewerID := h.opts.Identities.AnonymousID(w, r)
	participant, identified := h.opts.Identities.FromRequest(r)

	ws, err := h.upgrader.Upgrade(w, r, w.Header())
	if err != nil {
		slog.Warn("live: upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := newConn(kindViewer, ws)
	s := &viewerSession{
		h:        h,
		ctx:      ctx,
		conn:     c,
		scope:    scope{conn: c},
		viewerID: viewerID,
	}
	if identified {
		s.participant = &participant
	}

	sub, err := h.opts.Videos.SubscribeBySlug(ctx, slug, s.onVideo)
	if err != nil {
		slog.Error("live: failed to subscribe to video", "slug", slug, "error", err)
		c.enqueue(errorEvent("could not follow video"))
	}

	h.run(c, s.handle, func() {
		if sub != nil {
			sub.Cancel()
		}
		s.stop()
		cancel()
	})
}

// Moderator serves GET /api/admin/live. Authentication happens in middleware.
func (h *Handler) Moderator(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("live: upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := newConn(kindModerator, ws)
	s := &moderatorSession{h: h, ctx: ctx, conn: c, scope: scope{conn: c}}

	h.run(c, s.handle, func() {
		s.scope.stop()
		cancel()
	})
}
