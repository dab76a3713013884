package moderation

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/livepage/livepage/internal/httputil"
	"github.com/livepage/livepage/internal/metrics"
	"github.com/livepage/livepage/internal/webhook"
)

// VideoChecker confirms that a video exists before a mute is recorded
// against it.
type VideoChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type Handler struct {
	policy   *Policy
	videos   VideoChecker
	webhooks *webhook.Client
}

func NewHandler(policy *Policy, videos VideoChecker, webhooks *webhook.Client) *Handler {
	return &Handler{policy: policy, videos: videos, webhooks: webhooks}
}

type muteRequest struct {
	Username  string `json:"username"`
	Permanent *bool  `json:"permanent"`
	Minutes   int    `json:"minutes"`
}

type unmuteRequest struct {
	Username string `json:"username"`
}

func (h *Handler) Mute(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")

	var req muteRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		httputil.WriteError(w, http.StatusBadRequest, "username is required")
		return
	}
	if req.Minutes < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "minutes must be positive")
		return
	}

	opts := MuteOptions{Permanent: true}
	if req.Permanent != nil && !*req.Permanent {
		if req.Minutes == 0 {
			httputil.WriteError(w, http.StatusBadRequest, "minutes is required for a timed mute")
			return
		}
		opts = MuteOptions{Duration: time.Duration(req.Minutes) * time.Minute}
	}

	exists, err := h.videos.Exists(r.Context(), videoID)
	if err != nil {
		slog.Error("moderation: failed to look up video", "video_id", videoID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not mute user")
		return
	}
	if !exists {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	key := Key{VideoID: videoID, Username: req.Username}
	if err := h.policy.Mute(r.Context(), key, opts); err != nil {
		slog.Error("moderation: failed to mute", "video_id", videoID, "username", req.Username, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not mute user")
		return
	}

	metrics.IncModerationAction("mute")
	h.webhooks.Notify(webhook.EventUserMuted, map[string]any{
		"videoId":   videoID,
		"username":  req.Username,
		"permanent": opts.Permanent,
		"minutes":   req.Minutes,
	})

	httputil.WriteJSON(w, http.StatusOK, h.policy.Evaluate(r.Context(), key))
}

func (h *Handler) Unmute(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")

	var req unmuteRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		httputil.WriteError(w, http.StatusBadRequest, "username is required")
		return
	}

	if err := h.policy.Unmute(r.Context(), Key{VideoID: videoID, Username: req.Username}); err != nil {
		slog.Error("moderation: failed to unmute", "video_id", videoID, "username", req.Username, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not unmute user")
		return
	}

	metrics.IncModerationAction("unmute")
	h.webhooks.Notify(webhook.EventUserUnmuted, map[string]any{
		"videoId":  videoID,
		"username": req.Username,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	records, err := h.policy.List(r.Context(), videoID)
	if err != nil {
		slog.Error("moderation: failed to list records", "video_id", videoID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not list mutes")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}
