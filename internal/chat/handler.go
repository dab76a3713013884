package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/livepage/livepage/internal/auth"
	"github.com/livepage/livepage/internal/docstore"
	"github.com/livepage/livepage/internal/httputil"
	"github.com/livepage/livepage/internal/identity"
	"github.com/livepage/livepage/internal/metrics"
	"github.com/livepage/livepage/internal/webhook"
)

const adminListLimit = 500

// VideoLookup resolves a public page slug to its video id.
type VideoLookup interface {
	VideoIDBySlug(ctx context.Context, slug string) (string, error)
}

type Handler struct {
	feed        *Feed
	broadcaster *Broadcaster
	videos      VideoLookup
	identities  *identity.Issuer
	webhooks    *webhook.Client
}

func NewHandler(feed *Feed, broadcaster *Broadcaster, videos VideoLookup, identities *identity.Issuer, webhooks *webhook.Client) *Handler {
	return &Handler{
		feed:        feed,
		broadcaster: broadcaster,
		videos:      videos,
		identities:  identities,
		webhooks:    webhooks,
	}
}

type postMessageRequest struct {
	Message string `json:"message"`
	Link    string `json:"link"`
}

type createdResponse struct {
	ID string `json:"id"`
}

type mutedResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// writeSubmitError maps Submit failures to responses. Store errors never leak.
func writeSubmitError(w http.ResponseWriter, err error) {
	var validationErr *ValidationError
	var mutedErr *MutedError
	switch {
	case errors.As(err, &validationErr):
		httputil.WriteError(w, http.StatusBadRequest, validationErr.Message)
	case errors.As(err, &mutedErr):
		httputil.WriteJSON(w, http.StatusForbidden, mutedResponse{Error: "you are muted", Reason: mutedErr.Reason})
	case errors.Is(err, ErrChatClosed):
		httputil.WriteError(w, http.StatusForbidden, "chat is closed")
	default:
		slog.Error("chat: failed to send message", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not send message")
	}
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	videoID, err := h.videos.VideoIDBySlug(r.Context(), slug)
	if errors.Is(err, docstore.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		slog.Error("chat: failed to resolve page", "slug", slug, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not send message")
		return
	}

	participant, ok := h.identities.FromRequest(r)
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "chat identity required")
		return
	}

	var req postMessageRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	id, err := h.feed.Submit(r.Context(), SubmitRequest{
		VideoID:  videoID,
		Username: participant.Username,
		Email:    participant.Email,
		Text:     req.Message,
		Link:     req.Link,
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	messages, err := h.feed.List(r.Context(), videoID, adminListLimit)
	if err != nil {
		slog.Error("chat: failed to list messages", "video_id", videoID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not list messages")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, messages)
}

type deleteMessageRequest struct {
	MessageID string `json:"messageId"`
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")

	var req deleteMessageRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "messageId is required")
		return
	}

	msg, err := h.feed.Get(r.Context(), req.MessageID)
	if errors.Is(err, docstore.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		slog.Error("chat: failed to load message", "message_id", req.MessageID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not delete message")
		return
	}
	if msg.VideoID != videoID {
		httputil.WriteError(w, http.StatusNotFound, "message not found")
		return
	}

	if err := h.feed.Delete(r.Context(), req.MessageID); err != nil {
		slog.Error("chat: failed to delete message", "message_id", req.MessageID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not delete message")
		return
	}

	metrics.IncModerationAction("delete_message")
	h.webhooks.Notify(webhook.EventMessageDeleted, map[string]any{
		"videoId":   videoID,
		"messageId": req.MessageID,
		"username":  msg.Username,
		"message":   msg.Text,
	})
	w.WriteHeader(http.StatusNoContent)
}

type broadcastRequest struct {
	VideoID string `json:"videoId"`
	Message string `json:"message"`
	Link    string `json:"link"`
}

type broadcastsResponse struct {
	Last    *LastMessage  `json:"last"`
	History []HistoryItem `json:"history"`
}

func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	adminID := auth.AdminIDFromContext(r.Context())

	var req broadcastRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	id, err := h.broadcaster.Send(r.Context(), adminID, req.VideoID, req.Message, req.Link)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) RepeatBroadcast(w http.ResponseWriter, r *http.Request) {
	adminID := auth.AdminIDFromContext(r.Context())

	var req broadcastRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	id, err := h.broadcaster.Repeat(r.Context(), adminID, req.VideoID)
	if errors.Is(err, ErrNoLastMessage) {
		httputil.WriteError(w, http.StatusNotFound, "no previous message to repeat")
		return
	}
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) Broadcasts(w http.ResponseWriter, r *http.Request) {
	adminID := auth.AdminIDFromContext(r.Context())

	last, err := h.broadcaster.Last(r.Context(), adminID)
	if err != nil {
		slog.Error("chat: failed to load last broadcast", "admin_id", adminID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load broadcasts")
		return
	}
	history, err := h.broadcaster.History(r.Context(), adminID)
	if err != nil {
		slog.Error("chat: failed to load broadcast history", "admin_id", adminID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load broadcasts")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, broadcastsResponse{Last: last, History: history})
}

func (h *Handler) ResendBroadcast(w http.ResponseWriter, r *http.Request) {
	adminID := auth.AdminIDFromContext(r.Context())
	historyID := chi.URLParam(r, "historyId")

	var req broadcastRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	id, err := h.broadcaster.Resend(r.Context(), adminID, historyID, req.VideoID)
	if errors.Is(err, ErrHistoryNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "history item not found")
		return
	}
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (h *Handler) DeleteBroadcast(w http.ResponseWriter, r *http.Request) {
	adminID := auth.AdminIDFromContext(r.Context())
	historyID := chi.URLParam(r, "historyId")

	if err := h.broadcaster.DeleteHistoryItem(r.Context(), adminID, historyID); err != nil {
		slog.Error("chat: failed to delete history item", "admin_id", adminID, "history_id", historyID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not delete history item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearBroadcasts(w http.ResponseWriter, r *http.Request) {
	adminID := auth.AdminIDFromContext(r.Context())

	if err := h.broadcaster.ClearHistory(r.Context(), adminID); err != nil {
		slog.Error("chat: failed to clear history", "admin_id", adminID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not clear history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
