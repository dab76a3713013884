package pinned

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/livepage/livepage/internal/docstore"
	"github.com/livepage/livepage/internal/httputil"
	"github.com/livepage/livepage/internal/metrics"
	"github.com/livepage/livepage/internal/webhook"
)

type Handler struct {
	channel  *Channel
	webhooks *webhook.Client
}

func NewHandler(channel *Channel, webhooks *webhook.Client) *Handler {
	return &Handler{channel: channel, webhooks: webhooks}
}

type pinRequest struct {
	Message  string `json:"message"`
	Link     string `json:"link"`
	IsActive *bool  `json:"isActive"`
}

func (req pinRequest) input() Input {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return Input{Message: req.Message, Link: req.Link, IsActive: active}
}

type createPinResponse struct {
	ID string `json:"id"`
}

func writeError(w http.ResponseWriter, err error, action string) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		httputil.WriteError(w, http.StatusBadRequest, validationErr.Message)
		return
	}
	slog.Error("pinned: failed to "+action, "error", err)
	httputil.WriteError(w, http.StatusInternalServerError, "could not "+action)
}

func (h *Handler) notify(videoID, pinID, change string) {
	metrics.IncModerationAction("pin_" + change)
	h.webhooks.Notify(webhook.EventPinnedChanged, map[string]any{
		"videoId": videoID,
		"pinId":   pinID,
		"change":  change,
	})
}

// ownedPin loads the pin named in the URL. A pin of another video is
// reported as 404; a missing pin yields ok=false with nothing written so the
// caller can treat it as a no-op.
func (h *Handler) ownedPin(w http.ResponseWriter, r *http.Request) (pin Pin, found, ok bool) {
	videoID := chi.URLParam(r, "id")
	pinID := chi.URLParam(r, "pinId")

	pin, err := h.channel.Get(r.Context(), pinID)
	if errors.Is(err, docstore.ErrNotFound) {
		return Pin{}, false, true
	}
	if err != nil {
		slog.Error("pinned: failed to load pin", "pin_id", pinID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not load pinned message")
		return Pin{}, false, false
	}
	if pin.VideoID != videoID {
		httputil.WriteError(w, http.StatusNotFound, "pinned message not found")
		return Pin{}, false, false
	}
	return pin, true, true
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	pins, err := h.channel.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "list pinned messages")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pins)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")

	var req pinRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	id, err := h.channel.Create(r.Context(), videoID, req.input())
	if err != nil {
		writeError(w, err, "create pinned message")
		return
	}
	h.notify(videoID, id, "created")
	httputil.WriteJSON(w, http.StatusCreated, createPinResponse{ID: id})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	pin, found, ok := h.ownedPin(w, r)
	if !ok {
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	in := req.input()
	if req.IsActive == nil {
		in.IsActive = pin.IsActive
	}
	if err := h.channel.Update(r.Context(), pin.ID, in); err != nil {
		writeError(w, err, "update pinned message")
		return
	}
	h.notify(pin.VideoID, pin.ID, "updated")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	pin, found, ok := h.ownedPin(w, r)
	if !ok {
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.channel.ToggleActive(r.Context(), pin.ID, pin.IsActive); err != nil {
		writeError(w, err, "toggle pinned message")
		return
	}
	change := "activated"
	if pin.IsActive {
		change = "deactivated"
	}
	h.notify(pin.VideoID, pin.ID, change)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	pin, found, ok := h.ownedPin(w, r)
	if !ok {
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.channel.Delete(r.Context(), pin.ID); err != nil {
		writeError(w, err, "delete pinned message")
		return
	}
	h.notify(pin.VideoID, pin.ID, "deleted")
	w.WriteHeader(http.StatusNoContent)
}
