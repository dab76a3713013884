package video

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/livepage/livepage/internal/docstore"
	"github.com/livepage/livepage/internal/httputil"
	"github.com/livepage/livepage/internal/pinned"
)

// ViewerIdentifier yields the anonymous id used for likes and analytics.
type ViewerIdentifier interface {
	AnonymousID(w http.ResponseWriter, r *http.Request) string
}

type Handler struct {
	videos    *Service
	buttons   *Buttons
	likes     *Likes
	analytics *Analytics
	assets    *Assets
	pins      *pinned.Channel
	viewers   ViewerIdentifier
	pending   sync.WaitGroup
}

func NewHandler(videos *Service, buttons *Buttons, likes *Likes, analytics *Analytics, assets *Assets, pins *pinned.Channel, viewers ViewerIdentifier) *Handler {
	return &Handler{
		videos:    videos,
		buttons:   buttons,
		likes:     likes,
		analytics: analytics,
		assets:    assets,
		pins:      pins,
		viewers:   viewers,
	}
}

// writeServiceError maps service errors to responses. Anything unexpected is
// logged and reported as a generic failure.
func writeServiceError(w http.ResponseWriter, err error, action string) {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		httputil.WriteError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, docstore.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "video not found")
	case errors.Is(err, ErrSlugTaken), errors.Is(err, ErrReservedSlug):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("video: failed to "+action, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "could not "+action)
	}
}

// background runs a side effect detached from the request.
func (h *Handler) background(name string, fn func(ctx context.Context) error) {
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Error("video: "+name+" failed", "error", err)
		}
	}()
}

// --- Admin: videos ---

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	videos, err := h.videos.List(r.Context())
	if err != nil {
		writeServiceError(w, err, "list videos")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, videos)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.videos.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "load video")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	v, err := h.videos.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, err, "create video")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, v)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var in Input
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	v, err := h.videos.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeServiceError(w, err, "update video")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.videos.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err, "delete video")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Admin: buttons ---

func (h *Handler) ListButtons(w http.ResponseWriter, r *http.Request) {
	buttons, err := h.buttons.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "list buttons")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, buttons)
}

func (h *Handler) CreateButton(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	if _, err := h.videos.Get(r.Context(), videoID); err != nil {
		writeServiceError(w, err, "create button")
		return
	}

	var in ButtonInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	button, err := h.buttons.Create(r.Context(), videoID, in)
	if err != nil {
		writeServiceError(w, err, "create button")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, button)
}

// ownedButton loads the button named in the URL. found is false for a
// missing button so callers can treat it as a no-op.
func (h *Handler) ownedButton(w http.ResponseWriter, r *http.Request) (button Button, found, ok bool) {
	button, err := h.buttons.Get(r.Context(), chi.URLParam(r, "buttonId"))
	if errors.Is(err, docstore.ErrNotFound) {
		return Button{}, false, true
	}
	if err != nil {
		writeServiceError(w, err, "load button")
		return Button{}, false, false
	}
	if button.VideoID != chi.URLParam(r, "id") {
		httputil.WriteError(w, http.StatusNotFound, "button not found")
		return Button{}, false, false
	}
	return button, true, true
}

func (h *Handler) UpdateButton(w http.ResponseWriter, r *http.Request) {
	var in ButtonInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	button, found, ok := h.ownedButton(w, r)
	if !ok {
		return
	}
	if found {
		if err := h.buttons.Update(r.Context(), button.ID, in); err != nil {
			writeServiceError(w, err, "update button")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ToggleButton(w http.ResponseWriter, r *http.Request) {
	button, found, ok := h.ownedButton(w, r)
	if !ok {
		return
	}
	if found {
		if err := h.buttons.ToggleActive(r.Context(), button.ID, button.IsActive); err != nil {
			writeServiceError(w, err, "toggle button")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteButton(w http.ResponseWriter, r *http.Request) {
	button, found, ok := h.ownedButton(w, r)
	if !ok {
		return
	}
	if found {
		if err := h.buttons.Delete(r.Context(), button.ID); err != nil {
			writeServiceError(w, err, "delete button")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Admin: assets and analytics ---

type uploadURLRequest struct {
	Kind        AssetKind `json:"kind"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
}

func (h *Handler) UploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	upload, err := h.assets.UploadURL(r.Context(), req.Kind, req.ContentType, req.Size)
	if errors.Is(err, ErrAssetsDisabled) {
		httputil.WriteError(w, http.StatusServiceUnavailable, "asset uploads are not configured")
		return
	}
	if err != nil {
		writeServiceError(w, err, "generate upload URL")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, upload)
}

func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := ParseRange(q.Get("range"), q.Get("from"), q.Get("to"), time.Now())
	if err != nil {
		writeServiceError(w, err, "load analytics")
		return
	}

	videoID := q.Get("videoId")
	if videoID == "all" {
		videoID = ""
	}
	summary, err := h.analytics.Summarize(r.Context(), videoID, rng)
	if err != nil {
		writeServiceError(w, err, "load analytics")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// --- Public page ---

type pageResponse struct {
	Video    Video       `json:"video"`
	Page     PageState   `json:"page"`
	Previous *NavLink    `json:"previous"`
	Next     *NavLink    `json:"next"`
	Button   *Button     `json:"button"`
	Pinned   *pinned.Pin `json:"pinned"`
	Likes    LikeState   `json:"likes"`
}

func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	v, err := h.videos.BySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, err, "load page")
		return
	}

	resp := pageResponse{Video: v, Page: State(v)}
	resp.Previous, resp.Next = h.videos.Navigation(r.Context(), v)

	// Secondary widgets degrade to empty rather than failing the page.
	if resp.Button, err = h.buttons.Active(r.Context(), v.ID); err != nil {
		slog.Error("video: failed to load active button", "video_id", v.ID, "error", err)
	}
	if h.pins != nil {
		if resp.Pinned, err = h.pins.Active(r.Context(), v.ID); err != nil {
			slog.Error("video: failed to load pinned message", "video_id", v.ID, "error", err)
		}
	}
	if resp.Likes, err = h.likes.State(r.Context(), v.ID, h.viewers.AnonymousID(w, r)); err != nil {
		slog.Error("video: failed to load likes", "video_id", v.ID, "error", err)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type likeResponse struct {
	Liked bool `json:"liked"`
}

func (h *Handler) Like(w http.ResponseWriter, r *http.Request) {
	videoID, err := h.videos.VideoIDBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, err, "like video")
		return
	}
	liked, err := h.likes.Toggle(r.Context(), videoID, h.viewers.AnonymousID(w, r))
	if err != nil {
		writeServiceError(w, err, "like video")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, likeResponse{Liked: liked})
}

func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	videoID, err := h.videos.VideoIDBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, err, "record view")
		return
	}
	viewerID := h.viewers.AnonymousID(w, r)
	userAgent := r.UserAgent()

	h.background("record view", func(ctx context.Context) error {
		_, err := h.analytics.RecordView(ctx, videoID, viewerID, userAgent)
		return err
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Click(w http.ResponseWriter, r *http.Request) {
	videoID, err := h.videos.VideoIDBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, err, "record click")
		return
	}
	button, err := h.buttons.Get(r.Context(), chi.URLParam(r, "buttonId"))
	if err != nil || button.VideoID != videoID {
		httputil.WriteError(w, http.StatusNotFound, "button not found")
		return
	}
	viewerID := h.viewers.AnonymousID(w, r)
	userAgent := r.UserAgent()

	h.background("record click", func(ctx context.Context) error {
		_, err := h.analytics.RecordClick(ctx, videoID, button.ID, viewerID, userAgent)
		return err
	})
	w.WriteHeader(http.StatusNoContent)
}
