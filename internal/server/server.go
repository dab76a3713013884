package server

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/livepage/livepage/internal/auth"
	"github.com/livepage/livepage/internal/chat"
	"github.com/livepage/livepage/internal/database"
	"github.com/livepage/livepage/internal/docstore"
	"github.com/livepage/livepage/internal/httputil"
	"github.com/livepage/livepage/internal/identity"
	"github.com/livepage/livepage/internal/live"
	"github.com/livepage/livepage/internal/metrics"
	"github.com/livepage/livepage/internal/moderation"
	"github.com/livepage/livepage/internal/pinned"
	"github.com/livepage/livepage/internal/ratelimit"
	"github.com/livepage/livepage/internal/validate"
	"github.com/livepage/livepage/internal/video"
	"github.com/livepage/livepage/internal/webhook"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	// DB holds admin accounts and refresh tokens.
	DB     database.DBTX
	Pinger Pinger
	// Store holds page content. Page, chat and admin routes need it.
	Store   docstore.Store
	Storage video.ObjectStorage
	WebFS   fs.FS

	JWTSecret      string
	IdentitySecret string
	BaseURL        string

	MaxUploadBytes        int64
	S3PublicEndpoint      string
	AllowedFrameAncestors string
	AllowedOrigins        []string
	MuteCheckInterval     time.Duration
	DisableMetrics        bool

	WebhookURL      string
	WebhookSecret   string
	SlackWebhookURL string
}

type Server struct {
	router         chi.Router
	pinger         Pinger
	webFS          fs.FS
	metricsEnabled bool

	authHandler       *auth.Handler
	identities        *identity.Issuer
	videoHandler      *video.Handler
	chatHandler       *chat.Handler
	moderationHandler *moderation.Handler
	pinnedHandler     *pinned.Handler
	liveHandler       *live.Handler
	assets            *video.Assets

	authLimiter *ratelimit.Limiter
	chatLimiter *ratelimit.Limiter
	pageLimiter *ratelimit.Limiter
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware)
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:               cfg.BaseURL,
		StorageEndpoint:       cfg.S3PublicEndpoint,
		AllowedFrameAncestors: cfg.AllowedFrameAncestors,
	}))

	s := &Server{
		router:         r,
		pinger:         cfg.Pinger,
		webFS:          cfg.WebFS,
		metricsEnabled: !cfg.DisableMetrics,
		authLimiter:    ratelimit.NewLimiter(0.5, 5),
		chatLimiter:    ratelimit.NewLimiter(1, 5),
		pageLimiter:    ratelimit.NewLimiter(5, 20),
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	secureCookies := strings.HasPrefix(baseURL, "https://")

	if cfg.DB != nil {
		if cfg.JWTSecret == "" {
			log.Fatal("JWT_SECRET is required; set the environment variable")
		}
		s.authHandler = auth.NewHandler(cfg.DB, cfg.JWTSecret, secureCookies)
	}

	if cfg.Store != nil {
		identitySecret := cfg.IdentitySecret
		if identitySecret == "" {
			identitySecret = cfg.JWTSecret
		}
		if identitySecret == "" {
			log.Fatal("IDENTITY_SECRET or JWT_SECRET is required; set the environment variable")
		}
		s.identities = identity.NewIssuer(identitySecret, secureCookies)
		s.wireDomain(cfg)
	}

	s.routes()
	return s
}

// wireDomain builds the page, chat and moderation services over one store.
func (s *Server) wireDomain(cfg Config) {
	store := cfg.Store
	webhooks := webhook.New(store, cfg.WebhookURL, cfg.WebhookSecret).WithSlack(cfg.SlackWebhookURL)

	if cfg.Storage != nil {
		s.assets = video.NewAssets(cfg.Storage, cfg.MaxUploadBytes)
	}
	var releaser video.AssetReleaser
	if s.assets != nil {
		releaser = s.assets
	}

	videos := video.NewService(store, releaser)
	buttons := video.NewButtons(store)
	likes := video.NewLikes(store)
	policy := moderation.NewPolicy(store)
	feed := chat.NewFeed(store, videos, policy)
	pins := pinned.NewChannel(store)

	s.videoHandler = video.NewHandler(videos, buttons, likes, video.NewAnalytics(store), s.assets, pins, s.identities)
	s.chatHandler = chat.NewHandler(feed, chat.NewBroadcaster(feed, store), videos, s.identities, webhooks)
	s.moderationHandler = moderation.NewHandler(policy, videos, webhooks)
	s.pinnedHandler = pinned.NewHandler(pins, webhooks)
	s.liveHandler = live.NewHandler(live.Options{
		Videos:            videos,
		Buttons:           buttons,
		Likes:             likes,
		Chat:              feed,
		Pins:              pins,
		Policy:            policy,
		Identities:        s.identities,
		AllowedOrigins:    cfg.AllowedOrigins,
		MuteCheckInterval: cfg.MuteCheckInterval,
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StartCleanupLoops evicts idle rate limit buckets until ctx ends.
func (s *Server) StartCleanupLoops(ctx context.Context, interval time.Duration) {
	s.authLimiter.StartCleanupLoop(ctx, interval)
	s.chatLimiter.StartCleanupLoop(ctx, interval)
	s.pageLimiter.StartCleanupLoop(ctx, interval)
}

// Wait blocks until background asset deletions have finished.
func (s *Server) Wait() {
	if s.assets != nil {
		s.assets.Wait()
	}
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/limits", s.handleLimits)
	if s.metricsEnabled {
		s.router.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin", http.StatusFound)
	})

	if s.authHandler != nil {
		s.router.Route("/api/auth", func(r chi.Router) {
			r.Use(s.authLimiter.Middleware)
			r.Post("/login", s.authHandler.Login)
			r.Post("/refresh", s.authHandler.Refresh)
			r.Post("/logout", s.authHandler.Logout)
			r.With(s.authHandler.Middleware).Get("/me", s.authHandler.Me)
		})
	}

	if s.videoHandler != nil {
		s.publicRoutes()
		if s.authHandler != nil {
			s.router.Route("/api/admin", s.adminRoutes)
		}
	}

	if s.webFS != nil {
		spa := newSPAFileServer(s.webFS)
		s.router.NotFound(spa.ServeHTTP)
	}
}

func (s *Server) publicRoutes() {
	s.router.Route("/api/chat/identity", func(r chi.Router) {
		r.Use(s.authLimiter.Middleware)
		r.Get("/", s.identities.Current)
		r.Post("/", s.identities.Establish)
	})

	s.router.Route("/api/pages/{slug}", func(r chi.Router) {
		r.Use(s.pageLimiter.Middleware)
		r.Get("/", s.videoHandler.Page)
		r.Post("/like", s.videoHandler.Like)
		r.Post("/view", s.videoHandler.View)
		r.Post("/buttons/{buttonId}/click", s.videoHandler.Click)
		r.With(s.chatLimiter.Middleware).Post("/chat", s.chatHandler.Post)
	})

	s.router.Get("/api/live/{slug}", s.liveHandler.Viewer)
}

func (s *Server) adminRoutes(r chi.Router) {
	r.Use(s.authHandler.Middleware)

	r.Route("/videos", func(r chi.Router) {
		r.Get("/", s.videoHandler.List)
		r.Post("/", s.videoHandler.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.videoHandler.Get)
			r.Put("/", s.videoHandler.Update)
			r.Delete("/", s.videoHandler.Delete)

			r.Get("/buttons", s.videoHandler.ListButtons)
			r.Post("/buttons", s.videoHandler.CreateButton)
			r.Put("/buttons/{buttonId}", s.videoHandler.UpdateButton)
			r.Post("/buttons/{buttonId}/toggle", s.videoHandler.ToggleButton)
			r.Delete("/buttons/{buttonId}", s.videoHandler.DeleteButton)

			r.Get("/pins", s.pinnedHandler.List)
			r.Post("/pins", s.pinnedHandler.Create)
			r.Put("/pins/{pinId}", s.pinnedHandler.Update)
			r.Post("/pins/{pinId}/toggle", s.pinnedHandler.Toggle)
			r.Delete("/pins/{pinId}", s.pinnedHandler.Delete)

			r.Get("/messages", s.chatHandler.List)
			r.Delete("/messages", s.chatHandler.Delete)

			r.Get("/mutes", s.moderationHandler.List)
			r.Post("/mutes", s.moderationHandler.Mute)
			r.Delete("/mutes", s.moderationHandler.Unmute)
		})
	})

	r.Route("/broadcasts", func(r chi.Router) {
		r.Get("/", s.chatHandler.Broadcasts)
		r.Post("/", s.chatHandler.Broadcast)
		r.Delete("/", s.chatHandler.ClearBroadcasts)
		r.Post("/repeat", s.chatHandler.RepeatBroadcast)
		r.Post("/history/{historyId}/resend", s.chatHandler.ResendBroadcast)
		r.Delete("/history/{historyId}", s.chatHandler.DeleteBroadcast)
	})

	r.Post("/assets/upload-url", s.videoHandler.UploadURL)
	r.Get("/analytics", s.videoHandler.Analytics)
	r.Get("/live", s.liveHandler.Moderator)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, validate.FieldLimits())
}
