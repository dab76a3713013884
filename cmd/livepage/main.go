package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/livepage/livepage/internal/auth"
	"github.com/livepage/livepage/internal/database"
	"github.com/livepage/livepage/internal/docstore"
	"github.com/livepage/livepage/internal/server"
	"github.com/livepage/livepage/internal/storage"
	"github.com/livepage/livepage/internal/validate"
	"github.com/livepage/livepage/internal/video"
)

type config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string
	BaseURL     string
	RedisURL    string

	S3Endpoint       string
	S3PublicEndpoint string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3Region         string
	MaxUploadBytes   int64

	AdminEmail    string
	AdminPassword string
	AdminName     string

	WebhookURL      string
	WebhookSecret   string
	SlackWebhookURL string

	IdentitySecret        string
	AllowedOrigins        []string
	AllowedFrameAncestors string
	MuteCheckInterval     time.Duration
	WebDir                string
	MetricsEnabled        bool
}

func loadConfig() (config, error) {
	cfg := config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		RedisURL:    os.Getenv("REDIS_URL"),

		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
		S3Bucket:         getEnv("S3_BUCKET", "livepage"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3Region:         getEnv("S3_REGION", "eu-central-1"),
		MaxUploadBytes:   getEnvInt64("MAX_UPLOAD_BYTES", 10*1024*1024),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminName:     getEnv("ADMIN_NAME", "Admin"),

		WebhookURL:      os.Getenv("WEBHOOK_URL"),
		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),

		IdentitySecret:        os.Getenv("IDENTITY_SECRET"),
		AllowedOrigins:        splitList(os.Getenv("ALLOWED_ORIGINS")),
		AllowedFrameAncestors: os.Getenv("ALLOWED_FRAME_ANCESTORS"),
		MuteCheckInterval:     getEnvDuration("MUTE_CHECK_INTERVAL", 10*time.Second),
		WebDir:                os.Getenv("WEB_DIR"),
		MetricsEnabled:        getEnv("METRICS_ENABLED", "true") == "true",
	}

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("JWT_SECRET is required")
	}
	if cfg.WebhookURL != "" && cfg.WebhookSecret == "" {
		return cfg, errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	if cfg.WebhookURL != "" {
		if msg := validate.WebhookURL(cfg.WebhookURL); msg != "" {
			return cfg, fmt.Errorf("WEBHOOK_URL: %s", msg)
		}
	}
	if cfg.SlackWebhookURL != "" {
		if msg := validate.WebhookURL(cfg.SlackWebhookURL); msg != "" {
			return cfg, fmt.Errorf("SLACK_WEBHOOK_URL: %s", msg)
		}
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	log.Println("database migrations applied")

	if cfg.AdminEmail != "" {
		if _, err := auth.EnsureAdmin(ctx, db.Pool, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
			log.Fatalf("admin bootstrap failed: %v", err)
		}
		log.Printf("admin account %s ready", cfg.AdminEmail)
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	var feed docstore.Feed = docstore.NewLocalFeed()
	if cfg.RedisURL != "" {
		client, err := docstore.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer func() { _ = client.Close() }()

		redisFeed := docstore.NewRedisFeed(client, "")
		go func() {
			if err := redisFeed.Run(backgroundCtx); err != nil {
				log.Printf("redis change feed stopped: %v", err)
			}
		}()
		feed = redisFeed
		log.Println("redis change feed enabled")
	}
	store := docstore.NewPostgres(db.Pool, feed)

	var objects video.ObjectStorage
	if cfg.S3Endpoint != "" {
		s3, err := storage.New(ctx, storage.Config{
			Endpoint:       cfg.S3Endpoint,
			PublicEndpoint: cfg.S3PublicEndpoint,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			Region:         cfg.S3Region,
			MaxUploadBytes: cfg.MaxUploadBytes,
		})
		if err != nil {
			log.Fatalf("storage initialization failed: %v", err)
		}
		if err := s3.EnsureBucket(ctx, append([]string{cfg.BaseURL}, cfg.AllowedOrigins...)); err != nil {
			log.Fatalf("storage bucket check failed: %v", err)
		}
		objects = s3
		log.Println("storage bucket ready")
	} else {
		log.Println("S3_ENDPOINT not set, asset uploads disabled")
	}

	var webFS fs.FS
	if cfg.WebDir != "" {
		webFS = os.DirFS(cfg.WebDir)
		log.Printf("serving frontend from %s", cfg.WebDir)
	} else {
		log.Println("WEB_DIR not set, SPA serving disabled")
	}

	srv := server.New(server.Config{
		DB:                    db.Pool,
		Pinger:                db,
		Store:                 store,
		Storage:               objects,
		WebFS:                 webFS,
		JWTSecret:             cfg.JWTSecret,
		IdentitySecret:        cfg.IdentitySecret,
		BaseURL:               cfg.BaseURL,
		MaxUploadBytes:        cfg.MaxUploadBytes,
		S3PublicEndpoint:      cfg.S3PublicEndpoint,
		AllowedFrameAncestors: cfg.AllowedFrameAncestors,
		AllowedOrigins:        cfg.AllowedOrigins,
		MuteCheckInterval:     cfg.MuteCheckInterval,
		DisableMetrics:        !cfg.MetricsEnabled,
		WebhookURL:            cfg.WebhookURL,
		WebhookSecret:         cfg.WebhookSecret,
		SlackWebhookURL:       cfg.SlackWebhookURL,
	})

	auth.StartCleanupLoop(backgroundCtx, db.Pool, time.Hour)
	srv.StartCleanupLoops(backgroundCtx, 10*time.Minute)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("livepage listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-shutdownCh
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown failed: %v", err)
	}
	backgroundCancel()
	srv.Wait()
	log.Println("shutdown complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// splitList parses a comma separated list, dropping empty entries.
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
