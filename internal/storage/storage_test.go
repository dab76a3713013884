package storage_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/livepage/livepage/internal/storage"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(context.Background(), storage.Config{
		Endpoint:       "http://minio:9000",
		PublicEndpoint: "https://cdn.example.com",
		Bucket:         "assets",
		AccessKey:      "test",
		SecretKey:      "test",
		MaxUploadBytes: 1024,
	})
	if err != nil {
		t.Fatalf("expected no error creating storage client, got: %v", err)
	}
	return s
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := storage.New(context.Background(), storage.Config{Endpoint: "http://localhost:9000"})
	if err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestPublicURLRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	url := s.PublicURL("videos/v1/logo/abc.png")
	if url != "https://cdn.example.com/assets/videos/v1/logo/abc.png" {
		t.Fatalf("unexpected public URL %q", url)
	}
	key, ok := s.KeyFromURL(url)
	if !ok || key != "videos/v1/logo/abc.png" {
		t.Errorf("expected key round trip, got %q %v", key, ok)
	}

	if _, ok := s.KeyFromURL("https://elsewhere.example.com/logo.png"); ok {
		t.Error("expected foreign URL to be rejected")
	}
}

func TestGenerateUploadURL(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	url, err := s.GenerateUploadURL(ctx, "videos/v1/logo/abc.png", "image/png", 512, 15*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(url, "https://cdn.example.com/assets/videos/v1/logo/abc.png?") {
		t.Errorf("expected presigned URL on the public endpoint, got %q", url)
	}
	if !strings.Contains(url, "X-Amz-Signature=") {
		t.Errorf("expected signed URL, got %q", url)
	}

	_, err = s.GenerateUploadURL(ctx, "videos/v1/logo/big.png", "image/png", 2048, time.Minute)
	if !errors.Is(err, storage.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}
