package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type AssetKind string

const (
	AssetLogo              AssetKind = "logo"
	AssetBannerDesktop     AssetKind = "banner-desktop"
	AssetBannerMobile      AssetKind = "banner-mobile"
	AssetAuthorPhoto       AssetKind = "author-photo"
	AssetPremiereThumbnail AssetKind = "premiere-thumbnail"
)

var assetKinds = map[AssetKind]bool{
	AssetLogo:              true,
	AssetBannerDesktop:     true,
	AssetBannerMobile:      true,
	AssetAuthorPhoto:       true,
	AssetPremiereThumbnail: true,
}

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

var ErrAssetsDisabled = errors.New("asset storage is not configured")

type ObjectStorage interface {
	GenerateUploadURL(ctx context.Context, key string, contentType string, contentLength int64, expiry time.Duration) (string, error)
	PublicURL(key string) string
	KeyFromURL(url string) (string, bool)
	DeleteObject(ctx context.Context, key string) error
}

type Upload struct {
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
	Key       string `json:"key"`
}

// Assets hands out upload URLs for page images and deletes images that are
// no longer referenced.
type Assets struct {
	storage        ObjectStorage
	maxUploadBytes int64
	backoff        time.Duration
	wg             sync.WaitGroup
}

func NewAssets(storage ObjectStorage, maxUploadBytes int64) *Assets {
	return &Assets{storage: storage, maxUploadBytes: maxUploadBytes, backoff: time.Second}
}

func (a *Assets) UploadURL(ctx context.Context, kind AssetKind, contentType string, size int64) (Upload, error) {
	if a == nil || a.storage == nil {
		return Upload{}, ErrAssetsDisabled
	}
	if !assetKinds[kind] {
		return Upload{}, invalid("unknown asset kind")
	}
	ext, ok := imageExtensions[contentType]
	if !ok {
		return Upload{}, invalid("only png, jpeg, webp and gif images are supported")
	}
	if size <= 0 {
		return Upload{}, invalid("size must be positive")
	}
	if a.maxUploadBytes > 0 && size > a.maxUploadBytes {
		return Upload{}, invalid(fmt.Sprintf("file too large: the limit is %d bytes", a.maxUploadBytes))
	}

	key := fmt.Sprintf("%s/%s%s", kind, uuid.NewString(), ext)
	uploadURL, err := a.storage.GenerateUploadURL(ctx, key, contentType, size, 15*time.Minute)
	if err != nil {
		return Upload{}, fmt.Errorf("generate upload url: %w", err)
	}
	return Upload{UploadURL: uploadURL, PublicURL: a.storage.PublicURL(key), Key: key}, nil
}

// Release deletes the objects behind urls in the background. URLs that do
// not point into the bucket are ignored.
func (a *Assets) Release(urls ...string) {
	if a == nil || a.storage == nil {
		return
	}
	var keys []string
	for _, u := range urls {
		if key, ok := a.storage.KeyFromURL(u); ok {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, key := range keys {
			if err := a.deleteWithRetry(ctx, key, 3); err != nil {
				slog.Error("video: failed to release asset", "key", key, "error", err)
			}
		}
	}()
}

// Wait blocks until pending releases finish.
func (a *Assets) Wait() {
	a.wg.Wait()
}

func (a *Assets) deleteWithRetry(ctx context.Context, key string, maxAttempts int) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * a.backoff
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = a.storage.DeleteObject(ctx, key)
		if lastErr == nil {
			return nil
		}
		slog.Error("storage: delete attempt failed", "attempt", attempt+1, "max_attempts", maxAttempts, "key", key, "error", lastErr)
	}
	return fmt.Errorf("all %d delete attempts failed for %s: %w", maxAttempts, key, lastErr)
}
