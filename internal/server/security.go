package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/livepage/livepage/internal/httputil"
)

// youtubeFrameSources may be embedded by public pages.
const youtubeFrameSources = "https://www.youtube.com https://www.youtube-nocookie.com"

type SecurityConfig struct {
	BaseURL               string
	StorageEndpoint       string
	AllowedFrameAncestors string
}

func securityHeaders(cfg SecurityConfig) func(http.Handler) http.Handler {
	strictTransport := strings.HasPrefix(cfg.BaseURL, "https://")

	storageSuffix := ""
	if cfg.StorageEndpoint != "" {
		storageSuffix = " " + cfg.StorageEndpoint
	}
	frameAncestors := "'self'"
	if cfg.AllowedFrameAncestors != "" {
		frameAncestors += " " + cfg.AllowedFrameAncestors
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nonce := httputil.GenerateNonce()
			ctx := httputil.ContextWithNonce(r.Context(), nonce)

			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			if cfg.AllowedFrameAncestors == "" {
				w.Header().Set("X-Frame-Options", "SAMEORIGIN")
			}
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), fullscreen=(self \"https://www.youtube.com\")")

			csp := fmt.Sprintf(
				"default-src 'self'; img-src 'self' data: https://i.ytimg.com%s; script-src 'self' 'nonce-%s'; style-src 'self' 'nonce-%s'; connect-src 'self'%s; frame-src %s; frame-ancestors %s;",
				storageSuffix, nonce, nonce, storageSuffix, youtubeFrameSources, frameAncestors,
			)
			w.Header().Set("Content-Security-Policy", csp)

			if strictTransport {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
