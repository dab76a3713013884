package server

import (
	"bytes"
	"io/fs"
	"net/http"
	"strings"

	"github.com/livepage/livepage/internal/httputil"
)

// noncePlaceholder in index.html is replaced with the request's CSP nonce.
const noncePlaceholder = "__CSP_NONCE__"

type spaFileServer struct {
	fileServer http.Handler
	fileSystem fs.FS
}

func newSPAFileServer(fsys fs.FS) *spaFileServer {
	return &spaFileServer{
		fileServer: http.FileServer(http.FS(fsys)),
		fileSystem: fsys,
	}
}

// ServeHTTP serves static files and falls back to index.html so the client
// router can handle /admin and /{slug}.
func (s *spaFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if strings.HasPrefix(path, "api/") {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	if path != "" && path != "index.html" {
		if info, err := fs.Stat(s.fileSystem, path); err == nil && !info.IsDir() {
			s.fileServer.ServeHTTP(w, r)
			return
		}
	}
	s.serveIndex(w, r)
}

func (s *spaFileServer) serveIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(s.fileSystem, "index.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	nonce := httputil.NonceFromContext(r.Context())
	body := bytes.ReplaceAll(data, []byte(noncePlaceholder), []byte(nonce))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(body)
}
