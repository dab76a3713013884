package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/livepage/livepage/internal/database"
	"github.com/livepage/livepage/internal/httputil"
)

type contextKey string

const adminIDKey contextKey = "adminID"

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/api/auth"
	minPasswordLength = 8
	maxPasswordLength = 72
)

type Handler struct {
	db            database.DBTX
	jwtSecret     string
	secureCookies bool
}

func NewHandler(db database.DBTX, jwtSecret string, secureCookies bool) *Handler {
	return &Handler{db: db, jwtSecret: jwtSecret, secureCookies: secureCookies}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

type adminResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	var adminID, hashedPassword string
	err := h.db.QueryRow(r.Context(),
		"SELECT id, password FROM admins WHERE email = $1", req.Email,
	).Scan(&adminID, &hashedPassword)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	accessToken, refreshToken, err := h.issueTokens(r.Context(), adminID)
	if err != nil {
		slog.Error("auth: failed to issue tokens", "admin_id", adminID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	h.setRefreshTokenCookie(w, refreshToken)
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: accessToken})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "refresh token not found")
		return
	}

	claims, err := ValidateToken(h.jwtSecret, cookie.Value)
	if err != nil || claims.TokenType != tokenTypeRefresh || claims.TokenID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	if err := h.validateStoredRefreshToken(r.Context(), claims.AdminID, claims.TokenID); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	if err := h.revokeRefreshToken(r.Context(), claims.TokenID); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to revoke refresh token")
		return
	}

	accessToken, refreshToken, err := h.issueTokens(r.Context(), claims.AdminID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	h.setRefreshTokenCookie(w, refreshToken)
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: accessToken})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		if claims, err := ValidateToken(h.jwtSecret, cookie.Value); err == nil && claims.TokenType == tokenTypeRefresh && claims.TokenID != "" {
			_ = h.revokeRefreshToken(r.Context(), claims.TokenID)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	adminID := AdminIDFromContext(r.Context())

	var resp adminResponse
	err := h.db.QueryRow(r.Context(),
		"SELECT id, email, name FROM admins WHERE id = $1", adminID,
	).Scan(&resp.ID, &resp.Email, &resp.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "admin not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not load admin")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Middleware authenticates a bearer access token. Browsers cannot set headers
// on WebSocket upgrades, so an access_token query parameter is accepted too.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("access_token")
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			bearer, found := strings.CutPrefix(authHeader, "Bearer ")
			if !found {
				httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			tokenStr = bearer
		}
		if tokenStr == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		claims, err := ValidateToken(h.jwtSecret, tokenStr)
		if err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if claims.TokenType != tokenTypeAccess {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token type")
			return
		}

		ctx := ContextWithAdminID(r.Context(), claims.AdminID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ContextWithAdminID(ctx context.Context, adminID string) context.Context {
	return context.WithValue(ctx, adminIDKey, adminID)
}

func AdminIDFromContext(ctx context.Context) string {
	adminID, _ := ctx.Value(adminIDKey).(string)
	return adminID
}

// EnsureAdmin creates the admin account, or resets its password and name when
// the email already exists.
func EnsureAdmin(ctx context.Context, db database.DBTX, email, password, name string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("invalid admin email: %w", err)
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return "", fmt.Errorf("admin password must be between %d and %d characters", minPasswordLength, maxPasswordLength)
	}
	if name == "" {
		name = "Admin"
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash admin password: %w", err)
	}

	var adminID string
	err = db.QueryRow(ctx,
		`INSERT INTO admins (email, password, name) VALUES ($1, $2, $3)
		 ON CONFLICT (email) DO UPDATE SET password = EXCLUDED.password, name = EXCLUDED.name
		 RETURNING id`,
		email, string(hashedPassword), name,
	).Scan(&adminID)
	if err != nil {
		return "", fmt.Errorf("upsert admin: %w", err)
	}
	return adminID, nil
}

func (h *Handler) setRefreshTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(RefreshTokenDuration / time.Second),
	})
}

func (h *Handler) issueTokens(ctx context.Context, adminID string) (accessToken, refreshToken string, err error) {
	tokenID, err := newTokenID()
	if err != nil {
		return "", "", err
	}

	expiresAt := time.Now().Add(RefreshTokenDuration)
	if _, err := h.db.Exec(ctx, "INSERT INTO refresh_tokens (token_id, admin_id, expires_at, revoked) VALUES ($1, $2, $3, false)", tokenID, adminID, expiresAt); err != nil {
		return "", "", err
	}

	accessToken, err = GenerateAccessToken(h.jwtSecret, adminID)
	if err != nil {
		return "", "", err
	}

	refreshToken, err = GenerateRefreshToken(h.jwtSecret, adminID, tokenID)
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

func (h *Handler) validateStoredRefreshToken(ctx context.Context, adminID, tokenID string) error {
	var revoked bool
	var expiresAt time.Time
	err := h.db.QueryRow(ctx, "SELECT revoked, expires_at FROM refresh_tokens WHERE token_id = $1 AND admin_id = $2", tokenID, adminID).Scan(&revoked, &expiresAt)
	if err != nil {
		return err
	}
	if revoked || time.Now().After(expiresAt) {
		return errors.New("token revoked or expired")
	}
	return nil
}

func (h *Handler) revokeRefreshToken(ctx context.Context, tokenID string) error {
	_, err := h.db.Exec(ctx, "UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE token_id = $1", tokenID)
	return err
}

// StartCleanupLoop deletes expired and revoked refresh tokens every interval.
func StartCleanupLoop(ctx context.Context, db database.DBTX, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tag, err := db.Exec(ctx, "DELETE FROM refresh_tokens WHERE revoked = true OR expires_at < now()")
				if err != nil {
					slog.Error("auth: refresh token cleanup failed", "error", err)
					continue
				}
				if n := tag.RowsAffected(); n > 0 {
					slog.Info("auth: removed stale refresh tokens", "count", n)
				}
			}
		}
	}()
}

func newTokenID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
