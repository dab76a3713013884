// Package identity issues the chat participant identity and the anonymous
// viewer identifier used for likes and analytics.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/livepage/livepage/internal/httputil"
	"github.com/livepage/livepage/internal/validate"
)

const (
	ParticipantCookie = "chat_identity"
	AnonymousCookie   = "viewer_id"
	HeaderName        = "X-Chat-Identity"

	tokenType     = "participant"
	tokenDuration = 365 * 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid identity token")

type Participant struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Validate trims the participant and returns a user-facing message, or "".
func (p *Participant) Validate() string {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.TrimSpace(p.Email)
	if p.Username == "" {
		return "username is required"
	}
	if msg := validate.Username(p.Username); msg != "" {
		return msg
	}
	if p.Email != "" {
		if msg := validate.Email(p.Email); msg != "" {
			return msg
		}
	}
	return ""
}

type claims struct {
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret        []byte
	secureCookies bool
}

func NewIssuer(secret string, secureCookies bool) *Issuer {
	return &Issuer{secret: []byte(secret), secureCookies: secureCookies}
}

func (i *Issuer) Issue(p Participant) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		Username:  p.Username,
		Email:     p.Email,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign identity: %w", err)
	}
	return signed, nil
}

func (i *Issuer) Parse(tokenStr string) (Participant, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return Participant{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.TokenType != tokenType || c.Username == "" {
		return Participant{}, ErrInvalidToken
	}
	return Participant{Username: c.Username, Email: c.Email}, nil
}

// FromRequest reads the participant from the identity header or cookie.
func (i *Issuer) FromRequest(r *http.Request) (Participant, bool) {
	tokenStr := r.Header.Get(HeaderName)
	if tokenStr == "" {
		if cookie, err := r.Cookie(ParticipantCookie); err == nil {
			tokenStr = cookie.Value
		}
	}
	if tokenStr == "" {
		return Participant{}, false
	}
	p, err := i.Parse(tokenStr)
	if err != nil {
		return Participant{}, false
	}
	return p, true
}

// AnonymousID returns the viewer's identifier, creating and persisting one in
// a long-lived cookie on first use.
func (i *Issuer) AnonymousID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(AnonymousCookie); err == nil {
		if id, err := uuid.Parse(cookie.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     AnonymousCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   i.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(tokenDuration / time.Second),
	})
	return id
}

type establishResponse struct {
	Participant
	Token string `json:"token"`
}

// Establish validates the posted participant and stores it as a signed cookie.
func (i *Issuer) Establish(w http.ResponseWriter, r *http.Request) {
	var p Participant
	if !httputil.DecodeJSON(w, r, &p) {
		return
	}
	if msg := p.Validate(); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	token, err := i.Issue(p)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not save identity")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ParticipantCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   i.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(tokenDuration / time.Second),
	})
	httputil.WriteJSON(w, http.StatusOK, establishResponse{Participant: p, Token: token})
}

// Current returns the participant bound to the request, if any.
func (i *Issuer) Current(w http.ResponseWriter, r *http.Request) {
	p, ok := i.FromRequest(r)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "no chat identity")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}
