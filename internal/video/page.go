package video

import (
	"net/url"
	"strings"
	"time"
)

const (
	StateLive        = "live"
	StateRedirect    = "redirect"
	StateUnavailable = "unavailable"
	StatePremiere    = "premiere"
)

// PageState is what the public page renders for a video.
type PageState struct {
	State                string     `json:"state"`
	EmbedID              string     `json:"embedId,omitempty"`
	RedirectURL          string     `json:"redirectUrl,omitempty"`
	PremiereDate         *time.Time `json:"premiereDate,omitempty"`
	PremiereThumbnailURL string     `json:"premiereThumbnailUrl,omitempty"`
}

// State decides what the page shows. An inactive video with a redirect URL
// sends viewers away; otherwise its inactive mode applies.
func State(v Video) PageState {
	switch {
	case v.IsActive:
		return PageState{State: StateLive, EmbedID: YouTubeID(v.YoutubeURL)}
	case v.RedirectURL != "":
		return PageState{State: StateRedirect, RedirectURL: v.RedirectURL}
	case v.InactiveMode == InactivePremiere:
		return PageState{
			State:                StatePremiere,
			PremiereDate:         v.PremiereDate,
			PremiereThumbnailURL: v.PremiereThumbnailURL,
		}
	default:
		return PageState{State: StateUnavailable}
	}
}

// YouTubeID extracts the embed id from watch, short, live and youtu.be URLs.
func YouTubeID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	host := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(u.Host), "www."), "m.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.TrimPrefix(u.Path, "/")
	case "youtube.com":
		if u.Path == "/watch" {
			id = u.Query().Get("v")
			break
		}
		for _, prefix := range []string{"/shorts/", "/live/", "/embed/"} {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				id = rest
				break
			}
		}
	}
	id, _, _ = strings.Cut(id, "/")
	if id == "" || strings.IndexFunc(id, func(r rune) bool {
		return !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	}) >= 0 {
		return ""
	}
	return id
}
