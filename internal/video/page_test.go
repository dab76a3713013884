package video

import (
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Launch Day", "launch-day"},
		{"  Lançamento   Ao  Vivo! ", "lancamento-ao-vivo"},
		{"Q&A -- part 2", "qa-part-2"},
		{"---", ""},
		{"Ünïcödé Tëst", "unicode-test"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.title); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestYouTubeID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtube.com/watch?v=dQw4w9WgXcQ&t=42", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"youtu.be/dQw4w9WgXcQ?si=abc", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/shorts/abc_DEF-123", "abc_DEF-123"},
		{"https://www.youtube.com/live/abcdef12345", "abcdef12345"},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://vimeo.com/123456", ""},
		{"https://www.youtube.com/watch?v=<script>", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := YouTubeID(tt.url); got != tt.want {
			t.Errorf("YouTubeID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestState(t *testing.T) {
	premiere := time.Date(2026, 7, 1, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		video Video
		want  string
	}{
		{"active", Video{IsActive: true, YoutubeURL: "https://youtu.be/dQw4w9WgXcQ"}, StateLive},
		{"redirect wins over mode", Video{RedirectURL: "https://example.com", InactiveMode: InactivePremiere}, StateRedirect},
		{"premiere", Video{InactiveMode: InactivePremiere, PremiereDate: &premiere}, StatePremiere},
		{"unavailable", Video{InactiveMode: InactiveUnavailable}, StateUnavailable},
		{"active ignores redirect", Video{IsActive: true, RedirectURL: "https://example.com"}, StateLive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := State(tt.video)
			if got.State != tt.want {
				t.Fatalf("expected %s, got %+v", tt.want, got)
			}
			switch got.State {
			case StateLive:
				if got.EmbedID != "dQw4w9WgXcQ" && tt.video.YoutubeURL != "" {
					t.Errorf("expected embed id, got %q", got.EmbedID)
				}
			case StatePremiere:
				if got.PremiereDate == nil || !got.PremiereDate.Equal(premiere) {
					t.Errorf("expected premiere date, got %v", got.PremiereDate)
				}
			}
		})
	}
}

func TestIsReservedSlug(t *testing.T) {
	for _, slug := range []string{"admin", "api"} {
		if !IsReservedSlug(slug) {
			t.Errorf("expected %q to be reserved", slug)
		}
	}
	if IsReservedSlug("launch") {
		t.Error("expected launch to be free")
	}
}
