package video

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/livepage/livepage/internal/validate"
)

// reservedSlugs collide with top-level application routes.
var reservedSlugs = map[string]bool{
	"admin":   true,
	"api":     true,
	"metrics": true,
}

func IsReservedSlug(slug string) bool {
	return reservedSlugs[slug]
}

// Slugify turns a title into a slug: accents are stripped, anything outside
// a-z and 0-9 is dropped, and runs of spaces or dashes become a single dash.
func Slugify(title string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		stripped = title
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(stripped) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			dash = true
		}
	}

	slug := b.String()
	if len(slug) > validate.MaxSlugLength {
		slug = strings.TrimRight(slug[:validate.MaxSlugLength], "-")
	}
	return slug
}
