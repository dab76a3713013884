package validate

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Text field length limits, in characters. The admin UI reads them from /api/limits.
const (
	MaxTitleLength         = 200
	MaxDescriptionLength   = 5000
	MaxSlugLength          = 100
	MaxUsernameLength      = 20
	MaxEmailLength         = 320
	MaxChatMessageLength   = 500
	MaxPinnedMessageLength = 500
	MaxButtonTextLength    = 100
	MaxAuthorNameLength    = 100
	MaxURLLength           = 2000
	MaxWebhookURLLength    = 500
)

var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
)

func checkLen(value string, max int, field string) string {
	if utf8.RuneCountInString(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func Title(s string) string       { return checkLen(s, MaxTitleLength, "title") }
func Description(s string) string { return checkLen(s, MaxDescriptionLength, "description") }
func Username(s string) string    { return checkLen(s, MaxUsernameLength, "username") }
func ChatMessage(s string) string { return checkLen(s, MaxChatMessageLength, "message") }
func PinnedMessage(s string) string {
	return checkLen(s, MaxPinnedMessageLength, "pinned message")
}
func ButtonText(s string) string { return checkLen(s, MaxButtonTextLength, "button text") }
func AuthorName(s string) string { return checkLen(s, MaxAuthorNameLength, "author name") }

// Slug accepts lower-case ASCII words joined by single dashes.
func Slug(s string) string {
	if msg := checkLen(s, MaxSlugLength, "slug"); msg != "" {
		return msg
	}
	if !slugPattern.MatchString(s) {
		return "slug may only contain lowercase letters, numbers and dashes"
	}
	return ""
}

func Email(s string) string {
	if msg := checkLen(s, MaxEmailLength, "email"); msg != "" {
		return msg
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "email is invalid"
	}
	return ""
}

// Link accepts absolute http and https URLs.
func Link(s string) string { return checkURL(s, MaxURLLength, "link") }

func WebhookURL(s string) string { return checkURL(s, MaxWebhookURLLength, "webhook URL") }

func checkURL(s string, max int, field string) string {
	if msg := checkLen(s, max, field); msg != "" {
		return msg
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return field + " must be an http or https URL"
	}
	return ""
}

// Color accepts #rgb and #rrggbb.
func Color(s string) string {
	if !colorPattern.MatchString(strings.TrimSpace(s)) {
		return "color must be a hex value like #1a2b3c"
	}
	return ""
}

// FieldLimits returns a map of field names to max lengths for the /api/limits endpoint.
func FieldLimits() map[string]int {
	return map[string]int{
		"title":         MaxTitleLength,
		"description":   MaxDescriptionLength,
		"slug":          MaxSlugLength,
		"username":      MaxUsernameLength,
		"chatMessage":   MaxChatMessageLength,
		"pinnedMessage": MaxPinnedMessageLength,
		"buttonText":    MaxButtonTextLength,
		"authorName":    MaxAuthorNameLength,
		"url":           MaxURLLength,
	}
}
