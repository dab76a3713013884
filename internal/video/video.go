// Package video manages the landing page of each live video: the video
// itself, its feature buttons, likes, page analytics and uploaded assets.
package video

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/livepage/livepage/internal/docstore"
	"github.com/livepage/livepage/internal/validate"
)

const Collection = "videos"

const (
	InactiveUnavailable = "unavailable"
	InactivePremiere    = "premiere"
)

var (
	ErrNotFound     = docstore.ErrNotFound
	ErrSlugTaken    = errors.New("slug is already in use")
	ErrReservedSlug = errors.New("slug is reserved")
)

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) error { return &ValidationError{Message: msg} }

var youtubeURLPattern = regexp.MustCompile(`(?i)^(https?://)?(www\.|m\.)?(youtube\.com/(watch\?v=|shorts/|live/)|youtu\.be/)([\w-]{6,})`)

type Banner struct {
	DesktopURL string `json:"desktopUrl,omitempty"`
	MobileURL  string `json:"mobileUrl,omitempty"`
	Link       string `json:"link,omitempty"`
	Active     bool   `json:"active"`
}

type Author struct {
	Name     string `json:"name,omitempty"`
	PhotoURL string `json:"photoUrl,omitempty"`
}

type Video struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	DisplayTitle         string     `json:"displayTitle"`
	YoutubeURL           string     `json:"youtubeUrl"`
	Slug                 string     `json:"slug"`
	Description          string     `json:"description"`
	IsActive             bool       `json:"isActive"`
	RedirectURL          string     `json:"redirectUrl,omitempty"`
	LogoURL              string     `json:"logoUrl,omitempty"`
	PreviousVideoID      string     `json:"previousVideoId,omitempty"`
	NextVideoID          string     `json:"nextVideoId,omitempty"`
	Banner               Banner     `json:"banner"`
	Author               Author     `json:"author"`
	InactiveMode         string     `json:"inactiveMode"`
	PremiereDate         *time.Time `json:"premiereDate,omitempty"`
	PremiereThumbnailURL string     `json:"premiereThumbnailUrl,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// assetURLs lists every uploaded-asset URL the video references.
func (v Video) assetURLs() []string {
	return []string{v.LogoURL, v.Banner.DesktopURL, v.Banner.MobileURL, v.Author.PhotoURL, v.PremiereThumbnailURL}
}

// Input is the editable part of a video.
type Input struct {
	Title                string     `json:"title"`
	DisplayTitle         string     `json:"displayTitle"`
	YoutubeURL           string     `json:"youtubeUrl"`
	Slug                 string     `json:"slug"`
	Description          string     `json:"description"`
	IsActive             bool       `json:"isActive"`
	RedirectURL          string     `json:"redirectUrl"`
	LogoURL              string     `json:"logoUrl"`
	PreviousVideoID      string     `json:"previousVideoId"`
	NextVideoID          string     `json:"nextVideoId"`
	Banner               Banner     `json:"banner"`
	Author               Author     `json:"author"`
	InactiveMode         string     `json:"inactiveMode"`
	PremiereDate         *time.Time `json:"premiereDate"`
	PremiereThumbnailURL string     `json:"premiereThumbnailUrl"`
}

func (in *Input) normalize() {
	for _, s := range []*string{
		&in.Title, &in.DisplayTitle, &in.YoutubeURL, &in.Slug, &in.Description,
		&in.RedirectURL, &in.LogoURL, &in.PreviousVideoID, &in.NextVideoID,
		&in.Banner.DesktopURL, &in.Banner.MobileURL, &in.Banner.Link,
		&in.Author.Name, &in.Author.PhotoURL, &in.InactiveMode, &in.PremiereThumbnailURL,
	} {
		*s = strings.TrimSpace(*s)
	}
	in.Slug = strings.ToLower(in.Slug)
	if in.Slug == "" {
		in.Slug = Slugify(in.Title)
	}
	if in.DisplayTitle == "" {
		in.DisplayTitle = in.Title
	}
	if in.InactiveMode == "" {
		in.InactiveMode = InactiveUnavailable
	}
}

// validate checks the fields that do not need the store. Slug uniqueness and
// navigation links are checked by the Service.
func (in *Input) validate() error {
	in.normalize()

	if in.Title == "" {
		return invalid("title is required")
	}
	if msg := validate.Title(in.Title); msg != "" {
		return invalid(msg)
	}
	if msg := validate.Title(in.DisplayTitle); msg != "" {
		return invalid("display " + msg)
	}
	if in.YoutubeURL == "" {
		return invalid("youtube url is required")
	}
	if !youtubeURLPattern.MatchString(in.YoutubeURL) {
		return invalid("youtube url is invalid")
	}
	if in.Slug == "" {
		return invalid("slug is required")
	}
	if msg := validate.Slug(in.Slug); msg != "" {
		return invalid(msg)
	}
	if msg := validate.Description(in.Description); msg != "" {
		return invalid(msg)
	}
	if msg := validate.AuthorName(in.Author.Name); msg != "" {
		return invalid(msg)
	}
	links := []struct {
		name  string
		value string
	}{
		{"redirect url", in.RedirectURL},
		{"logo url", in.LogoURL},
		{"banner desktop url", in.Banner.DesktopURL},
		{"banner mobile url", in.Banner.MobileURL},
		{"banner link", in.Banner.Link},
		{"author photo url", in.Author.PhotoURL},
		{"premiere thumbnail url", in.PremiereThumbnailURL},
	}
	for _, l := range links {
		if l.value == "" {
			continue
		}
		if msg := validate.Link(l.value); msg != "" {
			return invalid(l.name + " must be an http or https URL")
		}
	}
	if in.InactiveMode != InactiveUnavailable && in.InactiveMode != InactivePremiere {
		return invalid("inactive mode must be unavailable or premiere")
	}
	return nil
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (in Input) fields() docstore.Fields {
	return docstore.Fields{
		"title":                in.Title,
		"displayTitle":         in.DisplayTitle,
		"youtubeUrl":           in.YoutubeURL,
		"slug":                 in.Slug,
		"description":          in.Description,
		"isActive":             in.IsActive,
		"redirectUrl":          optional(in.RedirectURL),
		"logoUrl":              optional(in.LogoURL),
		"previousVideoId":      optional(in.PreviousVideoID),
		"nextVideoId":          optional(in.NextVideoID),
		"bannerDesktopUrl":     optional(in.Banner.DesktopURL),
		"bannerMobileUrl":      optional(in.Banner.MobileURL),
		"bannerLink":           optional(in.Banner.Link),
		"bannerActive":         in.Banner.Active,
		"authorName":           optional(in.Author.Name),
		"authorPhotoUrl":       optional(in.Author.PhotoURL),
		"inactiveMode":         in.InactiveMode,
		"premiereDate":         in.PremiereDate,
		"premiereThumbnailUrl": optional(in.PremiereThumbnailURL),
		"updatedAt":            docstore.ServerTimestamp,
	}
}

func videosFromDocuments(docs []docstore.Document) []Video {
	videos := make([]Video, 0, len(docs))
	for _, doc := range docs {
		videos = append(videos, videoFromDocument(doc))
	}
	return videos
}

func videoFromDocument(doc docstore.Document) Video {
	v := Video{
		ID:              doc.ID,
		Title:           doc.String("title"),
		DisplayTitle:    doc.String("displayTitle"),
		YoutubeURL:      doc.String("youtubeUrl"),
		Slug:            doc.String("slug"),
		Description:     doc.String("description"),
		IsActive:        doc.Bool("isActive"),
		RedirectURL:     doc.String("redirectUrl"),
		LogoURL:         doc.String("logoUrl"),
		PreviousVideoID: doc.String("previousVideoId"),
		NextVideoID:     doc.String("nextVideoId"),
		Banner: Banner{
			DesktopURL: doc.String("bannerDesktopUrl"),
			MobileURL:  doc.String("bannerMobileUrl"),
			Link:       doc.String("bannerLink"),
			Active:     doc.Bool("bannerActive"),
		},
		Author: Author{
			Name:     doc.String("authorName"),
			PhotoURL: doc.String("authorPhotoUrl"),
		},
		InactiveMode:         doc.String("inactiveMode"),
		PremiereDate:         doc.TimePtr("premiereDate"),
		PremiereThumbnailURL: doc.String("premiereThumbnailUrl"),
		CreatedAt:            doc.Time("createdAt"),
		UpdatedAt:            doc.Time("updatedAt"),
	}
	if v.DisplayTitle == "" {
		v.DisplayTitle = v.Title
	}
	if v.InactiveMode == "" {
		v.InactiveMode = InactiveUnavailable
	}
	return v
}
