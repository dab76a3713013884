package video

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"github.com/livepage/livepage/internal/docstore"
)

const (
	ViewCollection  = "analytics"
	ClickCollection = "buttonClicks"

	// ViewBucket is the window in which repeated views by one viewer count once.
	ViewBucket = 100 * time.Second

	maxCustomRange = 366 * 24 * time.Hour
)

var viewNamespace = uuid.MustParse("a4d7b1c9-2e58-4f03-b6a1-7c9e0d3f5b82")

// IsBot reports whether a user agent belongs to a crawler or is missing.
func IsBot(userAgent string) bool {
	if userAgent == "" {
		return true
	}
	return useragent.New(userAgent).Bot()
}

// ViewID is deterministic per video, viewer and bucket, so a repeated view
// inside one bucket overwrites the first instead of adding a row.
func ViewID(videoID, viewerID string, at time.Time) string {
	bucket := at.Unix() / int64(ViewBucket/time.Second)
	name := fmt.Sprintf("%d:%s%s:%d", len(videoID), videoID, viewerID, bucket)
	return uuid.NewSHA1(viewNamespace, []byte(name)).String()
}

type Analytics struct {
	store docstore.Store
	now   func() time.Time
}

func NewAnalytics(store docstore.Store) *Analytics {
	return &Analytics{store: store, now: time.Now}
}

// RecordView stores a page view. Bots are ignored and report false.
func (a *Analytics) RecordView(ctx context.Context, videoID, viewerID, userAgent string) (bool, error) {
	if IsBot(userAgent) {
		return false, nil
	}
	now := a.now()
	err := a.store.Upsert(ctx, ViewCollection, ViewID(videoID, viewerID, now), docstore.Fields{
		"videoId":   videoID,
		"viewerId":  viewerID,
		"userAgent": userAgent,
		"timestamp": docstore.ServerTimestamp,
	})
	if err != nil {
		return false, fmt.Errorf("record view: %w", err)
	}
	return true, nil
}

// RecordClick stores a feature button click. Bots are ignored.
func (a *Analytics) RecordClick(ctx context.Context, videoID, buttonID, viewerID, userAgent string) (bool, error) {
	if IsBot(userAgent) {
		return false, nil
	}
	_, err := a.store.Insert(ctx, ClickCollection, docstore.Fields{
		"videoId":   videoID,
		"buttonId":  buttonID,
		"viewerId":  viewerID,
		"timestamp": docstore.ServerTimestamp,
	})
	if err != nil {
		return false, fmt.Errorf("record click: %w", err)
	}
	return true, nil
}

type Range struct {
	Start time.Time
	End   time.Time
}

// ParseRange accepts 24h, 2d, 7d, 30d, or custom with from and to dates
// (YYYY-MM-DD, inclusive, UTC). An empty name means 7d.
func ParseRange(name, from, to string, now time.Time) (Range, error) {
	now = now.UTC()
	switch name {
	case "24h":
		return Range{Start: now.Add(-24 * time.Hour), End: now}, nil
	case "2d":
		return Range{Start: now.AddDate(0, 0, -2), End: now}, nil
	case "", "7d":
		return Range{Start: now.AddDate(0, 0, -7), End: now}, nil
	case "30d":
		return Range{Start: now.AddDate(0, 0, -30), End: now}, nil
	case "custom":
		start, err := time.Parse("2006-01-02", from)
		if err != nil {
			return Range{}, invalid("from must be a date like 2026-01-31")
		}
		end, err := time.Parse("2006-01-02", to)
		if err != nil {
			return Range{}, invalid("to must be a date like 2026-01-31")
		}
		end = end.Add(24*time.Hour - time.Nanosecond)
		if end.Before(start) {
			return Range{}, invalid("from must not be after to")
		}
		if end.Sub(start) > maxCustomRange {
			return Range{}, invalid("custom range is limited to one year")
		}
		return Range{Start: start, End: end}, nil
	default:
		return Range{}, invalid("invalid range: must be 24h, 2d, 7d, 30d, or custom")
	}
}

type DailyCount struct {
	Date   string `json:"date"`
	Views  int    `json:"views"`
	Clicks int    `json:"clicks"`
}

type HourlyCount struct {
	Hour  int `json:"hour"`
	Views int `json:"views"`
}

type ButtonClicks struct {
	ButtonID string `json:"buttonId"`
	Clicks   int    `json:"clicks"`
}

type Summary struct {
	TotalViews    int            `json:"totalViews"`
	UniqueViewers int            `json:"uniqueViewers"`
	TotalClicks   int            `json:"totalClicks"`
	Daily         []DailyCount   `json:"daily"`
	Hourly        []HourlyCount  `json:"hourly"`
	Buttons       []ButtonClicks `json:"buttons"`
}

func rangeQuery(collection, videoID string, r Range) docstore.Query {
	q := docstore.Query{
		Collection: collection,
		Filters: []docstore.Filter{
			docstore.Where("timestamp", docstore.OpGte, r.Start),
			docstore.Where("timestamp", docstore.OpLte, r.End),
		},
		OrderBy: "timestamp",
	}
	if videoID != "" {
		q.Filters = append(q.Filters, docstore.Where("videoId", docstore.OpEq, videoID))
	}
	return q
}

// Summarize aggregates views and clicks in the range. An empty videoID covers
// every video. Days and hours are UTC.
func (a *Analytics) Summarize(ctx context.Context, videoID string, r Range) (Summary, error) {
	views, err := a.store.Query(ctx, rangeQuery(ViewCollection, videoID, r))
	if err != nil {
		return Summary{}, fmt.Errorf("query views: %w", err)
	}
	clicks, err := a.store.Query(ctx, rangeQuery(ClickCollection, videoID, r))
	if err != nil {
		return Summary{}, fmt.Errorf("query clicks: %w", err)
	}

	summary := Summary{
		TotalViews:  len(views),
		TotalClicks: len(clicks),
		Hourly:      make([]HourlyCount, 24),
		Buttons:     []ButtonClicks{},
	}
	for h := range summary.Hourly {
		summary.Hourly[h].Hour = h
	}

	daily := make(map[string]*DailyCount)
	first := r.Start.UTC().Truncate(24 * time.Hour)
	for day := first; !day.After(r.End); day = day.AddDate(0, 0, 1) {
		date := day.Format("2006-01-02")
		summary.Daily = append(summary.Daily, DailyCount{Date: date})
	}
	for i := range summary.Daily {
		daily[summary.Daily[i].Date] = &summary.Daily[i]
	}

	viewers := make(map[string]struct{})
	for _, doc := range views {
		at := doc.Time("timestamp").UTC()
		viewers[doc.String("viewerId")] = struct{}{}
		summary.Hourly[at.Hour()].Views++
		if d, ok := daily[at.Format("2006-01-02")]; ok {
			d.Views++
		}
	}
	summary.UniqueViewers = len(viewers)

	perButton := make(map[string]int)
	for _, doc := range clicks {
		perButton[doc.String("buttonId")]++
		if d, ok := daily[doc.Time("timestamp").UTC().Format("2006-01-02")]; ok {
			d.Clicks++
		}
	}
	for id, n := range perButton {
		summary.Buttons = append(summary.Buttons, ButtonClicks{ButtonID: id, Clicks: n})
	}
	sort.Slice(summary.Buttons, func(i, j int) bool {
		if summary.Buttons[i].Clicks != summary.Buttons[j].Clicks {
			return summary.Buttons[i].Clicks > summary.Buttons[j].Clicks
		}
		return summary.Buttons[i].ButtonID < summary.Buttons[j].ButtonID
	})
	return summary, nil
}
