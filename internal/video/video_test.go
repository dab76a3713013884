package video

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/livepage/livepage/internal/docstore"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type releaseRecorder struct {
	mu   sync.Mutex
	urls []string
}

func (r *releaseRecorder) Release(urls ...string) {
	r.mu.Lock()
	r.urls = append(r.urls, urls...)
	r.mu.Unlock()
}

func (r *releaseRecorder) released() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.urls)
}

func newTestStore() *docstore.Memory {
	store := docstore.NewMemory()
	store.SetClock((&stepClock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}).now)
	return store
}

func newTestService(t *testing.T) (*Service, *releaseRecorder) {
	t.Helper()
	rec := &releaseRecorder{}
	return NewService(newTestStore(), rec), rec
}

func validInput(title string) Input {
	return Input{
		Title:      title,
		YoutubeURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		IsActive:   true,
	}
}

func mustCreate(t *testing.T, s *Service, in Input) Video {
	t.Helper()
	v, err := s.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create %q: %v", in.Title, err)
	}
	return v
}

// --- Create Tests ---

func TestCreate_DefaultsFromTitle(t *testing.T) {
	s, _ := newTestService(t)

	v := mustCreate(t, s, validInput("Lançamento Ao Vivo"))
	if v.Slug != "lancamento-ao-vivo" {
		t.Errorf("expected generated slug, got %q", v.Slug)
	}
	if v.DisplayTitle != "Lançamento Ao Vivo" {
		t.Errorf("expected display title to default to title, got %q", v.DisplayTitle)
	}
	if v.InactiveMode != InactiveUnavailable {
		t.Errorf("expected default inactive mode, got %q", v.InactiveMode)
	}
	if v.CreatedAt.IsZero() || v.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestCreate_SlugRules(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	mustCreate(t, s, validInput("Launch"))

	in := validInput("Another")
	in.Slug = "launch"
	if _, err := s.Create(ctx, in); !errors.Is(err, ErrSlugTaken) {
		t.Errorf("expected ErrSlugTaken, got %v", err)
	}

	in.Slug = "admin"
	if _, err := s.Create(ctx, in); !errors.Is(err, ErrReservedSlug) {
		t.Errorf("expected ErrReservedSlug, got %v", err)
	}

	in.Slug = "Not A Slug!"
	var validationErr *ValidationError
	if _, err := s.Create(ctx, in); !errors.As(err, &validationErr) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	s, _ := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"missing title", func(in *Input) { in.Title = " " }},
		{"bad youtube url", func(in *Input) { in.YoutubeURL = "https://vimeo.com/123456" }},
		{"bad redirect", func(in *Input) { in.RedirectURL = "javascript:alert(1)" }},
		{"bad inactive mode", func(in *Input) { in.InactiveMode = "hidden" }},
		{"missing previous", func(in *Input) { in.PreviousVideoID = "does-not-exist" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput("Video " + tt.name)
			tt.mutate(&in)
			_, err := s.Create(context.Background(), in)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

// --- Navigation Tests ---

func TestNavigation_CyclesAllowedSelfLinkRejected(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	a := mustCreate(t, s, validInput("Part one"))
	inB := validInput("Part two")
	inB.PreviousVideoID = a.ID
	inB.NextVideoID = a.ID
	b := mustCreate(t, s, inB)

	inA := validInput("Part one")
	inA.NextVideoID = b.ID
	inA.PreviousVideoID = b.ID
	a, err := s.Update(ctx, a.ID, inA)
	if err != nil {
		t.Fatalf("expected a cycle between two videos to be allowed, got %v", err)
	}

	prev, next := s.Navigation(ctx, a)
	if prev == nil || next == nil || prev.ID != b.ID || next.Slug != "part-two" {
		t.Errorf("unexpected navigation: %+v %+v", prev, next)
	}

	inA.NextVideoID = a.ID
	var validationErr *ValidationError
	if _, err := s.Update(ctx, a.ID, inA); !errors.As(err, &validationErr) {
		t.Errorf("expected self link to be rejected, got %v", err)
	}
}

func TestDelete_UnlinksNeighboursAndReleasesAssets(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()

	inA := validInput("Episode one")
	inA.LogoURL = "https://cdn.example.com/assets/logo/a.png"
	a := mustCreate(t, s, inA)

	inB := validInput("Episode two")
	inB.PreviousVideoID = a.ID
	b := mustCreate(t, s, inB)

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected deleted video to be gone, got %v", err)
	}

	b, err := s.Get(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.PreviousVideoID != "" {
		t.Errorf("expected previous link to be cleared, got %q", b.PreviousVideoID)
	}
	if got := rec.released(); !slices.Equal(got, []string{inA.LogoURL}) {
		t.Errorf("expected logo to be released, got %v", got)
	}

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Errorf("expected deleting a missing video to succeed, got %v", err)
	}
}

func TestUpdate_ReleasesReplacedAssets(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()

	in := validInput("Launch")
	in.LogoURL = "https://cdn.example.com/assets/logo/old.png"
	in.Banner.DesktopURL = "https://cdn.example.com/assets/banner-desktop/keep.png"
	v := mustCreate(t, s, in)

	in.LogoURL = "https://cdn.example.com/assets/logo/new.png"
	if _, err := s.Update(ctx, v.ID, in); err != nil {
		t.Fatal(err)
	}
	if got := rec.released(); !slices.Equal(got, []string{"https://cdn.example.com/assets/logo/old.png"}) {
		t.Errorf("expected only the old logo to be released, got %v", got)
	}

	if _, err := s.Update(ctx, "missing", in); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Lookup Tests ---

func TestChatOpen(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	live := mustCreate(t, s, validInput("Live"))
	offIn := validInput("Offline")
	offIn.IsActive = false
	off := mustCreate(t, s, offIn)

	if open, err := s.ChatOpen(ctx, live.ID); err != nil || !open {
		t.Errorf("expected chat open for active video, got %v %v", open, err)
	}
	if open, err := s.ChatOpen(ctx, off.ID); err != nil || open {
		t.Errorf("expected chat closed for inactive video, got %v %v", open, err)
	}
	redirIn := validInput("Moved")
	redirIn.IsActive = false
	redirIn.RedirectURL = "https://example.com/next"
	redirected := mustCreate(t, s, redirIn)
	if open, err := s.ChatOpen(ctx, redirected.ID); err != nil || open {
		t.Errorf("expected chat closed for redirected video, got %v %v", open, err)
	}
	if open, err := s.ChatOpen(ctx, "missing"); err != nil || open {
		t.Errorf("expected chat closed for missing video, got %v %v", open, err)
	}
}

func TestExists(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	v := mustCreate(t, s, validInput("Here"))

	if ok, err := s.Exists(ctx, v.ID); err != nil || !ok {
		t.Errorf("expected video to exist, got %v %v", ok, err)
	}
	for _, id := range []string{"missing", ""} {
		if ok, err := s.Exists(ctx, id); err != nil || ok {
			t.Errorf("Exists(%q): expected false without error, got %v %v", id, ok, err)
		}
	}
}

func TestSubscribeBySlug_FollowsChanges(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	ch := make(chan *Video, 16)
	sub, err := s.SubscribeBySlug(ctx, "launch", func(v *Video) { ch <- v })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	wait := func(match func(*Video) bool) *Video {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case v := <-ch:
				if match(v) {
					return v
				}
			case <-deadline:
				t.Fatal("timed out waiting for video update")
				return nil
			}
		}
	}

	wait(func(v *Video) bool { return v == nil })
	created := mustCreate(t, s, validInput("Launch"))
	wait(func(v *Video) bool { return v != nil && v.ID == created.ID && v.IsActive })

	in := validInput("Launch")
	in.IsActive = false
	in.RedirectURL = "https://example.com/replay"
	if _, err := s.Update(ctx, created.ID, in); err != nil {
		t.Fatal(err)
	}
	v := wait(func(v *Video) bool { return v != nil && !v.IsActive })
	if State(*v).State != StateRedirect {
		t.Errorf("expected redirect state, got %+v", State(*v))
	}

	id, err := s.VideoIDBySlug(ctx, "launch")
	if err != nil || id != created.ID {
		t.Errorf("expected slug to resolve to %s, got %q %v", created.ID, id, err)
	}
	if _, err := s.VideoIDBySlug(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList_NewestFirst(t *testing.T) {
	s, _ := newTestService(t)
	mustCreate(t, s, validInput("First"))
	mustCreate(t, s, validInput("Second"))

	videos, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(videos) != 2 || videos[0].Title != "Second" {
		t.Errorf("expected newest first, got %+v", videos)
	}
}
