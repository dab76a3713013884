package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/livepage/livepage/internal/docstore"
)

// AssetReleaser deletes uploaded objects a video no longer references.
type AssetReleaser interface {
	Release(urls ...string)
}

type Service struct {
	store  docstore.Store
	assets AssetReleaser
}

func NewService(store docstore.Store, assets AssetReleaser) *Service {
	return &Service{store: store, assets: assets}
}

func (s *Service) release(urls ...string) {
	if s.assets == nil {
		return
	}
	urls = slices.DeleteFunc(urls, func(u string) bool { return u == "" })
	if len(urls) > 0 {
		s.assets.Release(urls...)
	}
}

func (s *Service) Get(ctx context.Context, id string) (Video, error) {
	if id == "" {
		return Video{}, ErrNotFound
	}
	doc, err := s.store.Get(ctx, Collection, id)
	if err != nil {
		return Video{}, err
	}
	return videoFromDocument(doc), nil
}

// List returns every video, newest first.
func (s *Service) List(ctx context.Context) ([]Video, error) {
	docs, err := s.store.Query(ctx, docstore.Query{Collection: Collection, OrderBy: "createdAt", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return videosFromDocuments(docs), nil
}

func slugQuery(slug string) docstore.Query {
	return docstore.Query{
		Collection: Collection,
		Filters:    []docstore.Filter{docstore.Where("slug", docstore.OpEq, slug)},
		OrderBy:    "createdAt",
		Limit:      1,
	}
}

func (s *Service) BySlug(ctx context.Context, slug string) (Video, error) {
	docs, err := s.store.Query(ctx, slugQuery(slug))
	if err != nil {
		return Video{}, fmt.Errorf("load video by slug: %w", err)
	}
	if len(docs) == 0 {
		return Video{}, fmt.Errorf("%w: slug %q", ErrNotFound, slug)
	}
	return videoFromDocument(docs[0]), nil
}

func (s *Service) VideoIDBySlug(ctx context.Context, slug string) (string, error) {
	v, err := s.BySlug(ctx, slug)
	if err != nil {
		return "", err
	}
	return v.ID, nil
}

// SubscribeBySlug follows the video behind a slug. fn receives nil while no
// video has the slug.
func (s *Service) SubscribeBySlug(ctx context.Context, slug string, fn func(*Video)) (*docstore.Subscription, error) {
	sub, err := s.store.Subscribe(ctx, slugQuery(slug), func(snap docstore.Snapshot) {
		if len(snap.Docs) == 0 {
			fn(nil)
			return
		}
		v := videoFromDocument(snap.Docs[0])
		fn(&v)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to video: %w", err)
	}
	return sub, nil
}

// Exists reports whether a video with the id is stored.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ChatOpen reports whether the video accepts participant messages. Only
// active videos do, so a redirected (inactive) video is closed too.
func (s *Service) ChatOpen(ctx context.Context, videoID string) (bool, error) {
	v, err := s.Get(ctx, videoID)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v.IsActive, nil
}

func (s *Service) checkSlug(ctx context.Context, slug, selfID string) error {
	if IsReservedSlug(slug) {
		return ErrReservedSlug
	}
	docs, err := s.store.Query(ctx, docstore.Query{
		Collection: Collection,
		Filters:    []docstore.Filter{docstore.Where("slug", docstore.OpEq, slug)},
	})
	if err != nil {
		return fmt.Errorf("check slug: %w", err)
	}
	for _, doc := range docs {
		if doc.ID != selfID {
			return ErrSlugTaken
		}
	}
	return nil
}

// checkNavigation enforces the link policy: a link must name another
// existing video. Cycles across videos are allowed.
func (s *Service) checkNavigation(ctx context.Context, in Input, selfID string) error {
	for _, link := range []struct {
		name string
		id   string
	}{
		{"previous video", in.PreviousVideoID},
		{"next video", in.NextVideoID},
	} {
		if link.id == "" {
			continue
		}
		if link.id == selfID {
			return invalid(link.name + " cannot be the video itself")
		}
		_, err := s.store.Get(ctx, Collection, link.id)
		if errors.Is(err, docstore.ErrNotFound) {
			return invalid(link.name + " does not exist")
		}
		if err != nil {
			return fmt.Errorf("check %s: %w", link.name, err)
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, in Input) (Video, error) {
	if err := in.validate(); err != nil {
		return Video{}, err
	}
	if err := s.checkSlug(ctx, in.Slug, ""); err != nil {
		return Video{}, err
	}
	if err := s.checkNavigation(ctx, in, ""); err != nil {
		return Video{}, err
	}

	fields := in.fields()
	fields["createdAt"] = docstore.ServerTimestamp
	id, err := s.store.Insert(ctx, Collection, fields)
	if err != nil {
		return Video{}, fmt.Errorf("create video: %w", err)
	}
	return s.Get(ctx, id)
}

// Update replaces the editable fields. Assets that are no longer referenced
// are released.
func (s *Service) Update(ctx context.Context, id string, in Input) (Video, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Video{}, err
	}
	if err := in.validate(); err != nil {
		return Video{}, err
	}
	if err := s.checkSlug(ctx, in.Slug, id); err != nil {
		return Video{}, err
	}
	if err := s.checkNavigation(ctx, in, id); err != nil {
		return Video{}, err
	}

	if err := s.store.Update(ctx, Collection, id, in.fields()); err != nil {
		return Video{}, fmt.Errorf("update video: %w", err)
	}
	updated, err := s.Get(ctx, id)
	if err != nil {
		return Video{}, err
	}

	var stale []string
	kept := updated.assetURLs()
	for _, u := range current.assetURLs() {
		if !slices.Contains(kept, u) {
			stale = append(stale, u)
		}
	}
	s.release(stale...)
	return updated, nil
}

// Delete removes the video, unlinks it from its neighbours and releases its
// assets. Deleting a missing video succeeds.
func (s *Service) Delete(ctx context.Context, id string) error {
	current, err := s.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, Collection, id); err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	s.unlink(ctx, id)
	s.release(current.assetURLs()...)
	return nil
}

func (s *Service) unlink(ctx context.Context, id string) {
	for _, field := range []string{"previousVideoId", "nextVideoId"} {
		docs, err := s.store.Query(ctx, docstore.Query{
			Collection: Collection,
			Filters:    []docstore.Filter{docstore.Where(field, docstore.OpEq, id)},
		})
		if err != nil {
			slog.Error("video: failed to find linked videos", "video_id", id, "field", field, "error", err)
			continue
		}
		for _, doc := range docs {
			err := s.store.Update(ctx, Collection, doc.ID, docstore.Fields{field: nil, "updatedAt": docstore.ServerTimestamp})
			if err != nil && !errors.Is(err, docstore.ErrNotFound) {
				slog.Error("video: failed to unlink video", "video_id", doc.ID, "field", field, "error", err)
			}
		}
	}
}

// NavLink is a single-hop reference to a neighbouring video.
type NavLink struct {
	ID           string `json:"id"`
	Slug         string `json:"slug"`
	DisplayTitle string `json:"displayTitle"`
}

// Navigation resolves the previous and next links one hop deep. Links to
// videos that no longer exist resolve to nil.
func (s *Service) Navigation(ctx context.Context, v Video) (prev, next *NavLink) {
	resolve := func(id string) *NavLink {
		if id == "" {
			return nil
		}
		linked, err := s.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, docstore.ErrNotFound) {
				slog.Error("video: failed to resolve navigation", "video_id", v.ID, "linked_id", id, "error", err)
			}
			return nil
		}
		return &NavLink{ID: linked.ID, Slug: linked.Slug, DisplayTitle: linked.DisplayTitle}
	}
	return resolve(v.PreviousVideoID), resolve(v.NextVideoID)
}
