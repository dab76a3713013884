package video

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/livepage/livepage/internal/docstore"
)

const LikeCollection = "videoLikes"

// likeNamespace scopes the name-based ids of likes.
var likeNamespace = uuid.MustParse("3c8e1f52-6a0d-4b7e-8f21-95d4c0a7b6e3")

// LikeID is deterministic per video and viewer so a viewer holds at most one
// like per video.
func LikeID(videoID, viewerID string) string {
	return uuid.NewSHA1(likeNamespace, []byte(fmt.Sprintf("%d:%s%s", len(videoID), videoID, viewerID))).String()
}

type LikeState struct {
	Count    int  `json:"count"`
	HasLiked bool `json:"hasLiked"`
}

type Likes struct {
	store docstore.Store
}

func NewLikes(store docstore.Store) *Likes {
	return &Likes{store: store}
}

// Toggle likes or unlikes the video and reports whether the viewer now likes it.
func (l *Likes) Toggle(ctx context.Context, videoID, viewerID string) (bool, error) {
	if videoID == "" || viewerID == "" {
		return false, invalid("video and viewer are required")
	}
	id := LikeID(videoID, viewerID)

	_, err := l.store.Get(ctx, LikeCollection, id)
	switch {
	case err == nil:
		if err := l.store.Delete(ctx, LikeCollection, id); err != nil {
			return true, fmt.Errorf("remove like: %w", err)
		}
		return false, nil
	case errors.Is(err, docstore.ErrNotFound):
		if err := l.store.Upsert(ctx, LikeCollection, id, docstore.Fields{
			"videoId":        videoID,
			"userIdentifier": viewerID,
			"createdAt":      docstore.ServerTimestamp,
		}); err != nil {
			return false, fmt.Errorf("add like: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("load like: %w", err)
	}
}

func likesQuery(videoID string) docstore.Query {
	return docstore.Query{
		Collection: LikeCollection,
		Filters:    []docstore.Filter{docstore.Where("videoId", docstore.OpEq, videoID)},
	}
}

func likeState(docs []docstore.Document, viewerID string) LikeState {
	state := LikeState{Count: len(docs)}
	for _, doc := range docs {
		if viewerID != "" && doc.String("userIdentifier") == viewerID {
			state.HasLiked = true
			break
		}
	}
	return state
}

func (l *Likes) State(ctx context.Context, videoID, viewerID string) (LikeState, error) {
	docs, err := l.store.Query(ctx, likesQuery(videoID))
	if err != nil {
		return LikeState{}, fmt.Errorf("count likes: %w", err)
	}
	return likeState(docs, viewerID), nil
}

// Subscribe delivers the live like count and whether viewerID is among the likers.
func (l *Likes) Subscribe(ctx context.Context, videoID, viewerID string, fn func(LikeState)) (*docstore.Subscription, error) {
	sub, err := l.store.Subscribe(ctx, likesQuery(videoID), func(snap docstore.Snapshot) {
		fn(likeState(snap.Docs, viewerID))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to likes: %w", err)
	}
	return sub, nil
}
