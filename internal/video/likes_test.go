package video

import (
	"context"
	"testing"
	"time"
)

func TestLikeID_Deterministic(t *testing.T) {
	if LikeID("v1", "viewer") != LikeID("v1", "viewer") {
		t.Error("expected stable id")
	}
	if LikeID("v1", "2viewer") == LikeID("v12", "viewer") {
		t.Error("expected distinct ids for distinct pairs")
	}
}

func TestLikes_Toggle(t *testing.T) {
	l := NewLikes(newTestStore())
	ctx := context.Background()

	liked, err := l.Toggle(ctx, "v1", "viewer-a")
	if err != nil || !liked {
		t.Fatalf("expected like, got %v %v", liked, err)
	}
	if _, err := l.Toggle(ctx, "v1", "viewer-b"); err != nil {
		t.Fatal(err)
	}

	state, err := l.State(ctx, "v1", "viewer-a")
	if err != nil {
		t.Fatal(err)
	}
	if state.Count != 2 || !state.HasLiked {
		t.Errorf("expected 2 likes including viewer-a, got %+v", state)
	}

	liked, err = l.Toggle(ctx, "v1", "viewer-a")
	if err != nil || liked {
		t.Fatalf("expected unlike, got %v %v", liked, err)
	}
	state, _ = l.State(ctx, "v1", "viewer-a")
	if state.Count != 1 || state.HasLiked {
		t.Errorf("expected 1 like without viewer-a, got %+v", state)
	}
}

func TestLikes_Subscribe(t *testing.T) {
	l := NewLikes(newTestStore())
	ctx := context.Background()

	ch := make(chan LikeState, 16)
	sub, err := l.Subscribe(ctx, "v1", "viewer-a", func(s LikeState) { ch <- s })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	if _, err := l.Toggle(ctx, "v1", "viewer-a"); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s.Count == 1 && s.HasLiked {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for like state")
		}
	}
}
