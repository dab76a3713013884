package video

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestButtons_CreateDefaultsAndValidation(t *testing.T) {
	b := NewButtons(newTestStore())
	ctx := context.Background()

	button, err := b.Create(ctx, "v1", ButtonInput{Text: " Buy now ", Link: "https://example.com/buy", IsActive: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if button.Text != "Buy now" || button.BackgroundColor != defaultButtonBackground || button.TextColor != defaultButtonText {
		t.Errorf("unexpected button: %+v", button)
	}

	tests := []struct {
		name string
		in   ButtonInput
	}{
		{"missing text", ButtonInput{Link: "https://example.com"}},
		{"missing link", ButtonInput{Text: "Buy"}},
		{"bad link", ButtonInput{Text: "Buy", Link: "example.com"}},
		{"bad color", ButtonInput{Text: "Buy", Link: "https://example.com", BackgroundColor: "red"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Create(ctx, "v1", tt.in)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestButtons_ActiveFollowsMostRecentUpdate(t *testing.T) {
	b := NewButtons(newTestStore())
	ctx := context.Background()

	first, _ := b.Create(ctx, "v1", ButtonInput{Text: "First", Link: "https://example.com/1", IsActive: true})
	second, _ := b.Create(ctx, "v1", ButtonInput{Text: "Second", Link: "https://example.com/2", IsActive: true})

	ch := make(chan *Button, 16)
	sub, err := b.SubscribeActive(ctx, "v1", func(button *Button) { ch <- button })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	wait := func(wantID string) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case got := <-ch:
				if (wantID == "" && got == nil) || (got != nil && got.ID == wantID) {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for active button %q", wantID)
			}
		}
	}

	wait(second.ID)

	if err := b.Update(ctx, first.ID, ButtonInput{Text: "First again", Link: "https://example.com/1", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	wait(first.ID)

	if err := b.ToggleActive(ctx, first.ID, true); err != nil {
		t.Fatal(err)
	}
	wait(second.ID)

	if err := b.Delete(ctx, second.ID); err != nil {
		t.Fatal(err)
	}
	wait("")

	if err := b.Update(ctx, second.ID, ButtonInput{Text: "Gone", Link: "https://example.com"}); err != nil {
		t.Errorf("expected update of a deleted button to be a no-op, got %v", err)
	}
}

func TestButtons_List(t *testing.T) {
	b := NewButtons(newTestStore())
	ctx := context.Background()

	_, _ = b.Create(ctx, "v1", ButtonInput{Text: "A", Link: "https://example.com/a"})
	_, _ = b.Create(ctx, "v1", ButtonInput{Text: "B", Link: "https://example.com/b"})
	_, _ = b.Create(ctx, "v2", ButtonInput{Text: "C", Link: "https://example.com/c"})

	buttons, err := b.List(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(buttons) != 2 || buttons[0].Text != "B" {
		t.Errorf("expected v1 buttons newest first, got %+v", buttons)
	}

	active, err := b.Active(ctx, "v1")
	if err != nil || active != nil {
		t.Errorf("expected no active button, got %+v %v", active, err)
	}
}
