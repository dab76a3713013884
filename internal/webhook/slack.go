package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

// WithSlack also posts a summary of every event to a Slack incoming webhook.
func (c *Client) WithSlack(url string) *Client {
	c.slackURL = url
	return c
}

func (c *Client) slackEnabled() bool {
	return c != nil && c.slackURL != ""
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// slackSummary renders the headline and context line for an event.
func slackSummary(event Event) (headline, detail string) {
	username := stringField(event.Data, "username")
	videoID := stringField(event.Data, "videoId")

	switch event.Name {
	case EventMessageDeleted:
		headline = fmt.Sprintf(":wastebasket: *Message from %s deleted*", username)
		if msg := stringField(event.Data, "message"); msg != "" {
			headline += "\n>" + strings.ReplaceAll(msg, "\n", "\n>")
		}
	case EventUserMuted:
		if permanent, _ := event.Data["permanent"].(bool); permanent {
			headline = fmt.Sprintf(":mute: *%s was muted permanently*", username)
		} else {
			headline = fmt.Sprintf(":mute: *%s was muted for %v minutes*", username, event.Data["minutes"])
		}
	case EventUserUnmuted:
		headline = fmt.Sprintf(":loud_sound: *%s was unmuted*", username)
	case EventPinnedChanged:
		headline = fmt.Sprintf(":pushpin: *Pinned message %s*", stringField(event.Data, "change"))
	default:
		headline = fmt.Sprintf("*%s*", event.Name)
	}
	return headline, fmt.Sprintf("video %s at %s", videoID, event.Timestamp.Format("15:04:05 MST"))
}

func (c *Client) postSlack(ctx context.Context, event Event) error {
	if !c.slackEnabled() {
		return nil
	}
	headline, detail := slackSummary(event)
	p := slackPayload{
		Blocks: []slackBlock{
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: headline}},
			{Type: "context", Elements: []slackText{{Type: "mrkdwn", Text: detail}}},
		},
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.slackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
