package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Alerter posts recovery-failure alerts to a Slack channel via
// chat.postMessage. A failed disconnect recovery has no client to report
// to, so the operator channel is the only place it surfaces beyond logs.
type Alerter struct {
	token   string
	channel string
	client  *http.Client
	apiURL  string

	mu       sync.Mutex
	lastSent time.Time
}

// NewAlerter creates a new Slack alerter.
func NewAlerter(token, channel string) *Alerter {
	return &Alerter{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  "https://slack.com/api/chat.postMessage",
	}
}

// RecoveryFailed sends a Block Kit message for a failed disconnect
// recovery. Rate-limited to at most one alert per 30 seconds to protect
// against burst storms; alerting is best-effort and errors are logged only.
func (a *Alerter) RecoveryFailed(ctx context.Context, sessionID string, userID int64, cause error) {
	a.mu.Lock()
	if time.Since(a.lastSent) < 30*time.Second {
		a.mu.Unlock()
		return
	}
	a.lastSent = time.Now()
	a.mu.Unlock()

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": "Capture Recovery Failed",
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Session:*\n%s", sessionID)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*User:*\n%d", userID)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Error:*\n%v", cause)},
				{"type": "mrkdwn", "text": "*Segments:*\nleft on disk for inspection"},
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("Sent at %s", time.Now().UTC().Format(time.RFC3339))},
			},
		},
	}

	body, err := json.Marshal(map[string]any{
		"channel": a.channel,
		"blocks":  blocks,
		"text":    fmt.Sprintf("Recovery failed for session %s: %v", sessionID, cause),
	})
	if err != nil {
		slog.Error("failed to marshal slack payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to create slack request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Error("slack post failed", "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		slog.Error("slack returned non-200", "status", resp.StatusCode)
		return
	}

	slog.Info("recovery alert posted to Slack", "channel", a.channel, "session_id", sessionID)
}
