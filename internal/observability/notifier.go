package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Notifier delivers alerts to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, alerts []Alert) error
}

// DefaultNotifyTimeout bounds a single webhook delivery.
const DefaultNotifyTimeout = 10 * time.Second

// SlackNotifier posts an alert digest to a Slack incoming webhook.
type SlackNotifier struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// NewSlackNotifier creates a SlackNotifier for webhookURL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{URL: webhookURL, Client: http.DefaultClient, Timeout: DefaultNotifyTimeout}
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Notify posts one digest message for alerts. An empty slice sends nothing.
func (s *SlackNotifier) Notify(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	body, err := json.Marshal(digest(alerts))
	if err != nil {
		return fmt.Errorf("encoding slack digest: %w", err)
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// digest renders alerts as a header, a severity tally and one section per
// alert in the order given.
func digest(alerts []Alert) slackPayload {
	tally := make(map[AlertSeverity]int)
	for _, a := range alerts {
		tally[a.Severity]++
	}
	var parts []string
	for _, sev := range []AlertSeverity{SeverityHigh, SeverityMedium, SeverityLow} {
		if n := tally[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	summary := fmt.Sprintf("ate: %d alert(s) (%s)", len(alerts), strings.Join(parts, ", "))

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "ate alerts"}},
		{Type: "context", Elements: []slackText{{Type: "mrkdwn", Text: summary}}},
	}
	for _, a := range alerts {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("%s *%s* %s\n_%s, %s_",
				severityMark(a.Severity), strings.ToUpper(string(a.Severity)), a.Message,
				a.Condition, a.TriggeredAt.UTC().Format("2006-01-02 15:04 UTC"))},
		})
	}
	return slackPayload{Text: summary, Blocks: blocks}
}

func severityMark(s AlertSeverity) string {
	switch s {
	case SeverityHigh:
		return ":red_circle:"
	case SeverityMedium:
		return ":large_yellow_circle:"
	case SeverityLow:
		return ":large_blue_circle:"
	}
	return ":grey_question:"
}

// AlertNotifier turns single supervisor messages, such as watcher restarts,
// into high severity alerts on a Notifier.
type AlertNotifier struct {
	notifier Notifier
	now      func() time.Time
}

// NewAlertNotifier wraps n. A nil n drops every message.
func NewAlertNotifier(n Notifier) *AlertNotifier {
	return &AlertNotifier{notifier: n, now: func() time.Time { return time.Now().UTC() }}
}

// NotifyAlert sends msg as one high severity alert.
func (a *AlertNotifier) NotifyAlert(msg string) error {
	if a == nil || a.notifier == nil {
		return nil
	}
	now := a.now()
	return a.notifier.Notify(context.Background(), []Alert{{
		ID:          fmt.Sprintf("supervisor-%d", now.UnixNano()),
		Condition:   "watcher_restarted",
		Severity:    SeverityHigh,
		Message:     msg,
		TriggeredAt: now,
	}})
}
