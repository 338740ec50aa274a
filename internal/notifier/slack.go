package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/idlewatch/internal/model"
)

// Ensure SlackNotifier implements model.Notifier.
var _ model.Notifier = (*SlackNotifier)(nil)

// SlackNotifier sends item alerts to a Slack channel via Incoming Webhooks.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackNotifier returns a notifier that posts each item to Slack via webhook.
func NewSlackNotifier(webhookURL string, httpClient *http.Client, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Notify sends the item as one Block Kit message. A 429 is retried once after
// the Retry-After delay.
func (s *SlackNotifier) Notify(ctx context.Context, item model.ListingItem, reason string) error {
	body, err := json.Marshal(buildPayload(item, reason))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	err = s.post(ctx, body)
	var httpErr *model.HTTPError
	if asHTTPError(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		s.logger.Warn("slack rate limited, retrying", "retry_after", httpErr.RetryAfter)
		select {
		case <-ctx.Done():
			return fmt.Errorf("slack retry cancelled: %w", ctx.Err())
		case <-time.After(httpErr.RetryAfter):
		}
		if err := s.post(ctx, body); err != nil {
			return fmt.Errorf("post to slack (retry): %w", err)
		}
		s.logger.Info("slack message sent", "title", item.Title, "retried", true)
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("slack message sent", "title", item.Title)
	return nil
}

func (s *SlackNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		if secs <= 0 {
			secs = 1
		}
		return &model.HTTPError{StatusCode: resp.StatusCode, RetryAfter: time.Duration(secs) * time.Second}
	}
	if resp.StatusCode != http.StatusOK {
		return &model.HTTPError{StatusCode: resp.StatusCode, Err: fmt.Errorf("slack webhook rejected message")}
	}
	return nil
}

// Block Kit payload types.

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string         `json:"type"`
	Text     *slackText     `json:"text,omitempty"`
	Fields   []slackText    `json:"fields,omitempty"`
	Elements []slackElement `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackElement struct {
	Type  string    `json:"type"`
	Text  slackText `json:"text"`
	URL   string    `json:"url"`
	Style string    `json:"style"`
}

func buildPayload(item model.ListingItem, reason string) slackPayload {
	region := item.Region
	if region == "" {
		region = "unknown"
	}
	seller := item.SellerNick
	if seller == "" {
		seller = "unknown"
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: "🛒 " + item.Title},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Price:*\n¥" + item.Price},
				{Type: "mrkdwn", Text: "*Region:*\n" + region},
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Seller:*\n" + seller},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Interest:*\n%d want / %d views", item.WantCount, item.ViewCount)},
			},
		},
	}

	if reason != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "*Why:* " + reason},
		})
	}

	blocks = append(blocks,
		slackBlock{
			Type: "actions",
			Elements: []slackElement{
				{
					Type:  "button",
					Text:  slackText{Type: "plain_text", Text: "Open Listing"},
					URL:   item.Link,
					Style: "primary",
				},
			},
		},
		slackBlock{Type: "divider"},
	)

	return slackPayload{Blocks: blocks}
}
