package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amishk599/idlewatch/internal/model"
)

var _ model.Notifier = (*NtfyNotifier)(nil)

// NtfyNotifier publishes alerts to an ntfy topic URL.
type NtfyNotifier struct {
	topicURL   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNtfyNotifier returns a notifier that posts to topicURL (e.g. https://ntfy.sh/my-topic).
func NewNtfyNotifier(topicURL string, httpClient *http.Client, logger *slog.Logger) *NtfyNotifier {
	return &NtfyNotifier{
		topicURL:   topicURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Notify publishes one message with the item link as the click action.
func (n *NtfyNotifier) Notify(ctx context.Context, item model.ListingItem, reason string) error {
	body := fmt.Sprintf("Price: ¥%s\nReason: %s\nLink: %s", item.Price, reason, item.Link)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topicURL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("create ntfy request: %w", err)
	}
	// Header values must be ASCII; titles are usually CJK.
	req.Header.Set("Title", mime.BEncoding.Encode("UTF-8", "New listing: "+item.Title))
	req.Header.Set("Priority", "high")
	req.Header.Set("Tags", "bell")
	if item.Link != "" {
		req.Header.Set("Click", item.Link)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to ntfy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &model.HTTPError{StatusCode: resp.StatusCode, Err: fmt.Errorf("ntfy rejected message")}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			httpErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return httpErr
	}
	n.logger.Info("ntfy message sent", "title", item.Title)
	return nil
}
