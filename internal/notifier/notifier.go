package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/amishk599/idlewatch/internal/model"
)

var (
	_ model.Notifier = (*MultiNotifier)(nil)
	_ model.Notifier = (*ThrottledNotifier)(nil)
)

// MultiNotifier fans an alert out to several channels. It returns an error
// only if every channel failed; individual failures are logged.
type MultiNotifier struct {
	channels []model.Notifier
	logger   *slog.Logger
}

// NewMultiNotifier returns a fan-out over channels.
func NewMultiNotifier(logger *slog.Logger, channels ...model.Notifier) *MultiNotifier {
	return &MultiNotifier{channels: channels, logger: logger}
}

func (m *MultiNotifier) Notify(ctx context.Context, item model.ListingItem, reason string) error {
	if len(m.channels) == 0 {
		return nil
	}
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Notify(ctx, item, reason); err != nil {
			m.logger.Error("notification channel failed", "channel", fmt.Sprintf("%T", ch), "title", item.Title, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.channels) {
		return fmt.Errorf("all %d notification channels failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// ThrottledNotifier is a decorator that spaces out calls to the wrapped
// notifier with a token bucket, so bursts of recommendations from several
// tasks do not trip the transport's own rate limits.
type ThrottledNotifier struct {
	inner   model.Notifier
	limiter *rate.Limiter
}

// NewThrottledNotifier allows one message per interval with the given burst.
func NewThrottledNotifier(inner model.Notifier, limiter *rate.Limiter) *ThrottledNotifier {
	return &ThrottledNotifier{inner: inner, limiter: limiter}
}

// Notify waits for a token, then delegates.
func (t *ThrottledNotifier) Notify(ctx context.Context, item model.ListingItem, reason string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notification throttle: %w", err)
	}
	return t.inner.Notify(ctx, item, reason)
}

// SendTestMessage sends a dummy item to verify the integration works.
func SendTestMessage(ctx context.Context, n model.Notifier) error {
	item := model.ListingItem{
		ID:         "test-001",
		Title:      "idlewatch test notification",
		Link:       "https://www.goofish.com/",
		Price:      "1",
		Region:     "Everywhere",
		SellerNick: "idlewatch",
	}
	return n.Notify(ctx, item, "integration check")
}

func asHTTPError(err error, target **model.HTTPError) bool {
	return err != nil && errors.As(err, target)
}
