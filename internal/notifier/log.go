package notifier

import (
	"context"
	"log/slog"

	"github.com/amishk599/idlewatch/internal/model"
)

// Ensure LogNotifier implements model.Notifier.
var _ model.Notifier = (*LogNotifier)(nil)

// LogNotifier writes recommended items to the given logger as structured messages.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs each item via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the item with title, price, region, link and the decision reason.
// Returns nil (stdout logging does not fail).
func (n *LogNotifier) Notify(_ context.Context, item model.ListingItem, reason string) error {
	args := []any{"title", item.Title, "price", item.Price, "link", item.Link, "reason", reason}
	if item.Region != "" {
		args = append(args, "region", item.Region)
	}
	n.logger.Info("recommended item", args...)
	return nil
}
