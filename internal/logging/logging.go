package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/amishk599/idlewatch/internal/config"
)

// New constructs a slog.Logger configured according to the provided settings.
// debug forces the debug level regardless of cfg.
func New(cfg config.LoggingConfig, debug bool) (*slog.Logger, error) {
	return newWithWriter(os.Stdout, cfg, debug)
}

func newWithWriter(w io.Writer, cfg config.LoggingConfig, debug bool) (*slog.Logger, error) {
	if debug {
		cfg.Level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}
}
