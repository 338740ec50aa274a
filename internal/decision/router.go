package decision

import (
	"context"
	"log/slog"

	"github.com/amishk599/idlewatch/internal/model"
)

const (
	reasonSkipped  = "analysis skipped; notifying directly"
	reasonNoPrompt = "no analysis prompt configured"
)

// Oracle classifies a record with an external model.
type Oracle interface {
	Analyze(ctx context.Context, rec model.Record, imagePaths []string, prompt string) (model.Decision, error)
}

// ImageFetcher stages item images on disk for the oracle.
type ImageFetcher interface {
	Download(ctx context.Context, taskName, itemID string, urls []string) ([]string, error)
	Remove(paths []string)
}

// RouterConfig selects and parameterizes the decision path for one task.
type RouterConfig struct {
	TaskName     string
	Mode         string // model.SourceKeyword or model.SourceAI
	Keywords     []string
	Prompt       string
	SkipAnalysis bool
}

// Router routes a record to the keyword engine, the oracle, or the
// skip-analysis policy. It never fails: oracle errors become a decision with
// Error set and IsRecommended false.
type Router struct {
	cfg    RouterConfig
	oracle Oracle
	images ImageFetcher
	logger *slog.Logger
}

// NewRouter creates a Router. oracle and images may be nil in keyword mode.
func NewRouter(cfg RouterConfig, oracle Oracle, images ImageFetcher, logger *slog.Logger) *Router {
	return &Router{
		cfg:    cfg,
		oracle: oracle,
		images: images,
		logger: logger,
	}
}

// Decide classifies rec.
func (r *Router) Decide(ctx context.Context, rec model.Record) model.Decision {
	if r.cfg.Mode == model.SourceKeyword {
		return Evaluate(r.cfg.Keywords, BuildSearchText(rec))
	}

	if r.cfg.SkipAnalysis {
		return model.Decision{Source: model.SourceAI, IsRecommended: true, Reason: reasonSkipped}
	}
	if r.cfg.Prompt == "" {
		return model.Decision{Source: model.SourceAI, Reason: reasonNoPrompt}
	}
	if r.oracle == nil {
		return model.Decision{Source: model.SourceAI, Reason: "analysis failed", Error: "oracle not configured"}
	}

	var paths []string
	if r.images != nil && len(rec.Item.ImageURLs) > 0 {
		var err error
		paths, err = r.images.Download(ctx, r.cfg.TaskName, rec.Item.ID, rec.Item.ImageURLs)
		if err != nil {
			r.logger.Warn("image download incomplete", "task", r.cfg.TaskName, "item", rec.Item.ID, "error", err)
		}
		defer r.images.Remove(paths)
	}

	d, err := r.oracle.Analyze(ctx, rec, paths, r.cfg.Prompt)
	if err != nil {
		r.logger.Error("oracle analysis failed", "task", r.cfg.TaskName, "item", rec.Item.ID, "error", err)
		return model.ErrorDecision(model.SourceAI, err)
	}
	d.Source = model.SourceAI
	return d
}
