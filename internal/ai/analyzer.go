package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/amishk599/idlewatch/internal/model"
	"github.com/amishk599/idlewatch/internal/retry"
)

// Oracle classifies enriched records with an LLM. It implements
// decision.Oracle.
type Oracle struct {
	provider   LLMProvider
	tmpl       *template.Template
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// NewOracle creates an oracle. maxRetries is the number of additional
// attempts after a retryable failure; baseDelay doubles on each retry.
func NewOracle(provider LLMProvider, tmpl *template.Template, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *Oracle {
	return &Oracle{
		provider:   provider,
		tmpl:       tmpl,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
	}
}

// Analyze renders the listing into prompt, asks the LLM, and parses its verdict.
func (o *Oracle) Analyze(ctx context.Context, rec model.Record, imagePaths []string, prompt string) (model.Decision, error) {
	listing, err := json.MarshalIndent(struct {
		Item   model.ListingItem   `json:"item"`
		Seller model.SellerProfile `json:"seller"`
	}{rec.Item, rec.Seller}, "", "  ")
	if err != nil {
		return model.Decision{}, fmt.Errorf("marshal listing: %w", err)
	}

	var buf bytes.Buffer
	if err := o.tmpl.Execute(&buf, struct {
		Prompt     string
		Listing    string
		ImageCount int
	}{prompt, string(listing), len(imagePaths)}); err != nil {
		return model.Decision{}, fmt.Errorf("render prompt: %w", err)
	}

	raw, err := o.complete(ctx, buf.String(), imagePaths)
	if err != nil {
		return model.Decision{}, fmt.Errorf("llm complete: %w", err)
	}

	d, err := parseVerdict(raw)
	if err != nil {
		return model.Decision{}, fmt.Errorf("parse verdict: %w", err)
	}
	return d, nil
}

func (o *Oracle) complete(ctx context.Context, prompt string, imagePaths []string) (string, error) {
	raw, err := o.provider.Complete(ctx, prompt, imagePaths)
	for attempt := 1; err != nil && attempt <= o.maxRetries && retry.IsRetryable(err); attempt++ {
		delay := retry.Backoff(o.baseDelay, attempt, err)
		o.logger.Warn("retrying llm call", "attempt", attempt, "max_retries", o.maxRetries, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
		raw, err = o.provider.Complete(ctx, prompt, imagePaths)
	}
	return raw, err
}

// parseVerdict reads the LLM's JSON object. is_recommended and reason are
// lifted into the decision; every other field is kept in Details. Models
// that ignore JSON mode sometimes wrap the object in a code fence.
func parseVerdict(raw string) (model.Decision, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return model.Decision{}, fmt.Errorf("unmarshal verdict JSON: %w", err)
	}

	rec, ok := fields["is_recommended"].(bool)
	if !ok {
		return model.Decision{}, fmt.Errorf("verdict missing boolean is_recommended")
	}
	reason, _ := fields["reason"].(string)
	delete(fields, "is_recommended")
	delete(fields, "reason")

	d := model.Decision{
		Source:        model.SourceAI,
		IsRecommended: rec,
		Reason:        reason,
	}
	if len(fields) > 0 {
		d.Details = fields
	}
	return d, nil
}
