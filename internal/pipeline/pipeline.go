// Package pipeline runs one fetch pass for a task: search, filter, paginate,
// and for each unseen item fetch detail, enrich, decide, notify and persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/amishk599/idlewatch/internal/dedup"
	"github.com/amishk599/idlewatch/internal/model"
	"github.com/amishk599/idlewatch/internal/pacing"
	"github.com/amishk599/idlewatch/internal/retry"
)

// Decider classifies an enriched record.
type Decider interface {
	Decide(ctx context.Context, rec model.Record) model.Decision
}

// Observer receives item-level events, e.g. for metrics.
type Observer interface {
	ItemProcessed(task string)
	Decided(task string, d model.Decision)
	RiskDetected(task, signal string)
}

type nopObserver struct{}

func (nopObserver) ItemProcessed(string)           {}
func (nopObserver) Decided(string, model.Decision) {}
func (nopObserver) RiskDetected(string, string)    {}

// Config is the per-task input of a run.
type Config struct {
	TaskName   string
	Keyword    string
	MaxPages   int
	Filters    []model.Filter // applied in order
	DebugLimit int            // stop after this many processed items; zero disables
}

// Pipeline owns one task's fetch pass. It is reused across attempts; each
// Run opens and closes its own site session.
type Pipeline struct {
	cfg      Config
	launcher model.SiteLauncher
	seen     *dedup.Store
	decider  Decider
	notifier model.Notifier
	writer   model.RecordWriter
	pacing   pacing.Policy
	observer Observer
	now      func() time.Time
	logger   *slog.Logger
}

var _ retry.Runner = (*Pipeline)(nil)

// New wires a pipeline with all its dependencies. A nil observer is allowed.
func New(
	cfg Config,
	launcher model.SiteLauncher,
	seen *dedup.Store,
	decider Decider,
	notifier model.Notifier,
	writer model.RecordWriter,
	pace pacing.Policy,
	observer Observer,
	logger *slog.Logger,
) *Pipeline {
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Pipeline{
		cfg:      cfg,
		launcher: launcher,
		seen:     seen,
		decider:  decider,
		notifier: notifier,
		writer:   writer,
		pacing:   pace,
		observer: observer,
		now:      time.Now,
		logger:   logger.With("task", cfg.TaskName),
	}
}

// Run executes one pass under res. It returns how many items were processed
// and persisted, including on failure.
func (p *Pipeline) Run(ctx context.Context, res retry.Resources) (int, error) {
	p.state("init")
	sess, err := p.launcher.Launch(ctx, res.Account, res.Proxy)
	if err != nil {
		return 0, fmt.Errorf("launching session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			p.logger.Warn("closing session", "error", err)
		}
	}()

	r := &run{Pipeline: p, sess: sess}
	err = r.execute(ctx)
	if err == nil {
		p.state("done", "processed", r.processed)
	}
	return r.processed, err
}

func (p *Pipeline) state(name string, args ...any) {
	p.logger.Debug("pipeline state", append([]any{"state", name}, args...)...)
}

// run is the mutable state of one pass.
type run struct {
	*Pipeline
	sess      model.SiteSession
	processed int
}

func (r *run) execute(ctx context.Context) error {
	r.state("navigate_home")
	if err := r.sess.Home(ctx); err != nil {
		return r.fail(ctx, err)
	}

	r.state("navigate_search", "keyword", r.cfg.Keyword)
	page, err := r.sess.Search(ctx, r.cfg.Keyword)
	if err != nil {
		return r.fail(ctx, err)
	}

	r.state("risk_check")
	if err := r.sess.CheckRisk(ctx); err != nil {
		return r.fail(ctx, err)
	}

	r.state("apply_filters", "count", len(r.cfg.Filters))
	if page, err = r.applyFilters(ctx, page); err != nil {
		return err
	}

	for n := 1; n <= r.cfg.MaxPages; n++ {
		if n > 1 {
			if err := r.pacing.Pause(ctx, pacing.StepBetweenPages); err != nil {
				return err
			}
			next, ok, err := r.sess.NextPage(ctx)
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case err != nil && model.IsRiskControl(err):
				return r.fail(ctx, err)
			case err != nil:
				r.logger.Info("pagination stopped", "page", n, "error", err)
				return nil
			case !ok:
				r.logger.Info("reached last page", "page", n-1)
				return nil
			}
			page = next
		}

		r.state("fetch_page", "page", n, "items", len(page.Items), "ok", page.OK)
		if !page.OK {
			r.logger.Warn("listing response unusable, skipping page", "page", n)
			continue
		}
		if len(page.Items) == 0 {
			r.logger.Info("page has no items, stopping", "page", n)
			return nil
		}

		stop, err := r.processPage(ctx, page.Items)
		if err != nil || stop {
			return err
		}
	}
	return nil
}

// applyFilters returns the listing page in effect after all filters: the last
// filter response that was usable, else the search response.
func (r *run) applyFilters(ctx context.Context, page model.ResultPage) (model.ResultPage, error) {
	for _, f := range r.cfg.Filters {
		r.state("apply_filter", "filter", f.Kind)
		got, err := r.sess.ApplyFilter(ctx, f)
		switch {
		case err == nil:
			if got.OK {
				page = got
			}
		case errors.Is(err, model.ErrSoftUI) && ctx.Err() == nil:
			r.logger.Warn("filter skipped", "filter", f.Kind, "error", err)
		default:
			return page, r.fail(ctx, err)
		}
	}
	return page, nil
}

func (r *run) processPage(ctx context.Context, items []model.ListingItem) (bool, error) {
	for _, item := range items {
		if r.cfg.DebugLimit > 0 && r.processed >= r.cfg.DebugLimit {
			r.logger.Info("debug limit reached", "limit", r.cfg.DebugLimit)
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		if strings.TrimSpace(item.Link) == "" {
			r.logger.Warn("item has no link, skipping", "item", item.ID, "title", item.Title)
			continue
		}
		key := dedup.Key(item.Link)
		if r.seen.Contains(key) {
			r.logger.Debug("item already seen, skipping", "item", item.ID)
			continue
		}
		if err := r.processItem(ctx, item, key); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (r *run) processItem(ctx context.Context, item model.ListingItem, key string) error {
	r.state("fetch_detail", "item", item.ID)
	if err := r.pacing.Pause(ctx, pacing.StepBeforeDetail); err != nil {
		return err
	}
	detail, err := r.sess.Detail(ctx, item)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil && model.IsRiskControl(err):
		return r.fail(ctx, err)
	case err != nil:
		r.logger.Warn("detail fetch failed, skipping item", "item", item.ID, "error", err)
		return nil
	case !detail.OK:
		r.logger.Warn("detail response empty, skipping item", "item", item.ID)
		return nil
	}

	r.state("enrich", "item", item.ID)
	item = detail.Apply(item)
	seller := model.SellerProfile{ID: detail.SellerID}
	if detail.SellerID != "" {
		profile, err := r.sess.SellerProfile(ctx, detail.SellerID)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil && model.IsRiskControl(err):
			return r.fail(ctx, err)
		case err != nil:
			r.logger.Warn("seller profile incomplete", "item", item.ID, "seller", detail.SellerID, "error", err)
		}
		seller = profile
	} else {
		r.logger.Warn("detail carried no seller id", "item", item.ID)
	}
	seller = detail.ApplySeller(seller)
	if err := r.pacing.Pause(ctx, pacing.StepAfterDetail); err != nil {
		return err
	}

	rec := model.Record{
		CrawledAt: r.now(),
		Keyword:   r.cfg.Keyword,
		TaskName:  r.cfg.TaskName,
		Item:      item,
		Seller:    seller,
	}

	r.state("decide", "item", item.ID)
	rec.Decision = r.decider.Decide(ctx, rec)
	if err := ctx.Err(); err != nil {
		return err
	}
	r.observer.Decided(r.cfg.TaskName, rec.Decision)

	if rec.Decision.IsRecommended {
		r.state("notify", "item", item.ID)
		if err := r.notifier.Notify(ctx, item, rec.Decision.Reason); err != nil {
			r.logger.Warn("notification failed", "item", item.ID, "error", err)
		}
	}

	r.state("persist", "item", item.ID)
	if err := r.writer.Append(rec); err != nil {
		return fmt.Errorf("persisting item %s: %w", item.ID, err)
	}
	r.seen.Add(key)
	r.processed++
	r.observer.ItemProcessed(r.cfg.TaskName)

	r.logger.Info("item processed",
		"item", item.ID,
		"title", item.Title,
		"price", item.Price,
		"recommended", rec.Decision.IsRecommended,
		"source", rec.Decision.Source,
		"reason", rec.Decision.Reason,
	)
	return r.pacing.Pause(ctx, pacing.StepAfterItem)
}

// fail reports err as the run's outcome. Risk challenges are logged and
// followed by a cooldown before the attempt gives up.
func (r *run) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var rc *model.RiskControlError
	if errors.As(err, &rc) {
		r.observer.RiskDetected(r.cfg.TaskName, rc.Signal)
		r.logger.Warn("risk control detected, cooling down before aborting",
			"signal", rc.Signal,
			"processed", r.processed,
		)
		if perr := r.pacing.Pause(ctx, pacing.StepRiskCooldown); perr != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
