// Package runner assembles and executes one task: rotation axes, dedup
// bootstrap, decision router, pipeline and attempt orchestrator, with the
// run recorded in the history store.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amishk599/idlewatch/internal/ai"
	"github.com/amishk599/idlewatch/internal/config"
	"github.com/amishk599/idlewatch/internal/decision"
	"github.com/amishk599/idlewatch/internal/dedup"
	"github.com/amishk599/idlewatch/internal/model"
	"github.com/amishk599/idlewatch/internal/pacing"
	"github.com/amishk599/idlewatch/internal/pipeline"
	"github.com/amishk599/idlewatch/internal/retry"
	"github.com/amishk599/idlewatch/internal/rotation"
	"github.com/amishk599/idlewatch/internal/store"
)

// History records run lifecycles. *store.SQLiteStore and store.NopHistory
// satisfy it.
type History interface {
	StartRun(runID, taskName, keyword string, startedAt time.Time) error
	RecordAttempt(runID string, a store.AttemptRow) error
	FinishRun(runID string, attempts, processed int, status, lastErr string, finishedAt time.Time) error
}

// ImageStore stages item images and clears a task's staging area.
type ImageStore interface {
	decision.ImageFetcher
	CleanupTask(taskName string) error
}

// Observer receives both attempt-level and item-level events.
type Observer interface {
	retry.Observer
	pipeline.Observer
}

// Deps are the process-wide collaborators shared by every task.
type Deps struct {
	Launcher model.SiteLauncher
	Notifier model.Notifier
	Oracle   decision.Oracle // nil when no model is configured
	Images   ImageStore      // nil disables image staging
	History  History
	Pacing   pacing.Policy
	Observer Observer // optional
	Logger   *slog.Logger
}

// Options tune a single invocation.
type Options struct {
	DebugLimit int  // stop each task after this many new items; zero disables
	DryRun     bool // discard records instead of appending to the output file
}

// Result is what a task run reports back to the caller.
type Result struct {
	Task             string
	RunID            string
	Processed        int // items handled by the attempt that succeeded
	PartialProcessed int // items failed attempts got through before stopping
	Attempts         int
	Err              error
}

// Runner executes tasks against one loaded configuration.
type Runner struct {
	cfg    *config.Config
	deps   Deps
	opts   Options
	newID  func() string
	now    func() time.Time
	exists func(path string) bool

	mu      sync.Mutex
	writers map[string]*store.JSONLWriter // one per output file, shared by tasks
}

// New creates a Runner.
func New(cfg *config.Config, deps Deps, opts Options) *Runner {
	if deps.History == nil {
		deps.History = store.NopHistory{}
	}
	return &Runner{
		cfg:     cfg,
		deps:    deps,
		opts:    opts,
		newID:   uuid.NewString,
		now:     time.Now,
		exists:  fileExists,
		writers: make(map[string]*store.JSONLWriter),
	}
}

// writerFor returns the shared writer for path so tasks with the same
// keyword append through one lock.
func (r *Runner) writerFor(path string) (*store.JSONLWriter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.writers[path]; ok {
		return w, nil
	}
	w, err := store.NewJSONLWriter(path)
	if err != nil {
		return nil, err
	}
	r.writers[path] = w
	return w, nil
}

// RunTask executes task to completion: every attempt the orchestrator allows,
// or until ctx is cancelled. The returned Result carries the processed count
// even when the task failed.
func (r *Runner) RunTask(ctx context.Context, task config.TaskConfig) Result {
	res := Result{Task: task.Name, RunID: r.newID()}
	logger := r.deps.Logger.With("task", task.Name, "run_id", res.RunID)

	if err := r.deps.History.StartRun(res.RunID, task.Name, task.Keyword, r.now()); err != nil {
		logger.Warn("recording run start", "error", err)
	}
	defer r.finish(&res, logger)

	outPath := store.OutputPath(r.cfg.OutputDir, task.Keyword)
	seen := dedup.New()
	stats, err := seen.LoadFile(outPath)
	if err != nil {
		res.Err = err
		return res
	}
	logger.Info("history loaded", "file", outPath, "seen", stats.Loaded, "skipped", stats.Skipped)

	var writer model.RecordWriter = store.NewNopWriter()
	if !r.opts.DryRun {
		w, err := r.writerFor(outPath)
		if err != nil {
			res.Err = err
			return res
		}
		logger.Debug("appending records", "file", w.Path())
		writer = w
	}

	accounts, proxies, err := r.axes(task, logger)
	if err != nil {
		res.Err = err
		return res
	}

	router := decision.NewRouter(r.routerConfig(task, logger), r.oracle(), r.imageFetcher(), logger)
	p := pipeline.New(
		pipeline.Config{
			TaskName:   task.Name,
			Keyword:    task.Keyword,
			MaxPages:   task.MaxPages,
			Filters:    task.Filters(),
			DebugLimit: r.opts.DebugLimit,
		},
		r.deps.Launcher,
		seen,
		router,
		r.deps.Notifier,
		writer,
		r.deps.Pacing,
		r.pipelineObserver(),
		logger,
	)
	orch := retry.NewOrchestrator(task.Name, accounts, proxies, p, r.cfg.Scheduler.RetryBaseDelay, r.retryObserver(), logger)

	logger.Info("task starting",
		"keyword", task.Keyword,
		"max_pages", task.MaxPages,
		"mode", task.DecisionMode,
		"attempt_ceiling", orch.Ceiling(),
	)
	report, err := orch.Run(ctx)
	res.Processed = report.Processed
	res.PartialProcessed = report.PartialProcessed
	res.Attempts = len(report.Attempts)
	res.Err = err

	for _, a := range report.Attempts {
		row := store.AttemptRow{
			Attempt: a.N,
			Account: a.Account,
			Proxy:   rotation.Redact(a.Proxy),
			Outcome: a.Outcome,
		}
		if a.Err != nil {
			row.Error = a.Err.Error()
		}
		if err := r.deps.History.RecordAttempt(res.RunID, row); err != nil {
			logger.Warn("recording attempt", "attempt", a.N, "error", err)
		}
	}
	return res
}

func (r *Runner) finish(res *Result, logger *slog.Logger) {
	if r.deps.Images != nil {
		if err := r.deps.Images.CleanupTask(res.Task); err != nil {
			logger.Warn("cleaning task images", "error", err)
		}
	}

	status, lastErr := store.StatusSucceeded, ""
	if res.Err != nil {
		status, lastErr = store.StatusFailed, res.Err.Error()
	}
	if err := r.deps.History.FinishRun(res.RunID, res.Attempts, res.Processed, status, lastErr, r.now()); err != nil {
		logger.Warn("recording run finish", "error", err)
	}

	switch {
	case res.Err == nil:
		logger.Info("task finished", "processed", res.Processed, "partial", res.PartialProcessed, "attempts", res.Attempts)
	case errors.Is(res.Err, context.Canceled):
		logger.Info("task cancelled", "processed", res.Processed, "attempts", res.Attempts)
	default:
		logger.Error("task failed", "partial", res.PartialProcessed, "attempts", res.Attempts, "error", res.Err)
	}
}

// axes builds the account and proxy axes for task. The attempt ceiling comes
// from the configured retry limits whether or not an axis rotates.
func (r *Runner) axes(task config.TaskConfig, logger *slog.Logger) (*rotation.Axis, *rotation.Axis, error) {
	acct := task.AccountRotation
	var accounts *rotation.Axis

	if task.AccountStateFile != "" {
		accounts = rotation.Fixed(rotation.KindAccount, task.AccountStateFile, true)
	} else {
		items, err := rotation.LoadStateFiles(acct.StateDir)
		if err != nil {
			return nil, nil, err
		}
		defaultExists := r.exists(r.cfg.StateFile)
		if defaultExists {
			items = []string{r.cfg.StateFile}
		}
		enabled := acct.Enabled || (!defaultExists && len(items) > 0)

		switch {
		case enabled:
			pool := rotation.NewPool(items, acct.BlacklistTTL, rotation.KindAccount, acct.Mode, logger)
			accounts = rotation.NewAxis(pool, true, true, acct.RetryLimit)
			logger.Debug("account rotation enabled", "accounts", pool.Len(), "mode", acct.Mode)
		case defaultExists:
			accounts = rotation.Fixed(rotation.KindAccount, r.cfg.StateFile, true)
		default:
			accounts = rotation.Fixed(rotation.KindAccount, "", true)
		}
	}
	accounts.RetryLimit = max(acct.RetryLimit, 1)

	px := task.ProxyRotation
	var proxies *rotation.Axis
	if px.Enabled {
		pool := rotation.NewPool(px.ProxyPool, px.BlacklistTTL, rotation.KindProxy, px.Mode, logger)
		proxies = rotation.NewAxis(pool, true, true, px.RetryLimit)
	} else {
		proxies = rotation.Fixed(rotation.KindProxy, "", false)
	}
	proxies.RetryLimit = max(px.RetryLimit, 1)

	return accounts, proxies, nil
}

func (r *Runner) routerConfig(task config.TaskConfig, logger *slog.Logger) decision.RouterConfig {
	rc := decision.RouterConfig{
		TaskName:     task.Name,
		Mode:         task.DecisionMode,
		Keywords:     task.KeywordRules,
		SkipAnalysis: r.cfg.AI.SkipAnalysis,
	}
	if task.DecisionMode != model.SourceAI || rc.SkipAnalysis {
		return rc
	}

	base := task.AIPromptBaseFile
	if base == "" {
		base = r.cfg.AI.BasePromptFile
	}
	prompt, err := ai.LoadTaskPrompt(base, task.AIPromptCriteriaFile, task.Description)
	if err != nil {
		logger.Warn("analysis prompt unavailable, items will not be recommended", "error", err)
		return rc
	}
	rc.Prompt = prompt
	if r.deps.Oracle == nil {
		logger.Warn("ai decision mode without a configured model, analysis will fail")
	}
	return rc
}

func (r *Runner) oracle() decision.Oracle {
	if r.deps.Oracle == nil {
		return nil
	}
	return r.deps.Oracle
}

func (r *Runner) imageFetcher() decision.ImageFetcher {
	if r.deps.Images == nil {
		return nil
	}
	return r.deps.Images
}

func (r *Runner) pipelineObserver() pipeline.Observer {
	if r.deps.Observer == nil {
		return nil
	}
	return r.deps.Observer
}

func (r *Runner) retryObserver() retry.Observer {
	if r.deps.Observer == nil {
		return nil
	}
	return r.deps.Observer
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
