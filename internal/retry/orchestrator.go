package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amishk599/idlewatch/internal/model"
	"github.com/amishk599/idlewatch/internal/rotation"
)

// Attempt outcomes.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeRiskControl = "risk_control"
	OutcomeError       = "error"
	OutcomeNoResource  = "no_resource"
	OutcomeCancelled   = "cancelled"
)

// Resources is the account/proxy pair handed to one pipeline run. Empty
// strings mean "none".
type Resources struct {
	Account string
	Proxy   string
}

// Runner executes one pipeline run and reports how many items it processed,
// even when it fails part way.
type Runner interface {
	Run(ctx context.Context, res Resources) (int, error)
}

// Observer receives attempt-level events, e.g. for metrics.
type Observer interface {
	AttemptFinished(task, outcome string)
	ResourceMarkedBad(task string, kind rotation.Kind)
}

type nopObserver struct{}

func (nopObserver) AttemptFinished(string, string)          {}
func (nopObserver) ResourceMarkedBad(string, rotation.Kind) {}

// Attempt describes one finished attempt.
type Attempt struct {
	N       int
	Account string
	Proxy   string
	Outcome string
	Err     error
}

// Report summarizes a task execution across attempts.
type Report struct {
	Processed        int // items handled by the successful attempt
	PartialProcessed int // items handled by failed attempts before they stopped
	Attempts         []Attempt
	LastErr          error
}

// Orchestrator runs a task's pipeline up to a bounded number of attempts,
// rotating accounts and proxies between attempts.
type Orchestrator struct {
	task      string
	accounts  *rotation.Axis
	proxies   *rotation.Axis
	runner    Runner
	baseDelay time.Duration
	observer  Observer
	logger    *slog.Logger
}

// NewOrchestrator wires an orchestrator for one task. baseDelay is the pause
// before the second attempt, doubled for each further attempt; zero disables it.
func NewOrchestrator(task string, accounts, proxies *rotation.Axis, runner Runner, baseDelay time.Duration, observer Observer, logger *slog.Logger) *Orchestrator {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Orchestrator{
		task:      task,
		accounts:  accounts,
		proxies:   proxies,
		runner:    runner,
		baseDelay: baseDelay,
		observer:  observer,
		logger:    logger,
	}
}

// Ceiling is the attempt budget: the larger of the two axes' retry limits, at least 1.
func (o *Orchestrator) Ceiling() int {
	return max(o.accounts.RetryLimit, o.proxies.RetryLimit, 1)
}

// Run executes attempts until one succeeds, a required resource is missing,
// ctx is cancelled, or the ceiling is reached. Processed is the count of the
// attempt that succeeded; items a failed attempt got through are already
// persisted and deduped, and are reported in PartialProcessed instead.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	var report Report
	ceiling := o.Ceiling()

	for n := 1; n <= ceiling; n++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var account, proxy *rotation.Item
		if n == 1 {
			account = o.accounts.Select(false)
			proxy = o.proxies.Select(false)
		} else {
			reason := report.LastErr.Error()
			account = o.next(o.accounts, reason)
			proxy = o.next(o.proxies, reason)

			delay := Backoff(o.baseDelay, n-1, report.LastErr)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return report, fmt.Errorf("retry cancelled: %w", ctx.Err())
				case <-time.After(delay):
				}
			}
		}

		res := Resources{Account: rotation.Value(account), Proxy: rotation.Value(proxy)}
		if err := o.checkRequired(account, proxy); err != nil {
			o.finish(&report, n, res, OutcomeNoResource, err)
			o.logger.Error("no usable resource, giving up", "task", o.task, "attempt", n, "error", err)
			return report, err
		}

		o.logger.Info("starting attempt",
			"task", o.task,
			"attempt", n,
			"ceiling", ceiling,
			"account", res.Account,
			"proxy", rotation.Redact(res.Proxy),
		)

		count, err := o.runner.Run(ctx, res)
		if err == nil {
			report.Processed = count
			o.finish(&report, n, res, OutcomeSucceeded, nil)
			o.logger.Info("attempt succeeded", "task", o.task, "attempt", n, "processed", count, "partial", report.PartialProcessed)
			return report, nil
		}

		report.PartialProcessed += count
		report.LastErr = err
		switch {
		case ctx.Err() != nil:
			o.finish(&report, n, res, OutcomeCancelled, err)
			return report, err
		case model.IsRiskControl(err):
			o.finish(&report, n, res, OutcomeRiskControl, err)
			o.logger.Warn("attempt hit risk control", "task", o.task, "attempt", n, "processed", count, "error", err)
		default:
			o.finish(&report, n, res, OutcomeError, err)
			o.logger.Warn("attempt failed", "task", o.task, "attempt", n, "processed", count, "error", err)
		}
	}

	return report, fmt.Errorf("task %s: all %d attempts failed: %w", o.task, ceiling, report.LastErr)
}

// next moves an axis to its item for a retry: a fresh pick for rotating
// axes, the held item otherwise.
func (o *Orchestrator) next(axis *rotation.Axis, reason string) *rotation.Item {
	if !axis.Rotates() {
		return axis.Select(false)
	}
	o.observer.ResourceMarkedBad(o.task, axis.Kind)
	return axis.Rotate(reason)
}

func (o *Orchestrator) checkRequired(account, proxy *rotation.Item) error {
	var missing []error
	if account == nil && o.accounts.Required {
		missing = append(missing, fmt.Errorf("%w: %s", model.ErrNoResource, rotation.KindAccount))
	}
	if proxy == nil && o.proxies.Required {
		missing = append(missing, fmt.Errorf("%w: %s", model.ErrNoResource, rotation.KindProxy))
	}
	return errors.Join(missing...)
}

func (o *Orchestrator) finish(report *Report, n int, res Resources, outcome string, err error) {
	report.Attempts = append(report.Attempts, Attempt{
		N:       n,
		Account: res.Account,
		Proxy:   res.Proxy,
		Outcome: outcome,
		Err:     err,
	})
	o.observer.AttemptFinished(o.task, outcome)
}
