package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amishk599/idlewatch/internal/config"
	"github.com/amishk599/idlewatch/internal/runner"
)

// TaskRunner executes one task run.
type TaskRunner interface {
	RunTask(ctx context.Context, task config.TaskConfig) runner.Result
}

// Scheduler runs tasks concurrently, each in its own goroutine, with at most
// concurrency task runs in flight.
type Scheduler struct {
	runner      TaskRunner
	tasks       []config.TaskConfig
	concurrency int
	logger      *slog.Logger
}

// NewScheduler creates a scheduler over tasks. A concurrency below 1 is treated as 1.
func NewScheduler(r TaskRunner, tasks []config.TaskConfig, concurrency int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:      r,
		tasks:       tasks,
		concurrency: max(concurrency, 1),
		logger:      logger,
	}
}

// RunOnce runs every task a single time and returns the results in task order.
func (s *Scheduler) RunOnce(ctx context.Context) []runner.Result {
	results := make([]runner.Result, len(s.tasks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, task := range s.tasks {
		g.Go(func() error {
			results[i] = s.runner.RunTask(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Run starts the daemon loop. Each task runs immediately, then again every
// task.Interval; tasks with no interval run once. It returns nil when ctx is
// cancelled (graceful shutdown) or when no task has an interval left to wait on.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting scheduler",
		"tasks", len(s.tasks),
		"concurrency", s.concurrency,
	)

	slots := make(chan struct{}, s.concurrency)
	var g errgroup.Group
	for _, task := range s.tasks {
		g.Go(func() error {
			s.loop(ctx, task, slots)
			return nil
		})
	}
	err := g.Wait()

	if ctx.Err() != nil {
		s.logger.Info("shutting down scheduler")
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context, task config.TaskConfig, slots chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}
		if ctx.Err() != nil {
			<-slots
			return
		}
		res := s.runner.RunTask(ctx, task)
		<-slots

		if task.Interval <= 0 {
			return
		}
		s.logger.Info("next run scheduled",
			"task", task.Name,
			"processed", res.Processed,
			"in", task.Interval.String(),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(task.Interval):
		}
	}
}
