package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/amishk599/idlewatch/internal/adapter"
	"github.com/amishk599/idlewatch/internal/ai"
	"github.com/amishk599/idlewatch/internal/browser"
	"github.com/amishk599/idlewatch/internal/config"
	"github.com/amishk599/idlewatch/internal/images"
	"github.com/amishk599/idlewatch/internal/logging"
	"github.com/amishk599/idlewatch/internal/metrics"
	"github.com/amishk599/idlewatch/internal/model"
	"github.com/amishk599/idlewatch/internal/notifier"
	"github.com/amishk599/idlewatch/internal/pacing"
	"github.com/amishk599/idlewatch/internal/runner"
	"github.com/amishk599/idlewatch/internal/store"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "idlewatch",
	Short: "Second-hand marketplace watcher",
	Long:  "idlewatch searches goofish for each configured task, enriches new listings, classifies them and alerts on the ones worth a look.",
	// Default to `start` so that `idlewatch` with no args runs the daemon.
	RunE:         runStart,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: IDLEWATCH_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > IDLEWATCH_CONFIG env var > "./config.yaml"
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if env := os.Getenv("IDLEWATCH_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// setup loads the config and builds the logger it describes. Config errors
// are logged through a default text logger since the configured one does not
// exist yet.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fallback, _ := logging.New(config.LoggingConfig{Level: slog.LevelInfo}, debug)
		fallback.Error("failed to load config", "error", err)
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging, debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func setupNotifier(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) model.Notifier {
	nc := cfg.Notification

	var n model.Notifier
	switch nc.Type {
	case "slack":
		logger.Info("using slack notifier")
		n = notifier.NewSlackNotifier(nc.WebhookURL, httpClient, logger)
	case "ntfy":
		logger.Info("using ntfy notifier", "topic", nc.NtfyTopicURL)
		n = notifier.NewNtfyNotifier(nc.NtfyTopicURL, httpClient, logger)
	case "multi":
		channels := []model.Notifier{notifier.NewLogNotifier(logger)}
		if nc.WebhookURL != "" {
			channels = append(channels, notifier.NewSlackNotifier(nc.WebhookURL, httpClient, logger))
		}
		if nc.NtfyTopicURL != "" {
			channels = append(channels, notifier.NewNtfyNotifier(nc.NtfyTopicURL, httpClient, logger))
		}
		logger.Info("using multi notifier", "channels", len(channels))
		n = notifier.NewMultiNotifier(logger, channels...)
	default:
		return notifier.NewLogNotifier(logger)
	}

	if nc.MinInterval > 0 {
		n = notifier.NewThrottledNotifier(n, rate.NewLimiter(rate.Every(nc.MinInterval), 1))
	}
	return n
}

// setupOracle returns nil when no model endpoint is configured; keyword-mode
// tasks never need one.
func setupOracle(cfg *config.Config, logger *slog.Logger) *ai.Oracle {
	if !cfg.AI.Configured() {
		logger.Info("ai not configured, ai-mode tasks will record analysis errors")
		return nil
	}
	provider := ai.NewOpenAIProvider(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model, &http.Client{Timeout: cfg.AI.Timeout})
	logger.Info("ai oracle enabled", "model", cfg.AI.Model, "base_url", cfg.AI.BaseURL)
	return ai.NewOracle(provider, ai.ItemMessageTemplate, cfg.AI.MaxRetries, 2*time.Second, logger)
}

// app bundles the shared collaborators for one command invocation.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    runner.Deps
	history *store.SQLiteStore // nil in dry-run mode
	metrics *metrics.Collector
}

func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("closing history store", "error", err)
		}
	}
}

type appOptions struct {
	dryRun      bool
	logNotifier bool // force alerts to the log regardless of config
}

func buildApp(cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	collector, err := metrics.NewCollector()
	if err != nil {
		return nil, fmt.Errorf("creating metrics collector: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	pace := pacing.NewRandomPolicy(cfg.Pacing.Scale, cfg.Pacing.Overrides)
	rod := browser.NewRodLauncher(browser.Config{
		Headless:        cfg.Browser.Headless,
		BinPath:         cfg.Browser.BinPath,
		NavigateTimeout: cfg.Browser.NavigateTimeout,
	}, logger)

	a := &app{cfg: cfg, logger: logger, metrics: collector}
	a.deps = runner.Deps{
		Launcher: adapter.NewGoofishLauncher(rod, pace, adapter.DefaultTimeouts(), logger),
		Images:   images.NewFetcher(cfg.Images.Dir, httpClient, logger),
		Pacing:   pace,
		Observer: collector,
		Logger:   logger,
	}

	if opts.logNotifier {
		a.deps.Notifier = notifier.NewLogNotifier(logger)
	} else {
		a.deps.Notifier = setupNotifier(cfg, httpClient, logger)
	}
	if oracle := setupOracle(cfg, logger); oracle != nil {
		a.deps.Oracle = oracle
	}

	if opts.dryRun {
		logger.Info("dry-run mode: records and run history are not written")
		a.deps.History = store.NopHistory{}
		return a, nil
	}

	history, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	a.history = history
	a.deps.History = history
	return a, nil
}

// selectTasks returns the named tasks, or every enabled task when names is
// empty. Naming a disabled task runs it anyway.
func selectTasks(cfg *config.Config, names []string) ([]config.TaskConfig, error) {
	if len(names) == 0 {
		tasks := cfg.EnabledTasks()
		if len(tasks) == 0 {
			return nil, fmt.Errorf("no enabled tasks")
		}
		return tasks, nil
	}
	var tasks []config.TaskConfig
	for _, name := range names {
		t, ok := cfg.Task(name)
		if !ok {
			return nil, fmt.Errorf("unknown task %q", name)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func logConfigLoaded(cfg *config.Config, logger *slog.Logger) {
	logger.Info("config loaded",
		"tasks", len(cfg.Tasks),
		"enabled", len(cfg.EnabledTasks()),
		"concurrency", cfg.Scheduler.Concurrency,
		"output_dir", cfg.OutputDir,
		"account_rotation", cfg.Rotation.Account.Enabled,
		"proxy_rotation", cfg.Rotation.Proxy.Enabled,
	)
}
