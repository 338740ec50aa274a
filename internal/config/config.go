package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amishk599/idlewatch/internal/model"
	"github.com/amishk599/idlewatch/internal/pacing"
	"github.com/amishk599/idlewatch/internal/rotation"
)

// Config is the root configuration for idlewatch.
type Config struct {
	OutputDir    string
	StateFile    string // default account state file used when rotation is off
	Database     DatabaseConfig
	Logging      LoggingConfig
	Browser      BrowserConfig
	Pacing       PacingConfig
	Scheduler    SchedulerConfig
	Rotation     RotationConfig
	AI           AIConfig
	Notification NotificationConfig
	Images       ImagesConfig
	Metrics      MetricsConfig
	Tasks        []TaskConfig
}

// DatabaseConfig locates the SQLite run-history database.
type DatabaseConfig struct {
	Path      string
	Retention time.Duration // runs older than this are pruned; zero keeps everything
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string // "text" or "json"
}

// BrowserConfig controls the headless browser.
type BrowserConfig struct {
	Headless        bool
	BinPath         string
	NavigateTimeout time.Duration
}

// PacingConfig scales and overrides the human-like delays between steps.
type PacingConfig struct {
	Scale     float64
	Overrides map[pacing.Step]pacing.Range
}

// SchedulerConfig controls how tasks run together.
type SchedulerConfig struct {
	Concurrency    int           // max tasks running at once
	RetryBaseDelay time.Duration // pause before the second attempt, doubled after
}

// RotationSettings is the resolved rotation policy for one axis.
type RotationSettings struct {
	Enabled      bool
	Mode         rotation.Mode
	StateDir     string   // account axis only
	ProxyPool    []string // proxy axis only
	RetryLimit   int
	BlacklistTTL time.Duration
}

// RotationConfig holds the global rotation defaults.
type RotationConfig struct {
	Account RotationSettings
	Proxy   RotationSettings
}

// AIConfig controls the OpenAI-compatible oracle.
type AIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	BasePromptFile string // empty uses the embedded base prompt
	SkipAnalysis   bool   // recommend everything in ai mode without calling the oracle
}

// Configured reports whether the oracle can be called.
func (a AIConfig) Configured() bool {
	return a.BaseURL != "" && a.Model != ""
}

// NotificationConfig controls which notifier is used and its settings.
type NotificationConfig struct {
	Type         string // "log", "slack", "ntfy" or "multi"
	WebhookURL   string // slack
	NtfyTopicURL string // ntfy
	MinInterval  time.Duration
}

// ImagesConfig sets where item images are staged for the oracle.
type ImagesConfig struct {
	Dir string
}

// MetricsConfig sets the Prometheus listen address; empty disables it.
type MetricsConfig struct {
	Addr string
}

// TaskConfig is one monitoring task.
type TaskConfig struct {
	Name                 string
	Enabled              bool
	Keyword              string
	MaxPages             int
	PersonalOnly         bool
	FreeShipping         bool
	MinPrice             string
	MaxPrice             string
	NewPublishOption     string
	Region               string // "province/city/district"
	DecisionMode         string // model.SourceAI or model.SourceKeyword
	KeywordRules         []string
	Description          string
	AIPromptCriteriaFile string
	AIPromptBaseFile     string
	AccountStateFile     string
	Interval             time.Duration // zero runs once per start
	AccountRotation      RotationSettings
	ProxyRotation        RotationSettings
}

// Filters returns the search filters the task configures, in the order the
// site applies them.
func (t TaskConfig) Filters() []model.Filter {
	var fs []model.Filter
	if t.NewPublishOption != "" {
		fs = append(fs, model.Filter{Kind: model.FilterNewest, Value: t.NewPublishOption})
	}
	if t.PersonalOnly {
		fs = append(fs, model.Filter{Kind: model.FilterPersonalOnly})
	}
	if t.FreeShipping {
		fs = append(fs, model.Filter{Kind: model.FilterFreeShipping})
	}
	if t.Region != "" {
		fs = append(fs, model.Filter{Kind: model.FilterRegion, Value: t.Region})
	}
	if t.MinPrice != "" || t.MaxPrice != "" {
		fs = append(fs, model.Filter{Kind: model.FilterPrice, Min: t.MinPrice, Max: t.MaxPrice})
	}
	return fs
}

// Task returns the named task.
func (c *Config) Task(name string) (TaskConfig, bool) {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskConfig{}, false
}

// EnabledTasks returns the tasks marked enabled, in file order.
func (c *Config) EnabledTasks() []TaskConfig {
	var out []TaskConfig
	for _, t := range c.Tasks {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultStateFile     = "xianyu_state.json"
	defaultStateDir      = "state"
	defaultRetryLimit    = 2
	defaultBlacklistTTL  = 300 * time.Second
	noPublishOption      = "__none__"
)

// rawConfig is used for YAML unmarshaling (snake_case fields and duration as string).
type rawConfig struct {
	OutputDir    string          `yaml:"output_dir"`
	StateFile    string          `yaml:"state_file"`
	Database     rawDatabase     `yaml:"database"`
	Logging      rawLogging      `yaml:"logging"`
	Browser      rawBrowser      `yaml:"browser"`
	Pacing       rawPacing       `yaml:"pacing"`
	Scheduler    rawScheduler    `yaml:"scheduler"`
	Rotation     rawRotationPair `yaml:"rotation"`
	AI           rawAIConfig     `yaml:"ai"`
	Notification rawNotification `yaml:"notification"`
	Images       ImagesConfig    `yaml:"images"`
	Metrics      MetricsConfig   `yaml:"metrics"`
	Tasks        []rawTask       `yaml:"tasks"`
}

type rawDatabase struct {
	Path      string `yaml:"path"`
	Retention string `yaml:"retention"`
}

type rawLogging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type rawBrowser struct {
	Headless        *bool  `yaml:"headless"`
	BinPath         string `yaml:"bin_path"`
	NavigateTimeout string `yaml:"navigate_timeout"`
}

type rawRange struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

type rawPacing struct {
	Scale float64             `yaml:"scale"`
	Steps map[string]rawRange `yaml:"steps"`
}

type rawScheduler struct {
	Concurrency    int    `yaml:"concurrency"`
	RetryBaseDelay string `yaml:"retry_base_delay"`
}

type rawRotation struct {
	Enabled      *bool    `yaml:"enabled"`
	Mode         string   `yaml:"mode"`
	StateDir     string   `yaml:"state_dir"`
	ProxyPool    flexList `yaml:"proxy_pool"`
	RetryLimit   *int     `yaml:"retry_limit"`
	BlacklistTTL string   `yaml:"blacklist_ttl"`
}

type rawRotationPair struct {
	Account rawRotation `yaml:"account"`
	Proxy   rawRotation `yaml:"proxy"`
}

type rawAIConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Timeout        string `yaml:"timeout"`
	MaxRetries     *int   `yaml:"max_retries"`
	BasePromptFile string `yaml:"base_prompt_file"`
	SkipAnalysis   bool   `yaml:"skip_analysis"`
}

type rawNotification struct {
	Type         string `yaml:"type"`
	WebhookURL   string `yaml:"webhook_url"`
	NtfyTopicURL string `yaml:"ntfy_topic_url"`
	MinInterval  string `yaml:"min_interval"`
}

type rawRuleGroup struct {
	IncludeKeywords flexList `yaml:"include_keywords"`
}

type rawTask struct {
	Name                 string         `yaml:"name"`
	Enabled              *bool          `yaml:"enabled"`
	Keyword              string         `yaml:"keyword"`
	MaxPages             int            `yaml:"max_pages"`
	PersonalOnly         bool           `yaml:"personal_only"`
	FreeShipping         bool           `yaml:"free_shipping"`
	MinPrice             string         `yaml:"min_price"`
	MaxPrice             string         `yaml:"max_price"`
	NewPublishOption     string         `yaml:"new_publish_option"`
	Region               string         `yaml:"region"`
	DecisionMode         string         `yaml:"decision_mode"`
	KeywordRules         *flexList      `yaml:"keyword_rules"`
	KeywordRuleGroups    []rawRuleGroup `yaml:"keyword_rule_groups"`
	Description          string         `yaml:"description"`
	AIPromptCriteriaFile string         `yaml:"ai_prompt_criteria_file"`
	AIPromptBaseFile     string         `yaml:"ai_prompt_base_file"`
	AccountStateFile     string         `yaml:"account_state_file"`
	Interval             string         `yaml:"interval"`
	AccountRotation      rawRotation    `yaml:"account_rotation"`
	ProxyRotation        rawRotation    `yaml:"proxy_rotation"`
}

// flexList accepts either a YAML sequence or a single scalar string. A scalar
// is kept as one element; callers decide how to split it.
type flexList struct {
	values []string
	scalar bool
}

func (f *flexList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		f.values, f.scalar = []string{node.Value}, true
		return nil
	case yaml.SequenceNode:
		return node.Decode(&f.values)
	default:
		return fmt.Errorf("line %d: expected a string or a list", node.Line)
	}
}

var keywordSeparators = regexp.MustCompile(`[\n,]+`)

// Load reads and parses the YAML config file at path, validates it, and returns Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes. Environment variables are expanded first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{
		OutputDir: orDefault(raw.OutputDir, "jsonl"),
		StateFile: orDefault(raw.StateFile, defaultStateFile),
		Images:    ImagesConfig{Dir: orDefault(raw.Images.Dir, "images")},
		Metrics:   raw.Metrics,
	}

	var err error
	cfg.Database.Path = orDefault(raw.Database.Path, "idlewatch.db")
	if cfg.Database.Retention, err = parseDuration("database.retention", raw.Database.Retention, 30*24*time.Hour); err != nil {
		return nil, err
	}

	level, err := parseLogLevel(raw.Logging.Level)
	if err != nil {
		return nil, err
	}
	cfg.Logging = LoggingConfig{Level: level, Format: orDefault(strings.ToLower(raw.Logging.Format), "text")}

	cfg.Browser = BrowserConfig{Headless: true, BinPath: raw.Browser.BinPath}
	if raw.Browser.Headless != nil {
		cfg.Browser.Headless = *raw.Browser.Headless
	}
	if cfg.Browser.NavigateTimeout, err = parseDuration("browser.navigate_timeout", raw.Browser.NavigateTimeout, 30*time.Second); err != nil {
		return nil, err
	}

	if cfg.Pacing, err = buildPacing(raw.Pacing); err != nil {
		return nil, err
	}

	cfg.Scheduler.Concurrency = raw.Scheduler.Concurrency
	if cfg.Scheduler.Concurrency <= 0 {
		cfg.Scheduler.Concurrency = 2
	}
	if cfg.Scheduler.RetryBaseDelay, err = parseDuration("scheduler.retry_base_delay", raw.Scheduler.RetryBaseDelay, 5*time.Second); err != nil {
		return nil, err
	}

	defaults := RotationSettings{Mode: rotation.ModePerTask, RetryLimit: defaultRetryLimit, BlacklistTTL: defaultBlacklistTTL}
	if cfg.Rotation.Account, err = resolveRotation("rotation.account", raw.Rotation.Account, withStateDir(defaults, defaultStateDir)); err != nil {
		return nil, err
	}
	if cfg.Rotation.Proxy, err = resolveRotation("rotation.proxy", raw.Rotation.Proxy, defaults); err != nil {
		return nil, err
	}

	if cfg.AI, err = buildAI(raw.AI); err != nil {
		return nil, err
	}

	cfg.Notification = NotificationConfig{
		Type:         orDefault(strings.ToLower(raw.Notification.Type), "log"),
		WebhookURL:   raw.Notification.WebhookURL,
		NtfyTopicURL: raw.Notification.NtfyTopicURL,
	}
	if cfg.Notification.MinInterval, err = parseDuration("notification.min_interval", raw.Notification.MinInterval, 0); err != nil {
		return nil, err
	}

	for i, rt := range raw.Tasks {
		t, err := buildTask(rt, cfg.Rotation)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		cfg.Tasks = append(cfg.Tasks, t)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildPacing(raw rawPacing) (PacingConfig, error) {
	pc := PacingConfig{Scale: raw.Scale, Overrides: make(map[pacing.Step]pacing.Range)}
	if pc.Scale <= 0 {
		pc.Scale = 1
	}
	for name, r := range raw.Steps {
		step := pacing.Step(name)
		if _, ok := pacing.DefaultRanges[step]; !ok {
			return PacingConfig{}, fmt.Errorf("pacing.steps: unknown step %q", name)
		}
		lo, err := parseDuration("pacing.steps."+name+".min", r.Min, 0)
		if err != nil {
			return PacingConfig{}, err
		}
		hi, err := parseDuration("pacing.steps."+name+".max", r.Max, lo)
		if err != nil {
			return PacingConfig{}, err
		}
		if hi < lo {
			return PacingConfig{}, fmt.Errorf("pacing.steps.%s: max %v is below min %v", name, hi, lo)
		}
		pc.Overrides[step] = pacing.Range{Min: lo, Max: hi}
	}
	return pc, nil
}

func buildAI(raw rawAIConfig) (AIConfig, error) {
	ai := AIConfig{
		BaseURL:        orDefault(raw.BaseURL, defaultOpenAIBaseURL),
		APIKey:         raw.APIKey,
		Model:          raw.Model,
		MaxRetries:     3,
		BasePromptFile: raw.BasePromptFile,
		SkipAnalysis:   raw.SkipAnalysis,
	}
	if raw.MaxRetries != nil {
		ai.MaxRetries = max(*raw.MaxRetries, 1)
	}
	var err error
	if ai.Timeout, err = parseDuration("ai.timeout", raw.Timeout, 60*time.Second); err != nil {
		return AIConfig{}, err
	}
	return ai, nil
}

func buildTask(rt rawTask, global RotationConfig) (TaskConfig, error) {
	t := TaskConfig{
		Name:                 strings.TrimSpace(rt.Name),
		Enabled:              rt.Enabled == nil || *rt.Enabled,
		Keyword:              strings.TrimSpace(rt.Keyword),
		MaxPages:             max(rt.MaxPages, 1),
		PersonalOnly:         rt.PersonalOnly,
		FreeShipping:         rt.FreeShipping,
		MinPrice:             strings.TrimSpace(rt.MinPrice),
		MaxPrice:             strings.TrimSpace(rt.MaxPrice),
		NewPublishOption:     strings.TrimSpace(rt.NewPublishOption),
		Region:               strings.TrimSpace(rt.Region),
		DecisionMode:         model.SourceAI,
		Description:          rt.Description,
		AIPromptCriteriaFile: rt.AIPromptCriteriaFile,
		AIPromptBaseFile:     rt.AIPromptBaseFile,
		AccountStateFile:     strings.TrimSpace(rt.AccountStateFile),
	}
	if t.NewPublishOption == noPublishOption {
		t.NewPublishOption = ""
	}
	if strings.EqualFold(strings.TrimSpace(rt.DecisionMode), model.SourceKeyword) {
		t.DecisionMode = model.SourceKeyword
	}

	switch {
	case rt.KeywordRules != nil:
		t.KeywordRules = keywordRules(*rt.KeywordRules)
	case len(rt.KeywordRuleGroups) > 0:
		var merged []string
		for _, g := range rt.KeywordRuleGroups {
			merged = append(merged, keywordRules(g.IncludeKeywords)...)
		}
		t.KeywordRules = dedupKeywords(merged)
	}

	var err error
	if t.Interval, err = parseDuration("interval", rt.Interval, 0); err != nil {
		return TaskConfig{}, err
	}
	if t.AccountRotation, err = resolveRotation("account_rotation", rt.AccountRotation, global.Account); err != nil {
		return TaskConfig{}, err
	}
	if t.ProxyRotation, err = resolveRotation("proxy_rotation", rt.ProxyRotation, global.Proxy); err != nil {
		return TaskConfig{}, err
	}
	if t.AccountStateFile != "" {
		t.AccountRotation.Enabled = false
	}
	return t, nil
}

// keywordRules splits a scalar on commas and newlines, then trims and dedups.
func keywordRules(f flexList) []string {
	values := f.values
	if f.scalar && len(values) == 1 {
		values = keywordSeparators.Split(values[0], -1)
	}
	return dedupKeywords(values)
}

// dedupKeywords trims entries and drops case-insensitive duplicates, keeping
// the first spelling seen.
func dedupKeywords(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := []string{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// resolveRotation layers raw over base: any field set in raw wins.
func resolveRotation(field string, raw rawRotation, base RotationSettings) (RotationSettings, error) {
	rs := base
	if raw.Enabled != nil {
		rs.Enabled = *raw.Enabled
	}
	if raw.Mode != "" {
		rs.Mode = rotation.ParseMode(raw.Mode)
	}
	if raw.StateDir != "" {
		rs.StateDir = raw.StateDir
	}
	if len(raw.ProxyPool.values) > 0 {
		rs.ProxyPool = rotation.ParseProxyPool(strings.Join(raw.ProxyPool.values, ","))
	}
	if raw.RetryLimit != nil {
		rs.RetryLimit = max(*raw.RetryLimit, 1)
	}
	if raw.BlacklistTTL != "" {
		ttl, err := parseSeconds(field+".blacklist_ttl", raw.BlacklistTTL)
		if err != nil {
			return RotationSettings{}, err
		}
		rs.BlacklistTTL = max(ttl, 0)
	}
	return rs, nil
}

func withStateDir(rs RotationSettings, dir string) RotationSettings {
	rs.StateDir = dir
	return rs
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, value, err)
	}
	return d, nil
}

// parseSeconds accepts either a bare integer number of seconds or a Go
// duration string.
func parseSeconds(field, value string) (time.Duration, error) {
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return parseDuration(field, value, 0)
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported logging.level %q", raw)
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func validate(cfg *Config) error {
	if len(cfg.EnabledTasks()) == 0 {
		return fmt.Errorf("at least one task must be enabled")
	}

	names := make(map[string]bool, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		if t.Name == "" {
			return fmt.Errorf("tasks[%d].name is required", i)
		}
		if names[t.Name] {
			return fmt.Errorf("duplicate task name %q", t.Name)
		}
		names[t.Name] = true
		if t.Keyword == "" {
			return fmt.Errorf("task %q: keyword is required", t.Name)
		}
		if t.Interval < 0 {
			return fmt.Errorf("task %q: interval must not be negative, got %v", t.Name, t.Interval)
		}
		if t.ProxyRotation.Enabled && len(t.ProxyRotation.ProxyPool) == 0 {
			return fmt.Errorf("task %q: proxy rotation is enabled but proxy_pool is empty", t.Name)
		}
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported logging.format %q", cfg.Logging.Format)
	}

	switch cfg.Notification.Type {
	case "log":
	case "slack":
		if err := validateSlack(cfg.Notification.WebhookURL); err != nil {
			return err
		}
	case "ntfy":
		if cfg.Notification.NtfyTopicURL == "" {
			return fmt.Errorf("notification.ntfy_topic_url is required when type is \"ntfy\"")
		}
	case "multi":
		if cfg.Notification.WebhookURL != "" {
			if err := validateSlack(cfg.Notification.WebhookURL); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported notification.type %q", cfg.Notification.Type)
	}
	if cfg.Notification.MinInterval < 0 {
		return fmt.Errorf("notification.min_interval must not be negative")
	}

	return nil
}

func validateSlack(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("notification.webhook_url is required when type is \"slack\"")
	}
	if !strings.HasPrefix(webhookURL, "https://hooks.slack.com/") {
		return fmt.Errorf("notification.webhook_url must start with https://hooks.slack.com/")
	}
	return nil
}
