package rotation

import (
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Kind names the resource category a pool manages.
type Kind string

const (
	KindAccount Kind = "account"
	KindProxy   Kind = "proxy"
)

// Mode controls when a pool hands out a different item.
type Mode string

const (
	// ModePerTask keeps one selection for the whole task, across retries.
	ModePerTask Mode = "per_task"
	// ModeOnFailure switches to a fresh selection after a failed attempt.
	ModeOnFailure Mode = "on_failure"
)

// ParseMode maps a config string to a Mode, defaulting to ModePerTask.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOnFailure:
		return ModeOnFailure
	default:
		return ModePerTask
	}
}

// Item is one interchangeable resource: an account state file or a proxy URL.
type Item struct {
	Value          string
	Failures       int
	BlacklistUntil time.Time // zero when never blacklisted
}

func (it *Item) available(now time.Time) bool {
	return it.BlacklistUntil.IsZero() || !now.Before(it.BlacklistUntil)
}

// Pool tracks failures and blacklisting for a set of items of one kind.
// A blacklisted item is not handed out until its TTL expires; no explicit
// reset is needed.
type Pool struct {
	mu      sync.Mutex
	kind    Kind
	mode    Mode
	ttl     time.Duration
	items   []*Item
	current *Item
	now     func() time.Time
	intn    func(n int) int
	logger  *slog.Logger
}

// Option customises a Pool.
type Option func(*Pool)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithRand overrides the random index source, for tests.
func WithRand(intn func(n int) int) Option {
	return func(p *Pool) { p.intn = intn }
}

// NewPool seeds a pool from raw values. Blank and duplicate values are dropped.
func NewPool(values []string, ttl time.Duration, kind Kind, mode Mode, logger *slog.Logger, opts ...Option) *Pool {
	if ttl < 0 {
		ttl = 0
	}
	p := &Pool{
		kind:   kind,
		mode:   mode,
		ttl:    ttl,
		now:    time.Now,
		intn:   rand.IntN,
		logger: logger,
	}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		p.items = append(p.items, &Item{Value: v})
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Kind returns the resource kind of the pool.
func (p *Pool) Kind() Kind { return p.kind }

// Mode returns the selection mode of the pool.
func (p *Pool) Mode() Mode { return p.mode }

// Len returns the number of seeded items.
func (p *Pool) Len() int { return len(p.items) }

// Current returns the item handed out last, or nil.
func (p *Pool) Current() *Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Pick returns an item per the pool's policy. With forceNew false and a
// per_task pool that already holds a selection, the held item is returned.
// Otherwise a uniformly random non-blacklisted item becomes the new
// selection. When every item is blacklisted, the previous selection (possibly
// nil) is returned unchanged.
func (p *Pool) Pick(forceNew bool) *Item {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !forceNew && p.mode == ModePerTask && p.current != nil {
		return p.current
	}

	now := p.now()
	var eligible []*Item
	for _, it := range p.items {
		if it.available(now) {
			eligible = append(eligible, it)
		}
	}
	if len(eligible) == 0 {
		if len(p.items) > 0 {
			p.logger.Warn("all rotation items blacklisted, reusing previous selection",
				"kind", p.kind,
				"items", len(p.items),
			)
		}
		return p.current
	}

	p.current = eligible[p.intn(len(eligible))]
	return p.current
}

// MarkBad records a failure for item and blacklists it for the pool TTL.
// A nil item is ignored.
func (p *Pool) MarkBad(item *Item, reason string) {
	if item == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	item.Failures++
	item.BlacklistUntil = p.now().Add(p.ttl)
	p.logger.Warn("rotation item marked bad",
		"kind", p.kind,
		"item", Redact(item.Value),
		"failures", item.Failures,
		"until", item.BlacklistUntil.Format(time.RFC3339),
		"reason", reason,
	)
}

// Redact hides credentials embedded in a proxy URL before it reaches a log line.
func Redact(value string) string {
	scheme, rest, ok := strings.Cut(value, "://")
	if !ok {
		return value
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return value
}
