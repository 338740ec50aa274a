package pacing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Step names a point in the fetch pipeline that pauses before continuing.
type Step string

const (
	StepHomeBrowse   Step = "home_browse"
	StepAfterSearch  Step = "after_search"
	StepFilter       Step = "filter"
	StepBeforeDetail Step = "before_detail"
	StepAfterDetail  Step = "after_detail"
	StepAfterItem    Step = "after_item"
	StepBetweenPages Step = "between_pages"
	StepRiskCooldown Step = "risk_cooldown"
	StepProfile      Step = "profile"
)

// Range is an inclusive random delay window.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// DefaultRanges are the delay windows used when no override is configured.
var DefaultRanges = map[Step]Range{
	StepHomeBrowse:   {1 * time.Second, 2 * time.Second},
	StepAfterSearch:  {1 * time.Second, 3 * time.Second},
	StepFilter:       {1 * time.Second, 2 * time.Second},
	StepBeforeDetail: {2 * time.Second, 4 * time.Second},
	StepAfterDetail:  {2 * time.Second, 4 * time.Second},
	StepAfterItem:    {5 * time.Second, 10 * time.Second},
	StepBetweenPages: {10 * time.Second, 15 * time.Second},
	StepRiskCooldown: {3 * time.Second, 60 * time.Second},
	StepProfile:      {1 * time.Second, 2 * time.Second},
}

// Policy decides how long to pause at a step. Implementations must return
// promptly with ctx.Err() once ctx is cancelled.
type Policy interface {
	Pause(ctx context.Context, step Step) error
}

// RandomPolicy sleeps a uniformly random duration from the step's range,
// multiplied by a scale factor.
type RandomPolicy struct {
	ranges map[Step]Range
	scale  float64
}

// NewRandomPolicy returns a policy over DefaultRanges with the given overrides.
// A scale <= 0 is treated as 1.
func NewRandomPolicy(scale float64, overrides map[Step]Range) *RandomPolicy {
	if scale <= 0 {
		scale = 1
	}
	ranges := make(map[Step]Range, len(DefaultRanges))
	for k, v := range DefaultRanges {
		ranges[k] = v
	}
	for k, v := range overrides {
		ranges[k] = v
	}
	return &RandomPolicy{ranges: ranges, scale: scale}
}

// Delay returns the duration Pause would sleep for step.
func (p *RandomPolicy) Delay(step Step) time.Duration {
	r, ok := p.ranges[step]
	if !ok {
		return 0
	}
	d := r.Min
	if span := r.Max - r.Min; span > 0 {
		d += time.Duration(rand.Int64N(int64(span) + 1))
	}
	return time.Duration(float64(d) * p.scale)
}

// Pause sleeps for Delay(step) or until ctx is done.
func (p *RandomPolicy) Pause(ctx context.Context, step Step) error {
	return Sleep(ctx, p.Delay(step))
}

// NopPolicy never sleeps. It still honours cancellation.
type NopPolicy struct{}

func (NopPolicy) Pause(ctx context.Context, _ Step) error { return ctx.Err() }

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
