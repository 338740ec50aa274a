package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoResource is returned when a required rotation axis has nothing to hand out.
// It is a configuration failure and is never retried.
var ErrNoResource = errors.New("no rotation resource available")

// ErrSoftUI marks a missing or unresponsive page affordance (a filter control,
// a popover). The pipeline logs it and carries on.
var ErrSoftUI = errors.New("ui affordance unavailable")

// RiskControlError reports an anti-automation challenge detected by the site
// adapter. It invalidates the current account/proxy pair.
type RiskControlError struct {
	Signal string // marker that triggered detection
}

func (e *RiskControlError) Error() string {
	return "risk control triggered: " + e.Signal
}

// IsRiskControl reports whether err carries a RiskControlError.
func IsRiskControl(err error) bool {
	var rc *RiskControlError
	return errors.As(err, &rc)
}

// HTTPError wraps an HTTP status code so retry logic can inspect it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}
