// Package browser drives a headless Chromium for the site adapter.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a selector matched nothing before its timeout.
var ErrNotFound = errors.New("element not found")

// Options selects the identity a session runs under.
type Options struct {
	StateFile string // login state snapshot; empty runs anonymously
	Proxy     string // egress proxy URL; empty connects directly
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Session, error)
}

// Session is one isolated browser with its own cookies and device profile.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one tab.
type Page interface {
	// Navigate loads url and waits for DOMContentLoaded.
	Navigate(ctx context.Context, url string) error
	// Listen delivers every finished response whose URL contains pattern
	// until stop is called or ctx ends.
	Listen(ctx context.Context, pattern string) (responses <-chan Response, stop func())
	// Visible reports whether selector becomes visible within timeout.
	Visible(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	Click(ctx context.Context, selector string, timeout time.Duration) error
	// ClickText clicks the first element matching selector whose text
	// matches the JavaScript regular expression pattern.
	ClickText(ctx context.Context, selector, pattern string, timeout time.Duration) error
	// Fill replaces the value of the index-th element matching selector.
	Fill(ctx context.Context, selector string, index int, value string) error
	Press(ctx context.Context, key string) error
	Scroll(ctx context.Context, dy int) error
	ScrollToBottom(ctx context.Context) error
	Close() error
}

// Response is a captured network response.
type Response struct {
	URL    string
	Status int
	Body   []byte
	Err    error
}

// OK reports a 2xx status with no capture error.
func (r Response) OK() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

// Await returns the next response from ch, or an error once timeout elapses
// or ctx ends.
func Await(ctx context.Context, ch <-chan Response, timeout time.Duration) (Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r, ok := <-ch:
		if !ok {
			return Response{}, errors.New("listener closed")
		}
		return r, nil
	case <-timer.C:
		return Response{}, context.DeadlineExceeded
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
