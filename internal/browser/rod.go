package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/amishk599/idlewatch/internal/rotation"
)

// Config controls how Chromium is started.
type Config struct {
	Headless        bool
	BinPath         string // empty lets go-rod find or download a browser
	NavigateTimeout time.Duration
}

// RodLauncher launches one Chromium process per session.
type RodLauncher struct {
	cfg    Config
	logger *slog.Logger
}

var _ Launcher = (*RodLauncher)(nil)

// NewRodLauncher creates a launcher. A zero NavigateTimeout defaults to 30s.
func NewRodLauncher(cfg Config, logger *slog.Logger) *RodLauncher {
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 30 * time.Second
	}
	return &RodLauncher{cfg: cfg, logger: logger}
}

// Launch starts a browser under the given state file and proxy. The caller
// must Close the session.
func (l *RodLauncher) Launch(ctx context.Context, opts Options) (Session, error) {
	snap, err := LoadSnapshot(opts.StateFile)
	if err != nil {
		return nil, err
	}

	ln := launcher.New().
		Context(ctx).
		Headless(l.cfg.Headless).
		NoSandbox(true)
	if l.cfg.BinPath != "" {
		ln = ln.Bin(l.cfg.BinPath)
	}
	for name, value := range launchFlags {
		if value == "" {
			ln = ln.Set(flags.Flag(name))
		} else {
			ln = ln.Set(flags.Flag(name), value)
		}
	}

	server, user, pass := splitProxy(opts.Proxy)
	if server != "" {
		ln = ln.Proxy(server)
	}

	controlURL, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	b := rod.New().Context(ctx).ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		ln.Kill()
		ln.Cleanup()
		return nil, fmt.Errorf("connecting browser: %w", err)
	}

	if user != "" {
		wait := b.HandleAuth(user, pass)
		go func() {
			if err := wait(); err != nil && ctx.Err() == nil {
				l.logger.Warn("proxy auth handler stopped", "proxy", rotation.Redact(opts.Proxy), "error", err)
			}
		}()
	}

	if cookies := snap.CookieParams(); len(cookies) > 0 {
		if err := b.SetCookies(cookies); err != nil {
			_ = b.Close()
			ln.Kill()
			ln.Cleanup()
			return nil, fmt.Errorf("restoring cookies: %w", err)
		}
	}

	l.logger.Debug("browser started",
		"state_file", opts.StateFile,
		"proxy", rotation.Redact(opts.Proxy),
		"cookies", len(snap.Cookies),
		"enhanced_snapshot", snap.Enhanced,
	)

	return &rodSession{
		browser:    b,
		launcher:   ln,
		device:     snap.Context,
		navTimeout: l.cfg.NavigateTimeout,
	}, nil
}

// splitProxy separates credentials from a proxy URL, since Chromium only
// accepts a bare proxy server on its command line.
func splitProxy(raw string) (server, user, pass string) {
	if raw == "" {
		return "", "", ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw, "", ""
	}
	user = u.User.Username()
	pass, _ = u.User.Password()
	u.User = nil
	return u.String(), user, pass
}

type rodSession struct {
	browser    *rod.Browser
	launcher   *launcher.Launcher
	device     ContextOptions
	navTimeout time.Duration
}

func (s *rodSession) NewPage(ctx context.Context) (Page, error) {
	p, err := stealth.Page(s.browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}
	if _, err := p.EvalOnNewDocument(fingerprintJS); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("injecting init script: %w", err)
	}
	if err := emulate(p, s.device); err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("enabling network events: %w", err)
	}
	return &rodPage{page: p, navTimeout: s.navTimeout}, nil
}

func emulate(p *rod.Page, d ContextOptions) error {
	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      d.UserAgent,
		AcceptLanguage: d.Locale,
	}); err != nil {
		return fmt.Errorf("setting user agent: %w", err)
	}
	if d.Viewport.Width > 0 && d.Viewport.Height > 0 {
		if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             d.Viewport.Width,
			Height:            d.Viewport.Height,
			DeviceScaleFactor: d.DeviceScaleFactor,
			Mobile:            d.IsMobile,
		}); err != nil {
			return fmt.Errorf("setting viewport: %w", err)
		}
	}
	if d.TimezoneID != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: d.TimezoneID}).Call(p); err != nil {
			return fmt.Errorf("setting timezone: %w", err)
		}
	}
	if d.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: d.Locale}).Call(p); err != nil {
			return fmt.Errorf("setting locale: %w", err)
		}
	}
	if d.HasTouch {
		if err := (proto.EmulationSetTouchEmulationEnabled{Enabled: true}).Call(p); err != nil {
			return fmt.Errorf("enabling touch: %w", err)
		}
	}
	if len(d.ExtraHeaders) > 0 {
		dict := make([]string, 0, 2*len(d.ExtraHeaders))
		for k, v := range d.ExtraHeaders {
			dict = append(dict, k, v)
		}
		if _, err := p.SetExtraHeaders(dict); err != nil {
			return fmt.Errorf("setting extra headers: %w", err)
		}
	}
	return nil
}

func (s *rodSession) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	s.launcher.Cleanup()
	return err
}

type rodPage struct {
	page       *rod.Page
	navTimeout time.Duration
}

func (p *rodPage) Navigate(ctx context.Context, target string) error {
	page, done := p.bounded(ctx, p.navTimeout)
	defer done()
	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(target); err != nil {
		return fmt.Errorf("navigating to %s: %w", target, err)
	}
	wait()
	return ctx.Err()
}

func (p *rodPage) Listen(ctx context.Context, pattern string) (<-chan Response, func()) {
	lctx, cancel := context.WithCancel(ctx)
	page := p.page.Context(lctx)
	out := make(chan Response, 16)
	done := make(chan struct{})

	send := func(r Response) {
		select {
		case out <- r:
		case <-lctx.Done():
		}
	}

	// Handlers run sequentially on the wait goroutine.
	pending := make(map[proto.NetworkRequestID]Response)
	wait := page.EachEvent(
		func(e *proto.NetworkResponseReceived) {
			if e.Response != nil && strings.Contains(e.Response.URL, pattern) {
				pending[e.RequestID] = Response{URL: e.Response.URL, Status: e.Response.Status}
			}
		},
		func(e *proto.NetworkLoadingFinished) {
			r, ok := pending[e.RequestID]
			if !ok {
				return
			}
			delete(pending, e.RequestID)
			r.Body, r.Err = responseBody(page, e.RequestID)
			send(r)
		},
		func(e *proto.NetworkLoadingFailed) {
			r, ok := pending[e.RequestID]
			if !ok {
				return
			}
			delete(pending, e.RequestID)
			r.Err = errors.New(e.ErrorText)
			send(r)
		},
	)

	go func() {
		wait()
		close(out)
		close(done)
	}()

	return out, func() {
		cancel()
		<-done
	}
}

func responseBody(page *rod.Page, id proto.NetworkRequestID) ([]byte, error) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if res.Base64Encoded {
		return base64.StdEncoding.DecodeString(res.Body)
	}
	return []byte(res.Body), nil
}

// bounded returns the page limited to timeout. done must be called to release
// the timer once the bounded calls have returned.
func (p *rodPage) bounded(ctx context.Context, timeout time.Duration) (*rod.Page, func()) {
	page := p.page.Context(ctx).Timeout(timeout)
	return page, func() { page.CancelTimeout() }
}

func (p *rodPage) find(ctx context.Context, selector string, timeout time.Duration) (*rod.Element, error) {
	page, done := p.bounded(ctx, timeout)
	defer done()
	el, err := page.Element(selector)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return el.Context(ctx), nil
}

func (p *rodPage) Visible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	page, done := p.bounded(ctx, timeout)
	defer done()
	el, err := page.Element(selector)
	if err == nil {
		err = el.WaitVisible()
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

func (p *rodPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := p.find(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("clicking %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) ClickText(ctx context.Context, selector, pattern string, timeout time.Duration) error {
	page, done := p.bounded(ctx, timeout)
	el, err := page.ElementR(selector, pattern)
	done()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s /%s/", ErrNotFound, selector, pattern)
	}
	if err := el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("clicking %s /%s/: %w", selector, pattern, err)
	}
	return nil
}

func (p *rodPage) Fill(ctx context.Context, selector string, index int, value string) error {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return fmt.Errorf("querying %s: %w", selector, err)
	}
	if index < 0 || index >= len(els) {
		return fmt.Errorf("%w: %s[%d]", ErrNotFound, selector, index)
	}
	el := els[index]
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("selecting %s[%d]: %w", selector, index, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("typing into %s[%d]: %w", selector, index, err)
	}
	return nil
}

var keys = map[string]input.Key{
	"Tab":    input.Tab,
	"Enter":  input.Enter,
	"Escape": input.Escape,
}

func (p *rodPage) Press(ctx context.Context, key string) error {
	k, ok := keys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Keyboard.Press(k)
}

func (p *rodPage) Scroll(ctx context.Context, dy int) error {
	_, err := p.page.Context(ctx).Eval(`(dy) => window.scrollBy(0, dy)`, dy)
	return err
}

func (p *rodPage) ScrollToBottom(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return err
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
