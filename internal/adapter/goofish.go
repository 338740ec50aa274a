// Package adapter implements the marketplace session on top of the browser
// driver and parses the site's JSON API responses.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/amishk599/idlewatch/internal/browser"
	"github.com/amishk599/idlewatch/internal/model"
	"github.com/amishk599/idlewatch/internal/pacing"
)

const (
	HomeURL           = "https://www.goofish.com/"
	searchURL         = "https://www.goofish.com/search"
	profileURL        = "https://www.goofish.com/personal"
	SearchAPIPattern  = "h5api.m.goofish.com/h5/mtop.taobao.idlemtopsearch.pc.search"
	DetailAPIPattern  = "h5api.m.goofish.com/h5/mtop.taobao.idle.pc.detail"
	profileHeadAPI    = "mtop.idle.web.user.page.head"
	profileItemsAPI   = "mtop.idle.web.xyh.item.list"
	profileRatingsAPI = "mtop.idle.web.trade.rate.list"
)

// Selectors the session relies on.
const (
	selAdClose       = "div[class*='closeIconBg']"
	selNextPage      = "[class*='search-pagination-arrow-right']:not([class*='disabled'])"
	selPriceInputs   = `div[class*="search-price-input-container"] input[placeholder="¥"]`
	selPriceBox      = `div[class*="search-price-input-container"]`
	selRegionColumn  = "[class*='areaWrap'] > div:nth-child(%d) [class*='provItem']"
	selRegionSubmit  = "div.ant-popover [class*='searchBtn']"
	selTextCandidate = "div, span, li"
)

// riskMarkers are overlays shown when the site challenges a session.
var riskMarkers = []struct {
	selector string
	signal   string
}{
	{"div.baxia-dialog-mask", "baxia-dialog"},
	{"div.J_MIDDLEWARE_FRAME_WIDGET", "J_MIDDLEWARE_FRAME_WIDGET"},
}

// Timeouts bound each wait in a session.
type Timeouts struct {
	Search      time.Duration
	Filter      time.Duration
	Detail      time.Duration
	ProfileHead time.Duration
	ListIdle    time.Duration
	RiskProbe   time.Duration
	Control     time.Duration
}

// DefaultTimeouts mirror how long the site normally takes to answer.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Search:      30 * time.Second,
		Filter:      20 * time.Second,
		Detail:      25 * time.Second,
		ProfileHead: 15 * time.Second,
		ListIdle:    8 * time.Second,
		RiskProbe:   2 * time.Second,
		Control:     5 * time.Second,
	}
}

// GoofishLauncher opens marketplace sessions through a browser launcher.
type GoofishLauncher struct {
	browser  browser.Launcher
	pacing   pacing.Policy
	timeouts Timeouts
	logger   *slog.Logger
}

var _ model.SiteLauncher = (*GoofishLauncher)(nil)

// NewGoofishLauncher creates a launcher.
func NewGoofishLauncher(b browser.Launcher, p pacing.Policy, t Timeouts, logger *slog.Logger) *GoofishLauncher {
	return &GoofishLauncher{browser: b, pacing: p, timeouts: t, logger: logger}
}

// Launch starts a browser under account and proxy and opens the main tab.
func (l *GoofishLauncher) Launch(ctx context.Context, account, proxy string) (model.SiteSession, error) {
	s, err := l.browser.Launch(ctx, browser.Options{StateFile: account, Proxy: proxy})
	if err != nil {
		return nil, err
	}
	page, err := s.NewPage(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return &GoofishSession{
		session:  s,
		page:     page,
		pacing:   l.pacing,
		timeouts: l.timeouts,
		logger:   l.logger,
	}, nil
}

// GoofishSession is one browsing session on goofish.com.
type GoofishSession struct {
	session  browser.Session
	page     browser.Page
	pacing   pacing.Policy
	timeouts Timeouts
	logger   *slog.Logger

	results     <-chan browser.Response
	stopResults func()
}

var _ model.SiteSession = (*GoofishSession)(nil)

// Home visits the landing page and scrolls a little, like a person would.
func (g *GoofishSession) Home(ctx context.Context) error {
	if err := g.page.Navigate(ctx, HomeURL); err != nil {
		return fmt.Errorf("opening home page: %w", err)
	}
	if err := g.pacing.Pause(ctx, pacing.StepHomeBrowse); err != nil {
		return err
	}
	if err := g.page.Scroll(ctx, 200+rand.IntN(500)); err != nil {
		g.logger.Debug("home scroll failed", "error", err)
	}
	return g.pacing.Pause(ctx, pacing.StepHomeBrowse)
}

// SearchURL is the results page for keyword.
func SearchURL(keyword string) string {
	return searchURL + "?" + url.Values{"q": {keyword}}.Encode()
}

// Search opens the results page for keyword and returns its first listing
// response. The search API stays subscribed for later filters and pages.
func (g *GoofishSession) Search(ctx context.Context, keyword string) (model.ResultPage, error) {
	if g.stopResults != nil {
		g.stopResults()
	}
	g.results, g.stopResults = g.page.Listen(ctx, SearchAPIPattern)

	page, err := g.capture(ctx, g.timeouts.Search, func() error {
		return g.page.Navigate(ctx, SearchURL(keyword))
	})
	if err != nil {
		return model.ResultPage{}, fmt.Errorf("searching %q: %w", keyword, err)
	}
	if err := g.pacing.Pause(ctx, pacing.StepAfterSearch); err != nil {
		return page, err
	}
	return page, nil
}

// CheckRisk looks for challenge overlays.
func (g *GoofishSession) CheckRisk(ctx context.Context) error {
	for _, m := range riskMarkers {
		visible, err := g.page.Visible(ctx, m.selector, g.timeouts.RiskProbe)
		if err != nil {
			return err
		}
		if visible {
			return &model.RiskControlError{Signal: m.signal}
		}
	}
	if err := g.page.Click(ctx, selAdClose, g.timeouts.RiskProbe); err == nil {
		g.logger.Debug("dismissed ad popup")
	} else if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// ApplyFilter applies one filter and returns the listing response it caused.
func (g *GoofishSession) ApplyFilter(ctx context.Context, f model.Filter) (model.ResultPage, error) {
	var (
		page model.ResultPage
		err  error
	)
	switch f.Kind {
	case model.FilterNewest:
		err = g.clickText(ctx, "新发布")
		if err == nil {
			err = g.pacing.Pause(ctx, pacing.StepFilter)
		}
		if err == nil {
			page, err = g.capture(ctx, g.timeouts.Filter, func() error { return g.clickText(ctx, f.Value) })
		}
	case model.FilterPersonalOnly:
		page, err = g.capture(ctx, g.timeouts.Filter, func() error { return g.clickText(ctx, "个人闲置") })
	case model.FilterFreeShipping:
		page, err = g.capture(ctx, g.timeouts.Filter, func() error { return g.clickText(ctx, "包邮") })
	case model.FilterRegion:
		page, err = g.applyRegion(ctx, f.Value)
	case model.FilterPrice:
		page, err = g.applyPrice(ctx, f.Min, f.Max)
	default:
		return model.ResultPage{}, fmt.Errorf("unknown filter %q", f.Kind)
	}
	if err != nil {
		return page, soft(ctx, string(f.Kind), err)
	}
	return page, g.pacing.Pause(ctx, pacing.StepFilter)
}

func (g *GoofishSession) applyRegion(ctx context.Context, region string) (model.ResultPage, error) {
	parts := splitRegion(region)
	if len(parts) == 0 {
		return model.ResultPage{}, errors.New("empty region")
	}
	if err := g.clickText(ctx, "区域"); err != nil {
		return model.ResultPage{}, err
	}
	if err := g.pacing.Pause(ctx, pacing.StepFilter); err != nil {
		return model.ResultPage{}, err
	}
	for i, part := range parts {
		sel := fmt.Sprintf(selRegionColumn, i+1)
		if err := g.page.ClickText(ctx, sel, regexp.QuoteMeta(part), g.timeouts.Control); err != nil {
			if ctx.Err() != nil {
				return model.ResultPage{}, ctx.Err()
			}
			g.logger.Debug("region option missing, skipping level", "level", i+1, "value", part)
			continue
		}
		if err := g.pacing.Pause(ctx, pacing.StepFilter); err != nil {
			return model.ResultPage{}, err
		}
	}
	return g.capture(ctx, g.timeouts.Filter, func() error {
		return g.page.Click(ctx, selRegionSubmit, g.timeouts.Control)
	})
}

func (g *GoofishSession) applyPrice(ctx context.Context, minPrice, maxPrice string) (model.ResultPage, error) {
	visible, err := g.page.Visible(ctx, selPriceBox, g.timeouts.Control)
	if err != nil {
		return model.ResultPage{}, err
	}
	if !visible {
		return model.ResultPage{}, errors.New("price inputs not found")
	}
	for i, v := range []string{minPrice, maxPrice} {
		if v == "" {
			continue
		}
		if err := g.page.Fill(ctx, selPriceInputs, i, v); err != nil {
			return model.ResultPage{}, err
		}
		if err := g.pacing.Pause(ctx, pacing.StepFilter); err != nil {
			return model.ResultPage{}, err
		}
	}
	return g.capture(ctx, g.timeouts.Filter, func() error { return g.page.Press(ctx, "Tab") })
}

// NextPage clicks the enabled next-page arrow.
func (g *GoofishSession) NextPage(ctx context.Context) (model.ResultPage, bool, error) {
	visible, err := g.page.Visible(ctx, selNextPage, g.timeouts.RiskProbe)
	if err != nil {
		return model.ResultPage{}, false, err
	}
	if !visible {
		return model.ResultPage{}, false, nil
	}
	page, err := g.capture(ctx, g.timeouts.Filter, func() error {
		return g.page.Click(ctx, selNextPage, g.timeouts.Control)
	})
	if err != nil {
		return model.ResultPage{}, true, fmt.Errorf("turning page: %w", err)
	}
	return page, true, nil
}

// Detail opens the item in a new tab and parses its detail response.
func (g *GoofishSession) Detail(ctx context.Context, item model.ListingItem) (model.ItemDetail, error) {
	tab, err := g.session.NewPage(ctx)
	if err != nil {
		return model.ItemDetail{}, fmt.Errorf("opening detail tab: %w", err)
	}
	defer tab.Close()

	ch, stop := tab.Listen(ctx, DetailAPIPattern)
	defer stop()

	if err := tab.Navigate(ctx, item.Link); err != nil {
		return model.ItemDetail{}, fmt.Errorf("opening item %s: %w", item.ID, err)
	}
	resp, err := browser.Await(ctx, ch, g.timeouts.Detail)
	if err != nil {
		return model.ItemDetail{}, fmt.Errorf("waiting for item %s detail: %w", item.ID, err)
	}
	if !resp.OK() {
		return model.ItemDetail{}, fmt.Errorf("item %s detail: status %d: %v", item.ID, resp.Status, resp.Err)
	}

	d, err := ParseDetail(resp.Body)
	if err != nil {
		return model.ItemDetail{}, fmt.Errorf("item %s detail: %w", item.ID, err)
	}
	if d.RiskSignal != "" {
		return d, &model.RiskControlError{Signal: d.RiskSignal}
	}
	return d, nil
}

// SellerProfile collects the seller's summary, listed items and received
// ratings. Whatever was gathered before a failure is returned with the error.
func (g *GoofishSession) SellerProfile(ctx context.Context, sellerID string) (model.SellerProfile, error) {
	profile := model.SellerProfile{ID: sellerID}

	tab, err := g.session.NewPage(ctx)
	if err != nil {
		return profile, fmt.Errorf("opening profile tab: %w", err)
	}
	defer tab.Close()

	heads, stopHeads := tab.Listen(ctx, profileHeadAPI)
	defer stopHeads()
	items, stopItems := tab.Listen(ctx, profileItemsAPI)
	defer stopItems()
	ratings, stopRatings := tab.Listen(ctx, profileRatingsAPI)
	defer stopRatings()

	target := profileURL + "?" + url.Values{"userId": {sellerID}}.Encode()
	if err := tab.Navigate(ctx, target); err != nil {
		return profile, fmt.Errorf("opening profile %s: %w", sellerID, err)
	}

	resp, err := browser.Await(ctx, heads, g.timeouts.ProfileHead)
	if err != nil {
		return profile, fmt.Errorf("waiting for profile %s head: %w", sellerID, err)
	}
	if head, err := ParseProfileHead(resp.Body); err == nil {
		if head.ID == "" {
			head.ID = sellerID
		}
		profile = head
	} else {
		g.logger.Debug("unparsable profile head", "seller", sellerID, "error", err)
	}

	if err := g.pacing.Pause(ctx, pacing.StepProfile); err != nil {
		return profile, err
	}
	itemCards, err := g.collectCards(ctx, tab, items)
	profile.Items = parseSellerItems(itemCards)
	if err != nil {
		return profile, err
	}

	if err := tab.ClickText(ctx, selTextCandidate, "^信用及评价$", g.timeouts.Control); err != nil {
		if ctx.Err() != nil {
			return profile, ctx.Err()
		}
		g.logger.Debug("ratings tab missing, skipping ratings", "seller", sellerID)
		return profile, nil
	}
	if err := g.pacing.Pause(ctx, pacing.StepProfile); err != nil {
		return profile, err
	}
	ratingCards, err := g.collectCards(ctx, tab, ratings)
	profile.Ratings = parseRatings(ratingCards)
	profile.SellerPositive, profile.BuyerPositive = Reputation(profile.Ratings)
	return profile, err
}

// collectCards scrolls tab until the list reports no next page or goes idle.
func (g *GoofishSession) collectCards(ctx context.Context, tab browser.Page, ch <-chan browser.Response) ([]gjson.Result, error) {
	var cards []gjson.Result
	for {
		if err := tab.ScrollToBottom(ctx); err != nil && ctx.Err() != nil {
			return cards, ctx.Err()
		}
		resp, err := browser.Await(ctx, ch, g.timeouts.ListIdle)
		if err != nil {
			if ctx.Err() != nil {
				return cards, ctx.Err()
			}
			return cards, nil
		}
		if !resp.OK() || !gjson.ValidBytes(resp.Body) {
			return cards, nil
		}
		data := gjson.GetBytes(resp.Body, "data")
		cards = append(cards, data.Get("cardList").Array()...)
		if next := data.Get("nextPage"); next.Exists() && !next.Bool() {
			return cards, nil
		}
	}
}

// Close tears down the browser.
func (g *GoofishSession) Close() error {
	if g.stopResults != nil {
		g.stopResults()
	}
	_ = g.page.Close()
	return g.session.Close()
}

// capture runs action and waits for the next search API response.
func (g *GoofishSession) capture(ctx context.Context, timeout time.Duration, action func() error) (model.ResultPage, error) {
	if g.results == nil {
		return model.ResultPage{}, errors.New("search listener not started")
	}
	drain(g.results)
	if err := action(); err != nil {
		return model.ResultPage{}, err
	}
	resp, err := browser.Await(ctx, g.results, timeout)
	if err != nil {
		return model.ResultPage{}, fmt.Errorf("waiting for listing response: %w", err)
	}
	if !resp.OK() {
		return model.ResultPage{}, nil
	}
	items, err := ParseSearch(resp.Body)
	if err != nil {
		if model.IsRiskControl(err) {
			return model.ResultPage{}, err
		}
		g.logger.Debug("unparsable listing response", "url", resp.URL, "error", err)
		return model.ResultPage{}, nil
	}
	return model.ResultPage{Items: items, OK: true}, nil
}

func (g *GoofishSession) clickText(ctx context.Context, text string) error {
	return g.page.ClickText(ctx, selTextCandidate, "^"+regexp.QuoteMeta(text)+"$", g.timeouts.Control)
}

// drain discards responses left over from earlier actions.
func drain(ch <-chan browser.Response) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// soft downgrades a filter failure to ErrSoftUI unless it is a cancellation
// or a risk challenge.
func soft(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if model.IsRiskControl(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", model.ErrSoftUI, what, err)
}

func splitRegion(region string) []string {
	var parts []string
	for _, p := range strings.Split(region, "/") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
