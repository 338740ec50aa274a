package model

import (
	"context"
	"encoding/json"
	"time"
)

// ListingItem is a single candidate from a search-results page. Detail fields
// (images, counters) are filled in once the item page has been fetched.
type ListingItem struct {
	ID            string   `json:"item_id"`
	Title         string   `json:"title"`
	Link          string   `json:"link"`
	Price         string   `json:"price"`
	OriginalPrice string   `json:"original_price,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Region        string   `json:"region,omitempty"`
	SellerNick    string   `json:"seller_nick,omitempty"`
	PublishedAt   string   `json:"published_at,omitempty"`
	MainImage     string   `json:"main_image,omitempty"`
	ImageURLs     []string `json:"image_urls,omitempty"`
	WantCount     int      `json:"want_count"`
	ViewCount     int      `json:"view_count"`
	Description   string   `json:"description,omitempty"`
}

// ItemDetail is what the detail endpoint adds to a ListingItem.
type ItemDetail struct {
	OK              bool
	RiskSignal      string // non-empty when the response carried an anti-bot code
	SellerID        string
	ImageURLs       []string
	WantCount       *int // nil when the response did not carry the counter
	ViewCount       *int
	Description     string
	ZhimaCredit     string
	RegistrationAge string
}

// Apply merges the detail fields into the item.
func (d ItemDetail) Apply(item ListingItem) ListingItem {
	if len(d.ImageURLs) > 0 {
		item.ImageURLs = d.ImageURLs
		item.MainImage = d.ImageURLs[0]
	}
	if d.WantCount != nil {
		item.WantCount = *d.WantCount
	}
	if d.ViewCount != nil {
		item.ViewCount = *d.ViewCount
	}
	if d.Description != "" {
		item.Description = d.Description
	}
	return item
}

// ApplySeller copies the seller trust signals carried by the detail response
// onto a profile.
func (d ItemDetail) ApplySeller(p SellerProfile) SellerProfile {
	if p.ID == "" {
		p.ID = d.SellerID
	}
	p.ZhimaCredit = d.ZhimaCredit
	p.RegistrationAge = d.RegistrationAge
	return p
}

// SellerItem is one listing on a seller's profile page.
type SellerItem struct {
	ID     string `json:"item_id"`
	Title  string `json:"title"`
	Price  string `json:"price"`
	Status string `json:"status,omitempty"`
}

// Rating is one rating received by a seller, either as seller or as buyer.
type Rating struct {
	Role      string `json:"role"`  // "seller" or "buyer"
	Score     int    `json:"score"` // 1 good, 0 neutral, -1 bad
	Text      string `json:"text,omitempty"`
	RaterNick string `json:"rater_nick,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// SellerProfile is the enrichment gathered from a seller's profile page.
type SellerProfile struct {
	ID              string       `json:"seller_id"`
	Nick            string       `json:"nick,omitempty"`
	Signature       string       `json:"signature,omitempty"`
	ZhimaCredit     string       `json:"zhima_credit,omitempty"`
	RegistrationAge string       `json:"registration_age,omitempty"`
	FollowerCount   int          `json:"follower_count"`
	ItemCount       int          `json:"item_count"`
	SoldCount       int          `json:"sold_count"`
	SellerPositive  string       `json:"seller_positive_rate,omitempty"`
	BuyerPositive   string       `json:"buyer_positive_rate,omitempty"`
	Items           []SellerItem `json:"items,omitempty"`
	Ratings         []Rating     `json:"ratings,omitempty"`
}

// Decision sources.
const (
	SourceKeyword = "keyword"
	SourceAI      = "ai"
)

// Decision is the outcome of classifying a Record.
type Decision struct {
	Source          string         `json:"analysis_source"`
	IsRecommended   bool           `json:"is_recommended"`
	Reason          string         `json:"reason"`
	MatchedKeywords []string       `json:"matched_keywords"`
	KeywordHitCount int            `json:"keyword_hit_count"`
	Error           string         `json:"error,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// MarshalJSON always emits matched_keywords as an array, never null.
func (d Decision) MarshalJSON() ([]byte, error) {
	type plain Decision
	if d.MatchedKeywords == nil {
		d.MatchedKeywords = []string{}
	}
	return json.Marshal(plain(d))
}

// ErrorDecision is the degraded decision recorded when classification failed.
func ErrorDecision(source string, err error) Decision {
	return Decision{
		Source: source,
		Reason: "analysis failed",
		Error:  err.Error(),
	}
}

// Record is one fully enriched item, persisted as a single JSONL line.
type Record struct {
	CrawledAt time.Time     `json:"crawled_at"`
	Keyword   string        `json:"search_keyword"`
	TaskName  string        `json:"task_name"`
	Item      ListingItem   `json:"item"`
	Seller    SellerProfile `json:"seller"`
	Decision  Decision      `json:"decision"`
}

// Notifier sends an alert for a recommended item.
type Notifier interface {
	Notify(ctx context.Context, item ListingItem, reason string) error
}

// RecordWriter persists enriched records.
type RecordWriter interface {
	Append(rec Record) error
}
