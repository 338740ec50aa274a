package model

import "context"

// FilterKind names a search-results filter. Filters are applied in the order
// the constants are declared.
type FilterKind string

const (
	FilterNewest       FilterKind = "newest"
	FilterPersonalOnly FilterKind = "personal_only"
	FilterFreeShipping FilterKind = "free_shipping"
	FilterRegion       FilterKind = "region"
	FilterPrice        FilterKind = "price"
)

// Filter is one configured filter. Value carries the sort option or the
// region path; Min and Max carry the price range.
type Filter struct {
	Kind  FilterKind
	Value string
	Min   string
	Max   string
}

// ResultPage is one parsed search-results response. OK is false when the
// response was unusable and the page should be skipped.
type ResultPage struct {
	Items []ListingItem
	OK    bool
}

// SiteSession is one logged-in browsing session on the marketplace.
// Methods that capture a listing response return ErrSoftUI when the control
// they need is missing, and *RiskControlError on anti-bot challenges.
type SiteSession interface {
	Home(ctx context.Context) error
	Search(ctx context.Context, keyword string) (ResultPage, error)
	CheckRisk(ctx context.Context) error
	ApplyFilter(ctx context.Context, f Filter) (ResultPage, error)
	// NextPage advances pagination. ok is false when no next control exists.
	NextPage(ctx context.Context) (page ResultPage, ok bool, err error)
	Detail(ctx context.Context, item ListingItem) (ItemDetail, error)
	SellerProfile(ctx context.Context, sellerID string) (SellerProfile, error)
	Close() error
}

// SiteLauncher opens sessions under an account state file and proxy.
// Empty strings mean none.
type SiteLauncher interface {
	Launch(ctx context.Context, account, proxy string) (SiteSession, error)
}
