package adapter

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/amishk599/idlewatch/internal/model"
)

// riskCodes in a response's ret array mean the request was challenged.
var riskCodes = []string{"FAIL_SYS_USER_VALIDATE"}

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// cleanText unescapes entities, strips tags and collapses whitespace.
func cleanText(s string) string {
	plain := htmlTagRegex.ReplaceAllString(html.UnescapeString(s), "")
	return strings.Join(strings.Fields(plain), " ")
}

// marketTZ is the zone listing timestamps are rendered in.
var marketTZ = time.FixedZone("CST", 8*60*60)

// ParseSearch extracts listing items from a search API response body.
func ParseSearch(body []byte) ([]model.ListingItem, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("search response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if code := riskCode(root); code != "" {
		return nil, &model.RiskControlError{Signal: code}
	}

	var items []model.ListingItem
	for _, entry := range root.Get("data.resultList").Array() {
		main := entry.Get("data.item.main")
		ex := main.Get("exContent")
		args := main.Get("clickParam.args")

		id := ex.Get("itemId").String()
		if id == "" {
			id = args.Get("id").String()
		}
		title := cleanText(ex.Get("title").String())
		if id == "" && title == "" {
			continue
		}

		item := model.ListingItem{
			ID:            id,
			Title:         title,
			Link:          itemLink(main.Get("targetUrl").String(), id),
			Price:         joinPrice(ex.Get("price")),
			OriginalPrice: strings.TrimSpace(ex.Get("oriPrice").String()),
			Region:        ex.Get("area").String(),
			SellerNick:    ex.Get("userNickName").String(),
			MainImage:     ex.Get("picUrl").String(),
			WantCount:     atoi(args.Get("wantNum").String()),
			Tags:          fishTags(ex.Get("fishTags")),
		}
		if ms := args.Get("publishTime").Int(); ms > 0 {
			item.PublishedAt = time.UnixMilli(ms).In(marketTZ).Format("2006-01-02 15:04")
		}
		if item.MainImage != "" {
			item.ImageURLs = []string{item.MainImage}
		}
		items = append(items, item)
	}
	return items, nil
}

// itemLink turns the app deep link into a web URL, falling back to the id.
func itemLink(target, id string) string {
	switch {
	case strings.HasPrefix(target, "fleamarket://"):
		return strings.Replace(target, "fleamarket://", "https://www.goofish.com/", 1)
	case strings.HasPrefix(target, "http"):
		return target
	case id != "":
		return "https://www.goofish.com/item?id=" + id
	}
	return ""
}

// joinPrice concatenates the price fragments and expands the 万 unit.
func joinPrice(parts gjson.Result) string {
	var b strings.Builder
	if parts.IsArray() {
		for _, p := range parts.Array() {
			b.WriteString(p.Get("text").String())
		}
	} else {
		b.WriteString(parts.String())
	}
	price := strings.TrimSpace(strings.ReplaceAll(b.String(), "当前价", ""))
	if strings.Contains(price, "万") {
		num := strings.TrimSpace(strings.Trim(strings.ReplaceAll(price, "万", ""), "¥"))
		if f, err := strconv.ParseFloat(num, 64); err == nil {
			return strconv.FormatFloat(f*10000, 'f', 0, 64)
		}
	}
	return strings.TrimPrefix(price, "¥")
}

func fishTags(tags gjson.Result) []string {
	var out []string
	tags.ForEach(func(_, group gjson.Result) bool {
		for _, t := range group.Get("tagList").Array() {
			if c := strings.TrimSpace(t.Get("data.content").String()); c != "" {
				out = append(out, c)
			}
		}
		return true
	})
	return out
}

// ParseDetail extracts the item detail from a detail API response body. A
// challenged response sets RiskSignal and leaves OK false.
func ParseDetail(body []byte) (model.ItemDetail, error) {
	if !gjson.ValidBytes(body) {
		return model.ItemDetail{}, fmt.Errorf("detail response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if code := riskCode(root); code != "" {
		return model.ItemDetail{RiskSignal: code}, nil
	}

	item := root.Get("data.itemDO")
	seller := root.Get("data.sellerDO")
	if !item.Exists() {
		return model.ItemDetail{}, nil
	}

	d := model.ItemDetail{
		OK:              true,
		SellerID:        seller.Get("sellerId").String(),
		WantCount:       optInt(item.Get("wantCnt")),
		ViewCount:       optInt(item.Get("browseCnt")),
		Description:     cleanText(item.Get("desc").String()),
		ZhimaCredit:     seller.Get("zhimaLevelInfo.levelName").String(),
		RegistrationAge: FormatRegistrationDays(int(seller.Get("userRegDay").Int())),
	}
	for _, img := range item.Get("imageInfos").Array() {
		if u := img.Get("url").String(); u != "" {
			d.ImageURLs = append(d.ImageURLs, u)
		}
	}
	return d, nil
}

// optInt returns nil for an absent or null field.
func optInt(r gjson.Result) *int {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := int(r.Int())
	return &v
}

func riskCode(root gjson.Result) string {
	for _, ret := range root.Get("ret").Array() {
		s := ret.String()
		for _, code := range riskCodes {
			if strings.Contains(s, code) {
				return code
			}
		}
	}
	return ""
}

// FormatRegistrationDays renders an account age in years and months.
func FormatRegistrationDays(days int) string {
	if days <= 0 {
		return "unknown"
	}
	years, months := days/365, (days%365)/30
	switch {
	case years > 0 && months > 0:
		return fmt.Sprintf("%d years %d months", years, months)
	case years > 0:
		return fmt.Sprintf("%d years", years)
	case months > 0:
		return fmt.Sprintf("%d months", months)
	}
	return fmt.Sprintf("%d days", days)
}

// ParseProfileHead extracts the seller summary from the profile head response.
func ParseProfileHead(body []byte) (model.SellerProfile, error) {
	if !gjson.ValidBytes(body) {
		return model.SellerProfile{}, fmt.Errorf("profile head response is not valid JSON")
	}
	m := gjson.GetBytes(body, "data.module")
	return model.SellerProfile{
		ID:            m.Get("base.userId").String(),
		Nick:          m.Get("base.displayName").String(),
		Signature:     cleanText(m.Get("base.introduction").String()),
		FollowerCount: atoi(m.Get("social.followers").String()),
		ItemCount:     atoi(m.Get("tabs.item.number").String()),
		SoldCount:     atoi(m.Get("social.soldCount").String()),
	}, nil
}

// parseSellerItems converts item-list cards.
func parseSellerItems(cards []gjson.Result) []model.SellerItem {
	out := make([]model.SellerItem, 0, len(cards))
	for _, c := range cards {
		d := c.Get("cardData")
		status := "on_sale"
		if d.Get("itemStatus").Int() == 1 {
			status = "sold"
		}
		out = append(out, model.SellerItem{
			ID:     d.Get("id").String(),
			Title:  cleanText(d.Get("title").String()),
			Price:  d.Get("priceInfo.price").String(),
			Status: status,
		})
	}
	return out
}

// parseRatings converts rating-list cards. The first rate tag says whether the
// rating was received as seller or as buyer.
func parseRatings(cards []gjson.Result) []model.Rating {
	out := make([]model.Rating, 0, len(cards))
	for _, c := range cards {
		d := c.Get("cardData")
		role := "buyer"
		if strings.Contains(d.Get("rateTagList.0.text").String(), "卖家") {
			role = "seller"
		}
		out = append(out, model.Rating{
			Role:      role,
			Score:     int(d.Get("rate").Int()),
			Text:      cleanText(d.Get("feedback").String()),
			RaterNick: d.Get("raterUserNick").String(),
			CreatedAt: d.Get("gmtCreate").String(),
		})
	}
	return out
}

// Reputation returns the positive-rating share as seller and as buyer,
// formatted as percentages, or "N/A" when there are no ratings in that role.
func Reputation(ratings []model.Rating) (seller, buyer string) {
	var sTotal, sGood, bTotal, bGood int
	for _, r := range ratings {
		if r.Role == "seller" {
			sTotal++
			if r.Score == 1 {
				sGood++
			}
		} else {
			bTotal++
			if r.Score == 1 {
				bGood++
			}
		}
	}
	return percent(sGood, sTotal), percent(bGood, bTotal)
}

func percent(n, total int) string {
	if total == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", float64(n)*100/float64(total))
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
