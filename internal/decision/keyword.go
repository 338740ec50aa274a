package decision

import (
	"fmt"
	"strings"

	"github.com/amishk599/idlewatch/internal/model"
)

const (
	reasonEmptyText     = "searchable text is empty; keyword rules cannot run"
	reasonNoKeywords    = "no keyword rules configured"
	reasonNoMatch       = "no keyword matched"
	reasonMatchedFormat = "matched %d keyword(s): %s"
)

// Normalize lower-cases s and collapses every run of whitespace to one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeKeywords normalizes each keyword, drops blanks and duplicates, and
// keeps first-seen order.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		n := Normalize(kw)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Evaluate classifies text against keywords with case-insensitive substring
// OR-matching. Matched keywords are reported in normalized-keyword order.
func Evaluate(keywords []string, text string) model.Decision {
	d := model.Decision{Source: model.SourceKeyword}

	normText := Normalize(text)
	if normText == "" {
		d.Reason = reasonEmptyText
		return d
	}

	normKeywords := NormalizeKeywords(keywords)
	if len(normKeywords) == 0 {
		d.Reason = reasonNoKeywords
		return d
	}

	var matched []string
	for _, kw := range normKeywords {
		if strings.Contains(normText, kw) {
			matched = append(matched, kw)
		}
	}

	if len(matched) == 0 {
		d.Reason = reasonNoMatch
		return d
	}

	d.IsRecommended = true
	d.MatchedKeywords = matched
	d.KeywordHitCount = len(matched)
	d.Reason = fmt.Sprintf(reasonMatchedFormat, len(matched), strings.Join(matched, ", "))
	return d
}
