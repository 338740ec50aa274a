package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecision_MatchedKeywordsAlwaysArray(t *testing.T) {
	tests := []struct {
		name string
		d    Decision
		want string
	}{
		{name: "nil", d: Decision{Source: SourceKeyword}, want: `"matched_keywords":[]`},
		{name: "error decision", d: ErrorDecision(SourceAI, errors.New("boom")), want: `"matched_keywords":[]`},
		{name: "hits", d: Decision{MatchedKeywords: []string{"a7m4"}}, want: `"matched_keywords":["a7m4"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(Record{Decision: tt.d})
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(string(b), tt.want) {
				t.Errorf("json = %s, want it to contain %s", b, tt.want)
			}
		})
	}
}

func TestItemDetail_ApplyKeepsMissingCounters(t *testing.T) {
	want := 9
	item := ListingItem{WantCount: 4, ViewCount: 120}

	got := ItemDetail{WantCount: &want}.Apply(item)
	if got.WantCount != 9 || got.ViewCount != 120 {
		t.Errorf("counters = %d/%d, want 9/120", got.WantCount, got.ViewCount)
	}
}
