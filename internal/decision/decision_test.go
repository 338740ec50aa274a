package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/amishk599/idlewatch/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name        string
		keywords    []string
		text        string
		wantRec     bool
		wantMatched []string
		wantReason  string
	}{
		{
			name:        "single hit among two keywords",
			keywords:    []string{"a7m4", "佳能"},
			text:        "sony a7m4 全画幅",
			wantRec:     true,
			wantMatched: []string{"a7m4"},
			wantReason:  "matched 1 keyword(s): a7m4",
		},
		{
			name:       "empty keywords",
			keywords:   nil,
			text:       "sony a7m4",
			wantReason: "no keyword rules configured",
		},
		{
			name:       "blank keywords only",
			keywords:   []string{"  ", ""},
			text:       "sony a7m4",
			wantReason: "no keyword rules configured",
		},
		{
			name:       "empty text",
			keywords:   []string{"a7m4"},
			text:       "   \n ",
			wantReason: "searchable text is empty; keyword rules cannot run",
		},
		{
			name:       "no match",
			keywords:   []string{"nikon"},
			text:       "sony a7m4",
			wantReason: "no keyword matched",
		},
		{
			name:        "case and whitespace insensitive",
			keywords:    []string{"Full   Frame", "FULL frame"},
			text:        "Sony\tFULL\n frame body",
			wantRec:     true,
			wantMatched: []string{"full frame"},
			wantReason:  "matched 1 keyword(s): full frame",
		},
		{
			name:        "matched list follows keyword order",
			keywords:    []string{"body", "sony"},
			text:        "sony body",
			wantRec:     true,
			wantMatched: []string{"body", "sony"},
			wantReason:  "matched 2 keyword(s): body, sony",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.keywords, tt.text)
			if d.Source != model.SourceKeyword {
				t.Errorf("source = %q, want keyword", d.Source)
			}
			if d.IsRecommended != tt.wantRec {
				t.Errorf("IsRecommended = %v, want %v", d.IsRecommended, tt.wantRec)
			}
			if !reflect.DeepEqual(d.MatchedKeywords, tt.wantMatched) {
				t.Errorf("matched = %v, want %v", d.MatchedKeywords, tt.wantMatched)
			}
			if d.KeywordHitCount != len(tt.wantMatched) {
				t.Errorf("hit count = %d, want %d", d.KeywordHitCount, len(tt.wantMatched))
			}
			if d.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	kws := []string{"a7m4", "sony"}
	text := "Sony A7M4 kit"
	first := Evaluate(kws, text)
	second := Evaluate(kws, text)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated evaluation differs: %+v vs %+v", first, second)
	}
}

func TestEvaluate_OutcomeIndependentOfKeywordOrder(t *testing.T) {
	text := "sony a7m4 full frame"
	a := Evaluate([]string{"nikon", "a7m4", "frame"}, text)
	b := Evaluate([]string{"frame", "a7m4", "nikon"}, text)
	if a.IsRecommended != b.IsRecommended || a.KeywordHitCount != b.KeywordHitCount {
		t.Fatalf("outcome depends on keyword order: %+v vs %+v", a, b)
	}
}

func TestBuildSearchText(t *testing.T) {
	rec := model.Record{
		Item: model.ListingItem{
			Title:     "  Sony A7M4 ",
			Price:     "9800",
			Tags:      []string{"包邮", ""},
			WantCount: 12,
		},
		Seller: model.SellerProfile{
			Nick:    "camera_guy",
			Ratings: []model.Rating{{Role: "seller", Score: 1, Text: "fast shipping"}},
		},
	}
	text := BuildSearchText(rec)

	if !strings.HasPrefix(text, "Sony A7M4 ") {
		t.Errorf("expected title first, got %q", text)
	}
	for _, want := range []string{"9800", "包邮", "12", "camera_guy", "fast shipping"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in search text %q", want, text)
		}
	}
	if BuildSearchText(rec) != text {
		t.Error("search text is not deterministic")
	}
}

// stubOracle returns a canned decision or error and records its inputs.
type stubOracle struct {
	decision model.Decision
	err      error
	paths    []string
	calls    int
}

func (s *stubOracle) Analyze(_ context.Context, _ model.Record, paths []string, _ string) (model.Decision, error) {
	s.calls++
	s.paths = paths
	return s.decision, s.err
}

// stubImages hands back fake paths and records removals.
type stubImages struct {
	removed []string
}

func (s *stubImages) Download(_ context.Context, _, itemID string, urls []string) ([]string, error) {
	out := make([]string, len(urls))
	for i := range urls {
		out[i] = itemID + ".jpg"
	}
	return out, nil
}

func (s *stubImages) Remove(paths []string) { s.removed = append(s.removed, paths...) }

func TestRouter_KeywordMode(t *testing.T) {
	r := NewRouter(RouterConfig{Mode: model.SourceKeyword, Keywords: []string{"a7m4"}}, nil, nil, discardLogger())
	d := r.Decide(context.Background(), model.Record{Item: model.ListingItem{Title: "Sony A7M4"}})
	if !d.IsRecommended || d.Source != model.SourceKeyword {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestRouter_SkipAnalysisRecommends(t *testing.T) {
	oracle := &stubOracle{}
	r := NewRouter(RouterConfig{Mode: model.SourceAI, SkipAnalysis: true, Prompt: "p"}, oracle, nil, discardLogger())
	d := r.Decide(context.Background(), model.Record{})
	if !d.IsRecommended || d.Reason != reasonSkipped {
		t.Fatalf("unexpected decision %+v", d)
	}
	if oracle.calls != 0 {
		t.Fatal("oracle must not be called when analysis is skipped")
	}
}

func TestRouter_NoPrompt(t *testing.T) {
	r := NewRouter(RouterConfig{Mode: model.SourceAI}, &stubOracle{}, nil, discardLogger())
	d := r.Decide(context.Background(), model.Record{})
	if d.IsRecommended || d.Reason != reasonNoPrompt {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestRouter_OracleErrorDegrades(t *testing.T) {
	oracle := &stubOracle{err: errors.New("upstream 500")}
	images := &stubImages{}
	r := NewRouter(RouterConfig{Mode: model.SourceAI, Prompt: "p"}, oracle, images, discardLogger())

	rec := model.Record{Item: model.ListingItem{ID: "42", ImageURLs: []string{"https://img/1.jpg"}}}
	d := r.Decide(context.Background(), rec)

	if d.IsRecommended {
		t.Fatal("degraded decision must not recommend")
	}
	if d.Error == "" || d.Source != model.SourceAI {
		t.Fatalf("expected error decision, got %+v", d)
	}
	if len(images.removed) != 1 {
		t.Fatalf("expected staged images removed, got %v", images.removed)
	}
}

func TestRouter_OracleSuccessPassesImages(t *testing.T) {
	oracle := &stubOracle{decision: model.Decision{IsRecommended: true, Reason: "great deal"}}
	images := &stubImages{}
	r := NewRouter(RouterConfig{Mode: model.SourceAI, Prompt: "p"}, oracle, images, discardLogger())

	rec := model.Record{Item: model.ListingItem{ID: "7", ImageURLs: []string{"a", "b"}}}
	d := r.Decide(context.Background(), rec)

	if !d.IsRecommended || d.Source != model.SourceAI {
		t.Fatalf("unexpected decision %+v", d)
	}
	if len(oracle.paths) != 2 {
		t.Fatalf("expected 2 image paths passed to oracle, got %v", oracle.paths)
	}
}
