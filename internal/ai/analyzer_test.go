package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/amishk599/idlewatch/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockProvider is a stub LLMProvider that replays responses in order.
type mockProvider struct {
	responses []string
	errs      []error
	prompts   []string
	calls     int
}

func (m *mockProvider) Complete(_ context.Context, prompt string, _ []string) (string, error) {
	i := m.calls
	m.calls++
	m.prompts = append(m.prompts, prompt)
	var resp string
	var err error
	if i < len(m.responses) {
		resp = m.responses[i]
	}
	if i < len(m.errs) {
		err = m.errs[i]
	}
	return resp, err
}

func newTestOracle(p LLMProvider) *Oracle {
	return NewOracle(p, ItemMessageTemplate, 2, time.Millisecond, discardLogger())
}

func sampleRecord() model.Record {
	return model.Record{
		Item:   model.ListingItem{ID: "1", Title: "Sony A7M4", Price: "9800"},
		Seller: model.SellerProfile{ID: "s1", Nick: "camera_guy"},
	}
}

func TestAnalyze_ParsesVerdict(t *testing.T) {
	p := &mockProvider{responses: []string{`{"is_recommended": true, "reason": "fair price", "risk_tags": []}`}}
	d, err := newTestOracle(p).Analyze(context.Background(), sampleRecord(), nil, "buyer wants a7m4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsRecommended || d.Reason != "fair price" || d.Source != model.SourceAI {
		t.Fatalf("unexpected decision %+v", d)
	}
	if _, ok := d.Details["risk_tags"]; !ok {
		t.Error("expected extra fields kept in details")
	}
	if !strings.Contains(p.prompts[0], "buyer wants a7m4") || !strings.Contains(p.prompts[0], "camera_guy") {
		t.Errorf("prompt missing task criteria or listing: %q", p.prompts[0])
	}
}

func TestAnalyze_StripsCodeFence(t *testing.T) {
	p := &mockProvider{responses: []string{"```json\n{\"is_recommended\": false, \"reason\": \"too pricey\"}\n```"}}
	d, err := newTestOracle(p).Analyze(context.Background(), sampleRecord(), nil, "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.IsRecommended || d.Reason != "too pricey" {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestAnalyze_MissingVerdictField(t *testing.T) {
	p := &mockProvider{responses: []string{`{"reason": "?"}`}}
	if _, err := newTestOracle(p).Analyze(context.Background(), sampleRecord(), nil, "p"); err == nil {
		t.Fatal("expected error for verdict without is_recommended")
	}
}

func TestAnalyze_RetriesTransientErrors(t *testing.T) {
	p := &mockProvider{
		responses: []string{"", `{"is_recommended": true, "reason": "ok"}`},
		errs:      []error{&model.HTTPError{StatusCode: 503}, nil},
	}
	d, err := newTestOracle(p).Analyze(context.Background(), sampleRecord(), nil, "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsRecommended || p.calls != 2 {
		t.Fatalf("expected success on second call, got %+v after %d calls", d, p.calls)
	}
}

func TestAnalyze_DoesNotRetryClientErrors(t *testing.T) {
	p := &mockProvider{errs: []error{&model.HTTPError{StatusCode: 401}}}
	_, err := newTestOracle(p).Analyze(context.Background(), sampleRecord(), nil, "p")
	if err == nil {
		t.Fatal("expected error")
	}
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || p.calls != 1 {
		t.Fatalf("expected single call with HTTP error, got %v after %d calls", err, p.calls)
	}
}

func TestComposePrompt(t *testing.T) {
	if got := ComposePrompt("A {{CRITERIA_SECTION}} B", "  want mint  "); got != "A want mint B" {
		t.Errorf("got %q", got)
	}
	if got := ComposePrompt("base", "crit"); got != "base\n\ncrit" {
		t.Errorf("got %q", got)
	}
	if got := ComposePrompt("base {{CRITERIA_SECTION}}", " "); got != "" {
		t.Errorf("expected empty prompt without criteria, got %q", got)
	}
}

func TestDefaultBasePromptHasPlaceholder(t *testing.T) {
	if !strings.Contains(DefaultBasePrompt(), criteriaPlaceholder) {
		t.Fatal("embedded base prompt lacks criteria placeholder")
	}
}
