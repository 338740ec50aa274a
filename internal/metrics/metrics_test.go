package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/amishk599/idlewatch/internal/model"
	"github.com/amishk599/idlewatch/internal/retry"
	"github.com/amishk599/idlewatch/internal/rotation"
)

func TestCollectorCounts(t *testing.T) {
	c, err := NewCollector()
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.AttemptFinished("cams", retry.OutcomeRiskControl)
	c.AttemptFinished("cams", retry.OutcomeSucceeded)
	c.ResourceMarkedBad("cams", rotation.KindAccount)
	c.ItemProcessed("cams")
	c.ItemProcessed("cams")
	c.Decided("cams", model.Decision{Source: "keyword", IsRecommended: true})
	c.RiskDetected("cams", "FAIL_SYS_USER_VALIDATE")

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"risk attempts", testutil.ToFloat64(c.attempts.WithLabelValues("cams", retry.OutcomeRiskControl)), 1},
		{"items", testutil.ToFloat64(c.itemsProcessed.WithLabelValues("cams")), 2},
		{"decisions", testutil.ToFloat64(c.decisions.WithLabelValues("cams", "keyword", "true")), 1},
		{"marked bad", testutil.ToFloat64(c.markedBad.WithLabelValues("cams", string(rotation.KindAccount))), 1},
		{"risk events", testutil.ToFloat64(c.riskEvents.WithLabelValues("cams", "FAIL_SYS_USER_VALIDATE")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	c, err := NewCollector()
	if err != nil {
		t.Fatal(err)
	}
	c.ItemProcessed("cams")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `idlewatch_items_processed_total{task="cams"} 1`) {
		t.Errorf("metric missing from exposition:\n%s", body)
	}
}
