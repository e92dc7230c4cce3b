package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/newsbrief/internal/model"
)

// scrape はワーカーのメトリクスサーバーにリクエストを送り、ステータスと本文を返す。
func scrape(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(w.Result().Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return w.Code, string(body)
}

// TestSetupMetricsRoute_ExposesLastRun はワーカーの/metricsで直近の実行結果が読めることを検証する。
func TestSetupMetricsRoute_ExposesLastRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRunDuration(75 * time.Second)
	c.RecordSelection(model.Selection{Primary: make([]model.ScoredItem, 6), Local: make([]model.ScoredItem, 1)})

	status, body := scrape(t, SetupMetricsRoute(reg), "/metrics")

	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	for _, want := range []string{
		"newsbrief_run_duration_seconds_count 1",
		`newsbrief_selected_items{section="primary"} 6`,
		`newsbrief_selected_items{section="local"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body should contain %q", want)
		}
	}
}

// TestSetupMetricsRoute_OnlyServesMetricsPath はメトリクスポートで/metrics以外を公開しないことを検証する。
func TestSetupMetricsRoute_OnlyServesMetricsPath(t *testing.T) {
	h := SetupMetricsRoute(prometheus.NewRegistry())

	for _, path := range []string{"/", "/runs", "/health"} {
		if status, _ := scrape(t, h, path); status != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, status)
		}
	}
}
