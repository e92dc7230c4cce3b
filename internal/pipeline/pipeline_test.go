package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/newsbrief/internal/audit"
	"github.com/hitoshi/newsbrief/internal/catalog"
	"github.com/hitoshi/newsbrief/internal/discovery"
	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/recency"
	"github.com/hitoshi/newsbrief/internal/tier"
)

// --- モック定義 ---

type mockDiscoverer struct {
	collectFunc func(ctx context.Context) discovery.Discovery
}

func (m *mockDiscoverer) Collect(ctx context.Context) discovery.Discovery {
	return m.collectFunc(ctx)
}

type mockValidator struct {
	mu    sync.Mutex
	times []time.Time
	fn    func(candidates []model.Candidate, deliveryTime time.Time) model.Buckets
}

func (m *mockValidator) ValidateAll(ctx context.Context, candidates []model.Candidate, deliveryTime time.Time) model.Buckets {
	m.mu.Lock()
	m.times = append(m.times, deliveryTime)
	m.mu.Unlock()
	return m.fn(candidates, deliveryTime)
}

type mockSelector struct {
	selectFunc func(valid []model.ValidationResult) model.Selection
}

func (m *mockSelector) Select(valid []model.ValidationResult) model.Selection {
	return m.selectFunc(valid)
}

type mockSweeper struct {
	anchor time.Time
	sweep  recency.Sweep
}

func (m *mockSweeper) Sweep(ctx context.Context, anchor time.Time) recency.Sweep {
	m.anchor = anchor
	return m.sweep
}

type failingWriter struct{}

func (failingWriter) Write(audit.Record, audit.Handoff) (audit.Paths, error) {
	return audit.Paths{}, errors.New("disk full")
}

type mockStore struct {
	run      *model.Run
	verdicts []model.RunVerdict
	err      error
}

func (m *mockStore) Save(ctx context.Context, run *model.Run, verdicts []model.RunVerdict) error {
	m.run = run
	m.verdicts = verdicts
	return m.err
}

type mockMetrics struct {
	buckets   model.Buckets
	selection model.Selection
	durations []time.Duration
}

func (m *mockMetrics) RecordValidation(b model.Buckets)         { m.buckets = b }
func (m *mockMetrics) RecordSelection(sel model.Selection)      { m.selection = sel }
func (m *mockMetrics) RecordRunDuration(duration time.Duration) { m.durations = append(m.durations, duration) }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var testNow = time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

func testCandidates() []model.Candidate {
	return []model.Candidate{
		{Index: 0, URL: "https://www.statnews.com/a", Headline: "Hospitals brace for Medicaid cuts", Source: "STAT News", Origin: model.OriginFeed},
		{Index: 1, URL: "https://www.reuters.com/b", Headline: "Fed holds rates steady", Source: "Reuters", Origin: model.OriginSearch},
		{Index: 2, URL: "https://example.com/old", Headline: "Old news", Source: "Example", Origin: model.OriginSearch},
	}
}

func validResult(c model.Candidate, age int) model.ValidationResult {
	return model.ValidationResult{
		Candidate:   c,
		ResolvedURL: c.URL,
		Headline:    c.Headline,
		Source:      c.Source,
		PublishedAt: testNow.Add(-time.Duration(age) * time.Hour),
		AgeHours:    age,
		DateMethod:  "meta:article:published_time",
		HTTPStatus:  200,
		Verdict:     model.VerdictValid,
		BodyText:    "Body of " + c.Headline,
	}
}

type fixture struct {
	pipeline  *Pipeline
	validator *mockValidator
	sweeper   *mockSweeper
	store     *mockStore
	metrics   *mockMetrics
	dir       string
	logs      *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	c, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}

	cands := testCandidates()
	f := &fixture{
		validator: &mockValidator{fn: func(candidates []model.Candidate, deliveryTime time.Time) model.Buckets {
			stale := validResult(candidates[2], 90)
			stale.Verdict = model.VerdictStale
			stale.Reason = "Article is 90 hours old (max 48)"
			return model.Buckets{
				Valid: []model.ValidationResult{validResult(candidates[0], 5), validResult(candidates[1], 10)},
				Stale: []model.ValidationResult{stale},
			}
		}},
		sweeper: &mockSweeper{sweep: recency.Sweep{
			Posts: []model.SocialPost{{Handle: "@simonw", StatusID: 1, URL: "https://x.com/simonw/status/1", Verdict: model.VerdictValid}},
		}},
		store:   &mockStore{},
		metrics: &mockMetrics{},
		dir:     filepath.Join(t.TempDir(), "output"),
		logs:    &bytes.Buffer{},
	}

	deps := Deps{
		Discoverer: &mockDiscoverer{collectFunc: func(ctx context.Context) discovery.Discovery {
			return discovery.Discovery{Candidates: cands, Stats: discovery.Stats{Unique: len(cands)}}
		}},
		Validator: f.validator,
		Selector: &mockSelector{selectFunc: func(valid []model.ValidationResult) model.Selection {
			return model.Selection{
				Primary:   []model.ScoredItem{{Result: valid[0], Score: 12, Category: model.CategoryHealth, Flag: "🇺🇸", Tier: 3}},
				Secondary: []model.ScoredItem{{Result: valid[1], Score: 7, Category: model.CategoryBusiness, Flag: "🇺🇸", Tier: 1, Eligible: true}},
			}
		}},
		Sweeper: f.sweeper,
		Writer:  audit.NewFileWriter(f.dir),
		Store:   f.store,
		Metrics: f.metrics,
		Tally:   tier.NewClassifier(c.Tiers, c.DomainRemaps),
	}
	f.pipeline = New(deps, Config{MaxAgeHours: 48, Mandatory: c.Mandatory}, newTestLogger(f.logs))
	f.pipeline.now = func() time.Time { return testNow }
	return f
}

func TestPipeline_Run_WritesAuditAndHandoff(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.RunID == "" || !res.DeliveryTime.Equal(testNow) {
		t.Errorf("result header = %s %v", res.RunID, res.DeliveryTime)
	}
	if filepath.Base(res.Paths.Audit) != "audit-2026-02-03.json" {
		t.Errorf("audit path = %s", res.Paths.Audit)
	}

	data, err := os.ReadFile(res.Paths.Audit)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	var rec audit.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if rec.Summary.TotalCandidates != 3 || rec.Summary.Valid != 2 || rec.Summary.Stale != 1 {
		t.Errorf("summary = %+v", rec.Summary)
	}
	if rec.Summary.Primary != 1 || rec.Summary.Secondary != 1 || rec.Summary.SocialPosts != 1 {
		t.Errorf("section counts = %+v", rec.Summary)
	}
	if rec.RunID != res.RunID {
		t.Errorf("audit run_id = %s, want %s", rec.RunID, res.RunID)
	}

	if len(res.Handoff.Primary) != 1 || res.Handoff.Primary[0].BodyText == "" {
		t.Fatalf("handoff primary = %+v", res.Handoff.Primary)
	}
	if got := res.Handoff.Primary[0].VerifiedDate; got != "Feb 3, 2026" {
		t.Errorf("primary verified_date = %q, want %q", got, "Feb 3, 2026")
	}
}

func TestPipeline_Run_SingleDeliveryTimeAnchor(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.pipeline.now = func() time.Time {
		calls++
		return testNow.Add(time.Duration(calls) * time.Minute)
	}

	res, err := f.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	anchor := testNow.Add(time.Minute)
	if !res.DeliveryTime.Equal(anchor) {
		t.Errorf("DeliveryTime = %v, want %v", res.DeliveryTime, anchor)
	}
	if len(f.validator.times) != 1 || !f.validator.times[0].Equal(anchor) {
		t.Errorf("validator anchor = %v", f.validator.times)
	}
	if !f.sweeper.anchor.Equal(anchor) {
		t.Errorf("sweeper anchor = %v", f.sweeper.anchor)
	}
	if !res.Record.DeliveryTime.Equal(anchor) {
		t.Errorf("record delivery time = %v", res.Record.DeliveryTime)
	}
}

func TestPipeline_Run_PersistsHistory(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !res.Persisted {
		t.Error("Persisted should be true")
	}
	run := f.store.run
	if run == nil {
		t.Fatal("store was not called")
	}
	if run.ID != res.RunID || run.BriefingDate != "2026-02-03" || run.Valid != 2 || run.Stale != 1 || run.Social != 1 {
		t.Errorf("run = %+v", run)
	}
	if run.AuditPath != res.Paths.Audit {
		t.Errorf("AuditPath = %s", run.AuditPath)
	}
	if !strings.Contains(string(run.Summary), `"valid":2`) {
		t.Errorf("summary JSON = %s", run.Summary)
	}
	if len(f.store.verdicts) != 3 {
		t.Fatalf("verdicts = %d, want 3", len(f.store.verdicts))
	}
	if f.store.verdicts[0].Section != audit.SectionPrimary || f.store.verdicts[2].Verdict != "stale" {
		t.Errorf("verdicts = %+v", f.store.verdicts)
	}
}

func TestPipeline_Run_StoreFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("connection refused")

	res, err := f.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run should succeed when history cannot be saved: %v", err)
	}
	if res.Persisted {
		t.Error("Persisted should be false")
	}
	if !strings.Contains(f.logs.String(), "実行履歴の保存に失敗しました") {
		t.Errorf("store failure should be logged: %s", f.logs.String())
	}
}

func TestPipeline_Run_RecordsMetrics(t *testing.T) {
	f := newFixture(t)

	if _, err := f.pipeline.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(f.metrics.buckets.Valid) != 2 || len(f.metrics.selection.Primary) != 1 || len(f.metrics.durations) != 1 {
		t.Errorf("metrics = %+v", f.metrics)
	}
}

func TestPipeline_Run_OptionalDepsMayBeNil(t *testing.T) {
	f := newFixture(t)
	f.pipeline.deps.Sweeper = nil
	f.pipeline.deps.Store = nil
	f.pipeline.deps.Metrics = nil

	res, err := f.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Persisted || res.Record.Summary.SocialPosts != 0 {
		t.Errorf("result = %+v", res.Record.Summary)
	}
}

func TestPipeline_Run_WriterFailureReturnsError(t *testing.T) {
	f := newFixture(t)
	f.pipeline.deps.Writer = failingWriter{}

	_, err := f.pipeline.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v, want wrapped writer error", err)
	}
	if f.store.run != nil {
		t.Error("history should not be saved when files were not written")
	}
}

func TestPipeline_Run_LogsRunID(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	found := false
	for _, line := range strings.Split(strings.TrimSpace(f.logs.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["msg"] == "パイプラインが完了しました" {
			found = true
			if entry["run_id"] != res.RunID {
				t.Errorf("run_id = %v, want %s", entry["run_id"], res.RunID)
			}
		}
	}
	if !found {
		t.Errorf("completion log not found: %s", f.logs.String())
	}
}
