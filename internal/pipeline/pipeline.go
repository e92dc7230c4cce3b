// Package pipeline は1回の記事選定実行を組み立てる。
// 配信時刻を1度だけ確定し、収集、検証、選定、投稿収集、監査記録の書き出しまでを順に行う。
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsbrief/internal/audit"
	"github.com/hitoshi/newsbrief/internal/catalog"
	"github.com/hitoshi/newsbrief/internal/discovery"
	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/recency"
)

// Discoverer は候補の収集インターフェース。
type Discoverer interface {
	Collect(ctx context.Context) discovery.Discovery
}

// Validator は候補の並列検証インターフェース。
type Validator interface {
	ValidateAll(ctx context.Context, candidates []model.Candidate, deliveryTime time.Time) model.Buckets
}

// ArticleSelector は有効な記事のセクション振り分けインターフェース。
type ArticleSelector interface {
	Select(valid []model.ValidationResult) model.Selection
}

// SocialSweeper は投稿収集のインターフェース。
type SocialSweeper interface {
	Sweep(ctx context.Context, anchor time.Time) recency.Sweep
}

// OutputWriter は監査記録と受け渡しデータの書き出しインターフェース。
type OutputWriter interface {
	Write(record audit.Record, handoff audit.Handoff) (audit.Paths, error)
}

// RunStore は実行履歴の保存インターフェース。
type RunStore interface {
	Save(ctx context.Context, run *model.Run, verdicts []model.RunVerdict) error
}

// MetricsRecorder は実行結果のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordValidation(b model.Buckets)
	RecordSelection(sel model.Selection)
	RecordRunDuration(duration time.Duration)
}

// Deps はパイプラインの依存。SweeperとStoreとMetricsは省略できる。
type Deps struct {
	Discoverer Discoverer
	Validator  Validator
	Selector   ArticleSelector
	Sweeper    SocialSweeper
	Writer     OutputWriter
	Store      RunStore
	Metrics    MetricsRecorder
	Tally      audit.TierTally
}

// Config はパイプラインの設定。
type Config struct {
	MaxAgeHours int
	Mandatory   []catalog.MandatorySource
}

// Result は1回の実行の成果物。
type Result struct {
	RunID        string
	DeliveryTime time.Time
	Record       audit.Record
	Handoff      audit.Handoff
	Paths        audit.Paths
	Persisted    bool
}

// Pipeline は1回の実行を組み立てる。
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New はPipelineを生成する。
func New(deps Deps, cfg Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// Run はパイプラインを1回実行する。
// 候補単位の失敗では失敗せず、監査記録を書き出せなかった場合のみエラーを返す。
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	startedAt := p.now()
	deliveryTime := startedAt.UTC()
	runID := uuid.NewString()
	logger := p.logger.With(slog.String("run_id", runID))

	logger.Info("パイプラインを開始します",
		slog.String("delivery_time", deliveryTime.Format(time.RFC3339)),
		slog.Int("max_age_hours", p.cfg.MaxAgeHours),
	)

	disc := p.deps.Discoverer.Collect(ctx)
	buckets := p.deps.Validator.ValidateAll(ctx, disc.Candidates, deliveryTime)
	selection := p.deps.Selector.Select(buckets.Valid)

	var sweep recency.Sweep
	if p.deps.Sweeper != nil {
		sweep = p.deps.Sweeper.Sweep(ctx, deliveryTime)
	}

	acc := audit.NewAccumulator(runID, deliveryTime, p.cfg.MaxAgeHours, p.deps.Tally, p.cfg.Mandatory)
	acc.RecordDiscovery(disc.Stats)
	acc.RecordValidation(buckets)
	acc.RecordSelection(selection)
	acc.RecordSocial(sweep)

	record := acc.Build()
	handoff := acc.Handoff()

	paths, err := p.deps.Writer.Write(record, handoff)
	if err != nil {
		logger.Error("監査記録の書き出しに失敗しました", slog.String("error", err.Error()))
		return nil, fmt.Errorf("監査記録の書き出しに失敗: %w", err)
	}

	res := &Result{
		RunID:        runID,
		DeliveryTime: deliveryTime,
		Record:       record,
		Handoff:      handoff,
		Paths:        paths,
	}

	finishedAt := p.now()

	// 履歴の保存失敗は実行の失敗にしない。ファイルは書き出し済み。
	if p.deps.Store != nil {
		run, verdicts := runFromRecord(record, paths, startedAt, finishedAt)
		if err := p.deps.Store.Save(ctx, run, verdicts); err != nil {
			logger.Error("実行履歴の保存に失敗しました", slog.String("error", err.Error()))
		} else {
			res.Persisted = true
		}
	}

	duration := finishedAt.Sub(startedAt)
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordValidation(buckets)
		p.deps.Metrics.RecordSelection(selection)
		p.deps.Metrics.RecordRunDuration(duration)
	}

	logger.Info("パイプラインが完了しました",
		slog.Int("candidates", record.Summary.TotalCandidates),
		slog.Int("valid", record.Summary.Valid),
		slog.Int("primary", record.Summary.Primary),
		slog.Int("secondary", record.Summary.Secondary),
		slog.Int("local", record.Summary.Local),
		slog.Int("social_posts", record.Summary.SocialPosts),
		slog.String("audit_path", paths.Audit),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return res, nil
}

// runFromRecord は監査記録から保存用の実行履歴と判定行を作る。
func runFromRecord(record audit.Record, paths audit.Paths, startedAt, finishedAt time.Time) (*model.Run, []model.RunVerdict) {
	s := record.Summary
	// Summaryはマップと数値のみで構成されるため失敗しない
	summary, _ := json.Marshal(s)

	run := &model.Run{
		ID:              record.RunID,
		BriefingDate:    record.BriefingDate,
		DeliveryTime:    record.DeliveryTime,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		TotalCandidates: s.TotalCandidates,
		Valid:           s.Valid,
		Stale:           s.Stale,
		Unverified:      s.Unverified,
		Error:           s.Error,
		Primary:         s.Primary,
		Secondary:       s.Secondary,
		Local:           s.Local,
		Social:          s.SocialPosts,
		AuditPath:       paths.Audit,
		BriefingPath:    paths.Briefing,
		Summary:         summary,
		CreatedAt:       finishedAt,
	}

	verdicts := make([]model.RunVerdict, 0, len(record.AgeVerification))
	for _, row := range record.AgeVerification {
		verdicts = append(verdicts, model.RunVerdict{
			URL:        row.URL,
			Headline:   row.Headline,
			Source:     row.Source,
			Section:    row.Section,
			Verdict:    row.Verdict,
			ErrorKind:  row.ErrorKind,
			Reason:     row.Reason,
			AgeHours:   row.AgeHours,
			DateMethod: row.DateMethod,
		})
	}
	return run, verdicts
}
