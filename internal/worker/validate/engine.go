// Package validate は記事候補を並列に取得し、公開日に基づいて判定する。
package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/resolver"
)

// PageFetcher は記事ページの取得インターフェース。
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// WrapperResolver はラッパーURLの解決インターフェース。
type WrapperResolver interface {
	IsWrapper(rawURL string) bool
	Resolve(ctx context.Context, rawURL string) (resolver.Resolution, error)
}

// SourceInferrer は最終URLから媒体名を推定する。
type SourceInferrer func(rawURL string) string

// Config は検証エンジンの設定。
type Config struct {
	MaxAgeHours int // これを超える経過時間は stale
	Workers     int // 同時に検証する候補数
}

// Engine は候補の検証を行う。
// 候補ごとの失敗は判定結果に変換され、他の候補の処理には影響しない。
type Engine struct {
	fetcher     PageFetcher
	resolver    WrapperResolver
	cascade     *Cascade
	analyzer    *ContentAnalyzer
	inferSource SourceInferrer
	maxAgeHours int
	workers     int
	logger      *slog.Logger
}

// NewEngine はEngineの新しいインスタンスを生成する。
// Workersが0以下の場合はデフォルト値8を使用する。
func NewEngine(
	fetcher PageFetcher,
	wrappers WrapperResolver,
	cascade *Cascade,
	analyzer *ContentAnalyzer,
	inferSource SourceInferrer,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cascade == nil {
		cascade = DefaultCascade()
	}
	return &Engine{
		fetcher:     fetcher,
		resolver:    wrappers,
		cascade:     cascade,
		analyzer:    analyzer,
		inferSource: inferSource,
		maxAgeHours: cfg.MaxAgeHours,
		workers:     cfg.Workers,
		logger:      logger,
	}
}

// ValidateAll は全候補を並列に検証し、判定ごとに振り分ける。
// semaphoreパターンで同時実行数を制限する。各バケット内は候補の発見順に並ぶ。
func (e *Engine) ValidateAll(ctx context.Context, candidates []model.Candidate, deliveryTime time.Time) model.Buckets {
	start := time.Now()

	e.logger.Info("記事検証を開始します",
		slog.Int("candidate_count", len(candidates)),
		slog.Int("workers", e.workers),
	)

	results := make([]model.ValidationResult, 0, len(candidates))
	var mu sync.Mutex

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	for _, c := range candidates {
		wg.Add(1)
		sem <- struct{}{}

		go func(c model.Candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			res := e.validateSafely(ctx, c, deliveryTime)

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(c)
	}

	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Candidate.Index < results[j].Candidate.Index
	})

	var buckets model.Buckets
	for _, r := range results {
		switch r.Verdict {
		case model.VerdictValid:
			buckets.Valid = append(buckets.Valid, r)
		case model.VerdictStale:
			buckets.Stale = append(buckets.Stale, r)
		case model.VerdictUnverified:
			buckets.Unverified = append(buckets.Unverified, r)
		default:
			buckets.Error = append(buckets.Error, r)
		}
	}

	e.logger.Info("記事検証が完了しました",
		slog.Int("valid", len(buckets.Valid)),
		slog.Int("stale", len(buckets.Stale)),
		slog.Int("unverified", len(buckets.Unverified)),
		slog.Int("error", len(buckets.Error)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return buckets
}

// validateSafely はpanicをその候補のinternalエラーとして記録する。
func (e *Engine) validateSafely(ctx context.Context, c model.Candidate, deliveryTime time.Time) (res model.ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("候補の検証中にpanicが発生しました",
				slog.String("url", c.URL),
				slog.Any("panic", r),
			)
			res = model.ValidationResult{
				Candidate: c,
				Headline:  c.Headline,
				Source:    c.Source,
				Verdict:   model.VerdictError,
				ErrorKind: model.ErrorKindInternal,
				Reason:    fmt.Sprintf("internal error: %v", r),
			}
		}
	}()
	return e.Validate(ctx, c, deliveryTime)
}

// Validate は1候補を検証する。
// ラッパー解決、取得、公開日抽出、検索日付へのフォールバック、経過時間判定の順に行う。
func (e *Engine) Validate(ctx context.Context, c model.Candidate, deliveryTime time.Time) model.ValidationResult {
	res := model.ValidationResult{
		Candidate: c,
		Headline:  c.Headline,
		Source:    c.Source,
	}

	target := c.URL
	if e.resolver != nil && e.resolver.IsWrapper(target) {
		resolution, err := e.resolver.Resolve(ctx, target)
		if err != nil {
			e.logger.Warn("ラッパーURLを解決できませんでした",
				slog.String("url", c.URL),
				slog.String("error", err.Error()),
			)
			res.Verdict = model.VerdictError
			res.ErrorKind = model.ErrorKindResolution
			res.Reason = err.Error()
			return res
		}
		target = resolution.URL
		res.Resolution = resolution.Strategy
	}
	res.ResolvedURL = target

	start := time.Now()
	page, err := e.fetcher.Fetch(ctx, target)
	res.FetchLatency = time.Since(start)
	if err != nil {
		e.logger.Warn("記事の取得に失敗しました",
			slog.String("url", target),
			slog.String("error", err.Error()),
		)
		var statusErr *model.StatusError
		if errors.As(err, &statusErr) {
			res.HTTPStatus = statusErr.StatusCode
		}
		res.Verdict = model.VerdictError
		res.ErrorKind = model.ErrorKindTransport
		res.Reason = err.Error()
		return res
	}
	res.ResolvedURL = page.URL
	res.HTTPStatus = page.StatusCode

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		res.Verdict = model.VerdictError
		res.ErrorKind = model.ErrorKindInternal
		res.Reason = fmt.Sprintf("parse page: %v", err)
		return res
	}

	if res.Headline == "" {
		res.Headline = headlineFallback(doc)
	}
	if (res.Source == "" || res.Source == "Unknown") && e.inferSource != nil {
		res.Source = e.inferSource(page.URL)
	}

	published, method, found := e.cascade.Extract(doc, deliveryTime)
	hinted := false
	if !found && c.DateHint != "" {
		if published, found = ParseHint(c.DateHint, deliveryTime); found {
			method = model.DateMethodSearchHint
			hinted = true
		}
	}

	if e.analyzer != nil {
		analysis := e.analyzer.Analyze(doc, page.URL, page.Body)
		res.ReadTimeMin = analysis.ReadTimeMin
		res.Paywalled = analysis.Paywalled
		res.BodyText = analysis.BodyText
	}

	if !found {
		res.Verdict = model.VerdictUnverified
		res.Reason = "Could not extract publication date"
		return res
	}

	age, future := AgeHours(published, deliveryTime)
	res.PublishedAt = published
	res.AgeHours = age
	res.FutureDated = future
	res.DateMethod = method

	if age <= e.maxAgeHours {
		res.Verdict = model.VerdictValid
		return res
	}

	res.Verdict = model.VerdictStale
	res.Reason = fmt.Sprintf("Article is %d hours old (max %d)", age, e.maxAgeHours)
	if hinted {
		res.Reason += " [search date fallback]"
	}
	return res
}

// headlineFallback は候補に見出しがない場合にページから見出しを得る。
func headlineFallback(doc *goquery.Document) string {
	if h1 := doc.Find("h1").First(); h1.Length() > 0 {
		if text := normalizeSpace(h1.Text()); text != "" {
			return text
		}
	}
	og := doc.Find(`meta[property="og:title"]`).First()
	if content := normalizeSpace(og.AttrOr("content", "")); content != "" {
		return content
	}
	return "Unknown"
}
