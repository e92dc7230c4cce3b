package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/newsbrief/internal/catalog"
	"github.com/hitoshi/newsbrief/internal/model"
)

// AggregatorResolver はアグリゲーターのページURLを元記事URLに置き換える。
type AggregatorResolver interface {
	Matches(rawURL string) bool
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// TagStripper は見出しに含まれるマークアップを取り除く。
type TagStripper interface {
	StripTags(raw string) string
}

// FeedReader はRSS/Atomフィードを取得して候補に変換する。
type FeedReader struct {
	ssrfGuard   SSRFValidator
	aggregator  AggregatorResolver
	stripper    TagStripper
	inferSource func(string) string
	opts        BackendOptions
	limit       int
	logger      *slog.Logger
}

// NewFeedReader はFeedReaderを生成する。limitはフィードごとの最大件数。
func NewFeedReader(
	ssrfGuard SSRFValidator,
	aggregator AggregatorResolver,
	stripper TagStripper,
	inferSource func(string) string,
	opts BackendOptions,
	limit int,
	logger *slog.Logger,
) *FeedReader {
	if limit <= 0 {
		limit = 10
	}
	return &FeedReader{
		ssrfGuard:   ssrfGuard,
		aggregator:  aggregator,
		stripper:    stripper,
		inferSource: inferSource,
		opts:        opts.withDefaults(""),
		limit:       limit,
		logger:      logger,
	}
}

// Read はフィードを取得し、先頭から最大limit件の候補を返す。
// URLまたは見出しのないエントリは飛ばす。
func (r *FeedReader) Read(ctx context.Context, feed catalog.Feed) ([]model.Candidate, error) {
	start := time.Now()
	body, err := fetchBody(ctx, r.ssrfGuard, r.opts, feed.URL,
		"application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if err != nil {
		return nil, err
	}

	parser := gofeed.NewParser()
	parsed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	var cands []model.Candidate
	for _, item := range parsed.Items {
		if len(cands) >= r.limit {
			break
		}
		if item == nil {
			continue
		}
		link := strings.TrimSpace(item.Link)
		headline := item.Title
		if strings.Contains(headline, "<") {
			headline = r.stripper.StripTags(headline)
		}
		headline = strings.TrimSpace(headline)
		if link == "" || headline == "" {
			continue
		}

		c := model.Candidate{
			URL:      link,
			Headline: headline,
			Source:   feed.Name,
			Origin:   model.OriginFeed,
			Feed:     feed.Name,
			DateHint: item.Published,
		}
		if c.DateHint == "" {
			c.DateHint = item.Updated
		}
		if r.aggregator != nil && r.aggregator.Matches(link) {
			r.resolveAggregator(ctx, &c)
		}
		cands = append(cands, c)
	}

	r.logger.Info("フィードを取得しました",
		slog.String("feed", feed.Name),
		slog.Int("items", len(cands)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return cands, nil
}

// resolveAggregator は元記事URLが得られた場合に候補のURLと媒体名を置き換える。
// 失敗した場合はアグリゲーターのURLのまま残す。
func (r *FeedReader) resolveAggregator(ctx context.Context, c *model.Candidate) {
	real, err := r.aggregator.Resolve(ctx, c.URL)
	if err != nil || real == "" {
		msg := "元記事リンクが見つかりません"
		if err != nil {
			msg = err.Error()
		}
		r.logger.Warn("アグリゲーターURLの解決に失敗しました",
			slog.String("url", c.URL),
			slog.String("error", msg),
		)
		return
	}
	c.URL = real
	c.Source = r.inferSource(real)
}
