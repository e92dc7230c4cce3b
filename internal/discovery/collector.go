package discovery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/newsbrief/internal/catalog"
	"github.com/hitoshi/newsbrief/internal/model"
)

// FeedSource はフィードを候補に変換するインターフェース。
type FeedSource interface {
	Read(ctx context.Context, feed catalog.Feed) ([]model.Candidate, error)
}

// Config は収集対象の設定。
type Config struct {
	Feeds       []catalog.Feed
	QueryGroups []catalog.QueryGroup
	Mandatory   []catalog.MandatorySource
	SearchLimit int
	FeedWorkers int
}

// Stats は収集の統計。
type Stats struct {
	FeedCandidates     int            `json:"rss_candidates"`
	FallbackCandidates int            `json:"fallback_candidates"`
	SearchCandidates   int            `json:"search_candidates"`
	LocalCandidates    int            `json:"local_candidates"`
	FeedCounts         map[string]int `json:"feed_counts"`
	FeedErrors         []string       `json:"feed_errors,omitempty"`
	SearchErrors       int            `json:"search_errors"`
	FallbackSources    []string       `json:"fallback_sources,omitempty"`
	DuplicateURLs      int            `json:"duplicate_urls"`
	Unique             int            `json:"unique_candidates"`
}

// Discovery は収集結果。Candidates は正規化URLで重複除去済みで、Index は発見順。
type Discovery struct {
	Candidates []model.Candidate
	Stats      Stats
}

// Collector はフィード・検索・必須媒体の補完から候補を集める。
type Collector struct {
	feeds    FeedSource
	backends []SearchBackend
	cfg      Config
	logger   *slog.Logger
}

// NewCollector はCollectorを生成する。backendsは優先順に並べる。
func NewCollector(feeds FeedSource, backends []SearchBackend, cfg Config, logger *slog.Logger) *Collector {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 5
	}
	if cfg.FeedWorkers <= 0 {
		cfg.FeedWorkers = 4
	}
	return &Collector{feeds: feeds, backends: backends, cfg: cfg, logger: logger}
}

// Collect は全経路から候補を集める。個々のフィードや検索の失敗は統計に記録して続行する。
func (c *Collector) Collect(ctx context.Context) Discovery {
	start := time.Now()
	stats := Stats{FeedCounts: make(map[string]int)}

	all := c.collectFeeds(ctx, &stats)
	all = append(all, c.collectFallback(ctx, &stats)...)

	for _, g := range c.cfg.QueryGroups {
		found := c.collectGroup(ctx, g, &stats)
		if g.Local {
			stats.LocalCandidates += len(found)
		} else {
			stats.SearchCandidates += len(found)
		}
		all = append(all, found...)
	}

	unique, dropped := DedupeByURL(all)
	for i := range unique {
		unique[i].Index = i
	}
	stats.DuplicateURLs = dropped
	stats.Unique = len(unique)

	c.logger.Info("候補の収集が完了しました",
		slog.Int("feed", stats.FeedCandidates),
		slog.Int("fallback", stats.FallbackCandidates),
		slog.Int("search", stats.SearchCandidates),
		slog.Int("local", stats.LocalCandidates),
		slog.Int("duplicate_urls", dropped),
		slog.Int("unique", len(unique)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return Discovery{Candidates: unique, Stats: stats}
}

// collectFeeds はフィードを並行に取得し、設定順に連結する。
func (c *Collector) collectFeeds(ctx context.Context, stats *Stats) []model.Candidate {
	results := make([][]model.Candidate, len(c.cfg.Feeds))
	errs := make([]error, len(c.cfg.Feeds))

	sem := make(chan struct{}, c.cfg.FeedWorkers)
	var wg sync.WaitGroup
	for i, f := range c.cfg.Feeds {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, f catalog.Feed) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = c.feeds.Read(ctx, f)
		}(i, f)
	}
	wg.Wait()

	var out []model.Candidate
	for i, f := range c.cfg.Feeds {
		if errs[i] != nil {
			c.logger.Warn("フィードの取得に失敗しました",
				slog.String("feed", f.Name),
				slog.String("url", f.URL),
				slog.String("error", errs[i].Error()),
			)
			stats.FeedErrors = append(stats.FeedErrors, f.Name)
			stats.FeedCounts[f.Name] = 0
			continue
		}
		stats.FeedCounts[f.Name] = len(results[i])
		stats.FeedCandidates += len(results[i])
		out = append(out, results[i]...)
	}
	return out
}

// collectFallback はフィードから1件も得られなかった必須媒体を site: 検索で補う。
func (c *Collector) collectFallback(ctx context.Context, stats *Stats) []model.Candidate {
	var out []model.Candidate
	for _, m := range c.cfg.Mandatory {
		if stats.FeedCounts[m.Name] > 0 || m.FallbackQuery == "" {
			continue
		}
		c.logger.Info("必須媒体をフォールバック検索で補完します",
			slog.String("source", m.Name),
			slog.String("query", m.FallbackQuery),
		)
		stats.FallbackSources = append(stats.FallbackSources, m.Name)

		results := c.search(ctx, m.FallbackQuery, stats)
		for _, r := range results {
			if r.URL == "" || r.Title == "" {
				continue
			}
			out = append(out, model.Candidate{
				URL:      r.URL,
				Headline: r.Title,
				Source:   m.Name,
				Origin:   model.OriginFallback,
				Feed:     m.FallbackQuery,
				DateHint: r.Date,
			})
		}
	}
	stats.FallbackCandidates = len(out)
	return out
}

func (c *Collector) collectGroup(ctx context.Context, g catalog.QueryGroup, stats *Stats) []model.Candidate {
	var out []model.Candidate
	for _, q := range g.Queries {
		for _, r := range c.search(ctx, q, stats) {
			if r.URL == "" || strings.TrimSpace(r.Title) == "" {
				continue
			}
			out = append(out, model.Candidate{
				URL:      r.URL,
				Headline: r.Title,
				Source:   r.Source,
				Origin:   model.OriginSearch,
				Feed:     q,
				DateHint: r.Date,
				Local:    g.Local,
			})
		}
	}
	c.logger.Debug("検索グループを処理しました",
		slog.String("group", g.Name),
		slog.Int("results", len(out)),
	)
	return out
}

// search は優先順にバックエンドを試し、最初に結果を返したものを採用する。
func (c *Collector) search(ctx context.Context, query string, stats *Stats) []model.SearchResult {
	for _, b := range c.backends {
		if ctx.Err() != nil {
			return nil
		}
		results, err := b.Search(ctx, query, c.cfg.SearchLimit)
		if err != nil {
			stats.SearchErrors++
			c.logger.Warn("検索に失敗しました",
				slog.String("backend", b.Name()),
				slog.String("query", query),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(results) > 0 {
			return results
		}
	}
	return nil
}
