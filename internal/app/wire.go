package app

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/newsbrief/internal/audit"
	"github.com/hitoshi/newsbrief/internal/catalog"
	"github.com/hitoshi/newsbrief/internal/config"
	"github.com/hitoshi/newsbrief/internal/discovery"
	"github.com/hitoshi/newsbrief/internal/metrics"
	"github.com/hitoshi/newsbrief/internal/pipeline"
	"github.com/hitoshi/newsbrief/internal/recency"
	"github.com/hitoshi/newsbrief/internal/resolver"
	"github.com/hitoshi/newsbrief/internal/security"
	"github.com/hitoshi/newsbrief/internal/selection"
	"github.com/hitoshi/newsbrief/internal/similarity"
	"github.com/hitoshi/newsbrief/internal/tier"
	"github.com/hitoshi/newsbrief/internal/worker/validate"
)

// components はパイプライン1本分の組み立て結果。
type components struct {
	Catalog  *catalog.Catalog
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Collector
}

// searchBackends は検索バックエンド一式。
type searchBackends struct {
	News   *discovery.Retrying
	Web    *discovery.Retrying
	Social *discovery.Retrying
}

// newSearchBackends は検索バックエンドを組み立てる。
// 同じ外部エンドポイントへの呼び出しは1つのMeteredを共有し、実行全体で直列化する。
// 再試行の各試行も呼び出し間隔の制御を受ける。
func newSearchBackends(cfg *config.Config, guard *security.Guard, opts discovery.BackendOptions, collector *metrics.Collector, logger *slog.Logger) searchBackends {
	retry := discovery.DefaultRetryPolicy()
	web := discovery.NewMetered(discovery.NewWebBackend(guard, opts), cfg.WebSearchInterval, collector)
	return searchBackends{
		News:   discovery.NewRetrying(discovery.NewMetered(discovery.NewGoogleNewsBackend(guard, opts), cfg.NewsSearchInterval, collector), retry, logger),
		Web:    discovery.NewRetrying(web, retry, logger),
		Social: discovery.NewRetrying(web, retry, logger),
	}
}

// buildPipeline は設定と参照テーブルから全段階をワイヤリングする。
// storeがnilの場合は実行履歴を保存しない。
func buildPipeline(cfg *config.Config, store pipeline.RunStore, reg prometheus.Registerer, logger *slog.Logger) (*components, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	collector := metrics.NewCollector(reg)
	guard := security.NewGuard()

	backendOpts := discovery.BackendOptions{
		UserAgent:   cfg.UserAgent,
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
	}
	search := newSearchBackends(cfg, guard, backendOpts, collector, logger)

	names := discovery.NewSourceNames(cat.SourceDomains)
	aggregator := resolver.NewAggregatorPage(guard, cat.Wrappers.AggregatorHosts, cfg.UserAgent, cfg.FetchTimeout, logger)
	feeds := discovery.NewFeedReader(guard, aggregator, security.NewTextSanitizer(), names.Infer, backendOpts, cat.FeedLimit, logger)

	discoverer := discovery.NewCollector(feeds, []discovery.SearchBackend{search.News, search.Web}, discovery.Config{
		Feeds:       cat.Feeds,
		QueryGroups: cat.QueryGroups,
		Mandatory:   cat.Mandatory,
		SearchLimit: cat.SearchLimit,
	}, logger)

	wrappers := resolver.NewResolver(guard, resolver.Options{
		WrapperHosts: cat.Wrappers.Hosts,
		ConsentHosts: cat.Wrappers.ConsentHosts,
		Referer:      cat.Wrappers.Referer,
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.FetchTimeout,
		MaxBodySize:  cfg.FetchMaxSize,
	}, logger)

	validator := validate.NewEngine(
		validate.NewHTTPFetcher(guard, cfg.UserAgent, cfg.FetchTimeout, cfg.FetchMaxSize),
		wrappers,
		validate.DefaultCascade(),
		validate.NewContentAnalyzer(cat.Paywall),
		names.Infer,
		validate.Config{MaxAgeHours: cfg.MaxAgeHours, Workers: cfg.ValidateWorkers},
		logger,
	)

	tiers := tier.NewClassifier(cat.Tiers, cat.DomainRemaps)
	selCfg := selection.DefaultConfig()
	selCfg.PrimarySize = cfg.PrimarySize
	selCfg.PrimaryPool = cfg.PrimaryPool
	selCfg.PrimarySourceCap = cfg.PrimarySourceCap
	selCfg.SecondarySize = cfg.SecondarySize
	selCfg.SecondarySourceCap = cfg.SecondarySourceCap
	selCfg.SecondaryGeoCap = cfg.SecondaryGeoCap
	selector := selection.NewSelector(
		selection.NewScorer(cat),
		similarity.NewEngine(cat.Similarity.StopWords, cat.Similarity.Aliases),
		tiers,
		selCfg,
		logger,
	)

	deps := pipeline.Deps{
		Discoverer: discoverer,
		Validator:  validator,
		Selector:   selector,
		Writer:     audit.NewFileWriter(cfg.OutputDir),
		Store:      store,
		Metrics:    collector,
		Tally:      tiers,
	}
	if len(cat.Social.Batches) > 0 {
		deps.Sweeper = recency.NewSweeper(search.Social, recency.SweepConfig{
			Batches:      cat.Social.Batches,
			Excluded:     cat.Social.ExcludedAccounts,
			MaxAge:       cfg.SocialMaxAge,
			MinTitle:     cfg.SocialMinTitle,
			MaxPosts:     cfg.SocialMaxPosts,
			MaxPerHandle: cfg.SocialMaxPerHandle,
			MaxDelta:     recency.DefaultMaxDelta,
		}, logger)
	}

	p := pipeline.New(deps, pipeline.Config{
		MaxAgeHours: cfg.MaxAgeHours,
		Mandatory:   cat.Mandatory,
	}, logger)

	return &components{Catalog: cat, Pipeline: p, Metrics: collector}, nil
}
