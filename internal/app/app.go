// Package app はサブコマンドごとに依存関係を組み立てて起動する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/newsbrief/internal/config"
	"github.com/hitoshi/newsbrief/internal/database"
	"github.com/hitoshi/newsbrief/internal/handler"
	"github.com/hitoshi/newsbrief/internal/logger"
	"github.com/hitoshi/newsbrief/internal/metrics"
	"github.com/hitoshi/newsbrief/internal/middleware"
	"github.com/hitoshi/newsbrief/internal/pipeline"
	"github.com/hitoshi/newsbrief/internal/repository"
	"github.com/hitoshi/newsbrief/internal/worker/cleanup"
)

// cleanupInterval はクリーンアップジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.Int("max_age_hours", cfg.MaxAgeHours),
		slog.String("output_dir", cfg.OutputDir),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return runMigrate(cfg, rest)
	default:
		return runOnce(cfg)
	}
}

// openRunStore はDATABASE_URLが設定されている場合に実行履歴のリポジトリを開く。
// 未設定または接続に失敗した場合はnilを返し、実行履歴を保存せずに続行する。
func openRunStore(ctx context.Context, cfg *config.Config) (*sql.DB, *repository.PostgresRunRepo) {
	if cfg.DatabaseURL == "" {
		slog.Info("DATABASE_URL is not set; run history will not be persisted")
		return nil, nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolOptions())
	if err != nil {
		slog.Warn("database unavailable; run history will not be persisted",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	slog.Info("database connection established")
	return db, repository.NewPostgresRunRepo(db)
}

// runOnce はパイプラインを1回実行する。
// SIGINTまたはSIGTERMを受信すると実行中の取得をキャンセルする。
func runOnce(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, repo := openRunStore(ctx, cfg)
	var store pipeline.RunStore
	if repo != nil {
		defer db.Close()
		store = repo
	}

	c, err := buildPipeline(cfg, store, prometheus.NewRegistry(), slog.Default())
	if err != nil {
		return err
	}

	res, err := c.Pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	slog.Info("briefing written",
		slog.String("run_id", res.RunID),
		slog.String("audit", res.Paths.Audit),
		slog.String("briefing", res.Paths.Briefing),
		slog.Bool("persisted", res.Persisted),
	)
	return nil
}

// runWorker はワーカーモードで起動する。
// パイプラインをRUN_INTERVAL間隔で実行し、保持期間を超えた履歴を日次で削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 1. 実行履歴の保存先（任意）
	db, repo := openRunStore(ctx, cfg)
	var (
		store  pipeline.RunStore
		pruner cleanup.RunPruner
	)
	if repo != nil {
		defer db.Close()
		store = repo
		pruner = repo
	}

	// 2. パイプラインの組み立て
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c, err := buildPipeline(cfg, store, reg, slog.Default())
	if err != nil {
		return err
	}

	// 3. メトリクスの公開
	var metricsServer *http.Server
	if cfg.MetricsPort != "" {
		metricsServer = &http.Server{
			Addr:         ":" + cfg.MetricsPort,
			Handler:      metrics.SetupMetricsRoute(reg),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			slog.Info("metrics server starting", slog.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server listen error", slog.String("error", err.Error()))
			}
		}()
	}

	// 4. クリーンアップジョブを日次でバックグラウンド実行
	cleanupJob := cleanup.NewCleanupJob(pruner, cfg.OutputDir, slog.Default())
	cleanupJob.RetentionDays = cfg.RunRetentionDays
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
		cleanupJob.Start(ctx, cleanupInterval)
	}()

	slog.Info("worker starting",
		slog.Duration("run_interval", cfg.RunInterval),
		slog.Int("validate_workers", cfg.ValidateWorkers),
		slog.Bool("persist_runs", store != nil),
	)

	// 実行スケジューラをメインgoroutineで実行（ブロッキング）
	pipeline.NewScheduler(c.Pipeline, slog.Default()).Start(ctx, cfg.RunInterval)

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
		}
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runServe は実行履歴APIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	// 1. DB接続
	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolOptions())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. ルーターの構築
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), slog.Default())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Runs:          repository.NewPostgresRunRepo(db),
		HealthChecker: db,
		Gatherer:      reg,
		RateLimiter:   rateLimiter,
		Logger:        slog.Default(),
	})

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしまたは up はすべての未適用マイグレーションを適用する。
func runMigrate(cfg *config.Config, args []string) error {
	action, steps, err := ParseMigrateArgs(args)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", steps))
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("database migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
