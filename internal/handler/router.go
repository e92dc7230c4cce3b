// Package handler は実行履歴を参照する読み取り専用のHTTP APIを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/newsbrief/internal/metrics"
	"github.com/hitoshi/newsbrief/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Runs          RunReader
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer      // nilの場合は/metricsを公開しない
	RateLimiter   *middleware.RateLimiter // nilの場合はレート制限しない
	Logger        *slog.Logger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders
//
// /runs 以下にのみレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.NotFound(middleware.WriteNotFound)
	r.MethodNotAllowed(middleware.WriteMethodNotAllowed)

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	runHandler := NewRunHandler(deps.Runs, deps.Logger)
	r.Route("/runs", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Get("/", runHandler.ListRuns)
		r.Get("/latest", runHandler.GetLatest)
		r.Get("/{id}", runHandler.GetRun)
	})

	return r
}
