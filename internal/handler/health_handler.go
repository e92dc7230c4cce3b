package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/newsbrief/internal/middleware"
)

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// NewHealthHandler は/healthのハンドラーを返す。
// checkerがnilの場合は常にokを返す。
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			middleware.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.PingContext(ctx); err != nil {
			middleware.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Database: "error"})
			return
		}
		middleware.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "ok"})
	}
}
