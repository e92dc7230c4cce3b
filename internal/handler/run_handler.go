package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/newsbrief/internal/middleware"
	"github.com/hitoshi/newsbrief/internal/model"
)

const (
	defaultRunsPerPage = 20
	maxRunsPerPage     = 100
)

// RunReader は実行履歴ハンドラーが必要とする読み取りインターフェース。
type RunReader interface {
	FindByID(ctx context.Context, id string) (*model.Run, error)
	Latest(ctx context.Context) (*model.Run, error)
	List(ctx context.Context, limit int) ([]*model.Run, error)
	ListVerdicts(ctx context.Context, runID string) ([]model.RunVerdict, error)
}

// RunHandler は実行履歴のHTTPハンドラー。
type RunHandler struct {
	runs   RunReader
	logger *slog.Logger
}

// NewRunHandler はRunHandlerを生成する。
func NewRunHandler(runs RunReader, logger *slog.Logger) *RunHandler {
	return &RunHandler{runs: runs, logger: logger}
}

// runListResponse は実行履歴一覧のレスポンス。
type runListResponse struct {
	Runs []*model.Run `json:"runs"`
}

// ListRuns は実行履歴を配信時刻の新しい順に返す。
// GET /runs?limit=20
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsPerPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunsPerPage {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidLimitError(raw))
			return
		}
		limit = n
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.handleError(w, "", err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}

	middleware.WriteJSON(w, http.StatusOK, runListResponse{Runs: runs})
}

// GetLatest は最新の実行履歴を判定一覧付きで返す。
// GET /runs/latest
func (h *RunHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Latest(r.Context())
	if err != nil {
		h.handleError(w, "latest", err)
		return
	}
	h.writeDetail(w, r, run)
}

// GetRun は指定IDの実行履歴を判定一覧付きで返す。
// GET /runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRunIDError(id))
		return
	}

	run, err := h.runs.FindByID(r.Context(), id)
	if err != nil {
		h.handleError(w, id, err)
		return
	}
	h.writeDetail(w, r, run)
}

func (h *RunHandler) writeDetail(w http.ResponseWriter, r *http.Request, run *model.Run) {
	verdicts, err := h.runs.ListVerdicts(r.Context(), run.ID)
	if err != nil {
		h.handleError(w, run.ID, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, model.RunDetail{Run: *run, Verdicts: verdicts})
}

// handleError はリポジトリのエラーをHTTPレスポンスに変換する。
func (h *RunHandler) handleError(w http.ResponseWriter, runID string, err error) {
	if errors.Is(err, model.ErrRunNotFound) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewRunNotFoundError(runID))
		return
	}
	h.logger.Error("実行履歴の取得に失敗しました",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}
