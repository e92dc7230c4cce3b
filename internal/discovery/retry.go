package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hitoshi/newsbrief/internal/model"
)

// RetryClass はエラーに対する再試行方針の分類。
type RetryClass int

const (
	// RetryNone は成功。再試行しない。
	RetryNone RetryClass = iota
	// RetryStop は再試行しても結果が変わらないエラー（404/410/401/403など）。
	RetryStop
	// RetryBackoff は待ってから再試行するエラー（429/5xx/タイムアウト）。
	RetryBackoff
)

// ClassifyHTTPStatus はHTTPステータスコードを再試行方針に分類する。
func ClassifyHTTPStatus(statusCode int) RetryClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return RetryNone
	case statusCode == http.StatusTooManyRequests:
		return RetryBackoff
	case statusCode >= 500:
		return RetryBackoff
	default:
		return RetryStop
	}
}

// ClassifyError は検索エラーを再試行方針に分類する。
// 呼び出し元のコンテキストが終了している場合とSSRF検証の失敗は再試行しない。
// HTTPクライアントのタイムアウトはcontext.DeadlineExceededを包むため、ctxで区別する。
func ClassifyError(ctx context.Context, err error) RetryClass {
	if err == nil {
		return RetryNone
	}
	if ctx.Err() != nil {
		return RetryStop
	}
	var statusErr *model.StatusError
	if errors.As(err, &statusErr) {
		return ClassifyHTTPStatus(statusErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return RetryBackoff
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RetryBackoff
	}
	return RetryStop
}

// RetryPolicy は再試行の回数と遅延。
type RetryPolicy struct {
	Attempts int           // 初回を含む試行回数
	Initial  time.Duration // 初回の待ち時間。以降2倍ずつ増える
	Max      time.Duration // 待ち時間の上限
}

// DefaultRetryPolicy はデフォルトの再試行方針を返す。
// 3回まで試行し、1秒、2秒と待つ。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: time.Second, Max: 8 * time.Second}
}

// Backoff は失敗回数に基づいて指数バックオフの待ち時間を計算する。
// failures=0 で Initial、以降2倍ずつ増加し、Max で頭打ちになる。
func (p RetryPolicy) Backoff(failures int) time.Duration {
	delay := p.Initial
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > p.Max {
			return p.Max
		}
	}
	return delay
}

// Retrying は一時的なエラーの場合に指数バックオフで再試行する。
// 呼び出し間隔の制御は内側のバックエンド（Metered）が行う。
type Retrying struct {
	backend SearchBackend
	policy  RetryPolicy
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrying はRetryingを生成する。Attemptsが1未満の場合は1回だけ試行する。
func NewRetrying(backend SearchBackend, policy RetryPolicy, logger *slog.Logger) *Retrying {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.Max < policy.Initial {
		policy.Max = policy.Initial
	}
	return &Retrying{backend: backend, policy: policy, logger: logger, sleep: sleepContext}
}

// Name は内側のバックエンド名を返す。
func (r *Retrying) Name() string {
	return r.backend.Name()
}

// Unwrap は内側のバックエンドを返す。
func (r *Retrying) Unwrap() SearchBackend {
	return r.backend
}

// Search は内側のバックエンドで検索し、再試行可能なエラーの場合は待ってから再試行する。
// 最後に発生したエラーを返す。
func (r *Retrying) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		results, err := r.backend.Search(ctx, query, limit)
		if err == nil {
			return results, nil
		}
		lastErr = err

		if ClassifyError(ctx, err) != RetryBackoff || attempt == r.policy.Attempts-1 {
			break
		}

		delay := r.policy.Backoff(attempt)
		r.logger.Warn("検索に失敗したため再試行します",
			slog.String("backend", r.backend.Name()),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := r.sleep(ctx, delay); err != nil {
			break
		}
	}
	return nil, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
