// Package discovery はフィードと検索バックエンドから記事候補を収集する。
package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/newsbrief/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// SearchBackend は検索バックエンドのインターフェース。
type SearchBackend interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error)
}

// CallObserver はバックエンド呼び出しの結果を記録する。
type CallObserver interface {
	ObserveBackendCall(backend, outcome string)
}

// 呼び出し結果の分類
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// BackendOptions は検索バックエンド共通のHTTP設定。
type BackendOptions struct {
	Endpoint    string // 空の場合は各バックエンドの既定値
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int64
}

func (o BackendOptions) withDefaults(endpoint string) BackendOptions {
	if o.Endpoint == "" {
		o.Endpoint = endpoint
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.MaxBodySize <= 0 {
		o.MaxBodySize = 5 * 1024 * 1024
	}
	return o
}

// fetchBody はSSRF検証済みのクライアントでGETし、200の場合のみボディを返す。
func fetchBody(ctx context.Context, guard SSRFValidator, opts BackendOptions, rawURL, accept string) ([]byte, error) {
	if err := guard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := guard.NewSafeClient(opts.Timeout, opts.MaxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.StatusError{StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	return body, nil
}

// Metered はバックエンド呼び出しの間隔を制限する。
// 複数のgoroutineから呼ばれても呼び出しは直列化され、間隔は全呼び出し元で共有される。
type Metered struct {
	backend  SearchBackend
	limiter  *rate.Limiter
	observer CallObserver
	mu       sync.Mutex
}

// NewMetered はintervalごとに1回だけ呼び出しを許すMeteredを生成する。observerはnilでもよい。
func NewMetered(backend SearchBackend, interval time.Duration, observer CallObserver) *Metered {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Metered{
		backend:  backend,
		limiter:  rate.NewLimiter(limit, 1),
		observer: observer,
	}
}

// Name は内側のバックエンド名を返す。
func (m *Metered) Name() string {
	return m.backend.Name()
}

// Search は呼び出し間隔を待ってから内側のバックエンドで検索する。
func (m *Metered) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	results, err := m.backend.Search(ctx, query, limit)
	if m.observer != nil {
		outcome := OutcomeOK
		switch {
		case err != nil:
			outcome = OutcomeError
		case len(results) == 0:
			outcome = OutcomeEmpty
		}
		m.observer.ObserveBackendCall(m.backend.Name(), outcome)
	}
	return results, err
}
