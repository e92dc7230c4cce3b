package validate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/newsbrief/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Page は取得した記事ページ。
type Page struct {
	URL        string // リダイレクト追跡後の最終URL
	StatusCode int
	Body       []byte
}

// HTTPFetcher は記事ページをブラウザ相当のヘッダーで取得する。
type HTTPFetcher struct {
	ssrfGuard   SSRFValidator
	client      *http.Client
	userAgent   string
	timeout     time.Duration
	maxBodySize int64
}

// NewHTTPFetcher はHTTPFetcherを生成する。
// クライアントは全ワーカーで共有する。
func NewHTTPFetcher(ssrfGuard SSRFValidator, userAgent string, timeout time.Duration, maxBodySize int64) *HTTPFetcher {
	return &HTTPFetcher{
		ssrfGuard:   ssrfGuard,
		client:      ssrfGuard.NewSafeClient(timeout, maxBodySize),
		userAgent:   userAgent,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Fetch はURLを取得する。タイムアウトはリクエストごとに適用される。
// 通信エラーと2xx以外のステータスはエラーとして返す。
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if err := f.ssrfGuard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &model.StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Page{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}
