package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/newsbrief/internal/model"
)

const webSearchEndpoint = "https://html.duckduckgo.com/html/"

// WebBackend はDuckDuckGoのHTML版検索結果を解析するバックエンド。
// site: 指定のクエリに対応するため、必須媒体の補完と投稿収集で使う。
type WebBackend struct {
	ssrfGuard SSRFValidator
	opts      BackendOptions
}

// NewWebBackend はWebBackendを生成する。
func NewWebBackend(ssrfGuard SSRFValidator, opts BackendOptions) *WebBackend {
	return &WebBackend{ssrfGuard: ssrfGuard, opts: opts.withDefaults(webSearchEndpoint)}
}

// Name はバックエンド名を返す。
func (b *WebBackend) Name() string {
	return "web"
}

// Search はクエリに一致するWebページを最大limit件返す。
func (b *WebBackend) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	searchURL := b.opts.Endpoint + "?q=" + url.QueryEscape(query)
	body, err := fetchBody(ctx, b.ssrfGuard, b.opts, searchURL, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTMLのパースに失敗: %w", err)
	}

	var results []model.SearchResult
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(results) >= limit {
			return false
		}
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		target := decodeRedirect(href)
		if target == "" {
			return true
		}
		results = append(results, model.SearchResult{
			Title:   strings.TrimSpace(link.Text()),
			URL:     target,
			Snippet: strings.TrimSpace(s.Find(".result__snippet").Text()),
			Date:    strings.TrimSpace(s.Find(".result__timestamp").Text()),
		})
		return true
	})
	return results, nil
}

// decodeRedirect は検索結果のリダイレクトリンクから遷移先URLを取り出す。
// uddg パラメータがなければhref自体を返す。
func decodeRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return href
	}
	return ""
}
