package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed/rss"

	"github.com/hitoshi/newsbrief/internal/model"
)

const googleNewsEndpoint = "https://news.google.com/rss/search"

// GoogleNewsBackend はGoogle NewsのRSS検索を使うバックエンド。
// 結果のURLはラッパーURLのため、検証段階でリダイレクト解決が必要になる。
type GoogleNewsBackend struct {
	ssrfGuard SSRFValidator
	opts      BackendOptions
}

// NewGoogleNewsBackend はGoogleNewsBackendを生成する。
func NewGoogleNewsBackend(ssrfGuard SSRFValidator, opts BackendOptions) *GoogleNewsBackend {
	return &GoogleNewsBackend{ssrfGuard: ssrfGuard, opts: opts.withDefaults(googleNewsEndpoint)}
}

// Name はバックエンド名を返す。
func (b *GoogleNewsBackend) Name() string {
	return "google_news_rss"
}

// Search はクエリに一致するニュースを最大limit件返す。
func (b *GoogleNewsBackend) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	searchURL := fmt.Sprintf("%s?q=%s&hl=en-US&gl=US&ceid=US:en", b.opts.Endpoint, url.QueryEscape(query))
	body, err := fetchBody(ctx, b.ssrfGuard, b.opts, searchURL,
		"application/rss+xml, application/xml, text/xml, */*")
	if err != nil {
		return nil, err
	}

	fp := &rss.Parser{}
	feed, err := fp.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("RSSのパースに失敗: %w", err)
	}

	var results []model.SearchResult
	for _, item := range feed.Items {
		if len(results) >= limit {
			break
		}
		if item == nil {
			continue
		}
		title, source := splitTitleSource(item.Title)
		// <source>要素の方が見出し末尾の媒体名より確実
		if item.Source != nil && item.Source.Title != "" {
			source = item.Source.Title
		}
		results = append(results, model.SearchResult{
			Title:   title,
			URL:     item.Link,
			Snippet: item.Description,
			Source:  source,
			Date:    item.PubDate,
		})
	}
	return results, nil
}

// splitTitleSource は "見出し - 媒体名" 形式の見出しを分割する。
func splitTitleSource(title string) (string, string) {
	i := strings.LastIndex(title, " - ")
	if i < 0 {
		return title, ""
	}
	return title[:i], title[i+3:]
}
