package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/urlnorm"
)

// minHeadlineLinkRunes より長いリンクテキストを見出しリンクとみなす。
const minHeadlineLinkRunes = 30

// AggregatorPage はまとめサイトの個別ページから元記事のURLを取り出す。
// フィードのリンクはまとめページ内のアンカー(#a260220p12 など)を指している。
type AggregatorPage struct {
	client    *http.Client
	hosts     []string
	userAgent string
	logger    *slog.Logger
}

// NewAggregatorPage はAggregatorPageを生成する。
func NewAggregatorPage(ssrfGuard SSRFValidator, hosts []string, userAgent string, timeout time.Duration, logger *slog.Logger) *AggregatorPage {
	return &AggregatorPage{
		client:    ssrfGuard.NewSafeClient(timeout, 5*1024*1024),
		hosts:     hosts,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Matches はURLがまとめサイトのページかを判定する。
func (a *AggregatorPage) Matches(rawURL string) bool {
	host := urlnorm.Host(rawURL)
	for _, h := range a.hosts {
		if host != "" && urlnorm.HostMatches(host, h) {
			return true
		}
	}
	return false
}

// Resolve はまとめページを取得し、アンカーを含むブロック内で最初の外部見出しリンクを返す。
func (a *AggregatorPage) Resolve(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w %d", model.ErrUnexpectedStatus, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse aggregator page: %w", err)
	}

	container := doc.Selection
	if _, fragment, ok := strings.Cut(rawURL, "#"); ok && fragment != "" {
		anchor := doc.Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.AttrOr("id", "") == fragment
		}).First()
		if anchor.Length() == 0 {
			anchor = doc.Find("a").FilterFunction(func(_ int, s *goquery.Selection) bool {
				return s.AttrOr("name", "") == fragment
			}).First()
		}
		if anchor.Length() > 0 {
			container = anchor
			if parent := anchor.Parent(); parent.Length() > 0 {
				container = parent
			}
		}
	}

	var found string
	container.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := s.AttrOr("href", "")
		if !strings.HasPrefix(href, "http") || a.Matches(href) {
			return true
		}
		if utf8.RuneCountInString(strings.TrimSpace(s.Text())) <= minHeadlineLinkRunes {
			return true
		}
		found = href
		return false
	})
	if found == "" {
		return "", fmt.Errorf("no headline link on aggregator page %s", rawURL)
	}

	a.logger.Debug("まとめページから元記事を特定しました",
		slog.String("url", rawURL),
		slog.String("resolved", found),
	)
	return found, nil
}
