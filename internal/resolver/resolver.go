// Package resolver はニュース集約サービスのラッパーURLを実記事URLへ解決する。
package resolver

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/urlnorm"
	"golang.org/x/net/html"
)

// 解決に成功した手段。検証結果と監査記録に残る。
const (
	StrategyDecode   = "decode"
	StrategyRedirect = "redirect"
	StrategyHTML     = "html"
)

// SSRFValidator はSSRF検証のインターフェース。
// security.Guardを抽象化してテストでローカルサーバーを使えるようにする。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Options はリゾルバの設定。
type Options struct {
	WrapperHosts []string // ラッパーURLのホスト
	ConsentHosts []string // 同意画面のホスト。ここへの到達は解決失敗とみなす
	Referer      string
	UserAgent    string
	Timeout      time.Duration
	MaxBodySize  int64
}

// Resolution は解決結果。
type Resolution struct {
	URL      string
	Strategy string
}

// Resolver はラッパーURLを構造デコード、リダイレクト追跡、HTML埋め込みリンクの順に解決する。
type Resolver struct {
	ssrfGuard SSRFValidator
	client    *http.Client
	opts      Options
	// excluded は解決結果として受け付けないドメイン。ラッパーの親ドメインと同意画面ホスト。
	excluded []string
	logger   *slog.Logger
}

// NewResolver はResolverを生成する。
func NewResolver(ssrfGuard SSRFValidator, opts Options, logger *slog.Logger) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 5 * 1024 * 1024
	}

	var excluded []string
	for _, h := range opts.WrapperHosts {
		excluded = append(excluded, parentDomain(h))
	}
	excluded = append(excluded, opts.ConsentHosts...)

	return &Resolver{
		ssrfGuard: ssrfGuard,
		client:    ssrfGuard.NewSafeClient(opts.Timeout, opts.MaxBodySize),
		opts:      opts,
		excluded:  excluded,
		logger:    logger,
	}
}

// IsWrapper はURLが解決を要するラッパーURLかを判定する。
func (r *Resolver) IsWrapper(rawURL string) bool {
	host := urlnorm.Host(rawURL)
	if host == "" {
		return false
	}
	for _, w := range r.opts.WrapperHosts {
		if urlnorm.HostMatches(host, w) {
			return true
		}
	}
	return false
}

// Resolve はラッパーURLを実記事URLへ解決する。
// ラッパーでないURLはそのまま返す。全ての手段が失敗した場合は model.ErrUnresolvedRedirect を返す。
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Resolution, error) {
	if !r.IsWrapper(rawURL) {
		return Resolution{URL: rawURL}, nil
	}

	if decoded, ok := r.Decode(rawURL); ok {
		return Resolution{URL: decoded, Strategy: StrategyDecode}, nil
	}

	if err := r.ssrfGuard.ValidateURL(rawURL); err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", model.ErrUnresolvedRedirect, err)
	}

	final, body, err := r.follow(ctx, rawURL)
	if err != nil {
		r.logger.Debug("ラッパーURLの取得に失敗しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return Resolution{}, fmt.Errorf("%w: %v", model.ErrUnresolvedRedirect, err)
	}
	if final != rawURL && r.acceptable(final) {
		return Resolution{URL: final, Strategy: StrategyRedirect}, nil
	}

	if embedded, ok := r.ExtractEmbedded(body); ok {
		return Resolution{URL: embedded, Strategy: StrategyHTML}, nil
	}
	return Resolution{}, model.ErrUnresolvedRedirect
}

// Decode はラッパーURLのパスに埋め込まれたbase64ペイロードから実記事URLを取り出す。
// ネットワークアクセスは行わない。
func (r *Resolver) Decode(rawURL string) (string, bool) {
	_, encoded, found := strings.Cut(rawURL, "/articles/")
	if !found {
		return "", false
	}
	if i := strings.IndexAny(encoded, "?#"); i >= 0 {
		encoded = encoded[:i]
	}
	if encoded == "" {
		return "", false
	}

	for _, pad := range []string{"", "=", "==", "==="} {
		payload, err := base64.URLEncoding.DecodeString(encoded + pad)
		if err != nil {
			continue
		}
		start := bytes.Index(payload, []byte("http"))
		if start < 0 {
			continue
		}
		candidate := urlPrefix(payload[start:])
		if r.acceptable(candidate) && strings.Contains(urlnorm.Host(candidate), ".") {
			return candidate, true
		}
	}
	return "", false
}

// urlPrefix はURLとして使える印字可能文字が続く限りの先頭部分を返す。
func urlPrefix(b []byte) string {
	end := 0
	for end < len(b) {
		c := b[end]
		if c <= 32 || c >= 127 || strings.IndexByte(" \"<>{}|\\^`[]", c) >= 0 {
			break
		}
		end++
	}
	return string(b[:end])
}

// follow はブラウザ相当のヘッダーでリダイレクトを追跡し、最終URLとボディを返す。
func (r *Resolver) follow(ctx context.Context, rawURL string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("User-Agent", r.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if r.opts.Referer != "" {
		req.Header.Set("Referer", r.opts.Referer)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.opts.MaxBodySize))
	if err != nil {
		return "", nil, fmt.Errorf("read body: %w", err)
	}
	return resp.Request.URL.String(), body, nil
}

// ExtractEmbedded はラッパーページのHTMLから実記事URLを探す。
// noscript内のリンク、data-url属性、og:urlの順に優先する。
func (r *Resolver) ExtractEmbedded(body []byte) (string, bool) {
	var noscriptLink, dataURL, ogURL string

	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	inNoscript := false
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}

		switch tt {
		case html.TextToken:
			// noscriptの中身はトークナイザ上は生テキストになるため、再度解析する
			if inNoscript && noscriptLink == "" {
				if href, ok := r.firstAnchor(tokenizer.Text()); ok {
					noscriptLink = href
				}
			}

		case html.EndTagToken:
			if tn, _ := tokenizer.TagName(); string(tn) == "noscript" {
				inNoscript = false
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)
			if tagName == "noscript" {
				inNoscript = tt == html.StartTagToken
				continue
			}
			if !hasAttr {
				continue
			}

			attrs := readAttrs(tokenizer)
			if v := attrs["data-url"]; dataURL == "" && v != "" && r.acceptable(v) {
				dataURL = v
			}
			if tagName == "meta" && ogURL == "" && attrs["property"] == "og:url" && r.acceptable(attrs["content"]) {
				ogURL = attrs["content"]
			}
		}
	}

	for _, u := range []string{noscriptLink, dataURL, ogURL} {
		if u != "" {
			return u, true
		}
	}
	return "", false
}

// firstAnchor はHTML断片から最初に受け付け可能なa要素のhrefを返す。
func (r *Resolver) firstAnchor(fragment []byte) (string, bool) {
	tokenizer := html.NewTokenizer(bytes.NewReader(fragment))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			if string(tn) != "a" || !hasAttr {
				continue
			}
			if href := readAttrs(tokenizer)["href"]; r.acceptable(href) {
				return href, true
			}
		}
	}
}

func readAttrs(tokenizer *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := tokenizer.TagAttr()
		attrs[strings.ToLower(string(key))] = string(val)
		if !more {
			return attrs
		}
	}
}

// acceptable は解決結果として妥当なURLかを判定する。
// http(s)の絶対URLで、ラッパー自身のドメインや同意画面ではないこと。
func (r *Resolver) acceptable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range r.excluded {
		if urlnorm.HostMatches(host, d) {
			return false
		}
	}
	return true
}

// parentDomain はホストの末尾2ラベルを返す。IPアドレスはそのまま返す。
func parentDomain(host string) string {
	host = strings.ToLower(host)
	if net.ParseIP(host) != nil {
		return host
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
