// Package security は外部サイトへのアクセスと外部由来テキストの取り扱いを安全にする。
package security

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// MaxRedirects はリダイレクト追跡の上限。
const MaxRedirects = 10

// ErrTooManyRedirects はリダイレクトが上限を超えたことを表す。
var ErrTooManyRedirects = errors.New("stopped after too many redirects")

// SSRFGuard は外部URLへのアクセスを制限する。
// 候補記事・フィード・検索結果はいずれも信頼できない入力であるため、全ての外部取得で使用する。
type SSRFGuard interface {
	// NewSafeClient はプライベートIP等への接続を拒否するHTTPクライアントを生成する。
	// レスポンスボディはmaxResponseSizeバイトで打ち切られる。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はDNS解決を伴わない静的な事前検証を行う。
	ValidateURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks はValidateURLで拒否するネットワーク範囲。
// 接続時の検証はsafeurlのDialerが行うため、ここでは静的チェックのみに使う。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // クラウドメタデータIPを含む
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// Guard はSSRFGuardの実装。
type Guard struct {
	blockedHosts []string
}

// NewGuard は新しいGuardを生成する。localhost は常に拒否する。
func NewGuard(extraBlockedHosts ...string) *Guard {
	hosts := append([]string{"localhost"}, extraBlockedHosts...)
	return &Guard{blockedHosts: hosts}
}

// NewSafeClient はsafeurlで接続先を検証するHTTPクライアントを生成する。
// リダイレクト先も同じ制約で検証され、MaxRedirectsを超えると失敗する。
func (g *Guard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	client := safeurl.Client(config).Client
	if maxResponseSize > 0 {
		base := client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		client.Transport = &limitedTransport{base: base, limit: maxResponseSize}
	}

	inner := client.CheckRedirect
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= MaxRedirects {
			return ErrTooManyRedirects
		}
		if inner != nil {
			return inner(req, via)
		}
		return nil
	}
	return client
}

// ValidateURL はURLのスキームとホストを静的に検証する。
func (g *Guard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	for _, blocked := range g.blockedHosts {
		if strings.EqualFold(host, blocked) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// limitedTransport はレスポンスボディの読み取り量を制限する。
type limitedTransport struct {
	base  http.RoundTripper
	limit int64
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = &limitedBody{Reader: io.LimitReader(resp.Body, t.limit), closer: resp.Body}
	return resp, nil
}

type limitedBody struct {
	io.Reader
	closer io.Closer
}

func (b *limitedBody) Close() error { return b.closer.Close() }
