// Package urlnorm はURLの正規化とホスト抽出を行う。
package urlnorm

import (
	"net/url"
	"strings"
)

// Normalize は重複判定用にURLを正規化する。
// スキーム・クエリ・フラグメントを除き、ホストを小文字化し、末尾のスラッシュを取り除く。
// 正規化済みの値を再度渡しても同じ結果を返す。
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}

	host, path := s, ""
	if i := strings.Index(s, "/"); i >= 0 {
		host, path = s[:i], s[i:]
	}
	host = strings.ToLower(host)

	return strings.TrimRight(host+path, "/")
}

// Host はURLのホスト名を小文字で返す。先頭の www. は取り除く。
// 解析できない場合は空文字を返す。
func Host(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	h := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(h, "www.")
}

// HostMatches はホストがdomain自身またはそのサブドメインかを判定する。
func HostMatches(host, domain string) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))
	return host == domain || strings.HasSuffix(host, "."+domain)
}
