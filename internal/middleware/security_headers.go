package middleware

import "net/http"

// apiHeaders は実行履歴APIの全レスポンスに付与するヘッダー。
// レスポンスはJSONのみで、ブラウザでの描画や埋め込みを想定しない。
var apiHeaders = map[string]string{
	"X-Content-Type-Options":       "nosniff",
	"X-Frame-Options":              "DENY",
	"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
	"Cross-Origin-Resource-Policy": "same-origin",
	"Referrer-Policy":              "no-referrer",
	"Cache-Control":                "no-store",
}

// NewSecurityHeadersMiddleware は実行履歴APIのレスポンスヘッダーを設定するミドルウェアを返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range apiHeaders {
				h.Set(k, v)
			}
			next.ServeHTTP(w, r)
		})
	}
}
