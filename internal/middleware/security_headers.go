package middleware

import "net/http"

// statusAPIHeaders はJSONのみを返すステータスAPI共通のレスポンスヘッダー。
// 同期状態は常に最新を返すためキャッシュさせない。
var statusAPIHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"Cache-Control":           "no-store",
}

// NewSecurityHeadersMiddleware はstatusAPIHeadersを付与するミドルウェアを返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for key, value := range statusAPIHeaders {
				w.Header().Set(key, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
