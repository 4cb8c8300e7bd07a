package middleware

import (
	"net/http"
	"strings"
)

// CartSessionHeader carries the opaque guest cart token.
const CartSessionHeader = "X-Cart-Session"

const maxCartSessionLen = 128

// CartSession copies the guest cart token from the request header into the context.
func CartSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(CartSessionHeader))
		if token != "" && len(token) <= maxCartSessionLen {
			r = r.WithContext(WithCartSession(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}
