// Package requesttime pins one UTC timestamp per HTTP request.
package requesttime

import (
	"net/http"
	"time"

	"chainrelay/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), time.Now().UTC())))
	})
}
