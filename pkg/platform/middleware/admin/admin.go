// Package admin guards the operator endpoints (pipeline status, manual sweep).
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "chainrelay/pkg/domain-errors"
	"chainrelay/pkg/platform/httputil"
	"chainrelay/pkg/requestcontext"
)

// HeaderName carries the shared operator token.
const HeaderName = "X-Admin-Token"

// RequireAdminToken rejects requests whose token does not match expected.
// With an empty expected token every request is rejected.
func RequireAdminToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(HeaderName)
			if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token rejected",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
					"token_present", got != "",
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
