package testutil

import (
	"net/http"

	id "chainrelay/pkg/domain"
	"chainrelay/pkg/requestcontext"
)

// WithUserID marks req as authenticated, the way the auth middleware would.
func WithUserID(req *http.Request, userID id.UserID) *http.Request {
	return req.WithContext(requestcontext.WithUserID(req.Context(), userID))
}
