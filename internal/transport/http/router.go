// Package httptransport assembles the relay's HTTP surface: authenticated
// REST endpoints, the WebSocket upgrade, operator routes, health and metrics.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"chainrelay/internal/platform/metrics"
	id "chainrelay/pkg/domain"
	"chainrelay/pkg/platform/httputil"
	"chainrelay/pkg/platform/middleware/admin"
	"chainrelay/pkg/platform/middleware/auth"
	"chainrelay/pkg/platform/middleware/request"
	"chainrelay/pkg/platform/middleware/requesttime"
)

// RouteRegistrar mounts a module's routes.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// AdminRegistrar mounts a module's operator routes.
type AdminRegistrar interface {
	RegisterAdmin(r chi.Router)
}

// OnlineLister reports connected users.
type OnlineLister interface {
	ListOnline() []id.UserID
}

// HealthCheck checks one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators the router wires together.
type Deps struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Validator  auth.TokenValidator
	AdminToken string
	Modules    []RouteRegistrar
	Admin      []AdminRegistrar
	WebSocket  http.Handler
	Presence   OnlineLister
	Health     []HealthCheck
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(d.Metrics.Middleware)

	r.Get("/health", healthHandler(d.Health, d.Logger))
	r.Handle("/metrics", metrics.Handler())

	if d.WebSocket != nil {
		// The upgrade authenticates itself so the token may arrive as a query
		// parameter.
		r.Handle("/ws", d.WebSocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.Validator, d.Logger))
		if d.Presence != nil {
			r.Get("/ws/online", onlineHandler(d.Presence))
		}
		for _, m := range d.Modules {
			m.Register(r)
		}
	})

	if len(d.Admin) > 0 {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(d.AdminToken, d.Logger))
			for _, m := range d.Admin {
				m.RegisterAdmin(r)
			}
		})
	}
	return r
}

type onlineResponse struct {
	OnlineUsers []id.UserID `json:"online_users"`
	Count       int         `json:"count"`
}

func onlineHandler(presence OnlineLister) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		online := presence.ListOnline()
		if online == nil {
			online = []id.UserID{}
		}
		httputil.WriteJSON(w, http.StatusOK, onlineResponse{OnlineUsers: online, Count: len(online)})
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func healthHandler(checks []HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "check", c.Name, "error", err)
				resp.Checks[c.Name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.Name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
