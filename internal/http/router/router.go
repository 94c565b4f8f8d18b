package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/retroplay/netplay-service/internal/http/handler"
	"github.com/retroplay/netplay-service/internal/http/middleware"
	"github.com/retroplay/netplay-service/internal/http/response"
	"github.com/retroplay/netplay-service/internal/security"
)

type Dependencies struct {
	Sessions       *handler.SessionHandler
	Signaling      *handler.SignalingHandler
	JWTManager     *security.JWTManager
	APIRateLimit   int
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	if dep.APIRateLimit > 0 {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimit, time.Minute, "api").Middleware())
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(dep.JWTManager))
			r.Post("/", dep.Sessions.Create)
			r.Get("/", dep.Sessions.List)
			r.Post("/{session_id}/invites", dep.Sessions.Invite)
			r.Post("/{session_id}/join", dep.Sessions.Join)
			r.Post("/{session_id}/heartbeat", dep.Sessions.Heartbeat)
			r.Delete("/{session_id}", dep.Sessions.Close)
		})

		// Browser websocket clients cannot set the Authorization header, so
		// the signaling handler does its own credential extraction.
		r.Get("/signaling/{session_id}", dep.Signaling.Serve)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
