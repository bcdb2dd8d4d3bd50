// Package httpserver exposes the operator API: read-only views over job
// outcomes, conversation state and quota standing, plus the webhook
// verification probe.
package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/saathi/saathi-core/internal/http/handlers"
	"github.com/saathi/saathi-core/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *zap.Logger
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Trace(deps.Logger))
	router.Use(middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst))
	router.Use(middleware.Auth(deps.AuthToken))

	router.Get("/healthz", deps.API.Health)
	router.Get("/webhook", deps.API.VerifyWebhook)

	router.Route("/v1", func(r chi.Router) {
		r.Get("/jobs/dead", deps.API.DeadJobs)
		r.Get("/jobs/{jobID}", deps.API.JobStatus)
		r.Get("/conversations/{userID}", deps.API.Conversation)
		r.Get("/quota/{userID}", deps.API.QuotaStatus)
		r.Get("/gateway", deps.API.GatewayHealth)
	})

	return router
}
