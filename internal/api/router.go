package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medflow/er-flow/internal/beds"
	"github.com/medflow/er-flow/internal/triage"
)

type RouterConfig struct {
	Queue    *triage.SmartQueue
	Registry *beds.Registry
	Store    Pinger
	Redis    *redis.Client // nil when event broadcast is disabled
	Logger   *zap.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Store, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/api", func(r chi.Router) {
		r.Post("/patients", createPatientHandler(cfg.Queue))
		r.Get("/patients/delayed", getDelayedHandler(cfg.Queue))
		r.Get("/patients/status/{status}", getPatientsByStatusHandler(cfg.Queue))
		r.Get("/patients/{id}", getPatientHandler(cfg.Queue))
		r.Patch("/patients/{id}/status", updateStatusHandler(cfg.Queue))
		r.Patch("/patients/{id}/esi", updateESIHandler(cfg.Queue))
		r.Post("/patients/{id}/discharge", dischargePatientHandler(cfg.Queue))
		r.Get("/patients/{id}/eta", getETAHandler(cfg.Queue))
		r.Patch("/patients/{id}/bed", assignBedHandler(cfg.Registry))
		r.Post("/patients/{id}/bed/assign-best", assignBestHandler(cfg.Registry))

		r.Get("/queue", getQueueHandler(cfg.Queue))

		r.Get("/beds", listBedsHandler(cfg.Registry))
		r.Post("/beds", createBedHandler(cfg.Registry))
		r.Get("/beds/{id}", getBedHandler(cfg.Registry))
		r.Patch("/beds/{id}/free", freeBedHandler(cfg.Registry))
	})

	return r
}
