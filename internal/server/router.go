package server

import (
	"net/http"

	"github.com/cloo-solutions/recallai/internal/api"
	"github.com/cloo-solutions/recallai/internal/api/handlers"
	"github.com/cloo-solutions/recallai/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	RetrievalHandler *handlers.RetrievalHandler
	ExchangeHandler  *handlers.ExchangeHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))
	r.Use(middleware.Scope)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/retrieve", cfg.RetrievalHandler.Retrieve)
	r.Post("/filter", cfg.RetrievalHandler.Filter)
	r.Get("/clusters/{id}", cfg.RetrievalHandler.BrowseCluster)

	r.Post("/exchanges", cfg.ExchangeHandler.Ingest)

	return r
}
