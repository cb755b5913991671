package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alekb/botesq/internal/application"
)

type Handler struct{ service *application.Service }

func NewHandler(service *application.Service) *Handler { return &Handler{service: service} }

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ok", nil) })
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ready", nil) })

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/providers/{provider_id}/callback", handler.providerCallback)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/arbitration/{dispute_id}", handler.arbitrateDispute)
			r.Get("/arbitration/pending", handler.listPendingArbitration)
			r.Post("/requests/route", handler.routeRequest)
			r.Post("/requests/execute", handler.executeRequest)
			r.Get("/providers/{provider_id}/health", handler.providerHealth)
		})
	})
	return r
}
