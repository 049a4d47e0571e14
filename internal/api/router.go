// Package api implements the read-only inspection API using chi.
package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/joemooney/req/internal/reqservice"
)

// NewRouter creates a chi router with all API routes mounted. Every route is
// a GET; the store is edited through the command surface only.
func NewRouter(svc *reqservice.Service) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()

	// Records.
	r.Get("/requirements", h.ListRequirements)
	r.Get("/requirements/{ref}", h.GetRequirement)
	r.Get("/requirements/{ref}/relationships", h.GetRelationships)

	// Project configuration.
	r.Get("/relationship-definitions", h.ListRelationshipDefinitions)
	r.Get("/type-definitions", h.ListTypeDefinitions)
	r.Get("/id-config", h.GetIdConfig)

	return r
}
