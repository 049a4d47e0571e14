package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/joemooney/req/internal/reqservice"
)

// MaxLimit bounds the page size of list requests.
const MaxLimit = 1000

// Handler holds API route handlers.
type Handler struct {
	svc *reqservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *reqservice.Service) *Handler {
	return &Handler{svc: svc}
}

// listQuery holds the parsed query string of a list request.
type listQuery struct {
	reqservice.ListFilter
}

func (q *listQuery) Validate() error {
	return validation.ValidateStruct(&q.ListFilter,
		validation.Field(&q.Limit, validation.Min(0), validation.Max(MaxLimit)),
		validation.Field(&q.Offset, validation.Min(0)),
	)
}

func parseListQuery(r *http.Request) (*listQuery, error) {
	v := r.URL.Query()
	q := &listQuery{ListFilter: reqservice.ListFilter{
		Status:  v.Get("status"),
		Feature: v.Get("feature"),
		Type:    v.Get("type"),
	}}
	var err error
	for name, into := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		if raw := v.Get(name); raw != "" {
			if *into, err = strconv.Atoi(raw); err != nil {
				return nil, validation.Errors{name: validation.NewError("validation_is_int", "must be an integer")}
			}
		}
	}
	if raw := v.Get("archived"); raw != "" {
		if q.IncludeArchived, err = strconv.ParseBool(raw); err != nil {
			return nil, validation.Errors{"archived": validation.NewError("validation_is_bool", "must be a boolean")}
		}
	}
	return q, q.Validate()
}

// ListRequirements handles GET /api/requirements.
//
//	@Summary		List records with optional filters and pagination
//	@Tags			requirements
//	@Produce		json
//	@Param			status		query		string	false	"Filter by status"
//	@Param			feature		query		string	false	"Filter by feature"
//	@Param			type		query		string	false	"Filter by record type"
//	@Param			archived	query		bool	false	"Include archived records"
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	RequirementListResponse
//	@Failure		400			{object}	errResponse
//	@Router			/requirements [get]
func (h *Handler) ListRequirements(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	items, total, err := h.svc.List(r.Context(), q.ListFilter)
	if err != nil {
		writeError(w, "list requirements", err)
		return
	}
	limit := q.Limit
	if limit == 0 {
		limit = reqservice.DefaultLimit
	}
	writeJSON(w, http.StatusOK, RequirementListResponse{
		Requirements: items,
		Total:        total,
		Limit:        limit,
		Offset:       q.Offset,
	})
}

// GetRequirement handles GET /api/requirements/{ref}.
//
//	@Summary		Get a record by alternate key or internal id
//	@Tags			requirements
//	@Produce		json
//	@Param			ref	path		string	true	"Alternate key or UUID"
//	@Success		200	{object}	RequirementDetail
//	@Failure		404	{object}	errResponse
//	@Router			/requirements/{ref} [get]
func (h *Handler) GetRequirement(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, "get requirement", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetRelationships handles GET /api/requirements/{ref}/relationships.
//
//	@Summary		List the outgoing relationships of a record
//	@Tags			requirements
//	@Produce		json
//	@Param			ref	path		string	true	"Alternate key or UUID"
//	@Success		200	{object}	RelationshipsResponse
//	@Failure		404	{object}	errResponse
//	@Router			/requirements/{ref}/relationships [get]
func (h *Handler) GetRelationships(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	rec, err := h.svc.Get(r.Context(), ref)
	if err != nil {
		writeError(w, "get relationships", err)
		return
	}
	writeJSON(w, http.StatusOK, RelationshipsResponse{Key: rec.Key, Relationships: rec.Relationships})
}

// ListRelationshipDefinitions handles GET /api/relationship-definitions.
//
//	@Summary		List relationship kinds
//	@Tags			configuration
//	@Produce		json
//	@Success		200	{object}	RelationshipDefinitionsResponse
//	@Router			/relationship-definitions [get]
func (h *Handler) ListRelationshipDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.svc.RelationshipDefinitions(r.Context())
	if err != nil {
		writeError(w, "list relationship definitions", err)
		return
	}
	writeJSON(w, http.StatusOK, RelationshipDefinitionsResponse{Definitions: defs})
}

// ListTypeDefinitions handles GET /api/type-definitions.
func (h *Handler) ListTypeDefinitions(w http.ResponseWriter, r *http.Request) {
	types, err := h.svc.TypeDefinitions(r.Context())
	if err != nil {
		writeError(w, "list type definitions", err)
		return
	}
	writeJSON(w, http.StatusOK, TypeDefinitionsResponse{Types: types})
}

// GetIdConfig handles GET /api/id-config.
func (h *Handler) GetIdConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.IdConfig(r.Context())
	if err != nil {
		writeError(w, "get id config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
