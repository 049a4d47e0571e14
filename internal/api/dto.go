package api

import (
	"github.com/joemooney/req/internal/models"
	"github.com/joemooney/req/internal/reqservice"
)

// RequirementItem is a lightweight item in a list response (aliased from the domain layer).
type RequirementItem = reqservice.RequirementItem

// RequirementDetail is the full record response type (aliased from the domain layer).
type RequirementDetail = reqservice.RequirementDetail

// RelationshipItem is one resolved edge (aliased from the domain layer).
type RelationshipItem = reqservice.RelationshipItem

// RequirementListResponse wraps paginated record listings.
type RequirementListResponse struct {
	Requirements []RequirementItem `json:"requirements" validate:"required"`
	Total        int               `json:"total" example:"42" validate:"required"`
	Limit        int               `json:"limit" example:"100"`
	Offset       int               `json:"offset" example:"0"`
}

// RelationshipsResponse lists the outgoing edges of one record.
type RelationshipsResponse struct {
	Key           string             `json:"key" example:"FR-001" validate:"required"`
	Relationships []RelationshipItem `json:"relationships" validate:"required"`
}

// RelationshipDefinitionsResponse wraps the relationship kinds.
type RelationshipDefinitionsResponse struct {
	Definitions []models.RelationshipDefinition `json:"definitions" validate:"required"`
}

// TypeDefinitionsResponse wraps the record type definitions.
type TypeDefinitionsResponse struct {
	Types []models.TypeDefinition `json:"types" validate:"required"`
}
