package store

import (
	"fmt"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/models"
)

// validateRecord checks r against its type definition and fills in field
// defaults. It does not look at identifiers or edges.
func (s *Store) validateRecord(r *models.Requirement) error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.Status, validation.Required, validation.In(
			models.StatusDraft, models.StatusApproved, models.StatusCompleted, models.StatusRejected)),
		validation.Field(&r.Priority, validation.Required, validation.In(
			models.PriorityHigh, models.PriorityMedium, models.PriorityLow)),
		validation.Field(&r.Type, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("store: %w: %w", apperr.ErrInvalid, err)
	}

	td, ok := s.data.TypeDefinition(r.Type)
	if !ok {
		return fmt.Errorf("store: record type %q: %w", r.Type, apperr.ErrNotFound)
	}
	if r.CustomStatus != "" && !td.AllowsStatus(r.CustomStatus) {
		return fmt.Errorf("store: status %q not allowed for %s: %w", r.CustomStatus, r.Type, apperr.ErrInvalid)
	}
	if err := s.validateFields(td, r); err != nil {
		return err
	}
	for _, u := range r.URLs {
		if err := validation.Validate(u.URL, validation.Required, is.URL); err != nil {
			return fmt.Errorf("store: url %q: %w: %w", u.URL, apperr.ErrInvalid, err)
		}
	}
	if r.PrefixOverride != "" {
		r.PrefixOverride = strings.ToUpper(r.PrefixOverride)
		if s.data.RestrictPrefixes && !slices.Contains(s.data.AllowedPrefixes, r.PrefixOverride) {
			return fmt.Errorf("store: prefix %q not in allowed prefixes: %w", r.PrefixOverride, apperr.ErrInvalid)
		}
	}
	return nil
}

func (s *Store) validateFields(td *models.TypeDefinition, r *models.Requirement) error {
	for name := range r.CustomFields {
		if _, ok := td.Field(name); !ok {
			return fmt.Errorf("store: field %q not defined for %s: %w", name, td.Name, apperr.ErrInvalid)
		}
	}
	for _, f := range td.Fields {
		v, set := r.CustomFields[f.Name]
		if !set || v == "" {
			if f.Default != "" {
				if r.CustomFields == nil {
					r.CustomFields = make(map[string]string)
				}
				r.CustomFields[f.Name] = f.Default
				v = f.Default
			} else if f.Required {
				return fmt.Errorf("store: field %q: %w: required", f.Name, apperr.ErrInvalid)
			} else {
				continue
			}
		}
		if err := s.validateValue(f, v); err != nil {
			return fmt.Errorf("store: field %q: %w: %w", f.Name, apperr.ErrInvalid, err)
		}
	}
	return nil
}

func (s *Store) validateValue(f models.FieldDefinition, v string) error {
	switch f.Kind {
	case models.FieldNumber:
		return validation.Validate(v, is.Float)
	case models.FieldDate:
		return validation.Validate(v, validation.Date("2006-01-02"))
	case models.FieldBoolean:
		return validation.Validate(v, validation.In("true", "false"))
	case models.FieldChoice:
		opts := make([]any, len(f.Options))
		for i, o := range f.Options {
			opts[i] = o
		}
		return validation.Validate(v, validation.In(opts...))
	case models.FieldRecordRef:
		if _, err := s.Resolve(v); err != nil {
			return fmt.Errorf("unknown record %q", v)
		}
	}
	return nil
}
