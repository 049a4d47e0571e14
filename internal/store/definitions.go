package store

import (
	"fmt"
	"slices"
	"strings"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/models"
)

// RelationshipDefinitions returns a copy of the relationship kinds.
func (s *Store) RelationshipDefinitions() []models.RelationshipDefinition {
	return s.graph.Definitions()
}

// AddRelationshipDefinition adds user kinds; mutual inverses go in one call.
func (s *Store) AddRelationshipDefinition(defs ...models.RelationshipDefinition) error {
	return s.graph.Define(defs...)
}

// EditRelationshipDefinition replaces a kind's definition.
func (s *Store) EditRelationshipDefinition(d models.RelationshipDefinition) error {
	return s.graph.Redefine(d)
}

// RemoveRelationshipDefinition removes unused user kinds.
func (s *Store) RemoveRelationshipDefinition(names ...string) error {
	return s.graph.Undefine(names...)
}

// TypeDefinitions returns a copy of the type definitions.
func (s *Store) TypeDefinitions() []models.TypeDefinition {
	return slices.Clone(s.data.TypeDefinitions)
}

func (s *Store) typeIndex(name string) int {
	return slices.IndexFunc(s.data.TypeDefinitions, func(t models.TypeDefinition) bool { return t.Name == name })
}

func checkTypeDefinition(t *models.TypeDefinition) error {
	t.Prefix = strings.ToUpper(t.Prefix)
	if t.DisplayName == "" {
		t.DisplayName = t.Name
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("store: type %q: %w: %w", t.Name, apperr.ErrInvalid, err)
	}
	return nil
}

// AddTypeDefinition registers a custom record type.
func (s *Store) AddTypeDefinition(t models.TypeDefinition) error {
	if err := checkTypeDefinition(&t); err != nil {
		return err
	}
	if s.typeIndex(t.Name) >= 0 {
		return fmt.Errorf("store: type %q: %w", t.Name, apperr.ErrAlreadyExists)
	}
	t.BuiltIn = false
	s.data.TypeDefinitions = append(s.data.TypeDefinitions, t)
	return nil
}

// EditTypeDefinition replaces a type definition. Statuses and fields that
// records still hold may not disappear.
func (s *Store) EditTypeDefinition(t models.TypeDefinition) error {
	if err := checkTypeDefinition(&t); err != nil {
		return err
	}
	i := s.typeIndex(t.Name)
	if i < 0 {
		return fmt.Errorf("store: type %q: %w", t.Name, apperr.ErrNotFound)
	}
	cur := &s.data.TypeDefinitions[i]
	for _, st := range cur.Statuses {
		if !t.AllowsStatus(st) {
			if err := s.statusFree(cur.Name, st); err != nil {
				return err
			}
		}
	}
	for _, f := range cur.Fields {
		if _, ok := t.Field(f.Name); !ok {
			if err := s.fieldFree(cur.Name, f.Name); err != nil {
				return err
			}
		}
	}
	t.BuiltIn = cur.BuiltIn
	*cur = t
	return nil
}

// RemoveTypeStatus drops one status from a type.
func (s *Store) RemoveTypeStatus(typeName, status string) error {
	i := s.typeIndex(typeName)
	if i < 0 {
		return fmt.Errorf("store: type %q: %w", typeName, apperr.ErrNotFound)
	}
	td := &s.data.TypeDefinitions[i]
	if !td.AllowsStatus(status) {
		return fmt.Errorf("store: status %q of %s: %w", status, typeName, apperr.ErrNotFound)
	}
	if len(td.Statuses) == 1 {
		return fmt.Errorf("store: %s needs at least one status: %w", typeName, apperr.ErrInvalid)
	}
	if err := s.statusFree(typeName, status); err != nil {
		return err
	}
	td.Statuses = slices.DeleteFunc(td.Statuses, func(st string) bool { return st == status })
	return nil
}

// RemoveTypeField drops one field from a type.
func (s *Store) RemoveTypeField(typeName, field string) error {
	i := s.typeIndex(typeName)
	if i < 0 {
		return fmt.Errorf("store: type %q: %w", typeName, apperr.ErrNotFound)
	}
	td := &s.data.TypeDefinitions[i]
	if _, ok := td.Field(field); !ok {
		return fmt.Errorf("store: field %q of %s: %w", field, typeName, apperr.ErrNotFound)
	}
	if err := s.fieldFree(typeName, field); err != nil {
		return err
	}
	td.Fields = slices.DeleteFunc(td.Fields, func(f models.FieldDefinition) bool { return f.Name == field })
	return nil
}

// RemoveTypeDefinition deletes a type. It fails while any record of the type
// still holds one of its statuses or fields, or while records use the type
// at all.
func (s *Store) RemoveTypeDefinition(name string) error {
	i := s.typeIndex(name)
	if i < 0 {
		return fmt.Errorf("store: type %q: %w", name, apperr.ErrNotFound)
	}
	td := s.data.TypeDefinitions[i]
	for _, st := range td.Statuses {
		if err := s.statusFree(name, st); err != nil {
			return err
		}
	}
	for _, f := range td.Fields {
		if err := s.fieldFree(name, f.Name); err != nil {
			return err
		}
	}
	if n := s.countType(name); n > 0 {
		return fmt.Errorf("store: type %q used by %d records: %w", name, n, apperr.ErrTypeInUse)
	}
	s.data.TypeDefinitions = slices.Delete(s.data.TypeDefinitions, i, i+1)
	return nil
}

func (s *Store) countType(name string) int {
	n := 0
	for i := range s.data.Requirements {
		if string(s.data.Requirements[i].Type) == name {
			n++
		}
	}
	return n
}

func (s *Store) statusFree(typeName, status string) error {
	n := 0
	for i := range s.data.Requirements {
		r := &s.data.Requirements[i]
		if string(r.Type) == typeName && r.EffectiveStatus() == status {
			n++
		}
	}
	if n > 0 {
		return fmt.Errorf("store: status %q of %s held by %d records: %w", status, typeName, n, apperr.ErrStatusInUse)
	}
	return nil
}

func (s *Store) fieldFree(typeName, field string) error {
	n := 0
	for i := range s.data.Requirements {
		r := &s.data.Requirements[i]
		if string(r.Type) != typeName {
			continue
		}
		if _, ok := r.CustomFields[field]; ok {
			n++
		}
	}
	if n > 0 {
		return fmt.Errorf("store: field %q of %s held by %d records: %w", field, typeName, n, apperr.ErrFieldInUse)
	}
	return nil
}
