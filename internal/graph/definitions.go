package graph

import (
	"fmt"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/models"
)

// Definitions returns a copy of the relationship definitions.
func (e *Engine) Definitions() []models.RelationshipDefinition {
	return append([]models.RelationshipDefinition(nil), (*e.defs)...)
}

// CheckDefinitions verifies the set-level invariants: an inverse must exist,
// name its partner back and not be symmetric; symmetric kinds have no inverse.
func CheckDefinitions(defs []models.RelationshipDefinition) error {
	byName := make(map[string]*models.RelationshipDefinition, len(defs))
	for i := range defs {
		d := &defs[i]
		if _, dup := byName[d.Name]; dup {
			return fmt.Errorf("graph: relationship kind %q defined twice: %w", d.Name, apperr.ErrAlreadyExists)
		}
		byName[d.Name] = d
	}
	for _, d := range defs {
		if d.Symmetric && d.Inverse != "" {
			return fmt.Errorf("graph: symmetric kind %q declares inverse %q: %w", d.Name, d.Inverse, apperr.ErrInvalid)
		}
		if d.Inverse == "" {
			continue
		}
		inv, ok := byName[d.Inverse]
		if !ok {
			return fmt.Errorf("graph: kind %q names missing inverse %q: %w", d.Name, d.Inverse, apperr.ErrInvalid)
		}
		if inv.Symmetric || inv.Inverse != d.Name {
			return fmt.Errorf("graph: kind %q and %q are not mutual inverses: %w", d.Name, d.Inverse, apperr.ErrInvalid)
		}
	}
	return nil
}

func normalize(d models.RelationshipDefinition) (models.RelationshipDefinition, error) {
	d.Name = models.NormalizeKind(d.Name)
	d.Inverse = models.NormalizeKind(d.Inverse)
	if d.DisplayName == "" {
		d.DisplayName = d.Name
	}
	if err := d.Validate(); err != nil {
		return d, fmt.Errorf("graph: relationship kind %q: %w: %w", d.Name, apperr.ErrInvalid, err)
	}
	return d, nil
}

// Define adds one or more user relationship kinds. Mutual inverses must be
// defined in the same call.
func (e *Engine) Define(defs ...models.RelationshipDefinition) error {
	next := e.Definitions()
	for _, d := range defs {
		d, err := normalize(d)
		if err != nil {
			return err
		}
		if _, exists := e.Definition(d.Name); exists {
			return fmt.Errorf("graph: relationship kind %q: %w", d.Name, apperr.ErrAlreadyExists)
		}
		d.BuiltIn = false
		next = append(next, d)
	}
	if err := CheckDefinitions(next); err != nil {
		return err
	}
	*e.defs = next
	return nil
}

// Redefine replaces an existing kind. Built-in kinds accept display and
// type-constraint edits only.
func (e *Engine) Redefine(d models.RelationshipDefinition) error {
	d, err := normalize(d)
	if err != nil {
		return err
	}
	cur, ok := e.Definition(d.Name)
	if !ok {
		return fmt.Errorf("graph: relationship kind %q: %w", d.Name, apperr.ErrNotFound)
	}
	if cur.BuiltIn && !cur.SameStructure(&d) {
		return fmt.Errorf("graph: structure of %q: %w", d.Name, apperr.ErrBuiltIn)
	}
	d.BuiltIn = cur.BuiltIn

	next := e.Definitions()
	for i := range next {
		if next[i].Name == d.Name {
			next[i] = d
		}
	}
	if err := CheckDefinitions(next); err != nil {
		return err
	}
	*e.defs = next
	return nil
}

// Undefine removes user kinds. A kind and its inverse must be removed
// together, and no edge may still use either.
func (e *Engine) Undefine(names ...string) error {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		n = models.NormalizeKind(n)
		d, ok := e.Definition(n)
		if !ok {
			return fmt.Errorf("graph: relationship kind %q: %w", n, apperr.ErrNotFound)
		}
		if d.BuiltIn {
			return fmt.Errorf("graph: remove %q: %w", n, apperr.ErrBuiltIn)
		}
		drop[n] = true
	}

	var inUse string
	e.records.Each(func(r *models.Requirement) {
		for _, rel := range r.Relationships {
			if inUse == "" && drop[rel.Kind] {
				inUse = fmt.Sprintf("%s on %s", rel.Kind, r.ID)
			}
		}
	})
	if inUse != "" {
		return fmt.Errorf("graph: edge %s: %w", inUse, apperr.ErrKindInUse)
	}

	var next []models.RelationshipDefinition
	for _, d := range *e.defs {
		if !drop[d.Name] {
			next = append(next, d)
		}
	}
	if err := CheckDefinitions(next); err != nil {
		return err
	}
	*e.defs = next
	return nil
}
