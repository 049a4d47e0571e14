package store

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/graph"
	"github.com/joemooney/req/internal/models"
)

// Add validates r, assigns its alternate key and appends it. A caller-supplied
// SpecID is kept when it is free. Edges must be created with Link afterwards.
func (s *Store) Add(r models.Requirement, actor string) (*models.Requirement, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if _, exists := s.byID[r.ID]; exists {
		return nil, fmt.Errorf("store: record %s: %w", r.ID, apperr.ErrAlreadyExists)
	}
	if len(r.Relationships) > 0 {
		return nil, fmt.Errorf("store: new records cannot carry relationships: %w", apperr.ErrInvalid)
	}
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.ModifiedAt = now
	if r.CreatedBy == "" {
		r.CreatedBy = actor
	}
	if r.Status == "" {
		r.Status = models.StatusDraft
	}
	if r.Priority == "" {
		r.Priority = models.PriorityMedium
	}
	if r.Type == "" {
		r.Type = models.TypeFunctional
	}
	if r.Feature == "" {
		r.Feature = models.DefaultFeature
	}
	if err := s.validateRecord(&r); err != nil {
		return nil, err
	}
	if err := s.checkDependencies(r.ID, r.Dependencies); err != nil {
		return nil, err
	}

	if r.SpecID != "" {
		r.SpecID = strings.ToUpper(r.SpecID)
		if holder, taken := s.byKey[r.SpecID]; taken {
			return nil, fmt.Errorf("store: %s held by %s: %w", r.SpecID, holder, apperr.ErrDuplicateAlternateKey)
		}
		s.alloc.Reserve(s.subject(&r), r.SpecID)
	} else {
		key, err := s.alloc.AssignFree(s.subject(&r), func(k string) bool {
			_, held := s.byKey[k]
			return held
		})
		if err != nil {
			return nil, err
		}
		r.SpecID = key
	}

	s.data.Requirements = append(s.data.Requirements, r)
	s.byID[r.ID] = len(s.data.Requirements) - 1
	s.byKey[r.SpecID] = r.ID
	return &s.data.Requirements[len(s.data.Requirements)-1], nil
}

func (s *Store) checkDependencies(self uuid.UUID, deps []uuid.UUID) error {
	for _, d := range deps {
		if d == self {
			return fmt.Errorf("store: record %s depends on itself: %w", self, apperr.ErrSelfReference)
		}
		if _, ok := s.byID[d]; !ok {
			return fmt.Errorf("store: dependency %s: %w", d, apperr.ErrNotFound)
		}
	}
	return nil
}

// Update applies mutate to a copy of the record, validates the result and
// records a history entry for every changed field. Identifiers and edges
// cannot be changed this way.
func (s *Store) Update(id uuid.UUID, actor string, mutate func(*models.Requirement) error) (*models.Requirement, error) {
	cur, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := mutate(&next); err != nil {
		return nil, err
	}
	if next.ID != cur.ID || next.SpecID != cur.SpecID {
		return nil, fmt.Errorf("store: identifiers of %s are immutable: %w", id, apperr.ErrInvalid)
	}
	if !slices.Equal(next.Relationships, cur.Relationships) {
		return nil, fmt.Errorf("store: edges of %s change through Link and Unlink: %w", id, apperr.ErrInvalid)
	}
	if err := s.validateRecord(&next); err != nil {
		return nil, err
	}
	if err := s.checkDependencies(id, next.Dependencies); err != nil {
		return nil, err
	}

	changes := diff(cur, &next)
	if len(changes) == 0 {
		return cur, nil
	}
	now := s.now()
	next.ModifiedAt = now
	next.History = append(next.History, models.HistoryEntry{
		ID:        uuid.New(),
		Author:    actor,
		Timestamp: now,
		Changes:   changes,
	})
	*cur = next
	return cur, nil
}

func diff(a, b *models.Requirement) []models.FieldChange {
	var out []models.FieldChange
	add := func(field, before, after string) {
		if before != after {
			out = append(out, models.FieldChange{Field: field, OldValue: before, NewValue: after})
		}
	}
	add("title", a.Title, b.Title)
	add("description", a.Description, b.Description)
	add("status", string(a.Status), string(b.Status))
	add("custom_status", a.CustomStatus, b.CustomStatus)
	add("priority", string(a.Priority), string(b.Priority))
	add("owner", a.Owner, b.Owner)
	add("feature", a.Feature, b.Feature)
	add("req_type", string(a.Type), string(b.Type))
	add("prefix_override", a.PrefixOverride, b.PrefixOverride)
	add("archived", strconv.FormatBool(a.Archived), strconv.FormatBool(b.Archived))
	add("tags", strings.Join(a.Tags, ", "), strings.Join(b.Tags, ", "))
	add("dependencies", joinIDs(a.Dependencies), joinIDs(b.Dependencies))

	for _, k := range lo.Union(slices.Sorted(maps.Keys(a.CustomFields)), slices.Sorted(maps.Keys(b.CustomFields))) {
		add("custom_fields."+k, a.CustomFields[k], b.CustomFields[k])
	}
	return out
}

func joinIDs(ids []uuid.UUID) string {
	return strings.Join(lo.Map(ids, func(id uuid.UUID, _ int) string { return id.String() }), ", ")
}

// Remove deletes a record and strips every edge and dependency pointing at it.
func (s *Store) Remove(id uuid.UUID) error {
	i, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("store: record %s: %w", id, apperr.ErrNotFound)
	}
	s.data.Requirements = slices.Delete(s.data.Requirements, i, i+1)
	for j := range s.data.Requirements {
		r := &s.data.Requirements[j]
		r.Relationships = lo.Reject(r.Relationships, func(rel models.Relationship, _ int) bool { return rel.TargetID == id })
		r.Dependencies = lo.Without(r.Dependencies, id)
	}
	return s.reindex()
}

// Link creates a validated edge and its inverse. See graph.Engine.Link.
func (s *Store) Link(source uuid.UUID, kind string, target uuid.UUID) (*graph.Violation, error) {
	v, err := s.graph.Link(source, kind, target)
	if err == nil {
		s.touch(source, target)
	}
	return v, err
}

// LinkAdvisory creates an edge even if it violates a constraint; the
// violation is returned and the edge is flagged.
func (s *Store) LinkAdvisory(source uuid.UUID, kind string, target uuid.UUID) (*graph.Violation, error) {
	v, err := s.graph.Advisory().Link(source, kind, target)
	if err == nil {
		s.touch(source, target)
	}
	return v, err
}

// Unlink removes an edge and its inverse.
func (s *Store) Unlink(source uuid.UUID, kind string, target uuid.UUID) error {
	if err := s.graph.Unlink(source, kind, target); err != nil {
		return err
	}
	s.touch(source, target)
	return nil
}

func (s *Store) touch(ids ...uuid.UUID) {
	now := s.now()
	for _, id := range ids {
		if r, ok := s.Requirement(id); ok {
			r.ModifiedAt = now
		}
	}
}

// ReplayRelationships rebuilds every edge through the advisory engine and
// returns the violations that were kept.
func (s *Store) ReplayRelationships() []*graph.Violation {
	return s.graph.Replay()
}

// Related pairs an edge with the record at its far end.
type Related struct {
	Edge   models.Relationship
	Record *models.Requirement
}

// Relationships returns the outgoing edges of a record with their targets
// resolved. Edges to records that no longer exist are skipped.
func (s *Store) Relationships(id uuid.UUID) ([]Related, error) {
	r, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	out := make([]Related, 0, len(r.Relationships))
	for _, rel := range r.Relationships {
		if t, ok := s.Requirement(rel.TargetID); ok {
			out = append(out, Related{Edge: rel, Record: t})
		}
	}
	return out, nil
}
