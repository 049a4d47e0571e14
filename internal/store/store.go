// Package store is the authoritative in-memory model of a requirements
// project. Every mutation routes through the identifier allocator and the
// relationship graph engine; backends only (de)serialize what it holds.
//
// A Store is not safe for concurrent mutation.
package store

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/graph"
	"github.com/joemooney/req/internal/idalloc"
	"github.com/joemooney/req/internal/models"
)

// Store wraps the persisted model with lookup indexes, the allocator and the
// graph engine.
type Store struct {
	data   *models.RequirementsStore
	byID   map[uuid.UUID]int
	byKey  map[string]uuid.UUID
	alloc  *idalloc.Allocator
	graph  *graph.Engine
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger. It is handed on to the graph engine.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New indexes data and returns a store over it. data is used in place; a nil
// data starts an empty project.
func New(data *models.RequirementsStore, opts ...Option) (*Store, error) {
	if data == nil {
		data = models.NewRequirementsStore("")
	}
	s := &Store{
		data:   data,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.alloc = idalloc.New(&s.data.IdConfig, &s.data.Counters)
	s.graph = graph.New(&s.data.RelationshipDefinitions, s, graph.WithLogger(s.logger))
	if err := s.reindex(); err != nil {
		return nil, err
	}
	return s, nil
}

// reindex rebuilds both lookup maps and enforces identifier uniqueness.
func (s *Store) reindex() error {
	s.byID = make(map[uuid.UUID]int, len(s.data.Requirements))
	s.byKey = make(map[string]uuid.UUID, len(s.data.Requirements))
	for i := range s.data.Requirements {
		r := &s.data.Requirements[i]
		if _, dup := s.byID[r.ID]; dup {
			return fmt.Errorf("store: internal id %s: %w", r.ID, apperr.ErrAlreadyExists)
		}
		s.byID[r.ID] = i
		if r.SpecID == "" {
			continue
		}
		if other, dup := s.byKey[r.SpecID]; dup {
			return fmt.Errorf("store: %s held by %s and %s: %w", r.SpecID, other, r.ID, apperr.ErrDuplicateAlternateKey)
		}
		s.byKey[r.SpecID] = r.ID
	}
	return nil
}

// Data returns the underlying model for persistence.
func (s *Store) Data() *models.RequirementsStore { return s.data }

// Graph returns the relationship engine bound to this store.
func (s *Store) Graph() *graph.Engine { return s.graph }

// Len returns the number of records.
func (s *Store) Len() int { return len(s.data.Requirements) }

// Requirement returns the record with the internal identifier id.
func (s *Store) Requirement(id uuid.UUID) (*models.Requirement, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return &s.data.Requirements[i], true
}

// Each calls fn for every record in store order.
func (s *Store) Each(fn func(*models.Requirement)) {
	for i := range s.data.Requirements {
		fn(&s.data.Requirements[i])
	}
}

// Records returns the records in store order.
func (s *Store) Records() []models.Requirement { return s.data.Requirements }

// Get returns the record with internal identifier id.
func (s *Store) Get(id uuid.UUID) (*models.Requirement, error) {
	r, ok := s.Requirement(id)
	if !ok {
		return nil, fmt.Errorf("store: record %s: %w", id, apperr.ErrNotFound)
	}
	return r, nil
}

// GetByKey returns the record holding the alternate key.
func (s *Store) GetByKey(key string) (*models.Requirement, error) {
	id, ok := s.byKey[key]
	if !ok {
		id, ok = s.byKey[strings.ToUpper(key)]
	}
	if !ok {
		return nil, fmt.Errorf("store: alternate key %q: %w", key, apperr.ErrNotFound)
	}
	return s.Get(id)
}

// Resolve accepts either an internal identifier or an alternate key. The
// internal identifier syntax is tried first.
func (s *Store) Resolve(ref string) (*models.Requirement, error) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		if r, ok := s.Requirement(id); ok {
			return r, nil
		}
	}
	r, err := s.GetByKey(ref)
	if err != nil {
		return nil, fmt.Errorf("store: resolve %q: %w", ref, apperr.ErrNotFound)
	}
	return r, nil
}

// subject collects the prefix sources of r for the allocator.
func (s *Store) subject(r *models.Requirement) idalloc.Subject {
	sub := idalloc.Subject{Override: r.PrefixOverride}
	if td, ok := s.data.TypeDefinition(r.Type); ok {
		sub.TypePrefix = td.Prefix
	}
	if f, ok := s.data.Feature(r.Feature); ok {
		sub.FeaturePrefix = f.Prefix
	}
	return sub
}

// PeekKey returns the alternate key a new record like r would receive.
func (s *Store) PeekKey(r *models.Requirement) (string, error) {
	return s.alloc.Peek(s.subject(r))
}
