// Package graph validates and maintains the typed relationship edges between
// records. It owns no records itself: it reads and mutates them through
// Records, and keeps the relationship definitions of the store it serves.
package graph

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/metrics"
	"github.com/joemooney/req/internal/models"
)

// Records gives the engine access to the record collection.
type Records interface {
	Requirement(id uuid.UUID) (*models.Requirement, bool)
	Each(fn func(*models.Requirement))
}

// Violation is a rejected edge. It unwraps to the apperr sentinel that
// names the reason.
type Violation struct {
	Source uuid.UUID
	Kind   string
	Target uuid.UUID
	Reason error
	Detail string
}

func (v *Violation) Error() string {
	msg := fmt.Sprintf("graph: %s %s -> %s: %v", v.Kind, v.Source, v.Target, v.Reason)
	if v.Detail != "" {
		msg += " (" + v.Detail + ")"
	}
	return msg
}

func (v *Violation) Unwrap() error { return v.Reason }

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, apperr.ErrTypeNotAllowed):
		return "type_not_allowed"
	case errors.Is(err, apperr.ErrCardinalityExceeded):
		return "cardinality_exceeded"
	case errors.Is(err, apperr.ErrCycleDetected):
		return "cycle_detected"
	case errors.Is(err, apperr.ErrSelfReference):
		return "self_reference"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	}
	return "other"
}

// Engine validates edges against the relationship definitions.
type Engine struct {
	defs     *[]models.RelationshipDefinition
	records  Records
	logger   *slog.Logger
	advisory bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for advisory warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an engine over defs and records. defs is shared with the
// caller's store so definition edits persist with it.
func New(defs *[]models.RelationshipDefinition, records Records, opts ...Option) *Engine {
	e := &Engine{defs: defs, records: records, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Advisory returns a copy of the engine that keeps violating edges and
// flags them instead of rejecting.
func (e *Engine) Advisory() *Engine {
	c := *e
	c.advisory = true
	return &c
}

// Definition returns the named relationship definition.
func (e *Engine) Definition(name string) (*models.RelationshipDefinition, bool) {
	name = models.NormalizeKind(name)
	for i := range *e.defs {
		if (*e.defs)[i].Name == name {
			return &(*e.defs)[i], true
		}
	}
	return nil, false
}

// inverseOf returns the kind that pairs with def on the target side, or ""
// when def creates no paired edge.
func inverseOf(def *models.RelationshipDefinition) string {
	if def.Symmetric {
		return def.Name
	}
	return def.Inverse
}

// Validate checks whether source may gain an edge of kind to target. The
// checks run in order: type constraint, cardinality, cycle avoidance, self
// reference.
func (e *Engine) Validate(source uuid.UUID, kind string, target uuid.UUID) error {
	kind = models.NormalizeKind(kind)
	def, ok := e.Definition(kind)
	if !ok {
		return fmt.Errorf("graph: relationship kind %q: %w", kind, apperr.ErrNotFound)
	}
	src, ok := e.records.Requirement(source)
	if !ok {
		return fmt.Errorf("graph: source %s: %w", source, apperr.ErrNotFound)
	}
	if src.HasEdge(kind, target) {
		return fmt.Errorf("graph: %s %s -> %s: %w", kind, source, target, apperr.ErrAlreadyExists)
	}
	tgt, ok := e.records.Requirement(target)
	if !ok {
		return &Violation{Source: source, Kind: kind, Target: target, Reason: apperr.ErrNotFound,
			Detail: "target record does not exist"}
	}
	violation := func(reason error, format string, args ...any) *Violation {
		return &Violation{Source: source, Kind: kind, Target: target, Reason: reason,
			Detail: fmt.Sprintf(format, args...)}
	}

	if len(def.SourceTypes) > 0 && !lo.Contains(def.SourceTypes, src.Type) {
		return violation(apperr.ErrTypeNotAllowed, "source type %s not in %v", src.Type, def.SourceTypes)
	}
	if len(def.TargetTypes) > 0 && !lo.Contains(def.TargetTypes, tgt.Type) {
		return violation(apperr.ErrTypeNotAllowed, "target type %s not in %v", tgt.Type, def.TargetTypes)
	}

	if def.Cardinality.LimitsSource() {
		if n := e.outgoing(src, kind); n >= 1 {
			return violation(apperr.ErrCardinalityExceeded, "%s allows 1 outgoing edge, source has %d", def.Cardinality, n)
		}
	}
	if def.Cardinality.LimitsTarget() {
		if n := len(e.incoming(tgt, def)); n >= 1 {
			return violation(apperr.ErrCardinalityExceeded, "%s allows 1 incoming edge, target has %d", def.Cardinality, n)
		}
	}

	if def.Hierarchical && e.reaches(def, target, source) {
		return violation(apperr.ErrCycleDetected, "%s already reaches %s through %s", target, source, kind)
	}

	if source == target && !def.AllowSelf {
		return violation(apperr.ErrSelfReference, "kind %s does not allow self reference", kind)
	}
	return nil
}

func (e *Engine) outgoing(r *models.Requirement, kind string) int {
	return lo.CountBy(r.Relationships, func(rel models.Relationship) bool { return rel.Kind == kind })
}

// incoming returns the distinct sources holding an edge of def's kind to
// tgt, including pairs only visible through tgt's inverse edges.
func (e *Engine) incoming(tgt *models.Requirement, def *models.RelationshipDefinition) []uuid.UUID {
	var sources []uuid.UUID
	e.records.Each(func(r *models.Requirement) {
		if r.HasEdge(def.Name, tgt.ID) {
			sources = append(sources, r.ID)
		}
	})
	if inv := inverseOf(def); inv != "" {
		for _, rel := range tgt.Relationships {
			if rel.Kind == inv {
				sources = append(sources, rel.TargetID)
			}
		}
	}
	return lo.Uniq(sources)
}

// reaches reports whether to is reachable from from by following edges of
// def's kind, reading inverse-kind edges backwards.
func (e *Engine) reaches(def *models.RelationshipDefinition, from, to uuid.UUID) bool {
	adj := make(map[uuid.UUID][]uuid.UUID)
	inv := inverseOf(def)
	e.records.Each(func(r *models.Requirement) {
		for _, rel := range r.Relationships {
			switch rel.Kind {
			case def.Name:
				adj[r.ID] = append(adj[r.ID], rel.TargetID)
			case inv:
				adj[rel.TargetID] = append(adj[rel.TargetID], r.ID)
			}
		}
	})

	visited := map[uuid.UUID]bool{from: true}
	stack := append([]uuid.UUID(nil), adj[from]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, adj[n]...)
	}
	return false
}

// Link validates and creates the edge plus its paired inverse edge. In
// advisory mode a violation is logged and returned while the edge is kept
// with Flagged set; the error result is then reserved for failures that
// leave nothing to keep.
func (e *Engine) Link(source uuid.UUID, kind string, target uuid.UUID) (*Violation, error) {
	kind = models.NormalizeKind(kind)
	mode := "strict"
	if e.advisory {
		mode = "advisory"
	}

	err := e.Validate(source, kind, target)
	var v *Violation
	if err != nil {
		if !errors.As(err, &v) {
			return nil, err
		}
		metrics.EdgeRejections.WithLabelValues(reasonLabel(v.Reason), mode).Inc()
		if !e.advisory {
			return nil, v
		}
		e.logger.Warn("graph: kept edge despite violation",
			slog.String("kind", kind),
			slog.String("source", source.String()),
			slog.String("target", target.String()),
			slog.String("reason", v.Reason.Error()),
			slog.String("detail", v.Detail))
	}

	src, _ := e.records.Requirement(source)
	flagged := v != nil
	src.Relationships = append(src.Relationships, models.Relationship{Kind: kind, TargetID: target, Flagged: flagged})

	def, _ := e.Definition(kind)
	inv := inverseOf(def)
	if tgt, ok := e.records.Requirement(target); ok && inv != "" && !tgt.HasEdge(inv, source) {
		tgt.Relationships = append(tgt.Relationships, models.Relationship{Kind: inv, TargetID: source, Flagged: flagged})
	}
	return v, nil
}

// Unlink removes the edge and the inverse edge paired with it through the
// relationship definition.
func (e *Engine) Unlink(source uuid.UUID, kind string, target uuid.UUID) error {
	kind = models.NormalizeKind(kind)
	src, ok := e.records.Requirement(source)
	if !ok {
		return fmt.Errorf("graph: source %s: %w", source, apperr.ErrNotFound)
	}
	if !src.HasEdge(kind, target) {
		return fmt.Errorf("graph: %s %s -> %s: %w", kind, source, target, apperr.ErrNotFound)
	}
	src.Relationships = dropEdge(src.Relationships, kind, target)

	def, ok := e.Definition(kind)
	if !ok {
		return nil
	}
	if inv := inverseOf(def); inv != "" {
		if tgt, ok := e.records.Requirement(target); ok {
			tgt.Relationships = dropEdge(tgt.Relationships, inv, source)
		}
	}
	return nil
}

func dropEdge(rels []models.Relationship, kind string, target uuid.UUID) []models.Relationship {
	return lo.Reject(rels, func(r models.Relationship, _ int) bool {
		return r.Kind == kind && r.TargetID == target
	})
}

type pendingEdge struct {
	source uuid.UUID
	kind   string
	target uuid.UUID
}

// Replay clears every edge and re-adds them in their original order through
// an advisory engine. Missing inverse edges are restored, and edges that
// violate the current definitions come back flagged.
func (e *Engine) Replay() []*Violation {
	var edges []pendingEdge
	e.records.Each(func(r *models.Requirement) {
		for _, rel := range r.Relationships {
			edges = append(edges, pendingEdge{source: r.ID, kind: models.NormalizeKind(rel.Kind), target: rel.TargetID})
		}
		r.Relationships = nil
	})

	adv := e.Advisory()
	var warnings []*Violation
	for _, pe := range edges {
		if _, ok := adv.Definition(pe.kind); !ok {
			// Unknown kinds are kept verbatim and flagged.
			src, _ := e.records.Requirement(pe.source)
			if !src.HasEdge(pe.kind, pe.target) {
				src.Relationships = append(src.Relationships, models.Relationship{Kind: pe.kind, TargetID: pe.target, Flagged: true})
				warnings = append(warnings, &Violation{Source: pe.source, Kind: pe.kind, Target: pe.target,
					Reason: apperr.ErrNotFound, Detail: "relationship kind is not defined"})
			}
			continue
		}
		v, err := adv.Link(pe.source, pe.kind, pe.target)
		if err != nil {
			// Already present through an earlier inverse.
			continue
		}
		if v != nil {
			warnings = append(warnings, v)
		}
	}
	return warnings
}
