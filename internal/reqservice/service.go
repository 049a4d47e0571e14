// Package reqservice holds the read-only snapshot of a store shared by the
// HTTP API, the MCP server and the file watcher.
package reqservice

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/backend"
	"github.com/joemooney/req/internal/models"
	"github.com/joemooney/req/internal/store"
)

// ErrNotLoaded is returned by queries made before the first Reload.
var ErrNotLoaded = fmt.Errorf("reqservice: snapshot not loaded: %w", apperr.ErrBackendUnavailable)

// DefaultLimit caps list responses when the caller gives no limit.
const DefaultLimit = 100

// RequirementItem is a lightweight item in a list response.
type RequirementItem struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	Priority   string    `json:"priority"`
	Type       string    `json:"type"`
	Feature    string    `json:"feature"`
	Owner      string    `json:"owner,omitempty"`
	Tags       []string  `json:"tags"`
	Archived   bool      `json:"archived,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
}

// RequirementDetail is the full representation of a record.
type RequirementDetail struct {
	RequirementItem
	Description   string                `json:"description"`
	CreatedAt     time.Time             `json:"created_at"`
	CreatedBy     string                `json:"created_by,omitempty"`
	CustomFields  map[string]string     `json:"custom_fields,omitempty"`
	Relationships []RelationshipItem    `json:"relationships"`
	Comments      int                   `json:"comments"`
	URLs          []models.URLLink      `json:"urls,omitempty"`
	History       []models.HistoryEntry `json:"history,omitempty"`
}

// RelationshipItem is one outgoing edge with its target resolved.
type RelationshipItem struct {
	Kind        string `json:"kind"`
	TargetID    string `json:"target_id"`
	TargetKey   string `json:"target_key"`
	TargetTitle string `json:"target_title"`
	Flagged     bool   `json:"flagged,omitempty"`
}

// IdConfigView describes the identifier policy and its counters.
type IdConfigView struct {
	Config    models.IdConfiguration `json:"config"`
	KeyFormat string                 `json:"key_format"`
	Counters  models.Counters        `json:"counters"`
}

// ListFilter narrows a list request. Empty fields match everything.
type ListFilter struct {
	Status          string
	Feature         string
	Type            string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// Service serves queries from the most recently loaded snapshot.
type Service struct {
	backend backend.Backend
	logger  *slog.Logger

	mu       sync.RWMutex
	snap     *store.Store
	loadedAt time.Time
}

// New creates a service over b. Call Reload before serving.
func New(b backend.Backend, logger *slog.Logger) *Service {
	return &Service{backend: b, logger: logger}
}

// Backend returns the backend the snapshot is loaded from.
func (s *Service) Backend() backend.Backend { return s.backend }

// Reload loads a fresh snapshot and swaps it in. On error the previous
// snapshot stays in place.
func (s *Service) Reload(_ context.Context) error {
	doc, err := s.backend.Load()
	if err != nil {
		return fmt.Errorf("reqservice: load: %w", err)
	}
	st, err := store.New(doc, store.WithLogger(s.logger))
	if err != nil {
		return fmt.Errorf("reqservice: index: %w", err)
	}
	s.mu.Lock()
	s.snap, s.loadedAt = st, time.Now()
	s.mu.Unlock()
	s.logger.Info("reqservice: snapshot loaded",
		slog.String("backend", s.backend.Kind()),
		slog.Int("records", st.Len()))
	return nil
}

// Ready reports whether a snapshot has been loaded.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap != nil
}

// LoadedAt returns when the current snapshot was loaded.
func (s *Service) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// view runs fn against the current snapshot under the read lock.
func (s *Service) view(fn func(*store.Store) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return ErrNotLoaded
	}
	return fn(s.snap)
}

// List returns one page of records matching f, in store order, plus the
// total number of matches.
func (s *Service) List(_ context.Context, f ListFilter) ([]RequirementItem, int, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	f.Offset = max(f.Offset, 0)

	var items []RequirementItem
	var total int
	err := s.view(func(st *store.Store) error {
		matched := lo.Filter(st.Records(), func(r models.Requirement, _ int) bool {
			return matches(&r, f)
		})
		total = len(matched)
		page := matched[min(f.Offset, total):min(f.Offset+f.Limit, total)]
		items = lo.Map(page, func(r models.Requirement, _ int) RequirementItem { return item(&r) })
		return nil
	})
	return items, total, err
}

func matches(r *models.Requirement, f ListFilter) bool {
	if r.Archived && !f.IncludeArchived {
		return false
	}
	if f.Status != "" && !strings.EqualFold(r.EffectiveStatus(), f.Status) {
		return false
	}
	if f.Feature != "" && !strings.EqualFold(r.Feature, f.Feature) &&
		!strings.EqualFold(models.FeatureBase(r.Feature), f.Feature) {
		return false
	}
	if f.Type != "" && !strings.EqualFold(string(r.Type), f.Type) {
		return false
	}
	return true
}

// Get resolves ref (internal id or alternate key) to its full record.
func (s *Service) Get(_ context.Context, ref string) (*RequirementDetail, error) {
	var out *RequirementDetail
	err := s.view(func(st *store.Store) error {
		r, err := st.Resolve(ref)
		if err != nil {
			return err
		}
		rels, err := relationships(st, r)
		if err != nil {
			return err
		}
		out = &RequirementDetail{
			RequirementItem: item(r),
			Description:     r.Description,
			CreatedAt:       r.CreatedAt,
			CreatedBy:       r.CreatedBy,
			CustomFields:    r.CustomFields,
			Relationships:   rels,
			Comments:        len(r.Comments),
			URLs:            r.URLs,
			History:         r.History,
		}
		return nil
	})
	return out, err
}

// Relationships returns the outgoing edges of the record named by ref.
func (s *Service) Relationships(_ context.Context, ref string) ([]RelationshipItem, error) {
	var out []RelationshipItem
	err := s.view(func(st *store.Store) error {
		r, err := st.Resolve(ref)
		if err != nil {
			return err
		}
		out, err = relationships(st, r)
		return err
	})
	return out, err
}

func relationships(st *store.Store, r *models.Requirement) ([]RelationshipItem, error) {
	related, err := st.Relationships(r.ID)
	if err != nil {
		return nil, err
	}
	return lo.Map(related, func(rel store.Related, _ int) RelationshipItem {
		return RelationshipItem{
			Kind:        rel.Edge.Kind,
			TargetID:    rel.Record.ID.String(),
			TargetKey:   rel.Record.SpecID,
			TargetTitle: rel.Record.Title,
			Flagged:     rel.Edge.Flagged,
		}
	}), nil
}

// RelationshipDefinitions lists the relationship kinds sorted by name.
func (s *Service) RelationshipDefinitions(_ context.Context) ([]models.RelationshipDefinition, error) {
	var out []models.RelationshipDefinition
	err := s.view(func(st *store.Store) error {
		out = st.RelationshipDefinitions()
		slices.SortFunc(out, func(a, b models.RelationshipDefinition) int { return strings.Compare(a.Name, b.Name) })
		return nil
	})
	return out, err
}

// TypeDefinitions lists the configured record types.
func (s *Service) TypeDefinitions(_ context.Context) ([]models.TypeDefinition, error) {
	var out []models.TypeDefinition
	err := s.view(func(st *store.Store) error {
		out = st.TypeDefinitions()
		return nil
	})
	return out, err
}

// IdConfig returns the identifier policy of the snapshot.
func (s *Service) IdConfig(_ context.Context) (*IdConfigView, error) {
	var out *IdConfigView
	err := s.view(func(st *store.Store) error {
		cfg := st.IdConfig()
		out = &IdConfigView{Config: cfg, KeyFormat: KeyFormat(cfg), Counters: st.Counters()}
		return nil
	})
	return out, err
}

// KeyFormat renders the shape of keys produced under cfg, e.g. "PREFIX-NNN".
func KeyFormat(cfg models.IdConfiguration) string {
	n := strings.Repeat("N", max(cfg.Digits, 1))
	if cfg.Format == models.FormatTwoLevel {
		return "FEATURE-TYPE-" + n
	}
	return "PREFIX-" + n
}

func item(r *models.Requirement) RequirementItem {
	return RequirementItem{
		ID:         r.ID.String(),
		Key:        r.SpecID,
		Title:      r.Title,
		Status:     r.EffectiveStatus(),
		Priority:   string(r.Priority),
		Type:       string(r.Type),
		Feature:    r.Feature,
		Owner:      r.Owner,
		Tags:       nonNilSlice(r.Tags),
		Archived:   r.Archived,
		ModifiedAt: r.ModifiedAt,
	}
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
