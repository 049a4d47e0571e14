// Package legacy upgrades documents written by older versions of the tool to
// the current shape. Each step is keyed by the schema_version it upgrades
// from and runs at most once per document.
package legacy

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/graph"
	"github.com/joemooney/req/internal/idalloc"
	"github.com/joemooney/req/internal/models"
)

// Report describes what Upgrade did.
type Report struct {
	From      int
	To        int
	Steps     []string
	Defaulted []string
	Warnings  []*graph.Violation
}

// Changed reports whether the document must be written back.
func (r Report) Changed() bool { return r.From != r.To || len(r.Defaulted) > 0 }

type step struct {
	from int
	name string
	run  func(doc *models.RequirementsStore, rep *Report, logger *slog.Logger) error
}

// maxDigits is the widest key the identifier configuration accepts.
const maxDigits = 6

var steps = []step{
	{from: 0, name: "identity", run: upgradeIdentity},
	{from: 1, name: "definitions", run: upgradeDefinitions},
}

// Upgrade brings doc to models.DocumentVersion in place. A document newer
// than this build understands is rejected untouched.
func Upgrade(doc *models.RequirementsStore, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rep := Report{From: doc.SchemaVersion, To: doc.SchemaVersion}
	if doc.SchemaVersion > models.DocumentVersion {
		return rep, fmt.Errorf("legacy: document version %d, supported %d: %w",
			doc.SchemaVersion, models.DocumentVersion, apperr.ErrSchemaMismatch)
	}
	rep.Defaulted = ApplyDefaults(doc, logger)
	for _, s := range steps {
		if doc.SchemaVersion != s.from {
			continue
		}
		if err := s.run(doc, &rep, logger); err != nil {
			return rep, err
		}
		doc.SchemaVersion = s.from + 1
		rep.Steps = append(rep.Steps, s.name)
		logger.Info("legacy: upgrade step applied",
			slog.String("step", s.name),
			slog.Int("to", doc.SchemaVersion))
	}
	rep.To = doc.SchemaVersion
	return rep, nil
}

// ApplyDefaults fills project settings that are missing or invalid in a
// document of any version: the identifier configuration, empty definition
// lists, counters below 1 and the basic fields of each record. It returns
// the names of the settings it filled.
func ApplyDefaults(doc *models.RequirementsStore, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	var filled []string
	if err := doc.IdConfig.Validate(); err != nil {
		if doc.IdConfig != (models.IdConfiguration{}) {
			logger.Warn("legacy: invalid id_config replaced with default",
				slog.String("format", string(doc.IdConfig.Format)),
				slog.String("numbering", string(doc.IdConfig.Numbering)),
				slog.Int("digits", doc.IdConfig.Digits),
				slog.String("error", err.Error()))
		}
		doc.IdConfig = models.DefaultIdConfiguration()
		filled = append(filled, "id_config")
	}
	if len(doc.RelationshipDefinitions) == 0 {
		doc.RelationshipDefinitions = models.BuiltinRelationshipDefinitions()
		filled = append(filled, "relationship_definitions")
	}
	if len(doc.TypeDefinitions) == 0 {
		doc.TypeDefinitions = models.DefaultTypeDefinitions()
		filled = append(filled, "type_definitions")
	}
	if len(doc.ReactionDefinitions) == 0 {
		doc.ReactionDefinitions = models.DefaultReactionDefinitions()
		filled = append(filled, "reaction_definitions")
	}
	if doc.NextSpecNumber < 1 {
		doc.NextSpecNumber = 1
		filled = append(filled, "next_spec_number")
	}
	if doc.NextFeatureNumber < 1 {
		doc.NextFeatureNumber = 1
		filled = append(filled, "next_feature_number")
	}

	records := false
	for i := range doc.Requirements {
		r := &doc.Requirements[i]
		if r.Status == "" {
			r.Status, records = models.StatusDraft, true
		}
		if r.Priority == "" {
			r.Priority, records = models.PriorityMedium, true
		}
		if r.Type == "" {
			r.Type, records = models.TypeFunctional, true
		}
		if r.Feature == "" {
			r.Feature, records = models.DefaultFeature, true
		}
	}
	if records {
		filled = append(filled, "requirements")
	}
	if len(filled) > 0 {
		logger.Info("legacy: defaults applied", slog.Any("fields", filled))
	}
	return filled
}

// upgradeIdentity gives every record and user an internal identifier and an
// alternate key, and numbers the free-text features of early documents.
func upgradeIdentity(doc *models.RequirementsStore, _ *Report, _ *slog.Logger) error {
	alloc := idalloc.New(&doc.IdConfig, &doc.Counters)

	held := make(map[string]bool, len(doc.Requirements))
	for i := range doc.Requirements {
		r := &doc.Requirements[i]
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.SpecID != "" {
			held[r.SpecID] = true
			alloc.Reserve(idalloc.Subject{}, r.SpecID)
		}
	}
	isHeld := func(key string) bool { return held[key] }

	numbered := make(map[string]string)
	for i := range doc.Requirements {
		r := &doc.Requirements[i]
		if _, _, ok := models.SplitFeatureLabel(r.Feature); ok {
			continue
		}
		label, seen := numbered[r.Feature]
		if !seen {
			n := alloc.AssignFeatureNumber()
			label = models.FeatureLabel(n, r.Feature)
			numbered[r.Feature] = label
			doc.Features = append(doc.Features, models.FeatureDefinition{Number: n, Name: label})
		}
		r.Feature = label
	}

	for i := range doc.Requirements {
		r := &doc.Requirements[i]
		if r.SpecID != "" {
			continue
		}
		key, err := alloc.AssignFree(idalloc.Subject{}, isHeld)
		for errors.Is(err, apperr.ErrDigitOverflow) && doc.IdConfig.Digits < maxDigits {
			// The legacy configuration cannot hold another key; widen it.
			doc.IdConfig.Digits++
			key, err = alloc.AssignFree(idalloc.Subject{}, isHeld)
		}
		if err != nil {
			return fmt.Errorf("legacy: key for %s: %w", r.ID, err)
		}
		held[key] = true
		r.SpecID = key
	}

	for i := range doc.Users {
		u := &doc.Users[i]
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		if u.SpecID == "" {
			u.SpecID = alloc.AssignMeta(models.MetaPrefixUser)
		}
	}
	return nil
}

// upgradeDefinitions replays every edge so inverse edges exist and violations
// are flagged.
func upgradeDefinitions(doc *models.RequirementsStore, rep *Report, logger *slog.Logger) error {
	eng := graph.New(&doc.RelationshipDefinitions, newRecords(doc), graph.WithLogger(logger))
	rep.Warnings = append(rep.Warnings, eng.Replay()...)
	return nil
}

// records adapts a raw document to graph.Records.
type records struct {
	doc  *models.RequirementsStore
	byID map[uuid.UUID]int
}

func newRecords(doc *models.RequirementsStore) *records {
	r := &records{doc: doc, byID: make(map[uuid.UUID]int, len(doc.Requirements))}
	for i := range doc.Requirements {
		r.byID[doc.Requirements[i].ID] = i
	}
	return r
}

func (r *records) Requirement(id uuid.UUID) (*models.Requirement, bool) {
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return &r.doc.Requirements[i], true
}

func (r *records) Each(fn func(*models.Requirement)) {
	for i := range r.doc.Requirements {
		fn(&r.doc.Requirements[i])
	}
}
