package store

import (
	"github.com/joemooney/req/internal/idalloc"
	"github.com/joemooney/req/internal/models"
)

// IdConfig returns the identifier configuration.
func (s *Store) IdConfig() models.IdConfiguration { return s.alloc.Config() }

// Counters returns a copy of the allocation counters.
func (s *Store) Counters() models.Counters { return s.data.Counters.Clone() }

func (s *Store) entries() []idalloc.Entry {
	out := make([]idalloc.Entry, len(s.data.Requirements))
	for i := range s.data.Requirements {
		r := &s.data.Requirements[i]
		out[i] = idalloc.Entry{ID: r.ID, Key: r.SpecID, Subject: s.subject(r)}
	}
	return out
}

// SetDigits changes the digit width of every key while keeping numbers.
// Nothing changes when any number in use would not fit.
func (s *Store) SetDigits(digits int) (int, error) {
	plan, err := s.alloc.PlanDigits(digits, s.entries())
	if err != nil {
		return 0, err
	}
	return s.apply(plan)
}

// Rederive switches to cfg and rewrites every key. The store is untouched
// when the plan is rejected.
func (s *Store) Rederive(cfg models.IdConfiguration) (int, error) {
	plan, err := s.alloc.PlanRederive(cfg, s.entries())
	if err != nil {
		return 0, err
	}
	return s.apply(plan)
}

// apply writes a plan and returns how many keys changed.
func (s *Store) apply(plan *idalloc.Plan) (int, error) {
	changed := 0
	s.alloc.Apply(plan)
	for i := range s.data.Requirements {
		r := &s.data.Requirements[i]
		if k := plan.Keys[r.ID]; k != r.SpecID {
			r.SpecID = k
			changed++
		}
	}
	if err := s.reindex(); err != nil {
		return changed, err
	}
	s.logger.Info("store: identifiers rederived",
		"format", plan.Config.Format, "numbering", plan.Config.Numbering,
		"digits", plan.Config.Digits, "changed", changed)
	return changed, nil
}
