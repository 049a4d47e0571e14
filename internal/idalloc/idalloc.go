// Package idalloc assigns and re-derives the human-facing alternate keys of
// records under the project's identifier configuration.
package idalloc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/metrics"
	"github.com/joemooney/req/internal/models"
)

// Fallback segments for two-level keys.
const (
	defaultFeatureSegment = "GEN"
	defaultTypeSegment    = "REQ"
)

// Subject carries the prefix sources of the record being numbered.
type Subject struct {
	Override      string
	TypePrefix    string
	FeaturePrefix string
}

// Allocator is the single entry point that advances the counters.
type Allocator struct {
	config   *models.IdConfiguration
	counters *models.Counters
}

// New returns an allocator that reads config and mutates counters in place.
func New(config *models.IdConfiguration, counters *models.Counters) *Allocator {
	return &Allocator{config: config, counters: counters}
}

// Config returns the active configuration.
func (a *Allocator) Config() models.IdConfiguration { return *a.config }

// Capacity returns the largest number representable in digits.
func Capacity(digits int) int {
	n := 1
	for i := 0; i < digits; i++ {
		n *= 10
	}
	return n - 1
}

// Format renders a key as prefix-N zero-padded to digits.
func Format(prefix string, n, digits int) string {
	return fmt.Sprintf("%s-%0*d", prefix, digits, n)
}

// Parse splits a key into its prefix and trailing number.
func Parse(key string) (string, int, bool) {
	i := strings.LastIndexByte(key, '-')
	if i <= 0 || i == len(key)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(key[i+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return key[:i], n, true
}

// Prefix returns the key prefix a subject gets under the active format.
func (a *Allocator) Prefix(s Subject) string {
	return prefixFor(a.config.Format, s)
}

func prefixFor(format models.IdFormat, s Subject) string {
	if s.Override != "" {
		return strings.ToUpper(s.Override)
	}
	if format == models.FormatTwoLevel {
		return featureSegment(s) + "-" + typeSegment(s)
	}
	switch {
	case s.TypePrefix != "":
		return strings.ToUpper(s.TypePrefix)
	case s.FeaturePrefix != "":
		return strings.ToUpper(s.FeaturePrefix)
	}
	return models.DefaultPrefix
}

func featureSegment(s Subject) string {
	if s.FeaturePrefix == "" {
		return defaultFeatureSegment
	}
	return strings.ToUpper(s.FeaturePrefix)
}

func typeSegment(s Subject) string {
	if s.TypePrefix == "" {
		return defaultTypeSegment
	}
	return strings.ToUpper(s.TypePrefix)
}

// counterKey names the counter a subject draws from. The empty key is the
// global counter.
func counterKey(cfg models.IdConfiguration, s Subject) string {
	switch cfg.Numbering {
	case models.NumberingPerPrefix:
		return prefixFor(cfg.Format, s)
	case models.NumberingPerFeatureType:
		return featureSegment(s) + "-" + typeSegment(s)
	}
	return ""
}

func (a *Allocator) next(key string) int {
	if key == "" {
		if a.counters.NextSpecNumber < 1 {
			return 1
		}
		return a.counters.NextSpecNumber
	}
	if n := a.counters.PrefixCounters[key]; n > 0 {
		return n
	}
	return 1
}

func (a *Allocator) set(key string, n int) {
	if key == "" {
		a.counters.NextSpecNumber = n
		return
	}
	if a.counters.PrefixCounters == nil {
		a.counters.PrefixCounters = make(map[string]int)
	}
	a.counters.PrefixCounters[key] = n
}

// advancePast moves a counter forward so it never hands out n again.
func (a *Allocator) advancePast(key string, n int) {
	if a.next(key) <= n {
		a.set(key, n+1)
	}
}

// Peek returns the key Assign would produce without advancing any counter.
func (a *Allocator) Peek(s Subject) (string, error) {
	n := a.next(counterKey(*a.config, s))
	if n > Capacity(a.config.Digits) {
		return "", fmt.Errorf("idalloc: number %d exceeds %d digits: %w", n, a.config.Digits, apperr.ErrDigitOverflow)
	}
	return Format(a.Prefix(s), n, a.config.Digits), nil
}

// Assign returns the next key for the subject and advances exactly one counter.
func (a *Allocator) Assign(s Subject) (string, error) {
	return a.AssignFree(s, nil)
}

// AssignFree is Assign that passes over numbers whose key held reports as
// taken. The counter is only committed once a free key is found.
func (a *Allocator) AssignFree(s Subject, held func(key string) bool) (string, error) {
	ck := counterKey(*a.config, s)
	prefix := a.Prefix(s)
	for n := a.next(ck); ; n++ {
		if n > Capacity(a.config.Digits) {
			return "", fmt.Errorf("idalloc: number %d exceeds %d digits: %w", n, a.config.Digits, apperr.ErrDigitOverflow)
		}
		key := Format(prefix, n, a.config.Digits)
		if held != nil && held(key) {
			continue
		}
		a.set(ck, n+1)
		metrics.KeysAssigned.WithLabelValues(string(a.config.Numbering)).Inc()
		return key, nil
	}
}

// AssignMeta numbers a meta entity such as a user from its own counter.
func (a *Allocator) AssignMeta(prefix string) string {
	if a.counters.MetaCounters == nil {
		a.counters.MetaCounters = make(map[string]int)
	}
	n := a.counters.MetaCounters[prefix]
	if n < 1 {
		n = 1
	}
	a.counters.MetaCounters[prefix] = n + 1
	return Format(prefix, n, 3)
}

// AssignFeatureNumber hands out the next feature number.
func (a *Allocator) AssignFeatureNumber() int {
	n := a.counters.NextFeatureNumber
	if n < 1 {
		n = 1
	}
	a.counters.NextFeatureNumber = n + 1
	return n
}

// Reserve advances the counter that could produce key past its number so it
// is never handed out again. Under global numbering that is the single
// counter whatever the prefix; otherwise it is the counter of the key's own
// prefix.
func (a *Allocator) Reserve(s Subject, key string) {
	prefix, n, ok := Parse(key)
	if !ok {
		return
	}
	a.hold(s, prefix, n)
}

func (a *Allocator) hold(s Subject, prefix string, n int) {
	switch {
	case a.config.Numbering == models.NumberingGlobal:
		a.advancePast("", n)
	case prefix == a.Prefix(s):
		a.advancePast(counterKey(*a.config, s), n)
	default:
		a.advancePast(prefix, n)
	}
}

// Entry is one record's input to a re-derivation.
type Entry struct {
	ID      uuid.UUID
	Key     string
	Subject Subject
}

// Plan is a validated re-derivation that has not touched the model yet.
type Plan struct {
	Config     models.IdConfiguration
	Counters   models.Counters
	Keys       map[uuid.UUID]string
	Renumbered bool
}

// PlanDigits plans a digit-width change. Every key keeps its prefix and
// number; only the zero padding changes.
func (a *Allocator) PlanDigits(digits int, entries []Entry) (*Plan, error) {
	next := *a.config
	next.Digits = digits
	return a.plan(next, entries, true)
}

// PlanRederive validates a configuration change against the keys in use and
// computes every record's new key. When format and numbering are unchanged
// the numbers are kept and only the rendering changes; otherwise records are
// renumbered in the given order from fresh counters.
func (a *Allocator) PlanRederive(next models.IdConfiguration, entries []Entry) (*Plan, error) {
	return a.plan(next, entries, false)
}

func (a *Allocator) plan(next models.IdConfiguration, entries []Entry, repad bool) (*Plan, error) {
	plan, err := a.planRederive(next, entries, repad)
	if err != nil {
		metrics.Rederivations.WithLabelValues("rejected").Inc()
		return nil, err
	}
	return plan, nil
}

func (a *Allocator) planRederive(next models.IdConfiguration, entries []Entry, repad bool) (*Plan, error) {
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("idalloc: %w: %w", apperr.ErrInvalid, err)
	}
	cur := *a.config
	if next.Numbering == models.NumberingPerFeatureType && next.Format != models.FormatTwoLevel {
		return nil, fmt.Errorf("idalloc: %s numbering requires %s format: %w",
			next.Numbering, models.FormatTwoLevel, apperr.ErrFormatIncompatible)
	}
	if next.Format != cur.Format &&
		(cur.Numbering != models.NumberingGlobal || next.Numbering != models.NumberingGlobal) {
		return nil, fmt.Errorf("idalloc: switching %s to %s under %s/%s numbering: %w",
			cur.Format, next.Format, cur.Numbering, next.Numbering, apperr.ErrFormatIncompatible)
	}

	preserve := next.Format == cur.Format && next.Numbering == cur.Numbering
	plan := &Plan{
		Config:     next,
		Keys:       make(map[uuid.UUID]string, len(entries)),
		Renumbered: !preserve,
	}
	if preserve {
		plan.Counters = a.counters.Clone()
	} else {
		kept := a.counters.Clone()
		plan.Counters = models.Counters{
			NextFeatureNumber: kept.NextFeatureNumber,
			NextSpecNumber:    1,
			MetaCounters:      kept.MetaCounters,
		}
	}
	scratch := New(&plan.Config, &plan.Counters)

	var pending []Entry
	used := make(map[string]bool, len(entries))
	if preserve {
		highest, holder := 0, ""
		for _, e := range entries {
			if _, n, ok := Parse(e.Key); ok && n > highest {
				highest, holder = n, e.Key
			}
		}
		if highest > Capacity(next.Digits) {
			return nil, fmt.Errorf("idalloc: %s needs more than %d digits: %w",
				holder, next.Digits, apperr.ErrDigitOverflow)
		}
		for _, e := range entries {
			prefix, n, ok := Parse(e.Key)
			if !ok {
				pending = append(pending, e)
				continue
			}
			if !repad {
				prefix = scratch.Prefix(e.Subject)
			}
			plan.Keys[e.ID] = Format(prefix, n, next.Digits)
			used[plan.Keys[e.ID]] = true
			scratch.hold(e.Subject, prefix, n)
		}
	} else {
		pending = entries
	}
	for _, e := range pending {
		key, err := scratch.AssignFree(e.Subject, func(k string) bool { return used[k] })
		if err != nil {
			return nil, err
		}
		plan.Keys[e.ID] = key
		used[key] = true
	}

	seen := make(map[string]uuid.UUID, len(plan.Keys))
	for _, e := range entries {
		key := plan.Keys[e.ID]
		if other, dup := seen[key]; dup {
			return nil, fmt.Errorf("idalloc: %s would be shared by %s and %s: %w",
				key, other, e.ID, apperr.ErrDuplicateAlternateKey)
		}
		seen[key] = e.ID
	}
	return plan, nil
}

// Apply commits a plan's configuration and counters. The caller writes the
// planned keys onto its records.
func (a *Allocator) Apply(p *Plan) {
	*a.config = p.Config
	*a.counters = p.Counters
	metrics.Rederivations.WithLabelValues("applied").Inc()
}
