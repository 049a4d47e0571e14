package idalloc

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/models"
)

func newAllocator(cfg models.IdConfiguration) (*Allocator, *models.IdConfiguration, *models.Counters) {
	c := cfg
	counters := &models.Counters{NextSpecNumber: 1}
	return New(&c, counters), &c, counters
}

func fr() Subject  { return Subject{TypePrefix: "FR"} }
func bug() Subject { return Subject{TypePrefix: "BUG"} }

func TestAssignGlobal(t *testing.T) {
	a, _, counters := newAllocator(models.DefaultIdConfiguration())

	k1, err := a.Assign(fr())
	require.NoError(t, err)
	k2, err := a.Assign(bug())
	require.NoError(t, err)

	assert.Equal(t, "FR-001", k1)
	assert.Equal(t, "BUG-002", k2)
	assert.Equal(t, 3, counters.NextSpecNumber)
}

func TestAssignPerPrefix(t *testing.T) {
	cfg := models.DefaultIdConfiguration()
	cfg.Numbering = models.NumberingPerPrefix
	a, _, counters := newAllocator(cfg)

	for _, want := range []string{"FR-001", "FR-002"} {
		got, err := a.Assign(fr())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := a.Assign(bug())
	require.NoError(t, err)
	assert.Equal(t, "BUG-001", got)
	assert.Equal(t, 3, counters.PrefixCounters["FR"])
	assert.Equal(t, 1, counters.NextSpecNumber, "global counter untouched")
}

func TestAssignTwoLevelPerFeatureType(t *testing.T) {
	cfg := models.IdConfiguration{
		Format:    models.FormatTwoLevel,
		Numbering: models.NumberingPerFeatureType,
		Digits:    2,
	}
	a, _, _ := newAllocator(cfg)

	auth := Subject{TypePrefix: "FR", FeaturePrefix: "auth"}
	pay := Subject{TypePrefix: "FR", FeaturePrefix: "PAY"}

	k1, _ := a.Assign(auth)
	k2, _ := a.Assign(auth)
	k3, _ := a.Assign(pay)
	assert.Equal(t, []string{"AUTH-FR-01", "AUTH-FR-02", "PAY-FR-01"}, []string{k1, k2, k3})
}

func TestPrefixFallbacks(t *testing.T) {
	a, _, _ := newAllocator(models.DefaultIdConfiguration())

	assert.Equal(t, "OVR", a.Prefix(Subject{Override: "ovr", TypePrefix: "FR"}))
	assert.Equal(t, "FR", a.Prefix(Subject{TypePrefix: "FR", FeaturePrefix: "AUTH"}))
	assert.Equal(t, "AUTH", a.Prefix(Subject{FeaturePrefix: "auth"}))
	assert.Equal(t, models.DefaultPrefix, a.Prefix(Subject{}))
}

func TestAssignOverflow(t *testing.T) {
	cfg := models.DefaultIdConfiguration()
	cfg.Digits = 1
	a, _, counters := newAllocator(cfg)
	counters.NextSpecNumber = 10

	_, err := a.Assign(fr())
	require.ErrorIs(t, err, apperr.ErrDigitOverflow)
	assert.Equal(t, 10, counters.NextSpecNumber, "failed assignment must not advance")
}

func TestPeekDoesNotAdvance(t *testing.T) {
	a, _, counters := newAllocator(models.DefaultIdConfiguration())
	k, err := a.Peek(fr())
	require.NoError(t, err)
	assert.Equal(t, "FR-001", k)
	assert.Equal(t, 1, counters.NextSpecNumber)
}

func TestParse(t *testing.T) {
	prefix, n, ok := Parse("AUTH-FR-0042")
	require.True(t, ok)
	assert.Equal(t, "AUTH-FR", prefix)
	assert.Equal(t, 42, n)

	for _, bad := range []string{"", "SPEC", "SPEC-", "-12", "SPEC-x1"} {
		_, _, ok := Parse(bad)
		assert.False(t, ok, bad)
	}
}

func TestDigitWidthScenario(t *testing.T) {
	a, cfg, counters := newAllocator(models.DefaultIdConfiguration())
	counters.NextSpecNumber = 1000
	id := uuid.New()
	entries := []Entry{{ID: id, Key: "FR-999", Subject: fr()}}

	_, err := a.PlanDigits(2, entries)
	require.ErrorIs(t, err, apperr.ErrDigitOverflow)
	assert.Equal(t, 3, cfg.Digits, "rejected plan leaves config alone")

	plan, err := a.PlanDigits(4, entries)
	require.NoError(t, err)
	a.Apply(plan)
	assert.Equal(t, "FR-0999", plan.Keys[id])
	assert.Equal(t, 4, cfg.Digits)
	assert.Equal(t, 1000, counters.NextSpecNumber)
}

func TestRederiveIdempotent(t *testing.T) {
	a, cfg, _ := newAllocator(models.DefaultIdConfiguration())
	entries := make([]Entry, 0, 4)
	for _, s := range []Subject{fr(), bug(), fr(), bug()} {
		k, err := a.Assign(s)
		require.NoError(t, err)
		entries = append(entries, Entry{ID: uuid.New(), Key: k, Subject: s})
	}

	next := *cfg
	next.Numbering = models.NumberingPerPrefix
	first, err := a.PlanRederive(next, entries)
	require.NoError(t, err)
	assert.True(t, first.Renumbered)
	a.Apply(first)

	for i := range entries {
		entries[i].Key = first.Keys[entries[i].ID]
	}
	assert.Equal(t, "FR-001", entries[0].Key)
	assert.Equal(t, "BUG-001", entries[1].Key)
	assert.Equal(t, "FR-002", entries[2].Key)
	assert.Equal(t, "BUG-002", entries[3].Key)

	second, err := a.PlanRederive(*cfg, entries)
	require.NoError(t, err)
	assert.False(t, second.Renumbered)
	assert.Equal(t, first.Keys, second.Keys)
}

func TestRederiveFormatIncompatible(t *testing.T) {
	cfg := models.DefaultIdConfiguration()
	cfg.Numbering = models.NumberingPerPrefix
	a, _, _ := newAllocator(cfg)

	next := cfg
	next.Format = models.FormatTwoLevel
	_, err := a.PlanRederive(next, nil)
	require.ErrorIs(t, err, apperr.ErrFormatIncompatible)

	single := models.DefaultIdConfiguration()
	single.Numbering = models.NumberingPerFeatureType
	_, err = a.PlanRederive(single, nil)
	require.ErrorIs(t, err, apperr.ErrFormatIncompatible)
}

func TestRederiveGlobalFormatSwitch(t *testing.T) {
	a, _, _ := newAllocator(models.DefaultIdConfiguration())
	id := uuid.New()
	k, _ := a.Assign(Subject{TypePrefix: "FR", FeaturePrefix: "AUTH"})

	next := models.DefaultIdConfiguration()
	next.Format = models.FormatTwoLevel
	plan, err := a.PlanRederive(next, []Entry{{ID: id, Key: k, Subject: Subject{TypePrefix: "FR", FeaturePrefix: "AUTH"}}})
	require.NoError(t, err)
	assert.Equal(t, "AUTH-FR-001", plan.Keys[id])
}

func TestRederiveRejectsCollision(t *testing.T) {
	cfg := models.DefaultIdConfiguration()
	cfg.Numbering = models.NumberingPerPrefix
	a, _, _ := newAllocator(cfg)

	// Both records carry number 1 under different prefixes; an override
	// folds them into the same prefix.
	entries := []Entry{
		{ID: uuid.New(), Key: "FR-001", Subject: Subject{Override: "X", TypePrefix: "FR"}},
		{ID: uuid.New(), Key: "BUG-001", Subject: Subject{Override: "X", TypePrefix: "BUG"}},
	}
	_, err := a.PlanRederive(cfg, entries)
	require.ErrorIs(t, err, apperr.ErrDuplicateAlternateKey)
}

func TestRederiveInvalidDigits(t *testing.T) {
	a, _, _ := newAllocator(models.DefaultIdConfiguration())
	_, err := a.PlanDigits(7, nil)
	require.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestAssignMeta(t *testing.T) {
	a, _, counters := newAllocator(models.DefaultIdConfiguration())
	assert.Equal(t, "$USER-001", a.AssignMeta(models.MetaPrefixUser))
	assert.Equal(t, "$USER-002", a.AssignMeta(models.MetaPrefixUser))
	assert.Equal(t, 1, counters.NextSpecNumber)
}

func TestReserveAndFeatureNumbers(t *testing.T) {
	a, _, counters := newAllocator(models.DefaultIdConfiguration())
	a.Reserve(fr(), "FR-041")
	assert.Equal(t, 42, counters.NextSpecNumber)
	a.Reserve(fr(), "OTHER-090")
	assert.Equal(t, 91, counters.NextSpecNumber, "global counter ignores the prefix")
	a.Reserve(fr(), "not a key")
	assert.Equal(t, 91, counters.NextSpecNumber)

	assert.Equal(t, 1, a.AssignFeatureNumber())
	assert.Equal(t, 2, a.AssignFeatureNumber())
}

func TestReservePerPrefixUsesKeyPrefix(t *testing.T) {
	cfg := models.DefaultIdConfiguration()
	cfg.Numbering = models.NumberingPerPrefix
	a, _, counters := newAllocator(cfg)

	a.Reserve(fr(), "BUG-002")
	assert.Equal(t, 3, counters.PrefixCounters["BUG"])
	k, err := a.Assign(bug())
	require.NoError(t, err)
	assert.Equal(t, "BUG-003", k)
	k, err = a.Assign(fr())
	require.NoError(t, err)
	assert.Equal(t, "FR-001", k)
}

func TestAssignFreeSkipsHeldKeys(t *testing.T) {
	a, _, counters := newAllocator(models.DefaultIdConfiguration())
	held := map[string]bool{"FR-001": true, "FR-002": true}

	k, err := a.AssignFree(fr(), func(key string) bool { return held[key] })
	require.NoError(t, err)
	assert.Equal(t, "FR-003", k)
	assert.Equal(t, 4, counters.NextSpecNumber)

	cfg := models.DefaultIdConfiguration()
	cfg.Digits = 1
	small, _, smallCounters := newAllocator(cfg)
	smallCounters.NextSpecNumber = 9
	_, err = small.AssignFree(fr(), func(string) bool { return true })
	require.ErrorIs(t, err, apperr.ErrDigitOverflow)
	assert.Equal(t, 9, smallCounters.NextSpecNumber, "counter untouched on failure")
}

func TestPlanDigitsKeepsForeignPrefixes(t *testing.T) {
	a, _, counters := newAllocator(models.DefaultIdConfiguration())
	legacyID, frID := uuid.New(), uuid.New()
	entries := []Entry{
		{ID: legacyID, Key: "SPEC-001", Subject: fr()},
		{ID: frID, Key: "FR-001", Subject: fr()},
	}
	counters.NextSpecNumber = 2

	plan, err := a.PlanDigits(4, entries)
	require.NoError(t, err)
	assert.Equal(t, "SPEC-0001", plan.Keys[legacyID])
	assert.Equal(t, "FR-0001", plan.Keys[frID])
	assert.False(t, plan.Renumbered)

	narrow, err := a.PlanDigits(2, entries)
	require.NoError(t, err)
	assert.Equal(t, "SPEC-01", narrow.Keys[legacyID])
}
