package graph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/models"
)

type memRecords struct {
	order []uuid.UUID
	byID  map[uuid.UUID]*models.Requirement
}

func (m *memRecords) Requirement(id uuid.UUID) (*models.Requirement, bool) {
	r, ok := m.byID[id]
	return r, ok
}

func (m *memRecords) Each(fn func(*models.Requirement)) {
	for _, id := range m.order {
		fn(m.byID[id])
	}
}

func (m *memRecords) add(t models.ReqType) uuid.UUID {
	r := models.NewRequirement("r", "")
	r.Type = t
	m.order = append(m.order, r.ID)
	m.byID[r.ID] = &r
	return r.ID
}

func newEngine(t *testing.T) (*Engine, *memRecords) {
	t.Helper()
	recs := &memRecords{byID: map[uuid.UUID]*models.Requirement{}}
	defs := models.BuiltinRelationshipDefinitions()
	return New(&defs, recs), recs
}

func TestLinkCreatesInverse(t *testing.T) {
	e, recs := newEngine(t)
	a, b := recs.add(models.TypeFunctional), recs.add(models.TypeFunctional)

	v, err := e.Link(a, "verifies", b)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.True(t, recs.byID[a].HasEdge(models.RelVerifies, b))
	assert.True(t, recs.byID[b].HasEdge(models.RelVerifiedBy, a))

	require.NoError(t, e.Unlink(b, "verified-by", a))
	assert.Empty(t, recs.byID[a].Relationships)
	assert.Empty(t, recs.byID[b].Relationships)
}

func TestLinkSymmetricAndNoInverse(t *testing.T) {
	e, recs := newEngine(t)
	a, b := recs.add(models.TypeFunctional), recs.add(models.TypeFunctional)

	_, err := e.Link(a, models.RelDuplicate, b)
	require.NoError(t, err)
	assert.True(t, recs.byID[b].HasEdge(models.RelDuplicate, a))

	_, err = e.Link(a, models.RelReferences, b)
	require.NoError(t, err)
	assert.False(t, recs.byID[b].HasEdge(models.RelReferences, a))
}

func TestParentCycleScenario(t *testing.T) {
	e, recs := newEngine(t)
	a, b := recs.add(models.TypeFunctional), recs.add(models.TypeFunctional)

	_, err := e.Link(a, models.RelParent, b)
	require.NoError(t, err)

	_, err = e.Link(b, models.RelParent, a)
	require.ErrorIs(t, err, apperr.ErrCycleDetected)

	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, b, v.Source)
	assert.Equal(t, a, v.Target)
}

func TestLongerCycleThroughInverseKind(t *testing.T) {
	e, recs := newEngine(t)
	a, b, c := recs.add(models.TypeEpic), recs.add(models.TypeStory), recs.add(models.TypeTask)

	// c's parent is b; b's parent is a (expressed via the child kind).
	_, err := e.Link(c, models.RelParent, b)
	require.NoError(t, err)
	_, err = e.Link(a, models.RelChild, b)
	require.NoError(t, err)

	_, err = e.Link(a, models.RelParent, c)
	require.ErrorIs(t, err, apperr.ErrCycleDetected)
	_, err = e.Link(c, models.RelChild, a)
	require.ErrorIs(t, err, apperr.ErrCycleDetected)
}

func TestTypeConstraintScenario(t *testing.T) {
	e, recs := newEngine(t)
	require.NoError(t, e.Redefine(models.RelationshipDefinition{
		Name:        models.RelVerifies,
		DisplayName: "Verifies",
		Inverse:     models.RelVerifiedBy,
		Cardinality: models.ManyToMany,
		SourceTypes: []models.ReqType{models.TypeFunctional},
		TargetTypes: []models.ReqType{models.TypeSystem},
	}))

	user, sys, fn := recs.add(models.TypeUser), recs.add(models.TypeSystem), recs.add(models.TypeFunctional)

	_, err := e.Link(user, models.RelVerifies, sys)
	require.ErrorIs(t, err, apperr.ErrTypeNotAllowed)

	_, err = e.Link(fn, models.RelVerifies, sys)
	require.NoError(t, err)
}

func TestCardinality(t *testing.T) {
	e, recs := newEngine(t)
	child, p1, p2 := recs.add(models.TypeTask), recs.add(models.TypeStory), recs.add(models.TypeStory)

	_, err := e.Link(child, models.RelParent, p1)
	require.NoError(t, err)
	_, err = e.Link(child, models.RelParent, p2)
	require.ErrorIs(t, err, apperr.ErrCardinalityExceeded)

	// Same limit seen from the child kind, which limits its target.
	_, err = e.Link(p2, models.RelChild, child)
	require.ErrorIs(t, err, apperr.ErrCardinalityExceeded)
}

func TestSelfReference(t *testing.T) {
	e, recs := newEngine(t)
	a := recs.add(models.TypeFunctional)

	_, err := e.Link(a, models.RelReferences, a)
	require.ErrorIs(t, err, apperr.ErrSelfReference)

	require.NoError(t, e.Define(models.RelationshipDefinition{
		Name: "Related", Cardinality: models.ManyToMany, AllowSelf: true,
	}))
	_, err = e.Link(a, "related", a)
	require.NoError(t, err)
}

func TestDuplicateEdgeAndUnknowns(t *testing.T) {
	e, recs := newEngine(t)
	a, b := recs.add(models.TypeFunctional), recs.add(models.TypeFunctional)

	_, err := e.Link(a, models.RelReferences, b)
	require.NoError(t, err)
	_, err = e.Link(a, models.RelReferences, b)
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)

	_, err = e.Link(a, "nope", b)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = e.Link(a, models.RelReferences, uuid.New())
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.ErrorIs(t, e.Unlink(b, models.RelReferences, a), apperr.ErrNotFound)
}

func TestAdvisoryKeepsAndFlags(t *testing.T) {
	e, recs := newEngine(t)
	a, b := recs.add(models.TypeFunctional), recs.add(models.TypeFunctional)
	_, err := e.Link(a, models.RelParent, b)
	require.NoError(t, err)

	v, err := e.Advisory().Link(b, models.RelParent, a)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.ErrorIs(t, v, apperr.ErrCycleDetected)

	edge := recs.byID[b].Relationships
	require.Len(t, edge, 2)
	assert.True(t, edge[1].Flagged)
}

func TestReplayRepairsInverses(t *testing.T) {
	e, recs := newEngine(t)
	a, b, c := recs.add(models.TypeFunctional), recs.add(models.TypeFunctional), recs.add(models.TypeFunctional)

	// Legacy data: one-sided edges, one cycle, one unknown kind.
	recs.byID[a].Relationships = []models.Relationship{{Kind: "Parent", TargetID: b}}
	recs.byID[b].Relationships = []models.Relationship{{Kind: models.RelParent, TargetID: a}}
	recs.byID[c].Relationships = []models.Relationship{{Kind: "implements", TargetID: a}}

	warnings := e.Replay()
	require.Len(t, warnings, 2)
	assert.ErrorIs(t, warnings[0], apperr.ErrCycleDetected)
	assert.ErrorIs(t, warnings[1], apperr.ErrNotFound)

	assert.True(t, recs.byID[b].HasEdge(models.RelChild, a), "inverse restored")
	assert.True(t, recs.byID[c].Relationships[0].Flagged)
}

func TestDefinitionManagement(t *testing.T) {
	e, recs := newEngine(t)

	err := e.Define(models.RelationshipDefinition{Name: "implements", Inverse: "implemented_by", Cardinality: models.ManyToMany})
	require.ErrorIs(t, err, apperr.ErrInvalid, "inverse must be defined together")

	require.NoError(t, e.Define(
		models.RelationshipDefinition{Name: "Implements", Inverse: "implemented_by", Cardinality: models.ManyToMany},
		models.RelationshipDefinition{Name: "implemented_by", Inverse: "implements", Cardinality: models.ManyToMany},
	))
	_, ok := e.Definition("IMPLEMENTS")
	assert.True(t, ok)

	sym := models.RelationshipDefinition{Name: "twin", Symmetric: true, Inverse: "twin", Cardinality: models.ManyToMany}
	require.ErrorIs(t, e.Define(sym), apperr.ErrInvalid)

	parent, _ := e.Definition(models.RelParent)
	edited := *parent
	edited.DisplayName = "Parent of"
	edited.Color = "#000000"
	require.NoError(t, e.Redefine(edited))
	got, _ := e.Definition(models.RelParent)
	assert.Equal(t, "Parent of", got.DisplayName)
	assert.True(t, got.BuiltIn)

	edited.Cardinality = models.ManyToMany
	require.ErrorIs(t, e.Redefine(edited), apperr.ErrBuiltIn)
	require.ErrorIs(t, e.Undefine(models.RelParent), apperr.ErrBuiltIn)

	a, b := recs.add(models.TypeFunctional), recs.add(models.TypeFunctional)
	_, err = e.Link(a, "implements", b)
	require.NoError(t, err)
	require.ErrorIs(t, e.Undefine("implements", "implemented_by"), apperr.ErrKindInUse)

	require.NoError(t, e.Unlink(a, "implements", b))
	require.ErrorIs(t, e.Undefine("implements"), apperr.ErrInvalid, "half a pair")
	require.NoError(t, e.Undefine("implements", "implemented_by"))
}
