package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/models"
)

var fixed = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(models.NewRequirementsStore("test"), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	return s
}

func add(t *testing.T, s *Store, title string, typ models.ReqType) *models.Requirement {
	t.Helper()
	r := models.NewRequirement(title, "")
	r.Type = typ
	got, err := s.Add(r, "alice")
	require.NoError(t, err)
	return got
}

func TestAddAssignsKeysAndDefaults(t *testing.T) {
	s := newStore(t)
	a := add(t, s, "login", models.TypeFunctional)
	b := add(t, s, "crash", models.TypeBug)

	assert.Equal(t, "FR-001", a.SpecID)
	assert.Equal(t, "BUG-002", b.SpecID)
	assert.Equal(t, "minor", b.CustomFields["severity"])
	assert.Equal(t, "alice", b.CreatedBy)
	assert.Equal(t, fixed, b.ModifiedAt)
	assert.Equal(t, 3, s.Counters().NextSpecNumber)
}

func TestResolve(t *testing.T) {
	s := newStore(t)
	a := add(t, s, "login", models.TypeFunctional)

	byID, err := s.Resolve(a.ID.String())
	require.NoError(t, err)
	assert.Equal(t, a.ID, byID.ID)

	byKey, err := s.Resolve("fr-001")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byKey.ID)

	_, err = s.Resolve("FR-404")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.Resolve(uuid.NewString())
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAddRejects(t *testing.T) {
	s := newStore(t)
	add(t, s, "login", models.TypeFunctional)

	dup := models.NewRequirement("again", "")
	dup.SpecID = "FR-001"
	_, err := s.Add(dup, "alice")
	require.ErrorIs(t, err, apperr.ErrDuplicateAlternateKey)

	withEdge := models.NewRequirement("edge", "")
	withEdge.Relationships = []models.Relationship{{Kind: models.RelReferences, TargetID: uuid.New()}}
	_, err = s.Add(withEdge, "alice")
	require.ErrorIs(t, err, apperr.ErrInvalid)

	story := models.NewRequirement("story", "")
	story.Type = models.TypeStory
	story.CustomFields = map[string]string{"story_points": "lots"}
	_, err = s.Add(story, "alice")
	require.ErrorIs(t, err, apperr.ErrInvalid)

	story.CustomFields = map[string]string{"colour": "red"}
	_, err = s.Add(story, "alice")
	require.ErrorIs(t, err, apperr.ErrInvalid)

	odd := models.NewRequirement("odd", "")
	odd.CustomStatus = "Parked"
	_, err = s.Add(odd, "alice")
	require.ErrorIs(t, err, apperr.ErrInvalid)

	untitled := models.NewRequirement("", "")
	_, err = s.Add(untitled, "alice")
	require.ErrorIs(t, err, apperr.ErrInvalid)

	assert.Equal(t, 1, s.Len())
}

func TestAddKeepsSuppliedKey(t *testing.T) {
	s := newStore(t)
	r := models.NewRequirement("imported", "")
	r.SpecID = "fr-041"
	got, err := s.Add(r, "alice")
	require.NoError(t, err)
	assert.Equal(t, "FR-041", got.SpecID)

	next := add(t, s, "next", models.TypeFunctional)
	assert.Equal(t, "FR-042", next.SpecID)
}

func TestSuppliedKeyWithForeignPrefixIsNeverReissued(t *testing.T) {
	s := newStore(t)
	r := models.NewRequirement("imported", "")
	r.SpecID = "BUG-002"
	_, err := s.Add(r, "alice")
	require.NoError(t, err)

	assert.Equal(t, "FR-003", add(t, s, "feature", models.TypeFunctional).SpecID)
	assert.Equal(t, "BUG-004", add(t, s, "crash", models.TypeBug).SpecID)
	assert.Equal(t, 5, s.Counters().NextSpecNumber)
}

func TestAddSkipsKeysAlreadyHeld(t *testing.T) {
	data := models.NewRequirementsStore("held")
	held := models.NewRequirement("held", "")
	held.SpecID = "FR-001"
	data.Requirements = append(data.Requirements, held)
	s, err := New(data, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	require.Equal(t, 1, s.Counters().NextSpecNumber, "counter not advanced by the document")

	next := add(t, s, "next", models.TypeFunctional)
	assert.Equal(t, "FR-002", next.SpecID)
	assert.Equal(t, 3, s.Counters().NextSpecNumber)
}

func TestSetDigitsKeepsLegacyPrefix(t *testing.T) {
	s := newStore(t)
	supplied := func(key string) uuid.UUID {
		t.Helper()
		r := models.NewRequirement(key, "")
		r.SpecID = key
		got, err := s.Add(r, "alice")
		require.NoError(t, err)
		return got.ID
	}
	legacyID := supplied("SPEC-001")
	supplied("FR-001")
	assert.Equal(t, "FR-002", add(t, s, "fr", models.TypeFunctional).SpecID)

	changed, err := s.SetDigits(4)
	require.NoError(t, err)
	assert.Equal(t, 3, changed)
	got, err := s.Get(legacyID)
	require.NoError(t, err)
	assert.Equal(t, "SPEC-0001", got.SpecID)
	for _, key := range []string{"FR-0001", "FR-0002"} {
		_, err = s.Resolve(key)
		require.NoError(t, err, key)
	}
}

func TestUpdateRecordsHistory(t *testing.T) {
	s := newStore(t)
	a := add(t, s, "login", models.TypeFunctional)

	got, err := s.Update(a.ID, "bob", func(r *models.Requirement) error {
		r.Title = "login with SSO"
		r.Status = models.StatusApproved
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got.History, 1)
	assert.Equal(t, "bob", got.History[0].Author)
	assert.Equal(t, []models.FieldChange{
		{Field: "title", OldValue: "login", NewValue: "login with SSO"},
		{Field: "status", OldValue: "Draft", NewValue: "Approved"},
	}, got.History[0].Changes)

	got, err = s.Update(a.ID, "bob", func(*models.Requirement) error { return nil })
	require.NoError(t, err)
	assert.Len(t, got.History, 1, "no-op update leaves no history")

	_, err = s.Update(a.ID, "bob", func(r *models.Requirement) error {
		r.SpecID = "FR-999"
		return nil
	})
	require.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = s.Update(a.ID, "bob", func(r *models.Requirement) error {
		r.Priority = "Urgent"
		return nil
	})
	require.ErrorIs(t, err, apperr.ErrInvalid)
	cur, _ := s.Get(a.ID)
	assert.Equal(t, models.PriorityMedium, cur.Priority, "rejected update leaves record alone")
}

func TestRemoveStripsEdgesAndDependencies(t *testing.T) {
	s := newStore(t)
	a := add(t, s, "a", models.TypeFunctional)
	b := add(t, s, "b", models.TypeFunctional)
	aID, bID := a.ID, b.ID

	_, err := s.Link(aID, models.RelVerifies, bID)
	require.NoError(t, err)
	_, err = s.Update(aID, "alice", func(r *models.Requirement) error {
		r.Dependencies = []uuid.UUID{bID}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Remove(bID))
	got, err := s.Get(aID)
	require.NoError(t, err)
	assert.Empty(t, got.Relationships)
	assert.Empty(t, got.Dependencies)

	_, err = s.Resolve("FR-002")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.ErrorIs(t, s.Remove(bID), apperr.ErrNotFound)
}

func TestLinkThroughStore(t *testing.T) {
	s := newStore(t)
	a := add(t, s, "a", models.TypeFunctional)
	b := add(t, s, "b", models.TypeFunctional)
	aID, bID := a.ID, b.ID

	_, err := s.Link(aID, models.RelParent, bID)
	require.NoError(t, err)
	_, err = s.Link(bID, models.RelParent, aID)
	require.ErrorIs(t, err, apperr.ErrCycleDetected)

	v, err := s.LinkAdvisory(bID, models.RelParent, aID)
	require.NoError(t, err)
	require.NotNil(t, v)

	rels, err := s.Relationships(aID)
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, bID, rels[0].Record.ID)
}

func TestRemoveTypeDefinitionGuards(t *testing.T) {
	s := newStore(t)
	risk := models.TypeDefinition{Name: "Risk", Prefix: "rsk", Statuses: []string{"Open", "Mitigated"}}
	require.NoError(t, s.AddTypeDefinition(risk))
	require.ErrorIs(t, s.AddTypeDefinition(risk), apperr.ErrAlreadyExists)

	require.NoError(t, s.RemoveTypeDefinition("Risk"), "no records hold its statuses")

	require.NoError(t, s.AddTypeDefinition(risk))
	r := models.NewRequirement("flood", "")
	r.Type = "Risk"
	r.CustomStatus = "Open"
	got, err := s.Add(r, "alice")
	require.NoError(t, err)
	assert.Equal(t, "RSK-001", got.SpecID)

	require.ErrorIs(t, s.RemoveTypeDefinition("Risk"), apperr.ErrStatusInUse)
	require.ErrorIs(t, s.RemoveTypeStatus("Risk", "Open"), apperr.ErrStatusInUse)
	require.NoError(t, s.RemoveTypeStatus("Risk", "Mitigated"))

	edited := risk
	edited.Statuses = []string{"Closed"}
	require.ErrorIs(t, s.EditTypeDefinition(edited), apperr.ErrStatusInUse)
}

func TestRemoveTypeFieldGuard(t *testing.T) {
	s := newStore(t)
	add(t, s, "crash", models.TypeBug)

	require.ErrorIs(t, s.RemoveTypeField(string(models.TypeBug), "severity"), apperr.ErrFieldInUse)
	require.NoError(t, s.RemoveTypeField(string(models.TypeBug), "reproducible"))
	require.ErrorIs(t, s.RemoveTypeDefinition(string(models.TypeBug)), apperr.ErrStatusInUse)
	require.NoError(t, s.RemoveTypeDefinition(string(models.TypeSpike)))
}

func TestSetDigitsAndRederive(t *testing.T) {
	s := newStore(t)
	add(t, s, "a", models.TypeFunctional)
	add(t, s, "b", models.TypeBug)

	changed, err := s.SetDigits(4)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	_, err = s.Resolve("BUG-0002")
	require.NoError(t, err)

	cfg := s.IdConfig()
	cfg.Numbering = models.NumberingPerPrefix
	changed, err = s.Rederive(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	bug, err := s.Resolve("BUG-0001")
	require.NoError(t, err)
	assert.Equal(t, "b", bug.Title)

	again, err := s.Rederive(cfg)
	require.NoError(t, err)
	assert.Zero(t, again)

	_, err = s.SetDigits(0)
	require.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestNewRejectsDuplicateKeys(t *testing.T) {
	data := models.NewRequirementsStore("dup")
	a, b := models.NewRequirement("a", ""), models.NewRequirement("b", "")
	a.SpecID, b.SpecID = "FR-001", "FR-001"
	data.Requirements = []models.Requirement{a, b}

	_, err := New(data)
	require.ErrorIs(t, err, apperr.ErrDuplicateAlternateKey)
}

func TestUsersFeaturesComments(t *testing.T) {
	s := newStore(t)

	u, err := s.AddUser("Alice", "alice@example.com", "alice")
	require.NoError(t, err)
	assert.Equal(t, "$USER-001", u.SpecID)
	_, err = s.AddUser("Other", "", "alice")
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)

	f, err := s.AddFeature("Auth", "auth")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Number)
	assert.Equal(t, "1-Auth", f.Name)
	assert.Equal(t, "AUTH", f.Prefix)
	_, err = s.AddFeature("auth", "")
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)

	r := models.NewRequirement("login", "")
	r.Feature = f.Name
	r.Type = "Custom"
	_, err = s.Add(r, "alice")
	require.ErrorIs(t, err, apperr.ErrNotFound, "unknown type")

	a := add(t, s, "a", models.TypeFunctional)
	c, err := s.AddComment(a.ID, "alice", "looks good", nil)
	require.NoError(t, err)
	reply, err := s.AddComment(a.ID, "bob", "agreed", &c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, *reply.ParentID)

	missing := uuid.New()
	_, err = s.AddComment(a.ID, "bob", "orphan", &missing)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, s.AddReaction(a.ID, c.ID, "bob", "thumbs_up"))
	require.ErrorIs(t, s.AddReaction(a.ID, c.ID, "bob", "thumbs_up"), apperr.ErrAlreadyExists)
	require.ErrorIs(t, s.AddReaction(a.ID, c.ID, "bob", "party"), apperr.ErrNotFound)

	_, err = s.AddURL(a.ID, "alice", "not a url", "x")
	require.ErrorIs(t, err, apperr.ErrInvalid)
	link, err := s.AddURL(a.ID, "alice", "https://example.com/spec", "spec")
	require.NoError(t, err)
	assert.Equal(t, "alice", link.AddedBy)
}

func TestEditAndDeleteComments(t *testing.T) {
	s := newStore(t)
	a := add(t, s, "a", models.TypeFunctional)
	top, err := s.AddComment(a.ID, "alice", "first", nil)
	require.NoError(t, err)
	topID := top.ID
	reply, err := s.AddComment(a.ID, "bob", "reply", &topID)
	require.NoError(t, err)
	replyID := reply.ID
	_, err = s.AddComment(a.ID, "carol", "nested", &replyID)
	require.NoError(t, err)
	other, err := s.AddComment(a.ID, "dave", "separate", nil)
	require.NoError(t, err)
	otherID := other.ID

	edited, err := s.EditComment(a.ID, topID, "first, revised")
	require.NoError(t, err)
	assert.Equal(t, "first, revised", edited.Content)
	_, err = s.EditComment(a.ID, topID, "")
	require.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = s.EditComment(a.ID, uuid.New(), "x")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	n, err := s.DeleteComment(a.ID, topID)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "replies go with their parent")
	got, err := s.Get(a.ID)
	require.NoError(t, err)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, otherID, got.Comments[0].ID)

	_, err = s.DeleteComment(a.ID, topID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEditFeatureRelabelsRecords(t *testing.T) {
	s := newStore(t)
	_, err := s.AddFeature("Auth", "AU")
	require.NoError(t, err)
	_, err = s.AddFeature("Billing", "")
	require.NoError(t, err)

	r := models.NewRequirement("login", "")
	r.Feature = "1-Auth"
	a, err := s.Add(r, "alice")
	require.NoError(t, err)
	aID := a.ID

	f, err := s.EditFeature("au", "Identity", "id")
	require.NoError(t, err)
	assert.Equal(t, "1-Identity", f.Name)
	assert.Equal(t, "ID", f.Prefix)
	got, err := s.Get(aID)
	require.NoError(t, err)
	assert.Equal(t, "1-Identity", got.Feature)
	assert.Equal(t, "FR-001", got.SpecID, "keys change only on rederive")

	_, err = s.EditFeature("Identity", "billing", "")
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
	_, err = s.EditFeature("Payments", "x", "")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
