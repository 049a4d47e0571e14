package rowstore

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/models"
	"github.com/joemooney/req/internal/store"
)

func tempDB(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "req-test-*.db")
	require.NoError(t, err)
	f.Close()
	return f.Name()
}

func openTemp(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(tempDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func sample(t *testing.T) *models.RequirementsStore {
	t.Helper()
	s, err := store.New(models.NewRequirementsStore("sample"))
	require.NoError(t, err)

	r := models.NewRequirement("login", "users can log in")
	r.Tags = []string{"auth", "web"}
	a, err := s.Add(r, "alice")
	require.NoError(t, err)
	aID := a.ID

	task := models.NewRequirement("wire form", "")
	task.Type = models.TypeTask
	task.CustomFields = map[string]string{"due": "2024-05-01"}
	b, err := s.Add(task, "alice")
	require.NoError(t, err)
	bID := b.ID

	_, err = s.Link(bID, models.RelParent, aID)
	require.NoError(t, err)
	c, err := s.AddComment(aID, "bob", "ship it", nil)
	require.NoError(t, err)
	require.NoError(t, s.AddReaction(aID, c.ID, "alice", "thumbs_up"))
	_, err = s.Update(aID, "bob", func(r *models.Requirement) error {
		r.Status = models.StatusApproved
		return nil
	})
	require.NoError(t, err)
	_, err = s.AddUser("Alice", "alice@example.com", "alice")
	require.NoError(t, err)
	_, err = s.AddFeature("Auth", "AU")
	require.NoError(t, err)
	return s.Data()
}

func TestEmptyDatabaseLoadsDefaults(t *testing.T) {
	b := openTemp(t)
	doc, err := b.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.Requirements)
	assert.Len(t, doc.RelationshipDefinitions, len(models.BuiltinRelationshipDefinitions()))
	assert.Equal(t, models.DefaultIdConfiguration(), doc.IdConfig)
	assert.Equal(t, Kind, b.Kind())
}

func TestInvalidMetadataIsDefaulted(t *testing.T) {
	b := openTemp(t)
	require.NoError(t, b.Save(sample(t)))
	_, err := b.conn.Exec(`UPDATE metadata SET id_config = '{"format":"bogus","numbering":"global","digits":9}',
		type_definitions = '[]', next_spec_number = 0 WHERE id = 1`)
	require.NoError(t, err)

	doc, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, models.DefaultIdConfiguration(), doc.IdConfig)
	assert.NotEmpty(t, doc.TypeDefinitions)
	assert.Equal(t, 1, doc.NextSpecNumber)
	rep := b.LastUpgrade()
	assert.True(t, rep.Changed())
	assert.Subset(t, rep.Defaulted, []string{"id_config", "type_definitions", "next_spec_number"})

	require.NoError(t, b.Save(doc))
	_, err = b.Load()
	require.NoError(t, err)
	assert.False(t, b.LastUpgrade().Changed(), "defaults persisted")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := openTemp(t)
	doc := sample(t)
	require.NoError(t, b.Save(doc))

	got, err := b.Load()
	require.NoError(t, err)
	require.Len(t, got.Requirements, 2)

	for i := range doc.Requirements {
		want, have := doc.Requirements[i], got.Requirements[i]
		assert.Equal(t, want.ID, have.ID)
		assert.Equal(t, want.SpecID, have.SpecID)
		assert.Equal(t, want.Tags, have.Tags)
		assert.Equal(t, want.Relationships, have.Relationships)
		assert.Equal(t, want.CustomFields, have.CustomFields)
		assert.Equal(t, len(want.History), len(have.History))
		assert.True(t, want.CreatedAt.Equal(have.CreatedAt))
	}
	assert.Equal(t, "ship it", got.Requirements[0].Comments[0].Content)
	assert.Len(t, got.Requirements[0].Comments[0].Reactions, 1)
	assert.Equal(t, doc.NextSpecNumber, got.NextSpecNumber)
	assert.Equal(t, doc.MetaCounters, got.MetaCounters)
	assert.Equal(t, doc.Features, got.Features)
	require.Len(t, got.Users, 1)
	assert.Equal(t, "$USER-001", got.Users[0].SpecID)
}

func TestSaveReplacesRows(t *testing.T) {
	b := openTemp(t)
	doc := sample(t)
	require.NoError(t, b.Save(doc))

	doc.Requirements = doc.Requirements[:1]
	require.NoError(t, b.Save(doc))
	got, err := b.Load()
	require.NoError(t, err)
	assert.Len(t, got.Requirements, 1)
}

func TestFailedSaveRollsBack(t *testing.T) {
	b := openTemp(t)
	doc := sample(t)
	require.NoError(t, b.Save(doc))

	broken := *doc
	broken.Requirements = append([]models.Requirement(nil), doc.Requirements...)
	dup := broken.Requirements[0]
	dup.ID = uuid.New()
	broken.Requirements = append(broken.Requirements, dup)
	require.Error(t, b.Save(&broken), "duplicate spec_id must violate the unique index")

	got, err := b.Load()
	require.NoError(t, err)
	assert.Len(t, got.Requirements, 2)
}

func TestNewerSchemaRejected(t *testing.T) {
	path := tempDB(t)
	b, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	raw, err := sql.Open(driverName, path)
	require.NoError(t, err)
	_, err = raw.Exec(`UPDATE schema_version SET version = ?`, SchemaVersion+1)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = Open(path)
	require.ErrorIs(t, err, apperr.ErrSchemaMismatch)
}

func TestReaderDuringWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.db")
	writer, err := Open(path, WithBusyTimeout(2*time.Second))
	require.NoError(t, err)
	defer writer.Close()
	reader, err := Open(path)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, writer.Save(sample(t)))

	tx, err := writer.conn.Begin()
	require.NoError(t, err)
	_, err = tx.Exec(`DELETE FROM requirements`)
	require.NoError(t, err)

	got, err := reader.Load()
	require.NoError(t, err, "WAL readers are not blocked by an open writer")
	assert.Len(t, got.Requirements, 2, "uncommitted delete is invisible")
	require.NoError(t, tx.Rollback())
}
