package mapping

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/models"
	"github.com/joemooney/req/internal/storage"
)

func tempFS(t *testing.T) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	return fs
}

func record(key string) models.Requirement {
	r := models.NewRequirement("r "+key, "")
	r.SpecID = key
	return r
}

func TestRegenerateIsIdempotent(t *testing.T) {
	fs := tempFS(t)
	doc := models.NewRequirementsStore("p")
	doc.Requirements = []models.Requirement{record("FR-001"), record(""), record("BUG-007")}

	f, added, err := Generate(fs, DefaultName, doc, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	k, ok := f.Lookup(doc.Requirements[0].ID.String())
	require.True(t, ok)
	assert.Equal(t, "FR-001", k)
	k, _ = f.Lookup(doc.Requirements[1].ID.String())
	assert.Equal(t, "SPEC-001", k)

	again, added, err := Generate(fs, DefaultName, doc, slog.Default())
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, f.Mappings, again.Mappings)
	assert.Equal(t, 2, again.NextNumber)
}

func TestExistingMappingsNeverReassigned(t *testing.T) {
	f := newFile()
	r := record("FR-001")
	f.Regenerate([]models.Requirement{r})

	r.SpecID = "FR-099"
	other := record("FR-001")
	f.Regenerate([]models.Requirement{r, other})

	k, _ := f.Lookup(r.ID.String())
	assert.Equal(t, "FR-001", k)
	k, _ = f.Lookup(other.ID.String())
	assert.Equal(t, "SPEC-001", k, "taken key falls back to the file's own counter")
}

func TestGeneratedKeysSkipTakenOnes(t *testing.T) {
	f := newFile()
	f.Regenerate([]models.Requirement{record("SPEC-001"), record("")})
	assert.Len(t, values(f.Mappings), 2)
	_, ok := f.Reverse("SPEC-002")
	assert.True(t, ok)
}

func values(m map[string]string) map[string]bool {
	out := map[string]bool{}
	for _, v := range m {
		out[v] = true
	}
	return out
}

func TestReverse(t *testing.T) {
	f := newFile()
	r := record("FR-001")
	f.Regenerate([]models.Requirement{r})
	id, ok := f.Reverse("FR-001")
	require.True(t, ok)
	assert.Equal(t, r.ID.String(), id)
	_, ok = f.Reverse("FR-404")
	assert.False(t, ok)
}

func TestLoadLegacyCounter(t *testing.T) {
	fs := tempFS(t)
	legacy := "mappings:\n  a: SPEC-001\nnext_spec_number: 5\n"
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), DefaultName), []byte(legacy), 0o644))

	f, err := Load(fs, DefaultName)
	require.NoError(t, err)
	assert.Equal(t, 5, f.NextNumber)
	require.NoError(t, f.Save(fs, DefaultName))

	raw, err := os.ReadFile(filepath.Join(fs.Root(), DefaultName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "next_number: 5")
	assert.NotContains(t, string(raw), "next_spec_number")
}

func TestLoadMissingAndGarbage(t *testing.T) {
	fs := tempFS(t)
	f, err := Load(fs, "absent.yaml")
	require.NoError(t, err)
	assert.Equal(t, 1, f.NextNumber)
	assert.Empty(t, f.Mappings)

	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), "bad.yaml"), []byte("mappings: [1, 2"), 0o644))
	_, err = Load(fs, "bad.yaml")
	require.ErrorIs(t, err, apperr.ErrInvalid)
}
