// Package testutil provides shared test helpers for fixture stores and
// temporary backends.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joemooney/req/internal/backend"
	"github.com/joemooney/req/internal/models"
	"github.com/joemooney/req/internal/store"
)

// Fixture returns a small store:
//
//	FR-001  "login"   Approved
//	FR-002  "logout"  child of FR-001
//	BUG-003 "crash"   Bug, severity major, references FR-001
//	FR-004  "legacy"  archived
func Fixture(t *testing.T) *models.RequirementsStore {
	t.Helper()
	s, err := store.New(models.NewRequirementsStore("fixture"))
	if err != nil {
		t.Fatal(err)
	}
	add := func(r models.Requirement) *models.Requirement {
		t.Helper()
		got, err := s.Add(r, "tester")
		if err != nil {
			t.Fatal(err)
		}
		return got
	}

	login := models.NewRequirement("login", "users can log in")
	login.Status = models.StatusApproved
	login.Tags = []string{"auth"}
	loginID := add(login).ID

	logoutID := add(models.NewRequirement("logout", "")).ID

	crash := models.NewRequirement("crash", "login page crashes")
	crash.Type = models.TypeBug
	crash.CustomFields = map[string]string{"severity": "major"}
	crashID := add(crash).ID

	old := models.NewRequirement("legacy", "")
	old.Archived = true
	add(old)

	if _, err := s.Link(logoutID, models.RelParent, loginID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Link(crashID, models.RelReferences, loginID); err != nil {
		t.Fatal(err)
	}
	return s.Data()
}

// DocumentBackend writes doc to a temporary YAML store and returns its backend.
func DocumentBackend(t *testing.T, doc *models.RequirementsStore) backend.Backend {
	t.Helper()
	return seeded(t, filepath.Join(t.TempDir(), "requirements.yaml"), doc)
}

// RowstoreBackend writes doc to a temporary SQLite store and returns its backend.
func RowstoreBackend(t *testing.T, doc *models.RequirementsStore) backend.Backend {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "req-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	return seeded(t, f.Name(), doc)
}

func seeded(t *testing.T, path string, doc *models.RequirementsStore) backend.Backend {
	t.Helper()
	b, err := backend.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	if doc != nil {
		if err := b.Save(doc); err != nil {
			t.Fatal(err)
		}
	}
	return b
}
