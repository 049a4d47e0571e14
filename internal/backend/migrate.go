package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/backend/rowstore"
	"github.com/joemooney/req/internal/graph"
	"github.com/joemooney/req/internal/legacy"
	"github.com/joemooney/req/internal/metrics"
	"github.com/joemooney/req/internal/models"
	"github.com/joemooney/req/internal/storage"
	"github.com/joemooney/req/internal/store"
)

// MigrationReport summarizes a completed migration, export or import.
type MigrationReport struct {
	Op          string
	Source      string
	Destination string
	Records     int
	Users       int
	Warnings    []*graph.Violation
}

// Migrate copies the store behind src into dstPath, choosing the destination
// backend by suffix. The copy is written to a sibling temp file, reloaded and
// compared record by record before it is renamed into place; on any mismatch
// dstPath is left untouched.
func Migrate(src Backend, dstPath string, opts ...Option) (rep *MigrationReport, err error) {
	defer func() { metrics.Migrations.WithLabelValues("migrate", metrics.Result(err)).Inc() }()
	c := newConfig(opts)

	doc, err := src.Load()
	if err != nil {
		return nil, fmt.Errorf("backend: load %s: %w", src.Path(), err)
	}
	rep = newReport("migrate", src.Path(), doc, src.LastUpgrade().Warnings)
	if rep.Destination, err = writeVerified(doc, dstPath, c); err != nil {
		return nil, err
	}
	c.logger.Info("backend: migrated",
		slog.String("from", src.Path()),
		slog.String("to", rep.Destination),
		slog.Int("records", rep.Records))
	return rep, nil
}

// ExportJSON writes the store behind src as one flat JSON document.
func ExportJSON(src Backend, jsonPath string, opts ...Option) (rep *MigrationReport, err error) {
	defer func() { metrics.Migrations.WithLabelValues("export_json", metrics.Result(err)).Inc() }()
	c := newConfig(opts)

	doc, err := src.Load()
	if err != nil {
		return nil, fmt.Errorf("backend: load %s: %w", src.Path(), err)
	}
	fs, name, err := storage.ForFile(jsonPath)
	if err != nil {
		return nil, err
	}
	if err := checkDestination(fs, name, c); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("backend: encode json: %w", err)
	}
	var back models.RequirementsStore
	if err := json.Unmarshal(data, &back); err != nil {
		return nil, fmt.Errorf("backend: reparse json: %w", err)
	}
	if err := compare(doc, &back); err != nil {
		return nil, err
	}
	if err := fs.Write(name, append(data, '\n')); err != nil {
		return nil, err
	}

	rep = newReport("export-json", src.Path(), doc, src.LastUpgrade().Warnings)
	rep.Destination, _ = fs.Abs(name)
	c.logger.Info("backend: exported json", slog.String("to", rep.Destination), slog.Int("records", rep.Records))
	return rep, nil
}

// ImportJSON reads a flat JSON document, upgrades it if it has a legacy
// shape, and writes it to dstPath with the same verification as Migrate.
func ImportJSON(jsonPath, dstPath string, opts ...Option) (rep *MigrationReport, err error) {
	defer func() { metrics.Migrations.WithLabelValues("import_json", metrics.Result(err)).Inc() }()
	c := newConfig(opts)

	fs, name, err := storage.ForFile(jsonPath)
	if err != nil {
		return nil, err
	}
	data, err := fs.Read(name)
	if err != nil {
		return nil, err
	}
	var doc models.RequirementsStore
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("backend: parse %s: %w: %w", jsonPath, apperr.ErrInvalid, err)
	}
	up, err := legacy.Upgrade(&doc, c.logger)
	if err != nil {
		return nil, err
	}

	src, _ := fs.Abs(name)
	rep = newReport("import-json", src, &doc, up.Warnings)
	if rep.Destination, err = writeVerified(&doc, dstPath, c); err != nil {
		return nil, err
	}
	c.logger.Info("backend: imported json", slog.String("to", rep.Destination), slog.Int("records", rep.Records))
	return rep, nil
}

func newReport(op, source string, doc *models.RequirementsStore, warnings []*graph.Violation) *MigrationReport {
	return &MigrationReport{
		Op:       op,
		Source:   source,
		Records:  len(doc.Requirements),
		Users:    len(doc.Users),
		Warnings: warnings,
	}
}

func checkDestination(fs *storage.FS, name string, c *config) error {
	_, err := fs.Stat(name)
	switch {
	case err == nil && !c.overwrite:
		return fmt.Errorf("backend: destination %s: %w", name, apperr.ErrAlreadyExists)
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return err
	}
	return nil
}

// sidecars are the files a backend may leave next to its main file.
func sidecars(name string) []string {
	return []string{name + "-wal", name + "-shm", name + ".lock"}
}

// writeVerified saves doc through the backend matching dstPath, reloads it
// from a temp sibling and compares before renaming it into place.
func writeVerified(doc *models.RequirementsStore, dstPath string, c *config) (string, error) {
	kind, err := KindFor(dstPath)
	if err != nil {
		return "", err
	}
	if _, err := store.New(doc, store.WithLogger(c.logger)); err != nil {
		return "", fmt.Errorf("backend: source store: %w", err)
	}
	fs, name, err := storage.ForFile(dstPath)
	if err != nil {
		return "", err
	}
	if err := checkDestination(fs, name, c); err != nil {
		return "", err
	}

	tmp, err := fs.Reserve(name)
	if err != nil {
		return "", err
	}
	defer func() {
		for _, f := range append(sidecars(tmp), tmp) {
			_ = fs.Delete(f)
		}
	}()
	tmpAbs, err := fs.Abs(tmp)
	if err != nil {
		return "", err
	}

	if err := saveTo(kind, tmpAbs, doc, c); err != nil {
		return "", err
	}
	got, err := loadFrom(kind, tmpAbs, c)
	if err != nil {
		return "", fmt.Errorf("backend: reload %s: %w", tmpAbs, err)
	}
	if err := compare(doc, got); err != nil {
		return "", err
	}

	if kind == rowstore.Kind {
		// A stale WAL from the replaced database would be replayed over the new one.
		_ = fs.Delete(name + "-wal")
		_ = fs.Delete(name + "-shm")
	}
	if err := fs.Move(tmp, name); err != nil {
		return "", err
	}
	return fs.Abs(name)
}

func saveTo(kind, path string, doc *models.RequirementsStore, c *config) error {
	b, err := open(kind, path, c)
	if err != nil {
		return err
	}
	if err := b.Save(doc); err != nil {
		b.Close()
		return err
	}
	return b.Close()
}

func loadFrom(kind, path string, c *config) (*models.RequirementsStore, error) {
	b, err := open(kind, path, c)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	return b.Load()
}

// compare checks two stores for equal content. Fields that one format omits
// when empty compare equal to their zero value.
func compare(want, got *models.RequirementsStore) error {
	if len(want.Requirements) != len(got.Requirements) {
		return fmt.Errorf("backend: %d records written, %d read back: %w",
			len(want.Requirements), len(got.Requirements), apperr.ErrRoundTripMismatch)
	}
	if len(want.Users) != len(got.Users) {
		return fmt.Errorf("backend: %d users written, %d read back: %w",
			len(want.Users), len(got.Users), apperr.ErrRoundTripMismatch)
	}
	for i := range want.Requirements {
		if err := same(want.Requirements[i], got.Requirements[i]); err != nil {
			return fmt.Errorf("backend: record %s: %w", want.Requirements[i].SpecID, err)
		}
	}
	for i := range want.Users {
		if err := same(want.Users[i], got.Users[i]); err != nil {
			return fmt.Errorf("backend: user %s: %w", want.Users[i].Handle, err)
		}
	}
	w, g := *want, *got
	w.Requirements, w.Users, g.Requirements, g.Users = nil, nil, nil, nil
	w.SchemaVersion, g.SchemaVersion = 0, 0
	if err := same(w, g); err != nil {
		return fmt.Errorf("backend: project metadata: %w", err)
	}
	return nil
}

func same(a, b any) error {
	ca, err := canonical(a)
	if err != nil {
		return err
	}
	cb, err := canonical(b)
	if err != nil {
		return err
	}
	if ca != cb {
		return apperr.ErrRoundTripMismatch
	}
	return nil
}

// canonical renders v as JSON with zero values pruned. Map keys are sorted
// by encoding/json, so equal content gives equal strings.
func canonical(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("backend: canonical json: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return "", fmt.Errorf("backend: canonical json: %w", err)
	}
	out, err := json.Marshal(prune(tree))
	if err != nil {
		return "", fmt.Errorf("backend: canonical json: %w", err)
	}
	return string(out), nil
}

func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if child = prune(child); child == nil {
				delete(t, k)
			} else {
				t[k] = child
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		if len(t) == 0 {
			return nil
		}
		for i := range t {
			t[i] = prune(t[i])
		}
		return t
	case string:
		if t == "" {
			return nil
		}
	case bool:
		if !t {
			return nil
		}
	case float64:
		if t == 0 {
			return nil
		}
	}
	return v
}
