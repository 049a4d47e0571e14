// Package document persists a store as a single YAML document guarded by an
// advisory lock file.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/legacy"
	"github.com/joemooney/req/internal/metrics"
	"github.com/joemooney/req/internal/models"
	"github.com/joemooney/req/internal/storage"
)

// Kind names this backend in logs and metrics.
const Kind = "document"

// DefaultLockTimeout bounds how long Load and Save wait for the lock file.
const DefaultLockTimeout = 5 * time.Second

// Backend reads and writes one YAML file.
type Backend struct {
	fs      *storage.FS
	name    string
	path    string
	timeout time.Duration
	logger  *slog.Logger
	last    legacy.Report
}

// Option configures a Backend.
type Option func(*Backend)

// WithLockTimeout sets how long to wait for a conflicting lock holder.
func WithLockTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the backend logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// Open returns a backend for the YAML file at path. The file itself is
// created on first Load if it does not exist.
func Open(path string, opts ...Option) (*Backend, error) {
	fs, name, err := storage.ForFile(path)
	if err != nil {
		return nil, err
	}
	abs, err := fs.Abs(name)
	if err != nil {
		return nil, err
	}
	b := &Backend{fs: fs, name: name, path: abs, timeout: DefaultLockTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) Kind() string { return Kind }

func (b *Backend) Path() string { return b.path }

func (b *Backend) Close() error { return nil }

// LastUpgrade reports the legacy upgrade performed by the latest Load.
func (b *Backend) LastUpgrade() legacy.Report { return b.last }

func (b *Backend) lockPath() string { return b.path + ".lock" }

// Load reads the whole document. A legacy document is upgraded and written
// back before Load returns, so the upgrade runs once per file.
func (b *Backend) Load() (_ *models.RequirementsStore, err error) {
	defer func() { metrics.BackendOps.WithLabelValues(Kind, "load", metrics.Result(err)).Inc() }()

	data, err := b.read()
	if errors.Is(err, apperr.ErrNotFound) {
		doc := models.NewRequirementsStore(projectName(b.name))
		b.last = legacy.Report{From: doc.SchemaVersion, To: doc.SchemaVersion}
		if err := b.save(doc); err != nil {
			return nil, err
		}
		b.logger.Info("document: created store", slog.String("path", b.path))
		return doc, nil
	}
	if err != nil {
		return nil, err
	}

	doc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("document: %s: %w", b.path, err)
	}
	rep, err := legacy.Upgrade(doc, b.logger)
	if err != nil {
		return nil, err
	}
	b.last = rep
	if rep.Changed() {
		if err := b.save(doc); err != nil {
			return nil, fmt.Errorf("document: persist upgrade: %w", err)
		}
		b.logger.Info("document: upgraded legacy store",
			slog.String("path", b.path),
			slog.Int("from", rep.From),
			slog.Int("to", rep.To),
			slog.Int("warnings", len(rep.Warnings)))
	}
	return doc, nil
}

func (b *Backend) read() ([]byte, error) {
	lock, err := acquire(b.lockPath(), false, b.timeout)
	if err != nil {
		return nil, err
	}
	defer lock.release() //nolint:errcheck
	return b.fs.Read(b.name)
}

// Save atomically replaces the document. A failed save leaves the previous
// file in place.
func (b *Backend) Save(doc *models.RequirementsStore) (err error) {
	defer func() { metrics.BackendOps.WithLabelValues(Kind, "save", metrics.Result(err)).Inc() }()
	return b.save(doc)
}

func (b *Backend) save(doc *models.RequirementsStore) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	lock, err := acquire(b.lockPath(), true, b.timeout)
	if err != nil {
		return err
	}
	defer lock.release() //nolint:errcheck
	return b.fs.Write(b.name, data)
}

// Update loads, mutates and saves under one exclusive lock so no other
// writer can interleave.
func (b *Backend) Update(fn func(*models.RequirementsStore) error) (err error) {
	defer func() { metrics.BackendOps.WithLabelValues(Kind, "update", metrics.Result(err)).Inc() }()

	lock, err := acquire(b.lockPath(), true, b.timeout)
	if err != nil {
		return err
	}
	defer lock.release() //nolint:errcheck

	data, err := b.fs.Read(b.name)
	var doc *models.RequirementsStore
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		doc = models.NewRequirementsStore(projectName(b.name))
	case err != nil:
		return err
	default:
		if doc, err = Decode(data); err != nil {
			return err
		}
		if b.last, err = legacy.Upgrade(doc, b.logger); err != nil {
			return err
		}
	}
	if err := fn(doc); err != nil {
		return err
	}
	out, err := Encode(doc)
	if err != nil {
		return err
	}
	return b.fs.Write(b.name, out)
}

// Decode parses a YAML document. Missing fields keep their zero values for
// the legacy upgrade to fill.
func Decode(data []byte) (*models.RequirementsStore, error) {
	var doc models.RequirementsStore
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("document: parse yaml: %w", err)
	}
	return &doc, nil
}

// Encode renders a store as YAML.
func Encode(doc *models.RequirementsStore) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("document: encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("document: encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

func projectName(file string) string {
	if i := strings.LastIndexByte(file, '.'); i > 0 {
		return file[:i]
	}
	return file
}
