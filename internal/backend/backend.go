// Package backend selects a persistence strategy by file suffix and moves a
// store between strategies without loss.
package backend

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/backend/document"
	"github.com/joemooney/req/internal/backend/rowstore"
	"github.com/joemooney/req/internal/legacy"
	"github.com/joemooney/req/internal/models"
)

// Backend is the load/save contract shared by every persistence strategy.
type Backend interface {
	Kind() string
	Path() string
	Load() (*models.RequirementsStore, error)
	Save(*models.RequirementsStore) error
	LastUpgrade() legacy.Report
	Close() error
}

var (
	_ Backend = (*document.Backend)(nil)
	_ Backend = (*rowstore.Backend)(nil)
)

type config struct {
	logger    *slog.Logger
	timeout   time.Duration
	overwrite bool
}

// Option configures Open and the migration helpers.
type Option func(*config)

// WithLogger sets the logger handed to the backends.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithLockTimeout bounds lock waits: the document lock file or the SQLite
// busy timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithOverwrite lets a migration replace an existing destination.
func WithOverwrite() Option {
	return func(c *config) { c.overwrite = true }
}

func newConfig(opts []Option) *config {
	c := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KindFor maps a path's suffix to a backend kind.
func KindFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return document.Kind, nil
	case ".db", ".sqlite", ".sqlite3":
		return rowstore.Kind, nil
	}
	return "", fmt.Errorf("backend: %q: %w", path, apperr.ErrUnsupportedBackend)
}

// Open returns the backend for path. There is no fallback for an unknown
// suffix.
func Open(path string, opts ...Option) (Backend, error) {
	kind, err := KindFor(path)
	if err != nil {
		return nil, err
	}
	return open(kind, path, newConfig(opts))
}

func open(kind, path string, c *config) (Backend, error) {
	switch kind {
	case document.Kind:
		return document.Open(path, document.WithLogger(c.logger), document.WithLockTimeout(c.timeout))
	case rowstore.Kind:
		return rowstore.Open(path, rowstore.WithLogger(c.logger), rowstore.WithBusyTimeout(c.timeout))
	}
	return nil, fmt.Errorf("backend: kind %q: %w", kind, apperr.ErrUnsupportedBackend)
}
