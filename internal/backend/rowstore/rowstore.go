// Package rowstore persists a store in SQLite: one row per record and user,
// complex fields as JSON text, and a single metadata row for project-level
// configuration.
package rowstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/legacy"
	"github.com/joemooney/req/internal/metrics"
	"github.com/joemooney/req/internal/models"
)

// Kind names this backend in logs and metrics.
const Kind = "rowstore"

// DefaultBusyTimeout is how long a writer waits for another writer.
const DefaultBusyTimeout = 5 * time.Second

// Backend wraps a sql.DB holding one project.
type Backend struct {
	conn    *sql.DB
	path    string
	timeout time.Duration
	logger  *slog.Logger
	last    legacy.Report
}

// Option configures a Backend.
type Option func(*Backend)

// WithBusyTimeout sets how long a writer waits for the write lock.
func WithBusyTimeout(d time.Duration) Option {
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

// Open opens (or creates) the database, applies the schema and rejects
// databases written by a newer schema.
func Open(path string, opts ...Option) (*Backend, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("rowstore: resolve path: %w", err)
	}
	b := &Backend{path: abs, timeout: DefaultBusyTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}

	conn, err := sql.Open(driverName, dsn(abs, b.timeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("rowstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rowstore: ping: %w: %w", apperr.ErrBackendUnavailable, err)
	}
	b.conn = conn
	if err := b.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) migrate() error {
	if _, err := b.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("rowstore: create schema_version: %w", err)
	}
	var v int
	err := b.conn.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := b.conn.Exec(schemaSQL); err != nil {
			return fmt.Errorf("rowstore: apply schema: %w", err)
		}
		if _, err := b.conn.Exec(`INSERT INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
			return fmt.Errorf("rowstore: record schema version: %w", err)
		}
		b.logger.Info("rowstore: created schema", slog.String("path", b.path), slog.Int("version", SchemaVersion))
		return nil
	case err != nil:
		return fmt.Errorf("rowstore: read schema version: %w", err)
	case v > SchemaVersion:
		return fmt.Errorf("rowstore: %s has schema %d, supported %d: %w", b.path, v, SchemaVersion, apperr.ErrSchemaMismatch)
	}
	if _, err := b.conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("rowstore: apply schema: %w", err)
	}
	return nil
}

func (b *Backend) Kind() string { return Kind }

func (b *Backend) Path() string { return b.path }

// LastUpgrade reports the defaults filled by the latest Load. Rows are
// written in the current shape, so no upgrade step ever runs.
func (b *Backend) LastUpgrade() legacy.Report { return b.last }

// Close closes the underlying database connection.
func (b *Backend) Close() error {
	return b.conn.Close()
}

// querier is satisfied by *sql.Conn and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Load reads every table inside one deferred read transaction, so it sees a
// single committed snapshot and never blocks a writer.
func (b *Backend) Load() (_ *models.RequirementsStore, err error) {
	defer func() { metrics.BackendOps.WithLabelValues(Kind, "load", metrics.Result(err)).Inc() }()

	ctx := context.Background()
	conn, err := b.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("rowstore: acquire conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `BEGIN DEFERRED`); err != nil {
		return nil, fmt.Errorf("rowstore: begin read: %w", err)
	}
	defer conn.ExecContext(ctx, `ROLLBACK`) //nolint:errcheck // read-only

	doc, err := b.loadMetadata(ctx, conn)
	if err != nil {
		return nil, err
	}
	if doc.Requirements, err = loadRequirements(ctx, conn); err != nil {
		return nil, err
	}
	if doc.Users, err = loadUsers(ctx, conn); err != nil {
		return nil, err
	}
	b.last = legacy.Report{
		From:      models.DocumentVersion,
		To:        models.DocumentVersion,
		Defaulted: legacy.ApplyDefaults(doc, b.logger),
	}
	return doc, nil
}

func (b *Backend) loadMetadata(ctx context.Context, q querier) (*models.RequirementsStore, error) {
	doc := models.NewRequirementsStore(strings.TrimSuffix(filepath.Base(b.path), filepath.Ext(b.path)))
	var idConfig, features, prefixCounters, relDefs, reactionDefs, metaCounters, typeDefs, allowed string
	var restrict bool
	err := q.QueryRowContext(ctx, `SELECT `+metadataColumns+` FROM metadata WHERE id = 1`).Scan(
		&doc.Name, &doc.Title, &doc.Description, &idConfig, &features,
		&doc.NextFeatureNumber, &doc.NextSpecNumber, &prefixCounters, &relDefs, &reactionDefs,
		&metaCounters, &typeDefs, &allowed, &restrict)
	if errors.Is(err, sql.ErrNoRows) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rowstore: load metadata: %w", err)
	}
	doc.RestrictPrefixes = restrict
	doc.RelationshipDefinitions = nil
	doc.ReactionDefinitions = nil
	doc.TypeDefinitions = nil

	for _, f := range []struct {
		col  string
		raw  string
		into any
	}{
		{"id_config", idConfig, &doc.IdConfig},
		{"features", features, &doc.Features},
		{"prefix_counters", prefixCounters, &doc.PrefixCounters},
		{"relationship_definitions", relDefs, &doc.RelationshipDefinitions},
		{"reaction_definitions", reactionDefs, &doc.ReactionDefinitions},
		{"meta_counters", metaCounters, &doc.MetaCounters},
		{"type_definitions", typeDefs, &doc.TypeDefinitions},
		{"allowed_prefixes", allowed, &doc.AllowedPrefixes},
	} {
		if err := decode(f.raw, f.into); err != nil {
			return nil, fmt.Errorf("rowstore: metadata.%s: %w", f.col, err)
		}
	}
	return doc, nil
}

func loadRequirements(ctx context.Context, q querier) ([]models.Requirement, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+requirementColumns+` FROM requirements ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("rowstore: load requirements: %w", err)
	}
	defer rows.Close()

	out := []models.Requirement{}
	for rows.Next() {
		var r models.Requirement
		var id, createdAt, modifiedAt, status, priority, reqType string
		var deps, tags, rels, comments, history, customFields, urls string
		if err := rows.Scan(&id, &r.SpecID, &r.PrefixOverride, &r.Title, &r.Description, &status, &priority,
			&r.Owner, &r.Feature, &createdAt, &r.CreatedBy, &modifiedAt, &reqType, &deps, &tags, &rels,
			&comments, &history, &r.Archived, &r.CustomStatus, &customFields, &urls); err != nil {
			return nil, fmt.Errorf("rowstore: scan requirement: %w", err)
		}
		r.Status, r.Priority, r.Type = models.Status(status), models.Priority(priority), models.ReqType(reqType)
		if err := r.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("rowstore: requirement id %q: %w", id, err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("rowstore: %s created_at: %w", id, err)
		}
		if r.ModifiedAt, err = parseTime(modifiedAt); err != nil {
			return nil, fmt.Errorf("rowstore: %s modified_at: %w", id, err)
		}
		for _, f := range []struct {
			col  string
			raw  string
			into any
		}{
			{"dependencies", deps, &r.Dependencies},
			{"tags", tags, &r.Tags},
			{"relationships", rels, &r.Relationships},
			{"comments", comments, &r.Comments},
			{"history", history, &r.History},
			{"custom_fields", customFields, &r.CustomFields},
			{"urls", urls, &r.URLs},
		} {
			if err := decode(f.raw, f.into); err != nil {
				return nil, fmt.Errorf("rowstore: %s.%s: %w", id, f.col, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func loadUsers(ctx context.Context, q querier) ([]models.User, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, spec_id, name, email, handle, created_at, archived FROM users ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("rowstore: load users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var (
			u             models.User
			id, createdAt string
		)
		if err := rows.Scan(&id, &u.SpecID, &u.Name, &u.Email, &u.Handle, &createdAt, &u.Archived); err != nil {
			return nil, fmt.Errorf("rowstore: scan user: %w", err)
		}
		if err := u.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("rowstore: user id %q: %w", id, err)
		}
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("rowstore: user %s created_at: %w", id, err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Save replaces every row in one immediate transaction. A failure rolls back
// and leaves the previous contents in place.
func (b *Backend) Save(doc *models.RequirementsStore) (err error) {
	defer func() { metrics.BackendOps.WithLabelValues(Kind, "save", metrics.Result(err)).Inc() }()

	tx, err := b.conn.Begin()
	if err != nil {
		return fmt.Errorf("rowstore: begin tx: %w: %w", apperr.ErrBackendUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	for _, table := range []string{"requirements", "users", "metadata"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("rowstore: clear %s: %w", table, err)
		}
	}
	if err := saveMetadata(tx, doc); err != nil {
		return err
	}
	if err := saveRequirements(tx, doc.Requirements); err != nil {
		return err
	}
	if err := saveUsers(tx, doc.Users); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rowstore: commit: %w", err)
	}
	return nil
}

func saveMetadata(tx *sql.Tx, doc *models.RequirementsStore) error {
	var enc encoder
	_, err := tx.Exec(`INSERT INTO metadata (id, `+metadataColumns+`)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Name, doc.Title, doc.Description,
		enc.json(doc.IdConfig), enc.json(doc.Features),
		doc.NextFeatureNumber, doc.NextSpecNumber,
		enc.json(doc.PrefixCounters), enc.json(doc.RelationshipDefinitions),
		enc.json(doc.ReactionDefinitions), enc.json(doc.MetaCounters),
		enc.json(doc.TypeDefinitions), enc.json(doc.AllowedPrefixes),
		doc.RestrictPrefixes)
	if enc.err != nil {
		return fmt.Errorf("rowstore: encode metadata: %w", enc.err)
	}
	if err != nil {
		return fmt.Errorf("rowstore: insert metadata: %w", err)
	}
	return nil
}

func saveRequirements(tx *sql.Tx, reqs []models.Requirement) error {
	stmt, err := tx.Prepare(`INSERT INTO requirements (` + requirementColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("rowstore: prepare requirement insert: %w", err)
	}
	defer stmt.Close()

	for i := range reqs {
		r := &reqs[i]
		var enc encoder
		args := []any{
			r.ID.String(), r.SpecID, r.PrefixOverride, r.Title, r.Description,
			string(r.Status), string(r.Priority), r.Owner, r.Feature,
			formatTime(r.CreatedAt), r.CreatedBy, formatTime(r.ModifiedAt), string(r.Type),
			enc.json(r.Dependencies), enc.json(r.Tags), enc.json(r.Relationships),
			enc.json(r.Comments), enc.json(r.History), r.Archived, r.CustomStatus,
			enc.json(r.CustomFields), enc.json(r.URLs),
		}
		if enc.err != nil {
			return fmt.Errorf("rowstore: encode %s: %w", r.ID, enc.err)
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("rowstore: insert %s (%s): %w", r.SpecID, r.ID, err)
		}
	}
	return nil
}

func saveUsers(tx *sql.Tx, users []models.User) error {
	stmt, err := tx.Prepare(`INSERT INTO users (id, spec_id, name, email, handle, created_at, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("rowstore: prepare user insert: %w", err)
	}
	defer stmt.Close()
	for _, u := range users {
		if _, err := stmt.Exec(u.ID.String(), u.SpecID, u.Name, u.Email, u.Handle, formatTime(u.CreatedAt), u.Archived); err != nil {
			return fmt.Errorf("rowstore: insert user %s: %w", u.Handle, err)
		}
	}
	return nil
}

// encoder marshals JSON columns and keeps the first error.
type encoder struct{ err error }

func (e *encoder) json(v any) string {
	if e.err != nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		e.err = err
		return ""
	}
	return string(b)
}

func decode(raw string, into any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), into)
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }
