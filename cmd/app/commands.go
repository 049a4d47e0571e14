package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/joemooney/req/internal"
	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/backend"
	"github.com/joemooney/req/internal/graph"
	"github.com/joemooney/req/internal/mapping"
	"github.com/joemooney/req/internal/models"
	"github.com/joemooney/req/internal/reqservice"
	"github.com/joemooney/req/internal/storage"
	"github.com/joemooney/req/internal/store"
)

func commands() []*cli.Command {
	overwrite := &cli.BoolFlag{Name: "overwrite", Usage: "Replace an existing destination"}
	return append(recordCommands(), []*cli.Command{
		{
			Name:   "serve",
			Usage:  "Serve the read-only HTTP API",
			Action: serve,
		},
		{
			Name:   "mcp",
			Usage:  "Serve the read-only MCP tools on stdio",
			Action: serveMCP,
		},
		{
			Name:      "show",
			Usage:     "Show one record by key or id",
			ArgsUsage: "<key>",
			Action:    showRecord,
		},
		{
			Name:  "ids",
			Usage: "Inspect and change the identifier policy",
			Commands: []*cli.Command{
				{Name: "show", Usage: "Show the identifier policy and counters", Action: idsShow},
				{Name: "format", Usage: "Switch key format and re-derive keys", ArgsUsage: "<single_level|two_level>", Action: idsFormat},
				{Name: "numbering", Usage: "Switch numbering strategy and re-derive keys", ArgsUsage: "<global|per_prefix|per_feature_type>", Action: idsNumbering},
				{Name: "digits", Usage: "Change the digit width of every key", ArgsUsage: "<1-6>", Action: idsDigits},
				{Name: "rederive", Usage: "Re-derive every key under the current policy", Action: idsRederive},
			},
		},
		{
			Name:  "reldef",
			Usage: "Manage relationship kinds",
			Commands: []*cli.Command{
				{Name: "list", Usage: "List relationship kinds", Action: reldefList},
				{
					Name:      "add",
					Usage:     "Add a relationship kind, and its inverse when that is new",
					ArgsUsage: "<name>",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "inverse", Usage: "Name of the inverse kind"},
						&cli.BoolFlag{Name: "symmetric", Usage: "Kind is its own inverse"},
						&cli.BoolFlag{Name: "hierarchical", Usage: "Reject cycles"},
						&cli.BoolFlag{Name: "allow-self", Usage: "Allow a record to point at itself"},
						&cli.StringFlag{Name: "cardinality", Value: string(models.ManyToMany), Usage: "one_to_one, one_to_many, many_to_one or many_to_many"},
						&cli.StringSliceFlag{Name: "source-type", Usage: "Allowed source record type (repeatable)"},
						&cli.StringSliceFlag{Name: "target-type", Usage: "Allowed target record type (repeatable)"},
						&cli.StringFlag{Name: "description"},
					},
					Action: reldefAdd,
				},
				{Name: "show", Usage: "Show one relationship kind", ArgsUsage: "<name>", Action: reldefShow},
				{
					Name:      "edit",
					Usage:     "Change a relationship kind; built-in kinds only take cosmetic changes",
					ArgsUsage: "<name>",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "display", Usage: "Display name"},
						&cli.StringFlag{Name: "description"},
						&cli.StringFlag{Name: "color"},
						&cli.StringFlag{Name: "icon"},
						&cli.BoolFlag{Name: "hierarchical", Usage: "Reject cycles"},
						&cli.BoolFlag{Name: "allow-self", Usage: "Allow a record to point at itself"},
						&cli.StringFlag{Name: "cardinality", Usage: "one_to_one, one_to_many, many_to_one or many_to_many"},
						&cli.StringSliceFlag{Name: "source-type", Usage: "Allowed source record type (repeatable, replaces the list)"},
						&cli.StringSliceFlag{Name: "target-type", Usage: "Allowed target record type (repeatable, replaces the list)"},
					},
					Action: reldefEdit,
				},
				{
					Name:      "remove",
					Usage:     "Remove unused relationship kinds",
					ArgsUsage: "<name>...",
					Action:    reldefRemove,
				},
			},
		},
		{
			Name:      "migrate",
			Usage:     "Copy the store to another backend and verify the copy",
			ArgsUsage: "<destination>",
			Flags:     []cli.Flag{overwrite},
			Action:    migrate,
		},
		{
			Name:      "export-json",
			Usage:     "Export the store as JSON",
			ArgsUsage: "<file>",
			Flags:     []cli.Flag{overwrite},
			Action:    exportJSON,
		},
		{
			Name:      "import-json",
			Usage:     "Replace the store with a JSON export",
			ArgsUsage: "<file>",
			Flags:     []cli.Flag{overwrite},
			Action:    importJSON,
		},
		{
			Name:  "mapping",
			Usage: "Regenerate the id to key mapping file",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "out", Usage: "Mapping file (default from config)"},
			},
			Action: generateMapping,
		},
	}...)
}

// env is what every store command needs.
type env struct {
	cfg    *internal.Config
	logger *slog.Logger
	b      backend.Backend
	out    io.Writer
}

// configure loads the config and builds a stderr logger so stdout carries
// only command output.
func configure(cmd *cli.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := internal.NewLogger(os.Stderr, cfg.App.LogLevel)
	return &env{cfg: cfg, logger: logger, out: cmd.Root().Writer}, nil
}

// open is configure plus the configured backend.
func open(cmd *cli.Command) (*env, error) {
	e, err := configure(cmd)
	if err != nil {
		return nil, err
	}
	if e.b, err = internal.OpenBackend(e.cfg, e.logger); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *env) Close() error { return e.b.Close() }

// service loads a read snapshot.
func (e *env) service(ctx context.Context) (*reqservice.Service, error) {
	svc := reqservice.New(e.b, e.logger)
	if err := svc.Reload(ctx); err != nil {
		return nil, err
	}
	e.warn(e.b.LastUpgrade().Warnings)
	return svc, nil
}

// warn prints advisory violations for the person at the terminal.
func (e *env) warn(vs []*graph.Violation) {
	for _, v := range vs {
		fmt.Fprintf(os.Stderr, "warning: %v\n", v)
	}
}

type updater interface {
	Update(fn func(*models.RequirementsStore) error) error
}

// mutate applies fn to the store and saves it. The document backend holds
// its exclusive lock across the whole cycle.
func (e *env) mutate(fn func(*store.Store) error) error {
	apply := func(doc *models.RequirementsStore) error {
		st, err := store.New(doc, store.WithLogger(e.logger))
		if err != nil {
			return err
		}
		return fn(st)
	}
	if u, ok := e.b.(updater); ok {
		return u.Update(apply)
	}
	doc, err := e.b.Load()
	if err != nil {
		return err
	}
	if err := apply(doc); err != nil {
		return err
	}
	return e.b.Save(doc)
}

func arg(cmd *cli.Command, name string) (string, error) {
	v := strings.TrimSpace(cmd.Args().First())
	if v == "" {
		return "", fmt.Errorf("missing %s: %w", name, apperr.ErrInvalid)
	}
	return v, nil
}

func showRecord(ctx context.Context, cmd *cli.Command) error {
	ref, err := arg(cmd, "key")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	svc, err := e.service(ctx)
	if err != nil {
		return err
	}
	rec, err := svc.Get(ctx, ref)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Key:\t%s\n", rec.Key)
	fmt.Fprintf(w, "ID:\t%s\n", rec.ID)
	fmt.Fprintf(w, "Title:\t%s\n", rec.Title)
	fmt.Fprintf(w, "Type:\t%s\n", rec.Type)
	fmt.Fprintf(w, "Status:\t%s\n", rec.Status)
	fmt.Fprintf(w, "Priority:\t%s\n", rec.Priority)
	fmt.Fprintf(w, "Feature:\t%s\n", rec.Feature)
	if rec.Owner != "" {
		fmt.Fprintf(w, "Owner:\t%s\n", rec.Owner)
	}
	if len(rec.Tags) > 0 {
		fmt.Fprintf(w, "Tags:\t%s\n", strings.Join(rec.Tags, ", "))
	}
	fields := lo.Keys(rec.CustomFields)
	sort.Strings(fields)
	for _, k := range fields {
		fmt.Fprintf(w, "%s:\t%s\n", k, rec.CustomFields[k])
	}
	if rec.Archived {
		fmt.Fprintln(w, "Archived:\tyes")
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if rec.Description != "" {
		fmt.Fprintf(e.out, "\n%s\n", rec.Description)
	}
	if len(rec.Relationships) > 0 {
		fmt.Fprintln(e.out, "\nRelationships:")
		for _, r := range rec.Relationships {
			fmt.Fprintf(e.out, "  %-12s %s  %s\n", r.Kind, r.TargetKey, r.TargetTitle)
		}
	}
	return nil
}

func idsShow(ctx context.Context, cmd *cli.Command) error {
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	svc, err := e.service(ctx)
	if err != nil {
		return err
	}
	v, err := svc.IdConfig(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Format:\t%s\t(%s)\n", v.Config.Format, v.KeyFormat)
	fmt.Fprintf(w, "Numbering:\t%s\n", v.Config.Numbering)
	fmt.Fprintf(w, "Digits:\t%d\n", v.Config.Digits)
	fmt.Fprintf(w, "Next number:\t%d\n", v.Counters.NextSpecNumber)
	prefixes := lo.Keys(v.Counters.PrefixCounters)
	sort.Strings(prefixes)
	for _, p := range prefixes {
		fmt.Fprintf(w, "  %s:\t%d\n", p, v.Counters.PrefixCounters[p])
	}
	return w.Flush()
}

// rederive switches the policy with change and reports how many keys moved.
func rederive(cmd *cli.Command, change func(*models.IdConfiguration)) error {
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	var changed int
	err = e.mutate(func(st *store.Store) error {
		cfg := st.IdConfig()
		change(&cfg)
		n, err := st.Rederive(cfg)
		changed = n
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%d key(s) changed\n", changed)
	return nil
}

func idsFormat(_ context.Context, cmd *cli.Command) error {
	v, err := arg(cmd, "format")
	if err != nil {
		return err
	}
	return rederive(cmd, func(c *models.IdConfiguration) { c.Format = models.IdFormat(v) })
}

func idsNumbering(_ context.Context, cmd *cli.Command) error {
	v, err := arg(cmd, "numbering strategy")
	if err != nil {
		return err
	}
	return rederive(cmd, func(c *models.IdConfiguration) { c.Numbering = models.NumberingStrategy(v) })
}

func idsRederive(_ context.Context, cmd *cli.Command) error {
	return rederive(cmd, func(*models.IdConfiguration) {})
}

func idsDigits(_ context.Context, cmd *cli.Command) error {
	v, err := arg(cmd, "digits")
	if err != nil {
		return err
	}
	var digits int
	if _, err := fmt.Sscanf(v, "%d", &digits); err != nil {
		return fmt.Errorf("digits %q: %w", v, apperr.ErrInvalid)
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	var changed int
	err = e.mutate(func(st *store.Store) error {
		n, err := st.SetDigits(digits)
		changed = n
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%d key(s) changed\n", changed)
	return nil
}

func reldefList(ctx context.Context, cmd *cli.Command) error {
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	svc, err := e.service(ctx)
	if err != nil {
		return err
	}
	defs, err := svc.RelationshipDefinitions(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tINVERSE\tCARDINALITY\tFLAGS\tSOURCES\tTARGETS")
	for _, d := range defs {
		var flags []string
		if d.BuiltIn {
			flags = append(flags, "built-in")
		}
		if d.Symmetric {
			flags = append(flags, "symmetric")
		}
		if d.Hierarchical {
			flags = append(flags, "hierarchical")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Name, dash(d.Inverse), d.Cardinality,
			dash(strings.Join(flags, ",")), types(d.SourceTypes), types(d.TargetTypes))
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func types(ts []models.ReqType) string {
	if len(ts) == 0 {
		return "any"
	}
	return strings.Join(lo.Map(ts, func(t models.ReqType, _ int) string { return string(t) }), ",")
}

// mirror swaps the source and target sides of a cardinality.
func mirror(c models.Cardinality) models.Cardinality {
	switch c {
	case models.OneToMany:
		return models.ManyToOne
	case models.ManyToOne:
		return models.OneToMany
	}
	return c
}

func toTypes(ss []string) []models.ReqType {
	return lo.Map(ss, func(s string, _ int) models.ReqType { return models.ReqType(s) })
}

func reldefShow(ctx context.Context, cmd *cli.Command) error {
	name, err := arg(cmd, "name")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	svc, err := e.service(ctx)
	if err != nil {
		return err
	}
	defs, err := svc.RelationshipDefinitions(ctx)
	if err != nil {
		return err
	}
	d, ok := lo.Find(defs, func(d models.RelationshipDefinition) bool { return d.Name == models.NormalizeKind(name) })
	if !ok {
		return fmt.Errorf("relationship kind %q: %w", name, apperr.ErrNotFound)
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", d.Name)
	fmt.Fprintf(w, "Display:\t%s\n", dash(d.DisplayName))
	fmt.Fprintf(w, "Description:\t%s\n", dash(d.Description))
	fmt.Fprintf(w, "Inverse:\t%s\n", dash(d.Inverse))
	fmt.Fprintf(w, "Cardinality:\t%s\n", d.Cardinality)
	fmt.Fprintf(w, "Symmetric:\t%t\n", d.Symmetric)
	fmt.Fprintf(w, "Hierarchical:\t%t\n", d.Hierarchical)
	fmt.Fprintf(w, "Allow self:\t%t\n", d.AllowSelf)
	fmt.Fprintf(w, "Sources:\t%s\n", types(d.SourceTypes))
	fmt.Fprintf(w, "Targets:\t%s\n", types(d.TargetTypes))
	fmt.Fprintf(w, "Built-in:\t%t\n", d.BuiltIn)
	return w.Flush()
}

func reldefEdit(_ context.Context, cmd *cli.Command) error {
	name, err := arg(cmd, "name")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	err = e.mutate(func(st *store.Store) error {
		d, ok := st.Graph().Definition(name)
		if !ok {
			return fmt.Errorf("relationship kind %q: %w", name, apperr.ErrNotFound)
		}
		next := *d
		if cmd.IsSet("display") {
			next.DisplayName = cmd.String("display")
		}
		if cmd.IsSet("description") {
			next.Description = cmd.String("description")
		}
		if cmd.IsSet("color") {
			next.Color = cmd.String("color")
		}
		if cmd.IsSet("icon") {
			next.Icon = cmd.String("icon")
		}
		if cmd.IsSet("hierarchical") {
			next.Hierarchical = cmd.Bool("hierarchical")
		}
		if cmd.IsSet("allow-self") {
			next.AllowSelf = cmd.Bool("allow-self")
		}
		if cmd.IsSet("cardinality") {
			next.Cardinality = models.Cardinality(cmd.String("cardinality"))
		}
		if cmd.IsSet("source-type") {
			next.SourceTypes = toTypes(cmd.StringSlice("source-type"))
		}
		if cmd.IsSet("target-type") {
			next.TargetTypes = toTypes(cmd.StringSlice("target-type"))
		}
		return st.EditRelationshipDefinition(next)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "updated %s\n", models.NormalizeKind(name))
	return nil
}

func reldefAdd(_ context.Context, cmd *cli.Command) error {
	name, err := arg(cmd, "name")
	if err != nil {
		return err
	}
	def := models.RelationshipDefinition{
		Name:         name,
		Description:  cmd.String("description"),
		Inverse:      cmd.String("inverse"),
		Symmetric:    cmd.Bool("symmetric"),
		Hierarchical: cmd.Bool("hierarchical"),
		AllowSelf:    cmd.Bool("allow-self"),
		Cardinality:  models.Cardinality(cmd.String("cardinality")),
		SourceTypes:  toTypes(cmd.StringSlice("source-type")),
		TargetTypes:  toTypes(cmd.StringSlice("target-type")),
	}

	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	var added []string
	err = e.mutate(func(st *store.Store) error {
		defs := []models.RelationshipDefinition{def}
		known := lo.ContainsBy(st.RelationshipDefinitions(), func(d models.RelationshipDefinition) bool {
			return d.Name == models.NormalizeKind(def.Inverse)
		})
		if def.Inverse != "" && !known {
			defs = append(defs, models.RelationshipDefinition{
				Name:         def.Inverse,
				Inverse:      def.Name,
				Hierarchical: def.Hierarchical,
				AllowSelf:    def.AllowSelf,
				Cardinality:  mirror(def.Cardinality),
				SourceTypes:  def.TargetTypes,
				TargetTypes:  def.SourceTypes,
			})
		}
		added = lo.Map(defs, func(d models.RelationshipDefinition, _ int) string { return models.NormalizeKind(d.Name) })
		return st.AddRelationshipDefinition(defs...)
	})
	if err != nil {
		return err
	}
	for _, name := range added {
		fmt.Fprintf(e.out, "added %s\n", name)
	}
	return nil
}

func reldefRemove(_ context.Context, cmd *cli.Command) error {
	names := cmd.Args().Slice()
	if len(names) == 0 {
		return fmt.Errorf("missing name: %w", apperr.ErrInvalid)
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.mutate(func(st *store.Store) error { return st.RemoveRelationshipDefinition(names...) }); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "removed %s\n", strings.Join(names, ", "))
	return nil
}

func migrationOpts(e *env, cmd *cli.Command) []backend.Option {
	opts := []backend.Option{
		backend.WithLogger(e.logger),
		backend.WithLockTimeout(e.cfg.Store.LockTimeout),
	}
	if cmd.Bool("overwrite") {
		opts = append(opts, backend.WithOverwrite())
	}
	return opts
}

func (e *env) report(rep *backend.MigrationReport) {
	fmt.Fprintf(e.out, "%s: %d record(s), %d user(s) -> %s\n",
		rep.Op, rep.Records, rep.Users, rep.Destination)
	e.warn(rep.Warnings)
}

func migrate(_ context.Context, cmd *cli.Command) error {
	dst, err := arg(cmd, "destination")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	rep, err := backend.Migrate(e.b, dst, migrationOpts(e, cmd)...)
	if err != nil {
		return err
	}
	e.report(rep)
	return nil
}

func exportJSON(_ context.Context, cmd *cli.Command) error {
	file, err := arg(cmd, "file")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	rep, err := backend.ExportJSON(e.b, file, migrationOpts(e, cmd)...)
	if err != nil {
		return err
	}
	e.report(rep)
	return nil
}

func importJSON(_ context.Context, cmd *cli.Command) error {
	file, err := arg(cmd, "file")
	if err != nil {
		return err
	}
	e, err := configure(cmd)
	if err != nil {
		return err
	}
	rep, err := backend.ImportJSON(file, e.cfg.Store.Path, migrationOpts(e, cmd)...)
	if errors.Is(err, apperr.ErrAlreadyExists) {
		return fmt.Errorf("%w (pass --overwrite to replace it)", err)
	}
	if err != nil {
		return err
	}
	e.report(rep)
	return nil
}

func generateMapping(_ context.Context, cmd *cli.Command) error {
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	target := cmd.String("out")
	if target == "" {
		target = e.cfg.Mapping.Path
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(e.cfg.Store.Path), target)
	}
	fs, name, err := storage.ForFile(target)
	if err != nil {
		return err
	}
	doc, err := e.b.Load()
	if err != nil {
		return err
	}
	e.warn(e.b.LastUpgrade().Warnings)
	f, added, err := mapping.Generate(fs, name, doc, e.logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s: %d mapping(s), %d new\n", target, len(f.Mappings), added)
	return nil
}
