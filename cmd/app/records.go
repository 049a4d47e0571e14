package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/graph"
	"github.com/joemooney/req/internal/models"
	"github.com/joemooney/req/internal/reqservice"
	"github.com/joemooney/req/internal/store"
)

// recordFlags are shared by add and edit.
func recordFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "title", Aliases: []string{"t"}},
		&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
		&cli.StringFlag{Name: "type", Usage: "Record type, e.g. Functional or Bug"},
		&cli.StringFlag{Name: "status", Usage: "Draft, Approved, Completed, Rejected or a custom status"},
		&cli.StringFlag{Name: "priority", Usage: "High, Medium or Low"},
		&cli.StringFlag{Name: "feature", Usage: "Feature label, e.g. 1-Auth"},
		&cli.StringFlag{Name: "owner"},
		&cli.StringFlag{Name: "prefix", Usage: "Key prefix override"},
		&cli.StringSliceFlag{Name: "tag", Usage: "Tag (repeatable, replaces existing tags)"},
		&cli.StringSliceFlag{Name: "field", Usage: "Type field as name=value (repeatable)"},
	}
}

func recordCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "add",
			Usage:  "Add a record",
			Flags:  append(recordFlags(), &cli.StringFlag{Name: "key", Usage: "Use this alternate key instead of the next free one"}),
			Action: addRecord,
		},
		{
			Name:  "list",
			Usage: "List records",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "status"},
				&cli.StringFlag{Name: "feature"},
				&cli.StringFlag{Name: "type"},
				&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "Include archived records"},
				&cli.IntFlag{Name: "limit", Value: reqservice.DefaultLimit},
				&cli.IntFlag{Name: "offset"},
			},
			Action: listRecords,
		},
		{
			Name:      "edit",
			Usage:     "Change fields of a record",
			ArgsUsage: "<key>",
			Flags: append(recordFlags(),
				&cli.BoolFlag{Name: "archive"},
				&cli.BoolFlag{Name: "unarchive"},
			),
			Action: editRecord,
		},
		{
			Name:      "del",
			Aliases:   []string{"rm"},
			Usage:     "Delete a record and every edge pointing at it",
			ArgsUsage: "<key>",
			Action:    deleteRecord,
		},
		{
			Name:  "rel",
			Usage: "Manage relationships between records",
			Commands: []*cli.Command{
				{
					Name:      "add",
					Usage:     "Link two records",
					ArgsUsage: "<source> <kind> <target>",
					Flags: []cli.Flag{
						&cli.BoolFlag{Name: "advisory", Usage: "Keep the edge when it breaks a constraint and flag it"},
					},
					Action: relAdd,
				},
				{Name: "remove", Usage: "Unlink two records", ArgsUsage: "<source> <kind> <target>", Action: relRemove},
				{Name: "list", Usage: "List the relationships of a record", ArgsUsage: "<key>", Action: relList},
			},
		},
		{
			Name:  "type",
			Usage: "Manage record types",
			Commands: []*cli.Command{
				{Name: "list", Usage: "List record types", Action: typeList},
				{
					Name:      "add",
					Usage:     "Add a custom record type",
					ArgsUsage: "<name>",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "display", Usage: "Display name"},
						&cli.StringFlag{Name: "prefix", Usage: "Key prefix"},
						&cli.StringFlag{Name: "description"},
						&cli.StringSliceFlag{Name: "status", Usage: "Allowed status (repeatable, default the fixed lifecycle)"},
						&cli.StringSliceFlag{Name: "field", Usage: "Field as name:kind[:opt|opt] (repeatable)"},
					},
					Action: typeAdd,
				},
				{
					Name:      "remove",
					Usage:     "Remove a custom type, or one of its statuses or fields",
					ArgsUsage: "<name>",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "status", Usage: "Remove only this status"},
						&cli.StringFlag{Name: "field", Usage: "Remove only this field"},
					},
					Action: typeRemove,
				},
			},
		},
		{
			Name:  "feature",
			Usage: "Manage features",
			Commands: []*cli.Command{
				{Name: "list", Usage: "List features", Action: featureList},
				{
					Name:      "add",
					Usage:     "Add a numbered feature",
					ArgsUsage: "<name>",
					Flags:     []cli.Flag{&cli.StringFlag{Name: "prefix", Usage: "Key prefix for records in the feature"}},
					Action:    featureAdd,
				},
				{
					Name:      "edit",
					Usage:     "Rename a feature or change its prefix",
					ArgsUsage: "<name|prefix>",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "name", Usage: "New name; the feature keeps its number"},
						&cli.StringFlag{Name: "prefix"},
					},
					Action: featureEdit,
				},
			},
		},
		{
			Name:  "comment",
			Usage: "Manage comments on a record",
			Commands: []*cli.Command{
				{
					Name:      "add",
					Usage:     "Comment on a record",
					ArgsUsage: "<key> <text>",
					Flags:     []cli.Flag{&cli.StringFlag{Name: "parent", Usage: "Id of the comment to reply to"}},
					Action:    commentAdd,
				},
				{Name: "list", Usage: "List the comments of a record", ArgsUsage: "<key>", Action: commentList},
				{Name: "edit", Usage: "Replace the text of a comment", ArgsUsage: "<key> <comment-id> <text>", Action: commentEdit},
				{Name: "delete", Usage: "Delete a comment and its replies", ArgsUsage: "<key> <comment-id>", Action: commentDelete},
			},
		},
	}
}

// args returns one positional argument per name.
func args(cmd *cli.Command, names ...string) ([]string, error) {
	got := cmd.Args().Slice()
	if len(got) < len(names) {
		return nil, fmt.Errorf("missing %s: %w", names[len(got)], apperr.ErrInvalid)
	}
	return got[:len(names)], nil
}

// fields parses name=value pairs.
func fields(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("field %q is not name=value: %w", p, apperr.ErrInvalid)
		}
		out[k] = v
	}
	return out, nil
}

// apply copies the flags that were set onto r.
func apply(cmd *cli.Command, r *models.Requirement) error {
	set := func(name string, dst *string) {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	set("title", &r.Title)
	set("description", &r.Description)
	set("owner", &r.Owner)
	set("feature", &r.Feature)
	set("prefix", &r.PrefixOverride)
	if cmd.IsSet("type") {
		r.Type = models.ReqType(cmd.String("type"))
	}
	if cmd.IsSet("priority") {
		r.Priority = models.Priority(cmd.String("priority"))
	}
	if cmd.IsSet("status") {
		st := cmd.String("status")
		if slices.Contains(models.Statuses, models.Status(st)) {
			r.Status, r.CustomStatus = models.Status(st), ""
		} else {
			r.CustomStatus = st
		}
	}
	if cmd.IsSet("tag") {
		r.Tags = cmd.StringSlice("tag")
	}
	if cmd.IsSet("field") {
		fs, err := fields(cmd.StringSlice("field"))
		if err != nil {
			return err
		}
		if r.CustomFields == nil {
			r.CustomFields = make(map[string]string, len(fs))
		}
		for k, v := range fs {
			r.CustomFields[k] = v
		}
	}
	return nil
}

func addRecord(_ context.Context, cmd *cli.Command) error {
	if strings.TrimSpace(cmd.String("title")) == "" {
		return fmt.Errorf("missing --title: %w", apperr.ErrInvalid)
	}
	r := models.NewRequirement("", "")
	r.SpecID = cmd.String("key")
	if err := apply(cmd, &r); err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	var key string
	err = e.mutate(func(st *store.Store) error {
		got, err := st.Add(r, e.cfg.Store.Actor)
		if err != nil {
			return err
		}
		key = got.SpecID
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "added %s\n", key)
	return nil
}

func listRecords(ctx context.Context, cmd *cli.Command) error {
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	svc, err := e.service(ctx)
	if err != nil {
		return err
	}
	items, total, err := svc.List(ctx, reqservice.ListFilter{
		Status:          cmd.String("status"),
		Feature:         cmd.String("feature"),
		Type:            cmd.String("type"),
		IncludeArchived: cmd.Bool("all"),
		Limit:           int(cmd.Int("limit")),
		Offset:          int(cmd.Int("offset")),
	})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTYPE\tSTATUS\tPRIORITY\tFEATURE\tTITLE")
	for _, it := range items {
		title := it.Title
		if it.Archived {
			title += " (archived)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", it.Key, it.Type, it.Status, it.Priority, it.Feature, title)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(items) < total {
		fmt.Fprintf(e.out, "%d of %d record(s)\n", len(items), total)
	}
	return nil
}

func editRecord(_ context.Context, cmd *cli.Command) error {
	ref, err := arg(cmd, "key")
	if err != nil {
		return err
	}
	if cmd.Bool("archive") && cmd.Bool("unarchive") {
		return fmt.Errorf("--archive and --unarchive conflict: %w", apperr.ErrInvalid)
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	var key string
	var changes int
	err = e.mutate(func(st *store.Store) error {
		r, err := st.Resolve(ref)
		if err != nil {
			return err
		}
		before := len(r.History)
		got, err := st.Update(r.ID, e.cfg.Store.Actor, func(next *models.Requirement) error {
			if cmd.Bool("archive") {
				next.Archived = true
			}
			if cmd.Bool("unarchive") {
				next.Archived = false
			}
			return apply(cmd, next)
		})
		if err != nil {
			return err
		}
		key = got.SpecID
		if len(got.History) > before {
			changes = len(got.History[len(got.History)-1].Changes)
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "updated %s: %d field(s) changed\n", key, changes)
	return nil
}

func deleteRecord(_ context.Context, cmd *cli.Command) error {
	ref, err := arg(cmd, "key")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	var key string
	err = e.mutate(func(st *store.Store) error {
		r, err := st.Resolve(ref)
		if err != nil {
			return err
		}
		key = r.SpecID
		return st.Remove(r.ID)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "deleted %s\n", key)
	return nil
}

// edge resolves the source and target of a rel subcommand.
func edge(st *store.Store, a []string) (uuid.UUID, uuid.UUID, error) {
	src, err := st.Resolve(a[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	dst, err := st.Resolve(a[2])
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return src.ID, dst.ID, nil
}

func relAdd(_ context.Context, cmd *cli.Command) error {
	a, err := args(cmd, "source", "kind", "target")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	var v *graph.Violation
	err = e.mutate(func(st *store.Store) error {
		src, dst, err := edge(st, a)
		if err != nil {
			return err
		}
		if cmd.Bool("advisory") {
			v, err = st.LinkAdvisory(src, a[1], dst)
		} else {
			v, err = st.Link(src, a[1], dst)
		}
		return err
	})
	if err != nil {
		return err
	}
	if v != nil {
		e.warn([]*graph.Violation{v})
	}
	fmt.Fprintf(e.out, "linked %s %s %s\n", strings.ToUpper(a[0]), models.NormalizeKind(a[1]), strings.ToUpper(a[2]))
	return nil
}

func relRemove(_ context.Context, cmd *cli.Command) error {
	a, err := args(cmd, "source", "kind", "target")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	err = e.mutate(func(st *store.Store) error {
		src, dst, err := edge(st, a)
		if err != nil {
			return err
		}
		return st.Unlink(src, a[1], dst)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "unlinked %s %s %s\n", strings.ToUpper(a[0]), models.NormalizeKind(a[1]), strings.ToUpper(a[2]))
	return nil
}

func relList(ctx context.Context, cmd *cli.Command) error {
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
	rels, err := svc.Relationships(ctx, ref)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tTARGET\tTITLE")
	for _, r := range rels {
		kind := r.Kind
		if r.Flagged {
			kind += " (!)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", kind, r.TargetKey, r.TargetTitle)
	}
	return w.Flush()
}

func typeList(ctx context.Context, cmd *cli.Command) error {
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	svc, err := e.service(ctx)
	if err != nil {
		return err
	}
	defs, err := svc.TypeDefinitions(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPREFIX\tSTATUSES\tFIELDS")
	for _, d := range defs {
		name := d.Name
		if d.BuiltIn {
			name += " (built-in)"
		}
		names := lo.Map(d.Fields, func(f models.FieldDefinition, _ int) string { return f.Name + ":" + string(f.Kind) })
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, dash(d.Prefix), strings.Join(d.Statuses, ","), dash(strings.Join(names, ",")))
	}
	return w.Flush()
}

// fieldDefinition parses name:kind[:opt|opt].
func fieldDefinition(spec string) models.FieldDefinition {
	parts := strings.SplitN(spec, ":", 3)
	f := models.FieldDefinition{Name: parts[0], Label: parts[0], Kind: models.FieldText}
	if len(parts) > 1 && parts[1] != "" {
		f.Kind = models.FieldKind(parts[1])
	}
	if len(parts) > 2 {
		f.Options = strings.Split(parts[2], "|")
	}
	return f
}

func typeAdd(_ context.Context, cmd *cli.Command) error {
	name, err := arg(cmd, "name")
	if err != nil {
		return err
	}
	statuses := cmd.StringSlice("status")
	if len(statuses) == 0 {
		statuses = lo.Map(models.Statuses, func(s models.Status, _ int) string { return string(s) })
	}
	def := models.TypeDefinition{
		Name:        name,
		DisplayName: cmd.String("display"),
		Description: cmd.String("description"),
		Prefix:      cmd.String("prefix"),
		Statuses:    statuses,
		Fields:      lo.Map(cmd.StringSlice("field"), func(s string, _ int) models.FieldDefinition { return fieldDefinition(s) }),
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.mutate(func(st *store.Store) error { return st.AddTypeDefinition(def) }); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "added type %s\n", name)
	return nil
}

func typeRemove(_ context.Context, cmd *cli.Command) error {
	name, err := arg(cmd, "name")
	if err != nil {
		return err
	}
	status, field := cmd.String("status"), cmd.String("field")
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	var what string
	err = e.mutate(func(st *store.Store) error {
		switch {
		case status != "":
			what = "status " + status + " from " + name
			return st.RemoveTypeStatus(name, status)
		case field != "":
			what = "field " + field + " from " + name
			return st.RemoveTypeField(name, field)
		}
		what = "type " + name
		return st.RemoveTypeDefinition(name)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "removed %s\n", what)
	return nil
}

func featureList(_ context.Context, cmd *cli.Command) error {
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	doc, err := e.b.Load()
	if err != nil {
		return err
	}
	st, err := store.New(doc, store.WithLogger(e.logger))
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	st.Each(func(r *models.Requirement) { counts[r.Feature]++ })

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FEATURE\tPREFIX\tRECORDS")
	for _, f := range st.Features() {
		fmt.Fprintf(w, "%s\t%s\t%d\n", f.Name, dash(f.Prefix), counts[f.Name])
		delete(counts, f.Name)
	}
	unregistered := lo.Keys(counts)
	slices.Sort(unregistered)
	for _, name := range unregistered {
		fmt.Fprintf(w, "%s\t-\t%d\n", name, counts[name])
	}
	return w.Flush()
}

func featureAdd(_ context.Context, cmd *cli.Command) error {
	name, err := arg(cmd, "name")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	var label string
	err = e.mutate(func(st *store.Store) error {
		f, err := st.AddFeature(name, cmd.String("prefix"))
		if err != nil {
			return err
		}
		label = f.Name
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "added feature %s\n", label)
	return nil
}

func featureEdit(_ context.Context, cmd *cli.Command) error {
	ref, err := arg(cmd, "feature")
	if err != nil {
		return err
	}
	name, prefix := cmd.String("name"), cmd.String("prefix")
	if name == "" && prefix == "" {
		return fmt.Errorf("nothing to change, pass --name or --prefix: %w", apperr.ErrInvalid)
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	var label string
	err = e.mutate(func(st *store.Store) error {
		f, err := st.EditFeature(ref, name, prefix)
		if err != nil {
			return err
		}
		label = f.Name
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "updated feature %s\n", label)
	return nil
}

// commentTarget resolves the record and optional comment id of a comment
// subcommand.
func commentTarget(st *store.Store, ref, comment string) (uuid.UUID, uuid.UUID, error) {
	r, err := st.Resolve(ref)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if comment == "" {
		return r.ID, uuid.Nil, nil
	}
	id, err := uuid.Parse(comment)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("comment id %q: %w", comment, apperr.ErrInvalid)
	}
	return r.ID, id, nil
}

func commentAdd(_ context.Context, cmd *cli.Command) error {
	a, err := args(cmd, "key", "text")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	var id uuid.UUID
	err = e.mutate(func(st *store.Store) error {
		rec, parent, err := commentTarget(st, a[0], cmd.String("parent"))
		if err != nil {
			return err
		}
		var p *uuid.UUID
		if parent != uuid.Nil {
			p = &parent
		}
		c, err := st.AddComment(rec, e.cfg.Store.Actor, a[1], p)
		if err != nil {
			return err
		}
		id = c.ID
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "added comment %s\n", id)
	return nil
}

func commentList(_ context.Context, cmd *cli.Command) error {
	ref, err := arg(cmd, "key")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	doc, err := e.b.Load()
	if err != nil {
		return err
	}
	st, err := store.New(doc, store.WithLogger(e.logger))
	if err != nil {
		return err
	}
	r, err := st.Resolve(ref)
	if err != nil {
		return err
	}
	replies := lo.GroupBy(r.Comments, func(c models.Comment) uuid.UUID {
		if c.ParentID == nil {
			return uuid.Nil
		}
		return *c.ParentID
	})
	var walk func(parent uuid.UUID, depth int)
	walk = func(parent uuid.UUID, depth int) {
		for _, c := range replies[parent] {
			indent := strings.Repeat("  ", depth)
			fmt.Fprintf(e.out, "%s%s  %s  %s\n", indent, c.ID, c.Author, c.CreatedAt.Format("2006-01-02 15:04"))
			fmt.Fprintf(e.out, "%s  %s\n", indent, c.Content)
			walk(c.ID, depth+1)
		}
	}
	walk(uuid.Nil, 0)
	return nil
}

func commentEdit(_ context.Context, cmd *cli.Command) error {
	a, err := args(cmd, "key", "comment id", "text")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	err = e.mutate(func(st *store.Store) error {
		rec, id, err := commentTarget(st, a[0], a[1])
		if err != nil {
			return err
		}
		_, err = st.EditComment(rec, id, a[2])
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "updated comment %s\n", a[1])
	return nil
}

func commentDelete(_ context.Context, cmd *cli.Command) error {
	a, err := args(cmd, "key", "comment id")
	if err != nil {
		return err
	}
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	var n int
	err = e.mutate(func(st *store.Store) error {
		rec, id, err := commentTarget(st, a[0], a[1])
		if err != nil {
			return err
		}
		n, err = st.DeleteComment(rec, id)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "deleted %d comment(s)\n", n)
	return nil
}
