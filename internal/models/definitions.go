package models

import (
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Cardinality limits how many edges of a kind may leave or reach a record.
type Cardinality string

const (
	OneToOne   Cardinality = "one_to_one"
	OneToMany  Cardinality = "one_to_many"
	ManyToOne  Cardinality = "many_to_one"
	ManyToMany Cardinality = "many_to_many"
)

// LimitsSource reports whether a source may own at most one edge of the kind.
func (c Cardinality) LimitsSource() bool { return c == OneToOne || c == ManyToOne }

// LimitsTarget reports whether a target may receive at most one edge of the kind.
func (c Cardinality) LimitsTarget() bool { return c == OneToOne || c == OneToMany }

// Built-in relationship kind names.
const (
	RelParent     = "parent"
	RelChild      = "child"
	RelVerifies   = "verifies"
	RelVerifiedBy = "verified_by"
	RelDuplicate  = "duplicate"
	RelReferences = "references"
)

// RelationshipDefinition describes a named relationship kind.
type RelationshipDefinition struct {
	Name         string      `yaml:"name" json:"name"`
	DisplayName  string      `yaml:"display_name" json:"display_name"`
	Description  string      `yaml:"description,omitempty" json:"description,omitempty"`
	Inverse      string      `yaml:"inverse,omitempty" json:"inverse,omitempty"`
	Symmetric    bool        `yaml:"symmetric,omitempty" json:"symmetric,omitempty"`
	Hierarchical bool        `yaml:"hierarchical,omitempty" json:"hierarchical,omitempty"`
	AllowSelf    bool        `yaml:"allow_self,omitempty" json:"allow_self,omitempty"`
	Cardinality  Cardinality `yaml:"cardinality" json:"cardinality"`
	SourceTypes  []ReqType   `yaml:"source_types,omitempty" json:"source_types,omitempty"`
	TargetTypes  []ReqType   `yaml:"target_types,omitempty" json:"target_types,omitempty"`
	BuiltIn      bool        `yaml:"built_in,omitempty" json:"built_in,omitempty"`
	Color        string      `yaml:"color,omitempty" json:"color,omitempty"`
	Icon         string      `yaml:"icon,omitempty" json:"icon,omitempty"`
}

// NormalizeKind lowercases a kind name and folds the legacy hyphenated form.
func NormalizeKind(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "verified-by" || n == "verifiedby" {
		return RelVerifiedBy
	}
	return n
}

// Validate checks the definition in isolation. Set-level invariants such as
// inverse existence are checked by the graph engine.
func (d *RelationshipDefinition) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Name, validation.Required, validation.Length(1, 64)),
		validation.Field(&d.Cardinality, validation.Required,
			validation.In(OneToOne, OneToMany, ManyToOne, ManyToMany)),
		validation.Field(&d.Inverse, validation.When(d.Symmetric,
			validation.Empty.Error("symmetric relationships cannot declare an inverse"))),
	)
}

// SameStructure reports whether two definitions agree on every structural field.
func (d *RelationshipDefinition) SameStructure(o *RelationshipDefinition) bool {
	return d.Inverse == o.Inverse &&
		d.Symmetric == o.Symmetric &&
		d.Hierarchical == o.Hierarchical &&
		d.AllowSelf == o.AllowSelf &&
		d.Cardinality == o.Cardinality
}

// BuiltinRelationshipDefinitions returns the kinds every store starts with.
func BuiltinRelationshipDefinitions() []RelationshipDefinition {
	return []RelationshipDefinition{
		{Name: RelParent, DisplayName: "Parent", Description: "Target is the parent of this record",
			Inverse: RelChild, Hierarchical: true, Cardinality: ManyToOne, BuiltIn: true, Color: "#4a90d9"},
		{Name: RelChild, DisplayName: "Child", Description: "Target is a child of this record",
			Inverse: RelParent, Hierarchical: true, Cardinality: OneToMany, BuiltIn: true, Color: "#4a90d9"},
		{Name: RelVerifies, DisplayName: "Verifies", Description: "This record verifies the target",
			Inverse: RelVerifiedBy, Cardinality: ManyToMany, BuiltIn: true, Color: "#2e9e5b"},
		{Name: RelVerifiedBy, DisplayName: "Verified By", Description: "This record is verified by the target",
			Inverse: RelVerifies, Cardinality: ManyToMany, BuiltIn: true, Color: "#2e9e5b"},
		{Name: RelDuplicate, DisplayName: "Duplicate", Description: "Records describe the same thing",
			Symmetric: true, Cardinality: ManyToMany, BuiltIn: true, Color: "#d98c4a"},
		{Name: RelReferences, DisplayName: "References", Description: "General reference",
			Cardinality: ManyToMany, BuiltIn: true, Color: "#888888"},
	}
}

// FieldKind is the value kind of a type-specific field.
type FieldKind string

const (
	FieldText      FieldKind = "text"
	FieldMultiline FieldKind = "multiline"
	FieldChoice    FieldKind = "choice"
	FieldBoolean   FieldKind = "boolean"
	FieldDate      FieldKind = "date"
	FieldNumber    FieldKind = "number"
	FieldRecordRef FieldKind = "record_ref"
	FieldOwnerRef  FieldKind = "owner_ref"
)

// FieldDefinition is one extra field that a type adds to its records.
type FieldDefinition struct {
	Name     string    `yaml:"name" json:"name"`
	Label    string    `yaml:"label" json:"label"`
	Kind     FieldKind `yaml:"kind" json:"kind"`
	Required bool      `yaml:"required,omitempty" json:"required,omitempty"`
	Options  []string  `yaml:"options,omitempty" json:"options,omitempty"`
	Default  string    `yaml:"default,omitempty" json:"default,omitempty"`
}

// Validate validates the field definition.
func (f FieldDefinition) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.Kind, validation.Required, validation.In(
			FieldText, FieldMultiline, FieldChoice, FieldBoolean,
			FieldDate, FieldNumber, FieldRecordRef, FieldOwnerRef)),
		validation.Field(&f.Options, validation.When(f.Kind == FieldChoice, validation.Required)),
	)
}

// TypeDefinition configures a record type.
type TypeDefinition struct {
	Name        string            `yaml:"name" json:"name"`
	DisplayName string            `yaml:"display_name" json:"display_name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Prefix      string            `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Statuses    []string          `yaml:"statuses" json:"statuses"`
	Fields      []FieldDefinition `yaml:"fields,omitempty" json:"fields,omitempty"`
	BuiltIn     bool              `yaml:"built_in,omitempty" json:"built_in,omitempty"`
}

// Validate validates the type definition and each of its fields.
func (t *TypeDefinition) Validate() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.Name, validation.Required),
		validation.Field(&t.Statuses, validation.Required, validation.Length(1, 0)),
		validation.Field(&t.Fields),
	)
}

// Field returns the named field definition.
func (t *TypeDefinition) Field(name string) (*FieldDefinition, bool) {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i], true
		}
	}
	return nil, false
}

// AllowsStatus reports whether status is in the type's status list.
func (t *TypeDefinition) AllowsStatus(status string) bool {
	for _, s := range t.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// DefaultTypeDefinitions returns one built-in definition per built-in type.
func DefaultTypeDefinitions() []TypeDefinition {
	fixed := make([]string, len(Statuses))
	for i, s := range Statuses {
		fixed[i] = string(s)
	}
	def := func(t ReqType, display, prefix string, fields ...FieldDefinition) TypeDefinition {
		return TypeDefinition{
			Name:        string(t),
			DisplayName: display,
			Prefix:      prefix,
			Statuses:    append([]string(nil), fixed...),
			Fields:      fields,
			BuiltIn:     true,
		}
	}
	return []TypeDefinition{
		def(TypeFunctional, "Functional", "FR"),
		def(TypeNonFunctional, "Non-Functional", "NFR"),
		def(TypeSystem, "System", "SYS"),
		def(TypeUser, "User", "USR"),
		def(TypeChangeRequest, "Change Request", "CR"),
		def(TypeBug, "Bug", "BUG",
			FieldDefinition{Name: "severity", Label: "Severity", Kind: FieldChoice,
				Options: []string{"critical", "major", "minor", "trivial"}, Default: "minor"},
			FieldDefinition{Name: "reproducible", Label: "Reproducible", Kind: FieldBoolean}),
		def(TypeEpic, "Epic", "EPIC"),
		def(TypeStory, "Story", "STORY",
			FieldDefinition{Name: "story_points", Label: "Story Points", Kind: FieldNumber}),
		def(TypeTask, "Task", "TASK",
			FieldDefinition{Name: "due", Label: "Due Date", Kind: FieldDate},
			FieldDefinition{Name: "assignee", Label: "Assignee", Kind: FieldOwnerRef}),
		def(TypeSpike, "Spike", "SPIKE"),
	}
}

// ReactionDefinition names a reaction that may be left on comments.
type ReactionDefinition struct {
	Name    string `yaml:"name" json:"name"`
	Emoji   string `yaml:"emoji" json:"emoji"`
	Label   string `yaml:"label" json:"label"`
	BuiltIn bool   `yaml:"built_in,omitempty" json:"built_in,omitempty"`
}

// DefaultReactionDefinitions returns the built-in reactions.
func DefaultReactionDefinitions() []ReactionDefinition {
	return []ReactionDefinition{
		{Name: "resolved", Emoji: "✅", Label: "Resolved", BuiltIn: true},
		{Name: "rejected", Emoji: "❌", Label: "Rejected", BuiltIn: true},
		{Name: "thumbs_up", Emoji: "👍", Label: "Agree", BuiltIn: true},
		{Name: "thumbs_down", Emoji: "👎", Label: "Disagree", BuiltIn: true},
		{Name: "question", Emoji: "❓", Label: "Question", BuiltIn: true},
		{Name: "important", Emoji: "⚠️", Label: "Important", BuiltIn: true},
	}
}

// FeatureDefinition is a numbered grouping label with its own id prefix.
type FeatureDefinition struct {
	Number int    `yaml:"number" json:"number"`
	Name   string `yaml:"name" json:"name"`
	Prefix string `yaml:"prefix" json:"prefix"`
}

// FeatureLabel renders the numbered label records carry, e.g. "1-Auth".
func FeatureLabel(n int, name string) string {
	return strconv.Itoa(n) + "-" + name
}

// FeatureBase strips a leading "N-" number from a feature label.
func FeatureBase(label string) string {
	if _, rest, ok := SplitFeatureLabel(label); ok {
		return rest
	}
	return label
}

// SplitFeatureLabel splits "N-name" into its number and name.
func SplitFeatureLabel(label string) (int, string, bool) {
	num, rest, ok := strings.Cut(label, "-")
	if !ok {
		return 0, "", false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, "", false
	}
	return n, rest, true
}
