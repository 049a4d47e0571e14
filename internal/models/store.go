package models

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DocumentVersion is the current shape version of a persisted store.
const DocumentVersion = 2

// DefaultFeature is assigned to records created without a feature.
const DefaultFeature = "Uncategorized"

// DefaultPrefix is used when neither override, type nor feature give a prefix.
const DefaultPrefix = "SPEC"

// MetaPrefixUser prefixes the alternate keys of users.
const MetaPrefixUser = "$USER"

// IdFormat selects how many prefix segments an alternate key carries.
type IdFormat string

const (
	FormatSingleLevel IdFormat = "single_level"
	FormatTwoLevel    IdFormat = "two_level"
)

// NumberingStrategy selects which counter advances on assignment.
type NumberingStrategy string

const (
	NumberingGlobal         NumberingStrategy = "global"
	NumberingPerPrefix      NumberingStrategy = "per_prefix"
	NumberingPerFeatureType NumberingStrategy = "per_feature_type"
)

// IdConfiguration is the project-level identifier policy.
type IdConfiguration struct {
	Format    IdFormat          `yaml:"format" json:"format"`
	Numbering NumberingStrategy `yaml:"numbering" json:"numbering"`
	Digits    int               `yaml:"digits" json:"digits"`
}

// DefaultIdConfiguration returns SPEC-001 style numbering.
func DefaultIdConfiguration() IdConfiguration {
	return IdConfiguration{
		Format:    FormatSingleLevel,
		Numbering: NumberingGlobal,
		Digits:    3,
	}
}

// Validate validates the configuration fields individually.
func (c *IdConfiguration) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Format, validation.Required, validation.In(FormatSingleLevel, FormatTwoLevel)),
		validation.Field(&c.Numbering, validation.Required,
			validation.In(NumberingGlobal, NumberingPerPrefix, NumberingPerFeatureType)),
		validation.Field(&c.Digits, validation.Required, validation.Min(1), validation.Max(6)),
	)
}

// Counters holds the next unassigned numbers. Only the identifier
// allocator mutates them.
type Counters struct {
	NextFeatureNumber int            `yaml:"next_feature_number" json:"next_feature_number"`
	NextSpecNumber    int            `yaml:"next_spec_number" json:"next_spec_number"`
	PrefixCounters    map[string]int `yaml:"prefix_counters,omitempty" json:"prefix_counters,omitempty"`
	MetaCounters      map[string]int `yaml:"meta_counters,omitempty" json:"meta_counters,omitempty"`
}

// Clone returns an independent copy of the counters.
func (c Counters) Clone() Counters {
	out := Counters{NextFeatureNumber: c.NextFeatureNumber, NextSpecNumber: c.NextSpecNumber}
	if c.PrefixCounters != nil {
		out.PrefixCounters = make(map[string]int, len(c.PrefixCounters))
		for k, v := range c.PrefixCounters {
			out.PrefixCounters[k] = v
		}
	}
	if c.MetaCounters != nil {
		out.MetaCounters = make(map[string]int, len(c.MetaCounters))
		for k, v := range c.MetaCounters {
			out.MetaCounters[k] = v
		}
	}
	return out
}

// RequirementsStore is the complete persisted state of a project.
type RequirementsStore struct {
	SchemaVersion           int                      `yaml:"schema_version,omitempty" json:"schema_version,omitempty"`
	Name                    string                   `yaml:"name" json:"name"`
	Title                   string                   `yaml:"title" json:"title"`
	Description             string                   `yaml:"description" json:"description"`
	IdConfig                IdConfiguration          `yaml:"id_config" json:"id_config"`
	Features                []FeatureDefinition      `yaml:"features,omitempty" json:"features,omitempty"`
	Counters                `yaml:",inline"`
	RelationshipDefinitions []RelationshipDefinition `yaml:"relationship_definitions,omitempty" json:"relationship_definitions,omitempty"`
	ReactionDefinitions     []ReactionDefinition     `yaml:"reaction_definitions,omitempty" json:"reaction_definitions,omitempty"`
	TypeDefinitions         []TypeDefinition         `yaml:"type_definitions,omitempty" json:"type_definitions,omitempty"`
	AllowedPrefixes         []string                 `yaml:"allowed_prefixes,omitempty" json:"allowed_prefixes,omitempty"`
	RestrictPrefixes        bool                     `yaml:"restrict_prefixes,omitempty" json:"restrict_prefixes,omitempty"`
	Users                   []User                   `yaml:"users,omitempty" json:"users,omitempty"`
	Requirements            []Requirement            `yaml:"requirements" json:"requirements"`
}

// NewRequirementsStore returns an empty store at the current document
// version with every built-in definition in place.
func NewRequirementsStore(name string) *RequirementsStore {
	return &RequirementsStore{
		SchemaVersion:           DocumentVersion,
		Name:                    name,
		IdConfig:                DefaultIdConfiguration(),
		Counters:                Counters{NextFeatureNumber: 1, NextSpecNumber: 1},
		RelationshipDefinitions: BuiltinRelationshipDefinitions(),
		ReactionDefinitions:     DefaultReactionDefinitions(),
		TypeDefinitions:         DefaultTypeDefinitions(),
		Requirements:            []Requirement{},
	}
}

// TypeDefinition returns the definition for a record type.
func (s *RequirementsStore) TypeDefinition(name ReqType) (*TypeDefinition, bool) {
	for i := range s.TypeDefinitions {
		if s.TypeDefinitions[i].Name == string(name) {
			return &s.TypeDefinitions[i], true
		}
	}
	return nil, false
}

// Feature returns the feature definition with the given name.
func (s *RequirementsStore) Feature(name string) (*FeatureDefinition, bool) {
	for i := range s.Features {
		if s.Features[i].Name == name {
			return &s.Features[i], true
		}
	}
	return nil, false
}
