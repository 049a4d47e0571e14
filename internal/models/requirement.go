// Package models defines the persisted domain types of the requirements store.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the fixed lifecycle status of a record.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusApproved  Status = "Approved"
	StatusCompleted Status = "Completed"
	StatusRejected  Status = "Rejected"
)

// Statuses lists the fixed statuses in lifecycle order.
var Statuses = []Status{StatusDraft, StatusApproved, StatusCompleted, StatusRejected}

// Priority is ordered High > Medium > Low.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Rank returns a sort key where lower means more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// ReqType selects the status list and extra fields that apply to a record.
// Values outside the built-in set name a custom TypeDefinition.
type ReqType string

const (
	TypeFunctional    ReqType = "Functional"
	TypeNonFunctional ReqType = "NonFunctional"
	TypeSystem        ReqType = "System"
	TypeUser          ReqType = "User"
	TypeChangeRequest ReqType = "ChangeRequest"
	TypeBug           ReqType = "Bug"
	TypeEpic          ReqType = "Epic"
	TypeStory         ReqType = "Story"
	TypeTask          ReqType = "Task"
	TypeSpike         ReqType = "Spike"
)

// Relationship is a typed edge owned by its source record.
type Relationship struct {
	Kind     string    `yaml:"rel_type" json:"rel_type"`
	TargetID uuid.UUID `yaml:"target_id" json:"target_id"`
	// Flagged marks an edge kept despite a constraint violation.
	Flagged bool `yaml:"flagged,omitempty" json:"flagged,omitempty"`
}

// CommentReaction is a named reaction left on a comment.
type CommentReaction struct {
	Reaction string    `yaml:"reaction" json:"reaction"`
	Author   string    `yaml:"author" json:"author"`
	AddedAt  time.Time `yaml:"added_at" json:"added_at"`
}

// Comment is a threaded comment. A nil ParentID marks a top-level comment.
type Comment struct {
	ID         uuid.UUID         `yaml:"id" json:"id"`
	Author     string            `yaml:"author" json:"author"`
	Content    string            `yaml:"content" json:"content"`
	CreatedAt  time.Time         `yaml:"created_at" json:"created_at"`
	ModifiedAt time.Time         `yaml:"modified_at" json:"modified_at"`
	ParentID   *uuid.UUID        `yaml:"parent_id,omitempty" json:"parent_id,omitempty"`
	Reactions  []CommentReaction `yaml:"reactions,omitempty" json:"reactions,omitempty"`
}

// FieldChange records one field's transition.
type FieldChange struct {
	Field    string `yaml:"field_name" json:"field_name"`
	OldValue string `yaml:"old_value" json:"old_value"`
	NewValue string `yaml:"new_value" json:"new_value"`
}

// HistoryEntry groups the field changes made by one update.
type HistoryEntry struct {
	ID        uuid.UUID     `yaml:"id" json:"id"`
	Author    string        `yaml:"author" json:"author"`
	Timestamp time.Time     `yaml:"timestamp" json:"timestamp"`
	Changes   []FieldChange `yaml:"changes" json:"changes"`
}

// URLLink is an external reference attached to a record.
type URLLink struct {
	ID          uuid.UUID `yaml:"id" json:"id"`
	URL         string    `yaml:"url" json:"url"`
	Title       string    `yaml:"title" json:"title"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	AddedAt     time.Time `yaml:"added_at" json:"added_at"`
	AddedBy     string    `yaml:"added_by,omitempty" json:"added_by,omitempty"`
}

// Requirement is a single record in the store.
type Requirement struct {
	ID             uuid.UUID         `yaml:"id" json:"id"`
	SpecID         string            `yaml:"spec_id,omitempty" json:"spec_id,omitempty"`
	PrefixOverride string            `yaml:"prefix_override,omitempty" json:"prefix_override,omitempty"`
	Title          string            `yaml:"title" json:"title"`
	Description    string            `yaml:"description" json:"description"`
	Status         Status            `yaml:"status" json:"status"`
	Priority       Priority          `yaml:"priority" json:"priority"`
	Owner          string            `yaml:"owner" json:"owner"`
	Feature        string            `yaml:"feature" json:"feature"`
	CreatedAt      time.Time         `yaml:"created_at" json:"created_at"`
	CreatedBy      string            `yaml:"created_by,omitempty" json:"created_by,omitempty"`
	ModifiedAt     time.Time         `yaml:"modified_at" json:"modified_at"`
	Type           ReqType           `yaml:"req_type" json:"req_type"`
	Dependencies   []uuid.UUID       `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Tags           []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Relationships  []Relationship    `yaml:"relationships,omitempty" json:"relationships,omitempty"`
	Comments       []Comment         `yaml:"comments,omitempty" json:"comments,omitempty"`
	History        []HistoryEntry    `yaml:"history,omitempty" json:"history,omitempty"`
	Archived       bool              `yaml:"archived,omitempty" json:"archived,omitempty"`
	CustomStatus   string            `yaml:"custom_status,omitempty" json:"custom_status,omitempty"`
	CustomFields   map[string]string `yaml:"custom_fields,omitempty" json:"custom_fields,omitempty"`
	URLs           []URLLink         `yaml:"urls,omitempty" json:"urls,omitempty"`
}

// NewRequirement returns a Draft, Medium-priority Functional record with a
// fresh internal identifier.
func NewRequirement(title, description string) Requirement {
	now := time.Now().UTC()
	return Requirement{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Status:      StatusDraft,
		Priority:    PriorityMedium,
		Feature:     DefaultFeature,
		Type:        TypeFunctional,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
}

// EffectiveStatus returns the custom status when set, else the fixed one.
func (r *Requirement) EffectiveStatus() string {
	if r.CustomStatus != "" {
		return r.CustomStatus
	}
	return string(r.Status)
}

// HasEdge reports whether the record owns an edge of kind to target.
func (r *Requirement) HasEdge(kind string, target uuid.UUID) bool {
	for _, rel := range r.Relationships {
		if rel.Kind == kind && rel.TargetID == target {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so a mutation can be validated before it is kept.
func (r Requirement) Clone() Requirement {
	c := r
	c.Dependencies = append([]uuid.UUID(nil), r.Dependencies...)
	c.Tags = append([]string(nil), r.Tags...)
	c.Relationships = append([]Relationship(nil), r.Relationships...)
	c.History = append([]HistoryEntry(nil), r.History...)
	c.URLs = append([]URLLink(nil), r.URLs...)
	if r.Comments != nil {
		c.Comments = make([]Comment, len(r.Comments))
		for i, cm := range r.Comments {
			cm.Reactions = append([]CommentReaction(nil), cm.Reactions...)
			c.Comments[i] = cm
		}
	}
	if r.CustomFields != nil {
		c.CustomFields = make(map[string]string, len(r.CustomFields))
		for k, v := range r.CustomFields {
			c.CustomFields[k] = v
		}
	}
	return c
}

// User is a person who can own records or author comments.
type User struct {
	ID        uuid.UUID `yaml:"id" json:"id"`
	SpecID    string    `yaml:"spec_id,omitempty" json:"spec_id,omitempty"`
	Name      string    `yaml:"name" json:"name"`
	Email     string    `yaml:"email" json:"email"`
	Handle    string    `yaml:"handle" json:"handle"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	Archived  bool      `yaml:"archived,omitempty" json:"archived,omitempty"`
}
