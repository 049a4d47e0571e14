package store

import (
	"fmt"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/models"
)

// AddUser registers a user and gives it a $USER-NNN key.
func (s *Store) AddUser(name, email, handle string) (*models.User, error) {
	u := models.User{ID: uuid.New(), Name: name, Email: email, Handle: handle, CreatedAt: s.now()}
	err := validation.ValidateStruct(&u,
		validation.Field(&u.Name, validation.Required),
		validation.Field(&u.Handle, validation.Required),
		validation.Field(&u.Email, is.EmailFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("store: user: %w: %w", apperr.ErrInvalid, err)
	}
	if _, ok := s.User(handle); ok {
		return nil, fmt.Errorf("store: user %q: %w", handle, apperr.ErrAlreadyExists)
	}
	u.SpecID = s.alloc.AssignMeta(models.MetaPrefixUser)
	s.data.Users = append(s.data.Users, u)
	return &s.data.Users[len(s.data.Users)-1], nil
}

// User finds a user by handle, key or internal identifier.
func (s *Store) User(ref string) (*models.User, bool) {
	for i := range s.data.Users {
		u := &s.data.Users[i]
		if u.Handle == ref || strings.EqualFold(u.SpecID, ref) || u.ID.String() == ref {
			return u, true
		}
	}
	return nil, false
}

// AddFeature registers a feature under the numbered label "N-name". Its
// prefix can seed keys.
func (s *Store) AddFeature(name, prefix string) (*models.FeatureDefinition, error) {
	if err := validation.Validate(name, validation.Required); err != nil {
		return nil, fmt.Errorf("store: feature: %w: %w", apperr.ErrInvalid, err)
	}
	for _, f := range s.data.Features {
		if strings.EqualFold(models.FeatureBase(f.Name), name) {
			return nil, fmt.Errorf("store: feature %q: %w", name, apperr.ErrAlreadyExists)
		}
	}
	n := s.alloc.AssignFeatureNumber()
	f := models.FeatureDefinition{
		Number: n,
		Name:   models.FeatureLabel(n, name),
		Prefix: strings.ToUpper(prefix),
	}
	s.data.Features = append(s.data.Features, f)
	return &s.data.Features[len(s.data.Features)-1], nil
}

// feature finds a feature by label, bare name or prefix.
func (s *Store) feature(ref string) (int, error) {
	i := slices.IndexFunc(s.data.Features, func(f models.FeatureDefinition) bool {
		return strings.EqualFold(f.Name, ref) || strings.EqualFold(models.FeatureBase(f.Name), ref) ||
			(f.Prefix != "" && strings.EqualFold(f.Prefix, ref))
	})
	if i < 0 {
		return -1, fmt.Errorf("store: feature %q: %w", ref, apperr.ErrNotFound)
	}
	return i, nil
}

// EditFeature renames a feature and changes its prefix. An empty name or
// prefix leaves that part alone. A rename keeps the feature number and
// relabels every record that carries the feature.
func (s *Store) EditFeature(ref, name, prefix string) (*models.FeatureDefinition, error) {
	i, err := s.feature(ref)
	if err != nil {
		return nil, err
	}
	f := &s.data.Features[i]
	if name != "" && !strings.EqualFold(models.FeatureBase(f.Name), name) {
		for j, o := range s.data.Features {
			if j != i && strings.EqualFold(models.FeatureBase(o.Name), name) {
				return nil, fmt.Errorf("store: feature %q: %w", name, apperr.ErrAlreadyExists)
			}
		}
		label := models.FeatureLabel(f.Number, name)
		now := s.now()
		for j := range s.data.Requirements {
			if r := &s.data.Requirements[j]; r.Feature == f.Name {
				r.Feature = label
				r.ModifiedAt = now
			}
		}
		f.Name = label
	}
	if prefix != "" {
		f.Prefix = strings.ToUpper(prefix)
	}
	return f, nil
}

// AddComment appends a comment to a record. A non-nil parent must name an
// existing comment on the same record.
func (s *Store) AddComment(id uuid.UUID, author, content string, parent *uuid.UUID) (*models.Comment, error) {
	r, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := validation.Validate(content, validation.Required); err != nil {
		return nil, fmt.Errorf("store: comment: %w: %w", apperr.ErrInvalid, err)
	}
	if parent != nil && slices.IndexFunc(r.Comments, func(c models.Comment) bool { return c.ID == *parent }) < 0 {
		return nil, fmt.Errorf("store: parent comment %s: %w", parent, apperr.ErrNotFound)
	}
	now := s.now()
	r.Comments = append(r.Comments, models.Comment{
		ID: uuid.New(), Author: author, Content: content,
		CreatedAt: now, ModifiedAt: now, ParentID: parent,
	})
	r.ModifiedAt = now
	return &r.Comments[len(r.Comments)-1], nil
}

// findComment returns the index of a comment on r.
func findComment(r *models.Requirement, commentID uuid.UUID) (int, error) {
	i := slices.IndexFunc(r.Comments, func(c models.Comment) bool { return c.ID == commentID })
	if i < 0 {
		return -1, fmt.Errorf("store: comment %s: %w", commentID, apperr.ErrNotFound)
	}
	return i, nil
}

// EditComment replaces the content of a comment.
func (s *Store) EditComment(id, commentID uuid.UUID, content string) (*models.Comment, error) {
	r, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	i, err := findComment(r, commentID)
	if err != nil {
		return nil, err
	}
	if err := validation.Validate(content, validation.Required); err != nil {
		return nil, fmt.Errorf("store: comment: %w: %w", apperr.ErrInvalid, err)
	}
	now := s.now()
	c := &r.Comments[i]
	c.Content = content
	c.ModifiedAt = now
	r.ModifiedAt = now
	return c, nil
}

// DeleteComment removes a comment and every reply beneath it. It returns the
// number of comments removed.
func (s *Store) DeleteComment(id, commentID uuid.UUID) (int, error) {
	r, err := s.Get(id)
	if err != nil {
		return 0, err
	}
	if _, err := findComment(r, commentID); err != nil {
		return 0, err
	}
	doomed := map[uuid.UUID]bool{commentID: true}
	for grew := true; grew; {
		grew = false
		for _, c := range r.Comments {
			if c.ParentID != nil && doomed[*c.ParentID] && !doomed[c.ID] {
				doomed[c.ID], grew = true, true
			}
		}
	}
	before := len(r.Comments)
	r.Comments = slices.DeleteFunc(r.Comments, func(c models.Comment) bool { return doomed[c.ID] })
	r.ModifiedAt = s.now()
	return before - len(r.Comments), nil
}

// AddReaction adds a defined reaction to a comment. Each author may leave each
// reaction once.
func (s *Store) AddReaction(id, commentID uuid.UUID, author, reaction string) error {
	r, err := s.Get(id)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(s.data.ReactionDefinitions, func(d models.ReactionDefinition) bool { return d.Name == reaction }) {
		return fmt.Errorf("store: reaction %q: %w", reaction, apperr.ErrNotFound)
	}
	i, err := findComment(r, commentID)
	if err != nil {
		return err
	}
	c := &r.Comments[i]
	if slices.ContainsFunc(c.Reactions, func(cr models.CommentReaction) bool {
		return cr.Author == author && cr.Reaction == reaction
	}) {
		return fmt.Errorf("store: %s already reacted %s: %w", author, reaction, apperr.ErrAlreadyExists)
	}
	c.Reactions = append(c.Reactions, models.CommentReaction{Reaction: reaction, Author: author, AddedAt: s.now()})
	return nil
}

// AddURL attaches an external link to a record.
func (s *Store) AddURL(id uuid.UUID, actor, url, title string) (*models.URLLink, error) {
	r, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := validation.Validate(url, validation.Required, is.URL); err != nil {
		return nil, fmt.Errorf("store: url %q: %w: %w", url, apperr.ErrInvalid, err)
	}
	now := s.now()
	r.URLs = append(r.URLs, models.URLLink{ID: uuid.New(), URL: url, Title: title, AddedAt: now, AddedBy: actor})
	r.ModifiedAt = now
	return &r.URLs[len(r.URLs)-1], nil
}

// Features returns a copy of the feature definitions.
func (s *Store) Features() []models.FeatureDefinition {
	return slices.Clone(s.data.Features)
}
