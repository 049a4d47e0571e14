// Package mapping maintains the side file that maps internal record ids to
// alternate keys for external read-only tooling.
package mapping

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/idalloc"
	"github.com/joemooney/req/internal/models"
	"github.com/joemooney/req/internal/storage"
)

// DefaultName is the mapping file written next to the store.
const DefaultName = ".req-mapping.yaml"

const digits = 3

// File is the persisted mapping. Entries are never reassigned once written.
type File struct {
	Mappings   map[string]string `yaml:"mappings"`
	NextNumber int               `yaml:"next_number"`
}

// onDisk accepts the older next_spec_number field as well.
type onDisk struct {
	Mappings       map[string]string `yaml:"mappings"`
	NextNumber     int               `yaml:"next_number"`
	NextSpecNumber int               `yaml:"next_spec_number"`
}

func newFile() *File {
	return &File{Mappings: map[string]string{}, NextNumber: 1}
}

// Load reads the mapping file, or returns an empty one if it does not exist.
func Load(fs *storage.FS, name string) (*File, error) {
	data, err := fs.Read(name)
	if errors.Is(err, apperr.ErrNotFound) {
		return newFile(), nil
	}
	if err != nil {
		return nil, err
	}
	var raw onDisk
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("mapping: parse %s: %w: %w", name, apperr.ErrInvalid, err)
	}
	f := &File{Mappings: raw.Mappings, NextNumber: max(raw.NextNumber, raw.NextSpecNumber, 1)}
	if f.Mappings == nil {
		f.Mappings = map[string]string{}
	}
	return f, nil
}

// Save writes the file atomically.
func (f *File) Save(fs *storage.FS, name string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("mapping: encode: %w", err)
	}
	return fs.Write(name, data)
}

// Lookup returns the key mapped to a record id.
func (f *File) Lookup(id string) (string, bool) {
	k, ok := f.Mappings[id]
	return k, ok
}

// Reverse returns the record id mapped to key.
func (f *File) Reverse(key string) (string, bool) {
	return lo.FindKey(f.Mappings, key)
}

// Regenerate adds an entry for every record not yet mapped and returns how
// many were added. A record keeps its own alternate key when no other entry
// uses it; otherwise it gets the next free SPEC-NNN.
func (f *File) Regenerate(records []models.Requirement) int {
	used := make(map[string]bool, len(f.Mappings))
	for _, k := range f.Mappings {
		used[k] = true
	}
	added := 0
	for i := range records {
		id := records[i].ID.String()
		if _, ok := f.Mappings[id]; ok {
			continue
		}
		key := records[i].SpecID
		if key == "" || used[key] {
			key = f.next(used)
		}
		f.Mappings[id] = key
		used[key] = true
		added++
	}
	return added
}

func (f *File) next(used map[string]bool) string {
	for {
		key := idalloc.Format(models.DefaultPrefix, f.NextNumber, digits)
		f.NextNumber++
		if !used[key] {
			return key
		}
	}
}

// Generate loads the mapping at name, maps every record in doc and saves it.
func Generate(fs *storage.FS, name string, doc *models.RequirementsStore, logger *slog.Logger) (*File, int, error) {
	f, err := Load(fs, name)
	if err != nil {
		return nil, 0, err
	}
	added := f.Regenerate(doc.Requirements)
	if err := f.Save(fs, name); err != nil {
		return nil, 0, err
	}
	logger.Info("mapping: generated",
		slog.String("file", name),
		slog.Int("added", added),
		slog.Int("total", len(f.Mappings)))
	return f, added, nil
}
