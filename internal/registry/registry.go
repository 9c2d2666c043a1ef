// Package registry holds the ordered collection of staged input files and
// their experimental metadata. It is the single source of truth for what the
// user currently has staged; nothing else mutates entries.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrDuplicatePath = errors.New("path already staged")
	ErrEntryNotFound = errors.New("entry not found")
)

// Kind classifies a staged input file by vendor format.
type Kind string

const (
	KindThermoRaw  Kind = "Thermo Raw"
	KindBrukerD    Kind = "Bruker D"
	KindBrukerDZip Kind = "Bruker D Zip"
	KindUnknown    Kind = "File"
)

// Field names accepted by SetField and BulkSetField.
const (
	FieldCondition = "condition"
	FieldReplicate = "replicate"
	FieldFraction  = "fraction"
	FieldReference = "reference"
)

// FileEntry is one staged input file with its experimental metadata.
// Identity is the path; paths within a registry are unique.
type FileEntry struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	Condition string `json:"condition"`
	Replicate string `json:"replicate"`
	Fraction  string `json:"fraction"`
	Reference bool   `json:"reference"`
}

// Stem returns the file name without its extension, used as the run label
// file name column and as the default experiment name.
func (e FileEntry) Stem() string {
	name := filepath.Base(e.Path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// DetectKind classifies a path the way the file table does: directories with
// a .d suffix are Bruker D folders, .raw files are Thermo Raw, .d.zip files
// are zipped Bruker D folders. isDir tells whether the path is a directory.
func DetectKind(path string, isDir bool) Kind {
	lower := strings.ToLower(path)

	switch {
	case isDir && strings.HasSuffix(lower, ".d"):
		return KindBrukerD
	case !isDir && strings.HasSuffix(lower, ".raw"):
		return KindThermoRaw
	case !isDir && strings.HasSuffix(lower, ".d.zip"):
		return KindBrukerDZip
	default:
		return KindUnknown
	}
}

// Registry is an insertion-ordered collection of FileEntry, safe for
// concurrent use. Entries are never reordered except by removal.
type Registry struct {
	mu      sync.Mutex
	entries []FileEntry
}

func New() *Registry {
	return &Registry{}
}

// Add stages a new file and returns its entry ID. Adding a path that is
// already staged returns ErrDuplicatePath.
func (r *Registry) Add(path string, kind Kind) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.Path == path {
			return "", fmt.Errorf("%w: %s", ErrDuplicatePath, path)
		}
	}

	id := uuid.NewString()

	r.entries = append(r.entries, FileEntry{
		ID:   id,
		Path: path,
		Name: filepath.Base(path),
		Kind: kind,
	})

	return id, nil
}

// Remove deletes the entries with the given IDs. Unknown IDs are ignored.
// It returns the number of entries removed.
func (r *Registry) Remove(ids []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := r.entries[:0]
	for _, e := range r.entries {
		if _, ok := drop[e.ID]; !ok {
			kept = append(kept, e)
		}
	}

	removed := len(r.entries) - len(kept)
	r.entries = kept

	return removed
}

// Clear removes all entries.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = nil
}

// SetField sets a metadata field on a single entry.
func (r *Registry) SetField(id, field, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].ID == id {
			return setField(&r.entries[i], field, value)
		}
	}

	return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
}

// BulkSetField sets a metadata field on every entry in ids. It fails without
// modifying anything if any ID is unknown or the field is invalid.
func (r *Registry) BulkSetField(ids []string, field, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[string]*FileEntry, len(r.entries))
	for i := range r.entries {
		byID[r.entries[i].ID] = &r.entries[i]
	}

	targets := make([]*FileEntry, 0, len(ids))
	for _, id := range ids {
		e, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		targets = append(targets, e)
	}

	for _, e := range targets {
		if err := setField(e, field, value); err != nil {
			return err
		}
	}

	return nil
}

func setField(e *FileEntry, field, value string) error {
	switch field {
	case FieldCondition:
		e.Condition = value
	case FieldReplicate:
		e.Replicate = value
	case FieldFraction:
		e.Fraction = value
	case FieldReference:
		e.Reference = value == "true"
	default:
		return fmt.Errorf("unknown field %q", field)
	}

	return nil
}

// Snapshot returns a copy of the entries in insertion order.
func (r *Registry) Snapshot() []FileEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]FileEntry, len(r.entries))
	copy(out, r.entries)

	return out
}

// Len returns the number of staged entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// ValidateKinds checks that the staged entries form a processable set: all
// Thermo Raw, or all Bruker (folders, zips, or a mix of the two). Mixing
// vendors or staging unsupported files is rejected.
func ValidateKinds(entries []FileEntry) error {
	kinds := make(map[Kind]struct{})
	for _, e := range entries {
		kinds[e.Kind] = struct{}{}
	}

	if _, ok := kinds[KindUnknown]; ok {
		return errors.New("file table contains unsupported file types")
	}

	_, thermo := kinds[KindThermoRaw]
	_, brukerD := kinds[KindBrukerD]
	_, brukerZip := kinds[KindBrukerDZip]

	if thermo && (brukerD || brukerZip) {
		return errors.New("file table mixes Thermo and Bruker inputs")
	}

	return nil
}
