package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source lists and reads the notes of a vault. Paths are vault-relative and
// slash-separated. Read returns an error wrapping fs.ErrNotExist for a note
// that no longer exists.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, notePath string) ([]byte, error)
}

// DirSource is a Source over a directory tree. Hidden directories and
// excluded folders are skipped; only .md files are notes.
type DirSource struct {
	root     string
	excluded func(rel string) bool
}

// NewDirSource returns a DirSource rooted at root. excluded may be nil.
func NewDirSource(root string, excluded func(rel string) bool) *DirSource {
	return &DirSource{root: root, excluded: excluded}
}

// Root returns the vault directory.
func (s *DirSource) Root() string {
	return s.root
}

// List returns every note path, sorted.
func (s *DirSource) List(ctx context.Context) ([]string, error) {
	var notes []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if p == s.root {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || s.Excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.Excluded(rel) {
			return nil
		}
		if IsNote(rel) {
			notes = append(notes, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(notes)
	return notes, nil
}

// Read returns the content of a note.
func (s *DirSource) Read(_ context.Context, notePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, filepath.FromSlash(notePath))) //nolint:gosec // path inside the vault
}

// Excluded reports whether rel lies in a hidden or excluded folder.
func (s *DirSource) Excluded(rel string) bool {
	for _, part := range strings.Split(rel, "/")[:strings.Count(rel, "/")] {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return s.excluded != nil && s.excluded(rel)
}

// IsNote reports whether a path names a markdown note.
func IsNote(rel string) bool {
	return strings.EqualFold(filepath.Ext(rel), ".md")
}
