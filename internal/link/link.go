// Package link resolves loosely formatted note references ("[[Note]]",
// "[[folder/Note|alias]]", "[text](folder/note.md)", "note.md") to canonical
// vault-relative paths.
package link

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

const noteExt = ".md"

var mdLinkRe = regexp.MustCompile(`^\[[^\]]*\]\(([^)]+)\)$`)

// Target extracts the link target from a raw reference. Aliases, headings and
// block references are dropped. Returns "" when nothing remains.
func Target(raw string) string {
	s := strings.TrimSpace(raw)
	if m := mdLinkRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
		s = strings.TrimPrefix(strings.TrimSuffix(s, ">"), "<")
		s = strings.ReplaceAll(s, "%20", " ")
	}
	s = strings.TrimPrefix(s, "!")
	if strings.HasPrefix(s, "[[") && strings.HasSuffix(s, "]]") {
		s = s[2 : len(s)-2]
	}
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.ReplaceAll(s, "\\", "/"))
}

// Key normalizes a note name or path for case-insensitive lookup:
// lowercase, slash-separated, without the .md extension.
func Key(name string) string {
	k := strings.ToLower(strings.TrimSpace(name))
	k = strings.TrimSuffix(k, noteExt)
	return strings.Trim(k, "/")
}

// NameKey returns the key of a reference's base name. Creating or deleting
// any note with this base name can change how the reference resolves.
func NameKey(raw string) string {
	t := Target(raw)
	if t == "" {
		return ""
	}
	return Key(path.Base(t))
}

// BaseKey returns the base-name key of a note path.
func BaseKey(notePath string) string {
	return Key(path.Base(notePath))
}

// Resolved is a reference that names an existing note.
type Resolved struct {
	Raw  string `json:"raw"`
	Path string `json:"path"`
}

// Unresolved is a reference that names no existing note.
type Unresolved struct {
	Raw  string `json:"raw"`
	Name string `json:"name"`
}

// Batch collects per-reference results so a caller can surface every
// unresolved name at once.
type Batch struct {
	Resolved   []Resolved   `json:"resolved,omitempty"`
	Unresolved []Unresolved `json:"unresolved,omitempty"`
}

// Add records the outcome for one reference.
func (b *Batch) Add(raw, resolvedPath string, ok bool) {
	if ok {
		b.Resolved = append(b.Resolved, Resolved{Raw: raw, Path: resolvedPath})
		return
	}
	b.Unresolved = append(b.Unresolved, Unresolved{Raw: raw, Name: Target(raw)})
}

// Merge appends other's results to b.
func (b *Batch) Merge(other Batch) {
	b.Resolved = append(b.Resolved, other.Resolved...)
	b.Unresolved = append(b.Unresolved, other.Unresolved...)
}

// UnresolvedNames returns the unresolved names, sorted and deduplicated.
func (b Batch) UnresolvedNames() []string {
	seen := make(map[string]bool, len(b.Unresolved))
	var names []string
	for _, u := range b.Unresolved {
		if !seen[u.Name] {
			seen[u.Name] = true
			names = append(names, u.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Names is a lookup table over the note paths of a vault. It is not safe
// for concurrent use; owners guard it with their own lock.
type Names struct {
	paths  map[string]struct{}
	byPath map[string]string              // path key -> path
	byBase map[string]map[string]struct{} // base key -> paths
}

// NewNames returns an empty table.
func NewNames() *Names {
	return &Names{
		paths:  make(map[string]struct{}),
		byPath: make(map[string]string),
		byBase: make(map[string]map[string]struct{}),
	}
}

// Add registers a note path.
func (n *Names) Add(notePath string) {
	if _, ok := n.paths[notePath]; ok {
		return
	}
	n.paths[notePath] = struct{}{}
	n.byPath[Key(notePath)] = notePath
	base := BaseKey(notePath)
	set := n.byBase[base]
	if set == nil {
		set = make(map[string]struct{})
		n.byBase[base] = set
	}
	set[notePath] = struct{}{}
}

// Remove unregisters a note path.
func (n *Names) Remove(notePath string) {
	if _, ok := n.paths[notePath]; !ok {
		return
	}
	delete(n.paths, notePath)
	delete(n.byPath, Key(notePath))
	base := BaseKey(notePath)
	delete(n.byBase[base], notePath)
	if len(n.byBase[base]) == 0 {
		delete(n.byBase, base)
	}
}

// Has reports whether the exact path is registered.
func (n *Names) Has(notePath string) bool {
	_, ok := n.paths[notePath]
	return ok
}

// Paths returns every registered path, sorted.
func (n *Names) Paths() []string {
	out := make([]string, 0, len(n.paths))
	for p := range n.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered notes.
func (n *Names) Len() int {
	return len(n.paths)
}

// Resolve maps a raw reference to a note path. from is the path of the note
// holding the reference and is used for relative links. Targets containing a
// slash are looked up as paths (relative to from, then vault-relative); bare
// names are looked up by base name. When several notes
// share a base name the one nearest to from wins, then the shortest path,
// then lexical order.
func (n *Names) Resolve(raw, from string) (string, bool) {
	target := Target(raw)
	if target == "" {
		return "", false
	}
	if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
		rel := path.Clean(path.Join(path.Dir(from), target))
		if p, ok := n.byPath[Key(rel)]; ok {
			return p, true
		}
	}
	if strings.Contains(target, "/") {
		p, ok := n.byPath[Key(path.Clean("/"+target))]
		return p, ok
	}
	candidates := n.byBase[Key(target)]
	if len(candidates) == 0 {
		return "", false
	}
	return nearest(candidates, path.Dir(from)), true
}

func nearest(candidates map[string]struct{}, dir string) string {
	list := make([]string, 0, len(candidates))
	for p := range candidates {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		si, sj := path.Dir(list[i]) == dir, path.Dir(list[j]) == dir
		if si != sj {
			return si
		}
		if len(list[i]) != len(list[j]) {
			return len(list[i]) < len(list[j])
		}
		return list[i] < list[j]
	})
	return list[0]
}
