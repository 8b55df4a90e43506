package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"go.yaml.in/yaml/v3"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/filelock"
)

const yamlIndent = 2

// Field names a logical task field for write-back.
type Field string

// Writable fields.
const (
	FieldStatus            Field = "status"
	FieldDue               Field = "due"
	FieldScheduled         Field = "scheduled"
	FieldRecurrence        Field = "recurrence"
	FieldCompleteInstances Field = "complete_instances"
	FieldSkippedInstances  Field = "skipped_instances"
	FieldCompletedDate     Field = "completed_date"
	FieldTimeEntries       Field = "time_entries"
	FieldDateModified      Field = "date_modified"
)

// Store writes task fields back into note files under a vault root.
// Writes are serialized through an advisory lock file and replace the note
// atomically, so a concurrent reader never sees a half-written note.
type Store struct {
	root     string
	lockPath string
	parser   *Parser
	now      func() time.Time
}

// NewStore returns a Store for notes under root.
func NewStore(root, lockPath string, parser *Parser) *Store {
	return &Store{root: root, lockPath: lockPath, parser: parser, now: time.Now}
}

// SetClock replaces the clock used for date_modified. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// UpdateNote loads the note at the vault-relative path, lets fn edit its
// frontmatter, and writes the note back if fn changed anything. Unknown keys,
// key order, comments and the body are preserved.
func (s *Store) UpdateNote(ctx context.Context, rel string, fn func(*Frontmatter) error) error {
	unlock, err := filelock.Lock(ctx, s.lockPath)
	if err != nil {
		return fmt.Errorf("locking vault: %w", err)
	}
	defer func() { _ = unlock() }()

	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	data, err := os.ReadFile(abs) //nolint:gosec // path inside the vault
	if err != nil {
		if os.IsNotExist(err) {
			return clierr.Newf(clierr.TaskNotFound, "note %q not found", rel)
		}
		return fmt.Errorf("reading note: %w", err)
	}

	fm, rest, err := splitFrontmatter(data)
	if err != nil {
		return clierr.Newf(clierr.TaskNotFound, "note %q has no frontmatter", rel)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(fm, &doc); err != nil {
		return fmt.Errorf("parsing frontmatter in %s: %w", rel, err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("frontmatter in %s is not a mapping", rel)
	}

	front := &Frontmatter{path: rel, node: doc.Content[0], parser: s.parser, now: s.now}
	if err := fn(front); err != nil {
		return err
	}
	if !front.dirty {
		return nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(yamlIndent)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encoding frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding frontmatter: %w", err)
	}

	var out strings.Builder
	out.WriteString("---\n")
	out.Write(buf.Bytes())
	out.WriteString("---\n")
	out.WriteString(rest)
	if err := atomic.WriteFile(abs, strings.NewReader(out.String())); err != nil {
		return fmt.Errorf("writing note: %w", err)
	}
	return nil
}

// Frontmatter is the editable YAML mapping of one note.
type Frontmatter struct {
	path   string
	node   *yaml.Node
	parser *Parser
	now    func() time.Time
	dirty  bool
}

// Task parses the current frontmatter into a Task. Returns nil when the note
// is not a task.
func (f *Frontmatter) Task() (*Task, error) {
	meta := map[string]any{}
	if err := f.node.Decode(&meta); err != nil {
		return nil, &ParseWarning{Path: f.path, Err: err}
	}
	return f.parser.FromMetadata(f.path, meta), nil
}

// Get returns the value node for key, or nil.
func (f *Frontmatter) Get(key string) *yaml.Node {
	for i := 0; i+1 < len(f.node.Content); i += 2 {
		if f.node.Content[i].Value == key {
			return f.node.Content[i+1]
		}
	}
	return nil
}

// Set replaces the value for key, appending the key when absent.
func (f *Frontmatter) Set(key string, value any) error {
	var v yaml.Node
	if err := v.Encode(value); err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if seq, ok := value.([]string); ok && len(seq) == 0 {
		v.Style = yaml.FlowStyle
	}
	f.dirty = true
	for i := 0; i+1 < len(f.node.Content); i += 2 {
		if f.node.Content[i].Value == key {
			f.node.Content[i+1] = &v
			return nil
		}
	}
	f.node.Content = append(f.node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, &v)
	return nil
}

// Delete removes key if present.
func (f *Frontmatter) Delete(key string) {
	for i := 0; i+1 < len(f.node.Content); i += 2 {
		if f.node.Content[i].Value == key {
			f.node.Content = append(f.node.Content[:i], f.node.Content[i+2:]...)
			f.dirty = true
			return
		}
	}
}

// Write stores the given logical fields of t into the frontmatter using the
// vault's field mapping, and stamps date_modified.
func (f *Frontmatter) Write(t *Task, fields ...Field) error {
	if len(fields) == 0 {
		return nil
	}
	m := f.parser.cfg.Fields
	for _, field := range fields {
		var err error
		switch field {
		case FieldStatus:
			err = f.Set(m.Status, t.Status)
		case FieldDue:
			err = f.setStamp(m.Due, t.Due)
		case FieldScheduled:
			err = f.setStamp(m.Scheduled, t.Scheduled)
		case FieldRecurrence:
			err = f.Set(m.Recurrence, t.Recurrence)
		case FieldCompleteInstances:
			err = f.Set(m.CompleteInstances, nonNil(t.CompleteInstances))
		case FieldSkippedInstances:
			err = f.Set(m.SkippedInstances, nonNil(t.SkippedInstances))
		case FieldCompletedDate:
			if t.CompletedDate == nil {
				f.Delete(m.CompletedDate)
			} else {
				err = f.Set(m.CompletedDate, t.CompletedDate.String())
			}
		case FieldTimeEntries:
			err = f.Set(m.TimeEntries, encodeTimeEntries(t.TimeEntries))
		case FieldDateModified:
		default:
			err = fmt.Errorf("field %q is not writable", field)
		}
		if err != nil {
			return err
		}
	}
	return f.Set(m.DateModified, f.now().Format(time.RFC3339))
}

func (f *Frontmatter) setStamp(key string, s *date.Stamp) error {
	if s == nil {
		f.Delete(key)
		return nil
	}
	return f.Set(key, s.String())
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

type timeEntryYAML struct {
	StartTime   string `yaml:"startTime"`
	EndTime     string `yaml:"endTime,omitempty"`
	Description string `yaml:"description,omitempty"`
}

func encodeTimeEntries(entries []TimeEntry) []timeEntryYAML {
	out := make([]timeEntryYAML, len(entries))
	for i, e := range entries {
		out[i] = timeEntryYAML{StartTime: e.Start.Format(time.RFC3339), Description: e.Description}
		if e.End != nil {
			out[i].EndTime = e.End.Format(time.RFC3339)
		}
	}
	return out
}

var (
	errNoFrontmatter = errors.New("file does not start with YAML frontmatter (---)")
	errUnclosed      = errors.New("unclosed frontmatter (missing closing ---)")
)

// splitFrontmatter splits a note into YAML frontmatter and the raw remainder
// after the closing delimiter. The note must start with "---\n".
func splitFrontmatter(data []byte) ([]byte, string, error) {
	content := string(data)
	if strings.HasPrefix(content, "---\r\n") {
		content = strings.ReplaceAll(content, "\r\n", "\n")
	}
	if !strings.HasPrefix(content, "---\n") {
		return nil, "", errNoFrontmatter
	}

	rest := content[4:] // skip opening ---\n
	if rest == "---" || strings.HasPrefix(rest, "---\n") {
		return nil, strings.TrimPrefix(strings.TrimPrefix(rest, "---"), "\n"), nil
	}

	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		if !strings.HasSuffix(rest, "\n---") {
			return nil, "", errUnclosed
		}
		return []byte(rest[:len(rest)-len("\n---")]), "", nil
	}
	return []byte(rest[:idx]), rest[idx+len("\n---\n"):], nil
}
