package task

import (
	"encoding/json"
	"fmt"
	"math"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/recurrence"
)

// ParseWarning records a note whose frontmatter could not be decoded.
// The note is treated as not being a task.
type ParseWarning struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (w *ParseWarning) Error() string {
	return fmt.Sprintf("%s: %v", w.Path, w.Err)
}

// Unwrap returns the underlying decode error.
func (w *ParseWarning) Unwrap() error { return w.Err }

// MarshalJSON renders the warning with its error message.
func (w *ParseWarning) MarshalJSON() ([]byte, error) {
	msg := ""
	if w.Err != nil {
		msg = w.Err.Error()
	}
	return json.Marshal(struct {
		Path  string `json:"path"`
		Error string `json:"error"`
	}{w.Path, msg})
}

// Parser turns note frontmatter into tasks using a vault's config.
type Parser struct {
	cfg *config.Config
}

// NewParser returns a Parser for the given config.
func NewParser(cfg *config.Config) *Parser {
	return &Parser{cfg: cfg}
}

// Config returns the config the parser was built with.
func (p *Parser) Config() *config.Config {
	return p.cfg
}

// Parse parses a note. It returns (nil, nil) when the note is not a task and
// (nil, *ParseWarning) when its frontmatter is malformed.
func (p *Parser) Parse(notePath string, data []byte) (*Task, error) {
	fm, rest, err := splitFrontmatter(data)
	if err != nil {
		return nil, nil //nolint:nilnil // a note without frontmatter is simply not a task
	}
	meta := map[string]any{}
	if err := yaml.Unmarshal(fm, &meta); err != nil {
		return nil, &ParseWarning{Path: notePath, Err: err}
	}
	t := p.FromMetadata(notePath, meta)
	if t != nil {
		t.Body = strings.TrimLeft(rest, "\n")
	}
	return t, nil
}

// IsTask reports whether the metadata satisfies the configured is-a-task predicate.
func (p *Parser) IsTask(meta map[string]any) bool {
	id := p.cfg.Identification
	switch id.Method {
	case config.IdentifyByProperty:
		v, ok := meta[id.Property]
		if !ok {
			return false
		}
		if id.Value == "" {
			return truthy(v)
		}
		for _, s := range stringList(v) {
			if strings.EqualFold(s, id.Value) {
				return true
			}
		}
		return false
	default:
		want := strings.ToLower(strings.TrimPrefix(id.Tag, "#"))
		for _, tag := range normalizeTags(stringList(meta[p.cfg.Fields.Tags])) {
			tag = strings.ToLower(tag)
			if tag == want || strings.HasPrefix(tag, want+"/") {
				return true
			}
		}
		return false
	}
}

// FromMetadata builds a Task from decoded frontmatter. Returns nil when the
// note is not a task. Malformed values are dropped rather than reported.
func (p *Parser) FromMetadata(notePath string, meta map[string]any) *Task {
	if !p.IsTask(meta) {
		return nil
	}
	f := p.cfg.Fields

	t := &Task{
		Path:     notePath,
		Title:    str(meta[f.Title]),
		Status:   str(meta[f.Status]),
		Priority: str(meta[f.Priority]),
	}
	if t.Title == "" {
		t.Title = strings.TrimSuffix(path.Base(notePath), path.Ext(notePath))
	}
	if t.Status == "" {
		t.Status = p.cfg.Defaults.Status
	}
	if t.Priority == "" {
		t.Priority = p.cfg.Defaults.Priority
	}

	t.Due = stampValue(meta[f.Due])
	t.Scheduled = stampValue(meta[f.Scheduled])
	t.DateCreated = stampValue(meta[f.DateCreated])
	t.DateModified = stampValue(meta[f.DateModified])
	if s := stampValue(meta[f.CompletedDate]); s != nil {
		d := s.Date
		t.CompletedDate = &d
	}

	t.Recurrence = str(meta[f.Recurrence])
	if t.Recurrence != "" {
		if rule, err := recurrence.Parse(t.Recurrence); err == nil {
			t.Rule = rule
		}
	}
	t.RecurrenceAnchor = str(meta[f.RecurrenceAnchor])
	if t.RecurrenceAnchor != config.AnchorScheduled && t.RecurrenceAnchor != config.AnchorCompletion {
		t.RecurrenceAnchor = p.cfg.Recurrence.DefaultAnchor
		if t.RecurrenceAnchor == "" {
			t.RecurrenceAnchor = config.AnchorScheduled
		}
	}

	t.CompleteInstances = dateKeys(meta[f.CompleteInstances])
	t.SkippedInstances = slices.DeleteFunc(dateKeys(meta[f.SkippedInstances]), func(k string) bool {
		_, done := slices.BinarySearch(t.CompleteInstances, k)
		return done
	})
	if len(t.SkippedInstances) == 0 {
		t.SkippedInstances = nil
	}
	t.TimeEntries = timeEntries(meta[f.TimeEntries])

	t.Projects = stringList(meta[f.Projects])
	t.Contexts = dedupe(stringList(meta[f.Contexts]))
	t.Tags = normalizeTags(stringList(meta[f.Tags]))
	t.BlockedBy = dependencies(meta[f.BlockedBy])
	t.Blocking = dependencies(meta[f.Blocking])

	t.Archived = truthy(meta[f.Archived])
	if p.cfg.ArchiveTag != "" {
		archive := strings.TrimPrefix(p.cfg.ArchiveTag, "#")
		for _, tag := range t.Tags {
			if strings.EqualFold(tag, archive) {
				t.Archived = true
			}
		}
	}

	if n, ok := number(meta[f.TimeEstimate]); ok && n > 0 {
		t.TimeEstimate = int(math.Round(n))
	}

	t.Custom = p.customFields(meta)
	return t
}

func (p *Parser) customFields(meta map[string]any) map[string]any {
	var out map[string]any
	for key, raw := range meta {
		if p.cfg.Fields.IsMapped(key) || raw == nil {
			continue
		}
		v, ok := p.customValue(key, raw)
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[key] = v
	}
	return out
}

// customValue types a value per its declared custom field, or generically
// when the key is undeclared.
func (p *Parser) customValue(key string, raw any) (any, bool) {
	field := p.cfg.CustomField(key)
	if field == nil {
		return genericValue(raw)
	}
	switch field.Type {
	case config.FieldNumber:
		return number(raw)
	case config.FieldBoolean:
		return truthy(raw), true
	case config.FieldDate:
		s := stampValue(raw)
		if s == nil {
			return nil, false
		}
		return s.Date, true
	case config.FieldList:
		return stringList(raw), true
	default:
		s := str(raw)
		return s, s != ""
	}
}

func genericValue(raw any) (any, bool) {
	switch v := raw.(type) {
	case string, bool:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case time.Time:
		return date.Of(v), true
	case []any:
		return stringList(v), true
	}
	return nil, false
}

// str coerces a scalar to a trimmed string. Lists and maps yield "".
func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 {
			return date.Of(x).String()
		}
		return x.Format(time.RFC3339)
	}
	return ""
}

// stringList coerces a scalar or sequence to a list of non-empty strings.
func stringList(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		var out []string
		for _, item := range x {
			if s := str(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return slices.Clone(x)
	}
	if s := str(v); s != "" {
		return []string{s}
	}
	return nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1", "on":
			return true
		}
		return false
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	}
	return false
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return n, err == nil
	}
	return 0, false
}

func stampValue(v any) *date.Stamp {
	switch x := v.(type) {
	case time.Time:
		s := date.Stamp{Date: date.Of(x)}
		if x.Hour() != 0 || x.Minute() != 0 {
			s.Clock = x.Format("15:04")
		}
		return &s
	case string:
		s, err := date.ParseStamp(x)
		if err != nil {
			return nil
		}
		return &s
	}
	return nil
}

// dateKeys normalizes a list of dates to sorted, unique YYYY-MM-DD keys.
// Unparsable entries are dropped.
func dateKeys(v any) []string {
	var keys []string
	for _, s := range stringList(v) {
		st, err := date.ParseStamp(s)
		if err != nil {
			continue
		}
		keys = append(keys, st.Date.String())
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag != "" {
			out = append(out, tag)
		}
	}
	out = dedupe(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func dedupe(list []string) []string {
	if len(list) == 0 {
		return list
	}
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func dependencies(v any) []Dependency {
	var items []any
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		items = x
	default:
		items = []any{x}
	}
	var out []Dependency
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			uid := str(m["uid"])
			if uid == "" {
				continue
			}
			out = append(out, Dependency{UID: uid, RelType: str(m["reltype"]), Gap: str(m["gap"])})
			continue
		}
		if s := str(item); s != "" {
			out = append(out, Dependency{UID: s})
		}
	}
	return out
}

// timeEntries decodes the time entry list. Only the last open entry is kept
// open; earlier entries without an end are dropped.
func timeEntries(v any) []TimeEntry {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var entries []TimeEntry
	lastOpen := -1
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		start, ok := instant(firstOf(m, "startTime", "start"))
		if !ok {
			continue
		}
		e := TimeEntry{Start: start, Description: str(m["description"])}
		if end, ok := instant(firstOf(m, "endTime", "end")); ok {
			e.End = &end
		} else {
			lastOpen = len(entries)
		}
		entries = append(entries, e)
	}
	out := entries[:0]
	for i, e := range entries {
		if e.End == nil && i != lastOpen {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

var instantLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"}

func instant(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range instantLayouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
