package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
)

const fileMode = 0o600

// Sentinel errors.
var (
	ErrNotFound = errors.New("no vault found (run 'taskvault init' to create one)")
	ErrInvalid  = errors.New("invalid config")
)

// Config represents the vault configuration.
type Config struct {
	Version        int              `yaml:"version"`
	Vault          VaultConfig      `yaml:"vault"`
	Identification Identification   `yaml:"identification"`
	Fields         FieldMapping     `yaml:"fields"`
	Statuses       []StatusConfig   `yaml:"statuses"`
	Priorities     []PriorityConfig `yaml:"priorities"`
	CustomFields   []CustomField    `yaml:"custom_fields,omitempty"`
	Defaults       DefaultsConfig   `yaml:"defaults"`
	Recurrence     RecurrenceConfig `yaml:"recurrence"`
	ArchiveTag     string           `yaml:"archive_tag"`
	Excluded       []string         `yaml:"excluded_folders,omitempty"`
	Journal        bool             `yaml:"journal,omitempty"`
	TUI            TUIConfig        `yaml:"tui,omitempty"`

	// dir is the absolute path to the .taskvault directory (not serialized).
	dir string `yaml:"-"`
}

// VaultConfig holds vault metadata.
type VaultConfig struct {
	Name string `yaml:"name"`
}

// Identification decides which notes are tasks.
type Identification struct {
	Method   string `yaml:"method" json:"method"`
	Tag      string `yaml:"tag,omitempty" json:"tag,omitempty"`
	Property string `yaml:"property,omitempty" json:"property,omitempty"`
	Value    string `yaml:"value,omitempty" json:"value,omitempty"`
}

// FieldMapping maps logical task fields to the frontmatter property names
// used in a vault.
type FieldMapping struct {
	Title             string `yaml:"title" json:"title"`
	Status            string `yaml:"status" json:"status"`
	Priority          string `yaml:"priority" json:"priority"`
	Due               string `yaml:"due" json:"due"`
	Scheduled         string `yaml:"scheduled" json:"scheduled"`
	Contexts          string `yaml:"contexts" json:"contexts"`
	Projects          string `yaml:"projects" json:"projects"`
	Tags              string `yaml:"tags" json:"tags"`
	TimeEstimate      string `yaml:"time_estimate" json:"time_estimate"`
	CompletedDate     string `yaml:"completed_date" json:"completed_date"`
	DateCreated       string `yaml:"date_created" json:"date_created"`
	DateModified      string `yaml:"date_modified" json:"date_modified"`
	Recurrence        string `yaml:"recurrence" json:"recurrence"`
	RecurrenceAnchor  string `yaml:"recurrence_anchor" json:"recurrence_anchor"`
	CompleteInstances string `yaml:"complete_instances" json:"complete_instances"`
	SkippedInstances  string `yaml:"skipped_instances" json:"skipped_instances"`
	TimeEntries       string `yaml:"time_entries" json:"time_entries"`
	BlockedBy         string `yaml:"blocked_by" json:"blocked_by"`
	Blocking          string `yaml:"blocking" json:"blocking"`
	Archived          string `yaml:"archived" json:"archived"`
}

// StatusConfig defines a status value and whether it counts as completed.
type StatusConfig struct {
	Value     string `yaml:"value" json:"value"`
	Label     string `yaml:"label,omitempty" json:"label,omitempty"`
	Completed bool   `yaml:"completed,omitempty" json:"completed,omitempty"`
	Color     string `yaml:"color,omitempty" json:"color,omitempty"`
}

// UnmarshalYAML allows StatusConfig to be parsed from either a plain string
// ("open") or a mapping ({value: done, completed: true}).
func (s *StatusConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.Value = value.Value
		return nil
	}
	type plain StatusConfig
	return value.Decode((*plain)(s))
}

// PriorityConfig defines a priority value and its sort weight.
type PriorityConfig struct {
	Value  string `yaml:"value" json:"value"`
	Label  string `yaml:"label,omitempty" json:"label,omitempty"`
	Weight int    `yaml:"weight" json:"weight"`
	Color  string `yaml:"color,omitempty" json:"color,omitempty"`
}

// UnmarshalYAML accepts a plain string or a mapping, like StatusConfig.
func (p *PriorityConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.Value = value.Value
		return nil
	}
	type plain PriorityConfig
	return value.Decode((*plain)(p))
}

// CustomField declares a user-defined frontmatter property and its type.
type CustomField struct {
	Key   string `yaml:"key" json:"key"`
	Type  string `yaml:"type" json:"type"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}

// DefaultsConfig holds fallback values and default query settings.
type DefaultsConfig struct {
	Status   string `yaml:"status"`
	Priority string `yaml:"priority"`
	Sort     string `yaml:"sort,omitempty"`
	GroupBy  string `yaml:"group_by,omitempty"`
}

// RecurrenceConfig controls how completing a recurring task moves its dates.
type RecurrenceConfig struct {
	MaintainOffset bool   `yaml:"maintain_offset"`
	DefaultAnchor  string `yaml:"default_anchor,omitempty"`
}

// TUIConfig holds TUI-specific display settings.
type TUIConfig struct {
	AgendaDays int `yaml:"agenda_days,omitempty"`
}

// Dir returns the absolute path to the .taskvault directory.
func (c *Config) Dir() string {
	return c.dir
}

// Root returns the absolute path to the vault root.
func (c *Config) Root() string {
	if c.dir == "" {
		return ""
	}
	return filepath.Dir(c.dir)
}

// ConfigPath returns the absolute path to the config file.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.dir, ConfigFileName)
}

// JournalPath returns the absolute path to the event journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.dir, JournalFileName)
}

// SetDir sets the .taskvault directory path on the config.
func (c *Config) SetDir(dir string) {
	c.dir = dir
}

// NewDefault creates a Config with default values.
func NewDefault(name string) *Config {
	return &Config{
		Version:        CurrentVersion,
		Vault:          VaultConfig{Name: name},
		Identification: Identification{Method: IdentifyByTag, Tag: DefaultTaskTag},
		Fields:         DefaultFieldMapping(),
		Statuses:       append([]StatusConfig{}, DefaultStatuses...),
		Priorities:     append([]PriorityConfig{}, DefaultPriorities...),
		Defaults: DefaultsConfig{
			Status:   DefaultStatus,
			Priority: DefaultPriority,
		},
		Recurrence: RecurrenceConfig{MaintainOffset: true, DefaultAnchor: AnchorScheduled},
		ArchiveTag: DefaultArchiveTag,
		TUI:        TUIConfig{AgendaDays: DefaultAgendaDays},
	}
}

// StatusValues returns the ordered list of status values.
func (c *Config) StatusValues() []string {
	values := make([]string, len(c.Statuses))
	for i, s := range c.Statuses {
		values[i] = s.Value
	}
	return values
}

// PriorityValues returns the ordered list of priority values.
func (c *Config) PriorityValues() []string {
	values := make([]string, len(c.Priorities))
	for i, p := range c.Priorities {
		values[i] = p.Value
	}
	return values
}

// Status returns the StatusConfig for value, or nil if not configured.
func (c *Config) Status(value string) *StatusConfig {
	for i := range c.Statuses {
		if c.Statuses[i].Value == value {
			return &c.Statuses[i]
		}
	}
	return nil
}

// Priority returns the PriorityConfig for value, or nil if not configured.
func (c *Config) Priority(value string) *PriorityConfig {
	for i := range c.Priorities {
		if c.Priorities[i].Value == value {
			return &c.Priorities[i]
		}
	}
	return nil
}

// IsCompletedStatus reports whether the given status counts as completed.
// Unknown statuses are never completed.
func (c *Config) IsCompletedStatus(status string) bool {
	s := c.Status(status)
	return s != nil && s.Completed
}

// FirstCompletedStatus returns the first status flagged as completed, in
// config order. Returns "" when no status is completed.
func (c *Config) FirstCompletedStatus() string {
	for _, s := range c.Statuses {
		if s.Completed {
			return s.Value
		}
	}
	return ""
}

// StatusIndex returns the index of a status in the configured order, or -1.
func (c *Config) StatusIndex(status string) int {
	return IndexOf(c.StatusValues(), status)
}

// PriorityWeight returns the weight of a priority and whether it is configured.
func (c *Config) PriorityWeight(priority string) (int, bool) {
	p := c.Priority(priority)
	if p == nil {
		return 0, false
	}
	return p.Weight, true
}

// CustomField returns the declared custom field for key, or nil.
func (c *Config) CustomField(key string) *CustomField {
	for i := range c.CustomFields {
		if c.CustomFields[i].Key == key {
			return &c.CustomFields[i]
		}
	}
	return nil
}

// IsExcluded reports whether the vault-relative slash path lies inside one of
// the excluded folders.
func (c *Config) IsExcluded(rel string) bool {
	for _, ex := range c.Excluded {
		ex = strings.Trim(filepath.ToSlash(ex), "/")
		if ex == "" {
			continue
		}
		if rel == ex || strings.HasPrefix(rel, ex+"/") {
			return true
		}
	}
	return false
}

// AgendaDays returns the configured agenda length, or DefaultAgendaDays.
func (c *Config) AgendaDays() int {
	if c.TUI.AgendaDays <= 0 {
		return DefaultAgendaDays
	}
	return c.TUI.AgendaDays
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("%w: unsupported version %d (expected %d)", ErrInvalid, c.Version, CurrentVersion)
	}
	if err := c.validateIdentification(); err != nil {
		return err
	}
	if err := c.Fields.validate(); err != nil {
		return err
	}
	statuses := c.StatusValues()
	if len(statuses) < 1 {
		return fmt.Errorf("%w: at least 1 status is required", ErrInvalid)
	}
	if hasDuplicates(statuses) {
		return fmt.Errorf("%w: statuses contain duplicates", ErrInvalid)
	}
	if c.FirstCompletedStatus() == "" {
		return fmt.Errorf("%w: at least one status must be marked completed", ErrInvalid)
	}
	priorities := c.PriorityValues()
	if len(priorities) < 1 {
		return fmt.Errorf("%w: at least 1 priority is required", ErrInvalid)
	}
	if hasDuplicates(priorities) {
		return fmt.Errorf("%w: priorities contain duplicates", ErrInvalid)
	}
	if !contains(statuses, c.Defaults.Status) {
		return fmt.Errorf("%w: default status %q not in statuses list", ErrInvalid, c.Defaults.Status)
	}
	if !contains(priorities, c.Defaults.Priority) {
		return fmt.Errorf("%w: default priority %q not in priorities list", ErrInvalid, c.Defaults.Priority)
	}
	if err := c.validateCustomFields(); err != nil {
		return err
	}
	switch c.Recurrence.DefaultAnchor {
	case "", AnchorScheduled, AnchorCompletion:
	default:
		return fmt.Errorf("%w: recurrence.default_anchor must be %q or %q",
			ErrInvalid, AnchorScheduled, AnchorCompletion)
	}
	return nil
}

func (c *Config) validateIdentification() error {
	switch c.Identification.Method {
	case IdentifyByTag:
		if strings.TrimPrefix(c.Identification.Tag, "#") == "" {
			return fmt.Errorf("%w: identification.tag is required for method %q", ErrInvalid, IdentifyByTag)
		}
	case IdentifyByProperty:
		if c.Identification.Property == "" {
			return fmt.Errorf("%w: identification.property is required for method %q", ErrInvalid, IdentifyByProperty)
		}
	default:
		return fmt.Errorf("%w: identification.method must be %q or %q",
			ErrInvalid, IdentifyByTag, IdentifyByProperty)
	}
	return nil
}

func (c *Config) validateCustomFields() error {
	seen := make(map[string]bool, len(c.CustomFields))
	for _, f := range c.CustomFields {
		if f.Key == "" {
			return fmt.Errorf("%w: custom field key is required", ErrInvalid)
		}
		if seen[f.Key] {
			return fmt.Errorf("%w: duplicate custom field %q", ErrInvalid, f.Key)
		}
		seen[f.Key] = true
		switch f.Type {
		case FieldText, FieldNumber, FieldBoolean, FieldDate, FieldList:
		default:
			return fmt.Errorf("%w: custom field %q has unknown type %q", ErrInvalid, f.Key, f.Type)
		}
	}
	return nil
}

func (m FieldMapping) validate() error {
	names := m.names()
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("%w: every field mapping must name a property", ErrInvalid)
		}
	}
	if hasDuplicates(names) {
		return fmt.Errorf("%w: field mapping uses a property name twice", ErrInvalid)
	}
	return nil
}

func (m FieldMapping) names() []string {
	return []string{
		m.Title, m.Status, m.Priority, m.Due, m.Scheduled, m.Contexts, m.Projects, m.Tags,
		m.TimeEstimate, m.CompletedDate, m.DateCreated, m.DateModified, m.Recurrence,
		m.RecurrenceAnchor, m.CompleteInstances, m.SkippedInstances, m.TimeEntries,
		m.BlockedBy, m.Blocking, m.Archived,
	}
}

// IsMapped reports whether key is one of the mapped property names.
func (m FieldMapping) IsMapped(key string) bool {
	return slices.Contains(m.names(), key)
}

// Init creates a new vault config under root with default settings.
func Init(root, name string) (*Config, error) {
	const dirMode = 0o750

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	dir := filepath.Join(absRoot, DefaultDir)
	if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err == nil {
		return nil, clierr.Newf(clierr.VaultExists, "vault already initialized at %s", absRoot)
	}
	if name == "" {
		name = filepath.Base(absRoot)
	}

	cfg := NewDefault(name)
	cfg.SetDir(dir)

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	if err := cfg.Save(); err != nil {
		return nil, fmt.Errorf("writing config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to its config file.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(c.ConfigPath(), data, fileMode)
}

// Load reads and validates a config from the given .taskvault directory.
func Load(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	path := filepath.Join(absDir, ConfigFileName)
	data, err := os.ReadFile(path) //nolint:gosec // config path from trusted source
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.dir = absDir

	oldVersion := cfg.Version
	if err := migrate(&cfg); err != nil {
		return nil, err
	}

	// Persist migrated config so future loads skip re-migration.
	if cfg.Version != oldVersion {
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("saving migrated config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// FindDir walks upward from startDir looking for a .taskvault directory
// containing config.yml. Returns the absolute path to that directory.
func FindDir(startDir string) (string, error) {
	absStart, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	dir := absStart
	for {
		candidate := filepath.Join(dir, DefaultDir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return filepath.Join(dir, DefaultDir), nil
		}

		// Also check if we're inside the .taskvault directory itself.
		if filepath.Base(dir) == DefaultDir {
			if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", clierr.New(clierr.VaultNotFound,
				"no vault found (run 'taskvault init' to create one)")
		}
		dir = parent
	}
}

func contains(slice []string, item string) bool {
	return IndexOf(slice, item) >= 0
}

// IndexOf returns the index of item in slice, or -1 if not found.
func IndexOf(slice []string, item string) int {
	for i, s := range slice {
		if s == item {
			return i
		}
	}
	return -1
}

func hasDuplicates(slice []string) bool {
	seen := make(map[string]bool, len(slice))
	for _, s := range slice {
		if seen[s] {
			return true
		}
		seen[s] = true
	}
	return false
}
