package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	journalFileMode   = 0o600
	maxJournalEntries = 10000 // truncate oldest entries when the journal exceeds this size
)

// JournalEntry is one line of the event journal.
type JournalEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path,omitempty"`
	Paths     []string  `json:"paths,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Journal appends bus traffic to a JSONL file.
type Journal struct {
	mu   sync.Mutex
	path string
	max  int
}

// NewJournal returns a Journal writing to path.
func NewJournal(path string) *Journal {
	return &Journal{path: path, max: maxJournalEntries}
}

// Attach subscribes the journal to bus. Write errors are dropped because
// journaling must never fail the change that produced the event.
func (j *Journal) Attach(bus *Bus) (detach func()) {
	return bus.Subscribe(func(env Envelope) {
		_ = j.Append(entryFor(env))
	})
}

func entryFor(env Envelope) JournalEntry {
	e := JournalEntry{ID: env.ID.String(), Timestamp: env.Time, Kind: env.Event.Kind()}
	switch ev := env.Event.(type) {
	case DataChanged:
		e.Paths = ev.Paths
	case TaskUpdated:
		e.Path = ev.Path
		e.Detail = ev.Action()
	case DateRolledOver:
		e.Detail = ev.From.String() + " -> " + ev.To.String()
	}
	return e
}

// Append writes entry to the journal. If the journal exceeds its limit, the
// oldest entries are truncated.
func (j *Journal) Append(entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, journalFileMode) //nolint:gosec // journal path from vault config dir
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}

	// Best-effort; a failed truncation leaves a longer journal.
	_ = j.truncateIfNeeded()
	return nil
}

func (j *Journal) truncateIfNeeded() error {
	lines, err := j.lines()
	if err != nil {
		return err
	}
	if len(lines) <= j.max {
		return nil
	}
	lines = lines[len(lines)-j.max:]

	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return os.WriteFile(j.path, []byte(buf.String()), journalFileMode)
}

func (j *Journal) lines() ([]string, error) {
	f, err := os.Open(j.path) //nolint:gosec // trusted path
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// Tail returns up to n of the most recent entries, oldest first. A missing
// journal yields no entries. Lines that fail to decode are skipped.
func (j *Journal) Tail(n int) ([]JournalEntry, error) {
	j.mu.Lock()
	lines, err := j.lines()
	j.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	entries := make([]JournalEntry, 0, len(lines))
	for _, line := range lines {
		var e JournalEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
