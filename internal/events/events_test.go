package events

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

type recorder struct {
	mu   sync.Mutex
	envs []Envelope
}

func (r *recorder) handle(env Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

func (r *recorder) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.envs))
	for i, e := range r.envs {
		out[i] = e.Event
	}
	return out
}

func TestDataChangedIsCoalesced(t *testing.T) {
	bus := NewBus(WithTick(time.Hour))
	var rec recorder
	bus.Subscribe(rec.handle)

	bus.Publish(DataChanged{Paths: []string{"b.md"}})
	bus.Publish(DataChanged{Paths: []string{"a.md", "b.md"}})
	bus.Publish(DataChanged{})
	assert.Empty(t, rec.events(), "nothing is delivered before the tick")

	bus.Flush()
	assert.Equal(t, []Event{DataChanged{Paths: []string{"a.md", "b.md"}}}, rec.events())

	bus.Flush()
	assert.Len(t, rec.events(), 1, "flush without pending changes delivers nothing")
}

func TestDataChangedDeliveredAfterTick(t *testing.T) {
	bus := NewBus(WithTick(5 * time.Millisecond))
	got := make(chan Envelope, 1)
	bus.Subscribe(func(env Envelope) { got <- env })

	bus.Publish(DataChanged{Paths: []string{"a.md"}})
	select {
	case env := <-got:
		assert.Equal(t, DataChanged{Paths: []string{"a.md"}}, env.Event)
	case <-time.After(time.Second):
		t.Fatal("DataChanged was not delivered")
	}
}

func TestTaskUpdatedIsSynchronous(t *testing.T) {
	bus := NewBus(WithTick(time.Hour))
	var rec recorder
	unsubscribe := bus.Subscribe(rec.handle)

	after := &task.Task{Path: "a.md"}
	bus.Publish(TaskUpdated{Path: "a.md", After: after})
	bus.Publish(DateRolledOver{From: date.MustParse("2024-06-10"), To: date.MustParse("2024-06-11")})
	require.Len(t, rec.envs, 2)
	assert.Equal(t, "created", rec.envs[0].Event.(TaskUpdated).Action())
	assert.Equal(t, -1, rec.envs[0].ID.Compare(rec.envs[1].ID), "IDs are monotonic")

	unsubscribe()
	bus.Publish(TaskUpdated{Path: "a.md", Before: after})
	assert.Len(t, rec.events(), 2)
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()
	var rec recorder
	bus.Subscribe(func(Envelope) { panic("boom") })
	bus.Subscribe(rec.handle)

	bus.Publish(TaskUpdated{Path: "a.md"})
	assert.Len(t, rec.events(), 1)
}

func TestCloseFlushesAndStops(t *testing.T) {
	bus := NewBus(WithTick(time.Hour))
	var rec recorder
	bus.Subscribe(rec.handle)

	bus.Publish(DataChanged{Paths: []string{"a.md"}})
	bus.Close()
	bus.Publish(TaskUpdated{Path: "a.md"})
	bus.Publish(DataChanged{Paths: []string{"b.md"}})
	bus.Flush()
	assert.Equal(t, []Event{DataChanged{Paths: []string{"a.md"}}}, rec.events())
}

func TestJournalRecordsBusTraffic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	j := NewJournal(path)
	bus := NewBus(WithTick(time.Hour))
	j.Attach(bus)

	bus.Publish(TaskUpdated{Path: "a.md", Before: &task.Task{Path: "a.md"}})
	bus.Publish(DataChanged{Paths: []string{"a.md"}})
	bus.Flush()

	entries, err := j.Tail(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, KindTaskUpdated, entries[0].Kind)
	assert.Equal(t, "removed", entries[0].Detail)
	assert.Equal(t, KindDataChanged, entries[1].Kind)
	assert.Equal(t, []string{"a.md"}, entries[1].Paths)
	assert.Len(t, entries[0].ID, 26)
}

func TestJournalTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	j := NewJournal(path)
	j.max = 3
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, j.Append(JournalEntry{ID: id, Kind: KindDataChanged}))
	}
	entries, err := j.Tail(0)
	require.NoError(t, err)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"3", "4", "5"}, ids)

	last, err := j.Tail(1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "5", last[0].ID)
}

func TestJournalMissingFile(t *testing.T) {
	entries, err := NewJournal(filepath.Join(t.TempDir(), "none.jsonl")).Tail(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
