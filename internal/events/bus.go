package events

import (
	"crypto/rand"
	"io"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultTick is how long DataChanged notifications are collected before
// one merged event is delivered.
const DefaultTick = 10 * time.Millisecond

// Envelope wraps a published event with its identity.
type Envelope struct {
	ID    ulid.ULID
	Time  time.Time
	Event Event
}

// Handler receives delivered events.
type Handler func(Envelope)

// Bus delivers events to subscribers. TaskUpdated and DateRolledOver are
// delivered synchronously from Publish; DataChanged notifications published
// within one tick are merged into a single event.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]Handler
	nextSub int
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
	tick    time.Duration
	logger  *log.Logger

	pending    map[string]struct{}
	hasPending bool
	timer      *time.Timer
	closed     bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithTick sets the coalescing window for DataChanged.
func WithTick(d time.Duration) Option {
	return func(b *Bus) { b.tick = d }
}

// WithLogger sets the logger used to report panicking handlers.
func WithLogger(l *log.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithClock replaces the clock used for envelope timestamps and IDs.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// NewBus returns a ready Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[int]Handler),
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
		tick:    DefaultTick,
		logger:  log.New(io.Discard, "", 0),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish sends ev to all subscribers. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	if dc, ok := ev.(DataChanged); ok {
		b.queue(dc)
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	env, handlers := b.envelopeLocked(ev)
	b.mu.Unlock()
	b.deliver(env, handlers)
}

func (b *Bus) queue(dc DataChanged) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, p := range dc.Paths {
		b.pending[p] = struct{}{}
	}
	b.hasPending = true
	if b.timer == nil {
		b.timer = time.AfterFunc(b.tick, b.Flush)
	}
}

// Flush delivers any pending DataChanged immediately.
func (b *Bus) Flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if !b.hasPending {
		b.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(b.pending))
	for p := range b.pending {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	clear(b.pending)
	b.hasPending = false
	env, handlers := b.envelopeLocked(DataChanged{Paths: paths})
	b.mu.Unlock()
	b.deliver(env, handlers)
}

// Close flushes pending notifications and stops further delivery.
func (b *Bus) Close() {
	b.Flush()
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *Bus) envelopeLocked(ev Event) (Envelope, []Handler) {
	now := b.now()
	id, err := ulid.New(ulid.Timestamp(now), b.entropy)
	if err != nil {
		// Monotonic entropy overflows only after 2^80 IDs in one millisecond.
		id = ulid.Make()
	}
	keys := make([]int, 0, len(b.subs))
	for k := range b.subs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	handlers := make([]Handler, len(keys))
	for i, k := range keys {
		handlers[i] = b.subs[k]
	}
	return Envelope{ID: id, Time: now, Event: ev}, handlers
}

func (b *Bus) deliver(env Envelope, handlers []Handler) {
	for _, h := range handlers {
		b.call(h, env)
	}
}

func (b *Bus) call(h Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("events: handler panicked on %s %s: %v", env.Event.Kind(), env.ID, r)
		}
	}()
	h(env)
}
