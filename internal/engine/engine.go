// Package engine wires the task index, dependency graph, event bus and note
// store of one vault into a single long-lived service.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/events"
	"github.com/twiced-technology-gmbh/taskvault/internal/graph"
	"github.com/twiced-technology-gmbh/taskvault/internal/index"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
	"github.com/twiced-technology-gmbh/taskvault/internal/watcher"
)

// DefaultRolloverInterval is how often a running engine checks for a change
// of the local date.
const DefaultRolloverInterval = time.Minute

const lockFileName = "write.lock"

// State is the lifecycle state of an Engine.
type State int

const (
	// Stopped means Init has not run or Destroy has completed.
	Stopped State = iota
	// Starting means Init is wiring components.
	Starting
	// Running means the engine serves reads and mutations.
	Running
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return "stopped"
	}
}

// Engine is the task service of one vault.
type Engine struct {
	mu     sync.Mutex
	state  State
	cfg    *config.Config
	parser *task.Parser
	root   string
	now    func() time.Time
	today  date.Date

	logger   *log.Logger
	tick     time.Duration
	rollover time.Duration
	watch    bool

	bus     *events.Bus
	gate    *gate
	journal *events.Journal
	detach  func()
	ix      *index.Index
	g       *graph.Graph
	store   *task.Store
	watcher *watcher.Watcher

	// refreshMu keeps index and graph updates for one change together.
	refreshMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for engine diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithWatch makes Init start a file watcher on the vault root.
func WithWatch(enabled bool) Option {
	return func(e *Engine) { e.watch = enabled }
}

// WithRolloverInterval overrides DefaultRolloverInterval.
func WithRolloverInterval(d time.Duration) Option {
	return func(e *Engine) { e.rollover = d }
}

// WithTick sets the event bus coalescing window.
func WithTick(d time.Duration) Option {
	return func(e *Engine) { e.tick = d }
}

// New returns a stopped engine for the vault described by cfg.
func New(cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		parser:   task.NewParser(cfg),
		root:     cfg.Root(),
		now:      time.Now,
		logger:   log.New(io.Discard, "", 0),
		tick:     events.DefaultTick,
		rollover: DefaultRolloverInterval,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Init wires the components and starts background work. The index builds
// lazily on first read.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Stopped {
		e.mu.Unlock()
		return fmt.Errorf("engine is %s", e.state)
	}
	e.state = Starting
	cfg := e.cfg
	e.mu.Unlock()

	e.bus = events.NewBus(events.WithTick(e.tick), events.WithLogger(e.logger), events.WithClock(e.now))
	if cfg.Journal {
		e.journal = events.NewJournal(cfg.JournalPath())
		e.detach = e.journal.Attach(e.bus)
	}
	e.gate = &gate{bus: e.bus}
	src := index.NewDirSource(e.root, e.excluded)
	e.ix = index.New(src, e.parser, index.WithLogger(e.logger), index.WithPublisher(e.gate))
	e.g = graph.New(e.ix, graph.WithLogger(e.logger))
	e.store = e.newStore(cfg, e.parser)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if e.watch {
		w, err := watcher.New(e.root, e.onChange, watcher.WithSkip(e.excluded))
		if err != nil {
			cancel()
			e.teardown()
			return fmt.Errorf("watching %s: %w", e.root, err)
		}
		e.watcher = w
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.Run(runCtx, func(err error) { e.logger.Printf("watcher: %v", err) })
		}()
	}

	e.mu.Lock()
	e.cancel = cancel
	e.today = date.Of(e.now())
	e.state = Running
	e.mu.Unlock()

	e.wg.Add(1)
	go e.rolloverLoop(runCtx)
	e.logger.Printf("engine started for %s", e.root)
	return nil
}

// Destroy stops background work and releases every component. Destroy is
// idempotent.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	if e.state != Running {
		e.mu.Unlock()
		return nil
	}
	e.state = Stopped
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	var err error
	if e.watcher != nil {
		err = e.watcher.Close()
	}
	e.wg.Wait()
	e.teardown()
	e.logger.Printf("engine stopped for %s", e.root)
	return err
}

func (e *Engine) teardown() {
	if e.ix != nil {
		e.ix.Close()
	}
	if e.bus != nil {
		e.bus.Close()
	}
	if e.detach != nil {
		e.detach()
	}
	e.watcher, e.detach, e.journal = nil, nil, nil
	e.mu.Lock()
	e.state = Stopped
	e.mu.Unlock()
}

// running returns the config and today's date, or an error when the engine
// is not running.
func (e *Engine) running() (*config.Config, date.Date, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Running {
		return nil, date.Date{}, clierr.Newf(clierr.EngineStopped, "engine is %s", e.state)
	}
	return e.cfg, e.today, nil
}

// Config returns the active configuration.
func (e *Engine) Config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Today returns the date the engine considers current.
func (e *Engine) Today() date.Date {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.today.IsZero() {
		return date.Of(e.now())
	}
	return e.today
}

// Subscribe registers h for bus events. The returned function unsubscribes.
func (e *Engine) Subscribe(h events.Handler) (func(), error) {
	if _, _, err := e.running(); err != nil {
		return nil, err
	}
	return e.bus.Subscribe(h), nil
}

// Journal returns the event journal, or nil when journaling is off.
func (e *Engine) Journal() *events.Journal {
	return e.journal
}

// SetConfig swaps the configuration. Every task is re-derived on the next
// read because status, field mapping and identification may have changed.
func (e *Engine) SetConfig(cfg *config.Config) error {
	if _, _, err := e.running(); err != nil {
		return err
	}
	parser := task.NewParser(cfg)
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	e.mu.Lock()
	e.cfg = cfg
	e.parser = parser
	e.store = e.newStore(cfg, parser)
	e.mu.Unlock()

	e.ix.SetParser(parser)
	e.g.InvalidateAll()
	return nil
}

// Apply feeds one file change into the index and graph.
func (e *Engine) Apply(ctx context.Context, c watcher.Change) error {
	if _, _, err := e.running(); err != nil {
		return err
	}
	if !c.Dir {
		return e.refresh(ctx, c.Path)
	}
	notes, err := e.ix.Notes(ctx)
	if err != nil {
		return err
	}
	prefix := c.Path + "/"
	for _, p := range notes {
		if strings.HasPrefix(p, prefix) {
			if err := e.refresh(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rename moves a note's identity from oldPath to newPath: the old entry is
// removed, the new one added, and references to either are re-resolved.
func (e *Engine) Rename(ctx context.Context, oldPath, newPath string) error {
	if _, _, err := e.running(); err != nil {
		return err
	}
	if err := e.refresh(ctx, oldPath); err != nil {
		return err
	}
	return e.refresh(ctx, newPath)
}

// refresh re-reads one note into the index and graph. Index events are held
// until the graph has been updated.
func (e *Engine) refresh(ctx context.Context, notePath string) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	e.gate.hold()
	defer e.gate.release()
	if err := e.ix.Invalidate(ctx, notePath); err != nil {
		return err
	}
	return e.g.Invalidate(ctx, notePath)
}

// gate forwards events to the bus, buffering them while held.
type gate struct {
	bus *events.Bus

	mu      sync.Mutex
	holding bool
	held    []events.Event
}

func (g *gate) Publish(ev events.Event) {
	g.mu.Lock()
	if g.holding {
		g.held = append(g.held, ev)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.bus.Publish(ev)
}

func (g *gate) hold() {
	g.mu.Lock()
	g.holding = true
	g.mu.Unlock()
}

func (g *gate) release() {
	g.mu.Lock()
	held := g.held
	g.held, g.holding = nil, false
	g.mu.Unlock()
	for _, ev := range held {
		g.bus.Publish(ev)
	}
}

func (e *Engine) onChange(c watcher.Change) {
	if err := e.Apply(context.Background(), c); err != nil {
		e.logger.Printf("applying %s %s: %v", c.Op, c.Path, err)
	}
}

func (e *Engine) rolloverLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.rollover)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkDate()
		}
	}
}

// checkDate publishes DateRolledOver when the local date has changed since
// the last check.
func (e *Engine) checkDate() {
	today := date.Of(e.now())
	e.mu.Lock()
	from := e.today
	if today.Equal(from) || e.state != Running {
		e.mu.Unlock()
		return
	}
	e.today = today
	e.mu.Unlock()
	e.logger.Printf("date rolled over from %s to %s", from, today)
	e.bus.Publish(events.DateRolledOver{From: from, To: today})
}

func (e *Engine) excluded(rel string) bool {
	return e.Config().IsExcluded(rel)
}

func (e *Engine) newStore(cfg *config.Config, parser *task.Parser) *task.Store {
	s := task.NewStore(e.root, filepath.Join(cfg.Dir(), lockFileName), parser)
	s.SetClock(e.now)
	return s
}
