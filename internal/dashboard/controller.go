// Package dashboard implements the table dashboard controller: it lists the
// tables a server exposes, follows one selected table and re-fetches its rows
// on a repeating timer.
//
// All state is owned by a single event loop goroutine (Run). User actions and
// timer ticks arrive as events; network fetches run on their own goroutines
// and post their results back to the loop, so no locks guard the state.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is the polling period used when Options.Interval is zero.
const DefaultInterval = 2 * time.Second

// ErrMissingRows marks a rows response that decoded but carried no rows field.
var ErrMissingRows = errors.New("response has no rows")

// Client fetches dashboard data from the server.
type Client interface {
	Tables(ctx context.Context) ([]string, error)
	Rows(ctx context.Context, table string, q RowQuery) ([]Row, error)
}

// Surface displays view models. Apply is called from the event loop goroutine.
type Surface interface {
	Apply(ViewModel)
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(ViewModel)

// Apply calls f(vm).
func (f SurfaceFunc) Apply(vm ViewModel) { f(vm) }

// Purpose identifies what a fetch is for.
type Purpose int

const (
	PurposeTables Purpose = iota
	PurposeRows
)

func (p Purpose) String() string {
	switch p {
	case PurposeTables:
		return "tables"
	case PurposeRows:
		return "rows"
	default:
		return "unknown"
	}
}

// Options configures a Controller.
type Options struct {
	// Interval is the polling period. Zero means DefaultInterval.
	Interval time.Duration
	Clock    Clock
	Logger   *slog.Logger
	Now      func() time.Time

	// DropStale makes a newer fetch cancel older in-flight fetches of the same
	// purpose and discards responses that are not from the newest fetch.
	// Off by default: the last response to arrive is rendered.
	DropStale bool
}

// Event is something the controller's loop reacts to.
type Event interface {
	event()
}

// RefreshTables reloads the table list.
type RefreshTables struct{}

// RefreshRows fetches rows for the selected table now.
type RefreshRows struct{}

// TogglePolling flips polling on or off.
type TogglePolling struct{}

// SelectTable selects the named table.
type SelectTable struct{ Name string }

// SelectNext moves the selection Delta entries through the table list, wrapping.
type SelectNext struct{ Delta int }

// SetLimit replaces the limit input.
type SetLimit struct{ Value string }

// SetQuery replaces the query input.
type SetQuery struct{ Value string }

type tick struct{ gen uint64 }

type tablesResult struct {
	seq    uint64
	tables []string
	err    error
}

type rowsResult struct {
	seq   uint64
	table string
	rows  []Row
	err   error
}

type stateRequest struct{ reply chan State }

func (RefreshTables) event() {}
func (RefreshRows) event()   {}
func (TogglePolling) event() {}
func (SelectTable) event()   {}
func (SelectNext) event()    {}
func (SetLimit) event()      {}
func (SetQuery) event()      {}
func (tick) event()          {}
func (tablesResult) event()  {}
func (rowsResult) event()    {}
func (stateRequest) event()  {}

// Controller is the dashboard state machine.
type Controller struct {
	client    Client
	surface   Surface
	clock     Clock
	log       *slog.Logger
	now       func() time.Time
	interval  time.Duration
	dropStale bool

	events chan Event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	spawn  func(func())
	wg     sync.WaitGroup

	// Owned by the loop goroutine.
	state    State
	timer    Timer
	timerGen uint64
	seq      uint64
	tasks    map[Purpose]map[uint64]context.CancelFunc
	latest   map[Purpose]uint64
}

// New creates a controller. Nothing happens until Run is called.
func New(client Client, surface Surface, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		client:    client,
		surface:   surface,
		clock:     opts.Clock,
		log:       opts.Logger,
		now:       opts.Now,
		interval:  opts.Interval,
		dropStale: opts.DropStale,
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
		spawn:     func(fn func()) { go fn() },
		state:     State{Polling: true, Status: "idle"},
		tasks: map[Purpose]map[uint64]context.CancelFunc{
			PurposeTables: {},
			PurposeRows:   {},
		},
		latest: make(map[Purpose]uint64),
	}
}

// Interval returns the polling period.
func (c *Controller) Interval() time.Duration { return c.interval }

// Post queues ev for the loop. It returns false once the controller has stopped.
func (c *Controller) Post(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// State returns a copy of the current state, asked of the running loop.
func (c *Controller) State(ctx context.Context) (State, error) {
	req := stateRequest{reply: make(chan State, 1)}
	if !c.Post(req) {
		return State{}, errors.New("dashboard: controller stopped")
	}
	select {
	case s := <-req.reply:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-c.done:
		return State{}, errors.New("dashboard: controller stopped")
	}
}

// Run loads the table list, starts polling and processes events until ctx is
// done. In-flight fetches are cancelled on return. Run must be called once.
func (c *Controller) Run(ctx context.Context) error {
	c.begin(ctx)
	defer c.shutdown()

	c.start()
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) begin(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
}

func (c *Controller) start() {
	c.render()
	c.loadTables()
	c.startPolling()
}

func (c *Controller) shutdown() {
	c.stopPolling()
	c.cancel()
	close(c.done)
	c.wg.Wait()
}

func (c *Controller) handle(ev Event) {
	switch ev := ev.(type) {
	case RefreshTables:
		c.loadTables()
	case RefreshRows:
		c.fetchRows()
	case TogglePolling:
		c.togglePolling()
	case SelectTable:
		if ev.Name != "" {
			c.selectTable(ev.Name)
		}
	case SelectNext:
		c.selectNext(ev.Delta)
	case SetLimit:
		c.state.LimitInput = ev.Value
		c.render()
	case SetQuery:
		c.state.QueryInput = ev.Value
		c.render()
	case tick:
		c.onTick(ev)
	case tablesResult:
		c.onTables(ev)
	case rowsResult:
		c.onRows(ev)
	case stateRequest:
		ev.reply <- c.snapshot()
	}
}

// loadTables fetches the table list. The picker shows a loading placeholder
// until the response arrives.
func (c *Controller) loadTables() {
	c.state.TablesPhase = TablesLoading
	c.render()

	c.startTask(PurposeTables, func(ctx context.Context, seq uint64) Event {
		tables, err := c.client.Tables(ctx)
		return tablesResult{seq: seq, tables: tables, err: err}
	})
}

func (c *Controller) onTables(r tablesResult) {
	if !c.finishTask(PurposeTables, r.seq) {
		return
	}
	if r.err != nil {
		c.state.TablesPhase = TablesFailed
		c.state.TablesError = r.err.Error()
		c.state.Status = "error"
		c.log.Error("fetching tables failed", "err", r.err)
		c.render()
		return
	}

	tables := r.tables
	if tables == nil {
		tables = []string{}
	}
	c.state.Tables = tables
	c.state.TablesPhase = TablesReady
	c.state.TablesError = ""
	c.state.Status = "tables loaded"
	c.render()

	if !c.state.HasSelection() && len(tables) > 0 {
		c.selectTable(tables[0])
	}
}

// selectTable makes name the selected table, fetches its rows immediately and
// restarts the timer so the next tick is a full period away.
func (c *Controller) selectTable(name string) {
	c.state.Selected = name
	c.render()
	c.fetchRows()
	if c.state.Polling {
		c.startPolling()
	}
}

func (c *Controller) selectNext(delta int) {
	n := len(c.state.Tables)
	if n == 0 || delta == 0 {
		return
	}
	idx := -1
	for i, t := range c.state.Tables {
		if t == c.state.Selected {
			idx = i
			break
		}
	}
	var next int
	switch {
	case idx < 0 && delta > 0:
		next = 0
	case idx < 0:
		next = n - 1
	default:
		next = ((idx+delta)%n + n) % n
	}
	c.selectTable(c.state.Tables[next])
}

// fetchRows requests rows for the selected table; without a selection it does nothing.
func (c *Controller) fetchRows() {
	if !c.state.HasSelection() {
		return
	}
	c.state.Status = "polling @ " + c.clockTime()
	c.render()

	table := c.state.Selected
	q := RowQuery{Limit: c.state.LimitInput, Query: c.state.QueryInput}
	if strings.TrimSpace(q.Limit) == "" {
		q.Limit = DefaultLimit
	}

	c.startTask(PurposeRows, func(ctx context.Context, seq uint64) Event {
		rows, err := c.client.Rows(ctx, table, q)
		return rowsResult{seq: seq, table: table, rows: rows, err: err}
	})
}

func (c *Controller) onRows(r rowsResult) {
	if !c.finishTask(PurposeRows, r.seq) {
		return
	}
	switch {
	case errors.Is(r.err, ErrMissingRows):
		c.log.Warn("unexpected rows payload", "table", r.table, "err", r.err)
		c.state.Status = "last update " + c.clockTime()
	case r.err != nil:
		// The next tick retries.
		c.state.Status = "poll error, retrying"
		c.log.Error("fetching rows failed", "table", r.table, "err", r.err)
	default:
		c.state.Rows = r.rows
		c.state.RowsLoaded = true
		c.state.Status = "last update " + c.clockTime()
	}
	c.render()
}

func (c *Controller) togglePolling() {
	c.state.Polling = !c.state.Polling
	if c.state.Polling {
		c.startPolling()
	} else {
		c.stopPolling()
	}
	c.render()
}

// startPolling arms the repeating timer, stopping any timer already running.
func (c *Controller) startPolling() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerGen++
	gen := c.timerGen
	c.timer = c.clock.Every(c.interval, func() {
		c.Post(tick{gen: gen})
	})
	c.log.Debug("polling started", "interval", c.interval)
}

func (c *Controller) stopPolling() {
	if c.timer == nil {
		return
	}
	c.timer.Stop()
	c.timer = nil
	c.log.Debug("polling stopped")
}

func (c *Controller) onTick(t tick) {
	// A tick queued before its timer was stopped or replaced.
	if c.timer == nil || t.gen != c.timerGen {
		return
	}
	if c.state.HasSelection() {
		c.fetchRows()
	}
}

func (c *Controller) startTask(p Purpose, fn func(ctx context.Context, seq uint64) Event) {
	if c.dropStale {
		c.cancelTasks(p)
	}
	c.seq++
	seq := c.seq
	ctx, cancel := context.WithCancel(c.ctx)
	c.tasks[p][seq] = cancel
	c.latest[p] = seq

	c.wg.Add(1)
	c.spawn(func() {
		defer c.wg.Done()
		c.Post(fn(ctx, seq))
	})
}

// finishTask releases a completed fetch and reports whether its result
// should be applied.
func (c *Controller) finishTask(p Purpose, seq uint64) bool {
	if cancel, ok := c.tasks[p][seq]; ok {
		cancel()
		delete(c.tasks[p], seq)
	}
	if c.dropStale && seq != c.latest[p] {
		c.log.Debug("dropping stale response", "purpose", p, "seq", seq)
		return false
	}
	return true
}

func (c *Controller) cancelTasks(p Purpose) {
	for seq, cancel := range c.tasks[p] {
		cancel()
		delete(c.tasks[p], seq)
	}
}

func (c *Controller) inFlight(p Purpose) int {
	return len(c.tasks[p])
}

func (c *Controller) render() {
	if c.surface != nil {
		c.surface.Apply(Render(c.state))
	}
}

func (c *Controller) snapshot() State {
	s := c.state
	s.Tables = append([]string(nil), c.state.Tables...)
	s.Rows = append([]Row(nil), c.state.Rows...)
	return s
}

func (c *Controller) clockTime() string {
	return c.now().Format("15:04:05")
}
