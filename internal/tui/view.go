// Package tui draws the dashboard in a terminal and turns key presses into
// dashboard events.
package tui

import (
	"context"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"github.com/rowwatch/rowwatch/internal/dashboard"
)

// Poster accepts dashboard events; *dashboard.Controller satisfies it.
type Poster interface {
	Post(ev dashboard.Event) bool
}

type editMode int

const (
	editNone editMode = iota
	editQuery
	editLimit
)

const helpLine = "t tables  r rows  p pause  tab next  / query  l limit  q quit"

var (
	styleDefault = tcell.StyleDefault
	styleTitle   = tcell.StyleDefault.Bold(true)
	styleMuted   = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleActive  = tcell.StyleDefault.Reverse(true).Bold(true)
	styleHeader  = tcell.StyleDefault.Bold(true).Underline(true)
	styleEditing = tcell.StyleDefault.Foreground(tcell.ColorYellow).Underline(true)
	styleError   = tcell.StyleDefault.Foreground(tcell.ColorRed)
)

// View is a dashboard.Surface drawing onto a tcell screen.
type View struct {
	screen tcell.Screen

	mu   sync.Mutex
	vm   dashboard.ViewModel
	mode editMode
	buf  []rune
}

// New creates a View on an initialized screen.
func New(screen tcell.Screen) *View {
	return &View{screen: screen}
}

// Apply redraws the screen from vm.
func (v *View) Apply(vm dashboard.ViewModel) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vm = vm
	v.draw()
}

// Run processes terminal events, posting dashboard events to p, until the
// user quits or ctx is done.
func (v *View) Run(ctx context.Context, p Poster) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			v.screen.PostEvent(tcell.NewEventInterrupt(nil))
		case <-stop:
		}
	}()

	for {
		ev := v.screen.PollEvent()
		if ev == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		switch ev := ev.(type) {
		case *tcell.EventResize:
			v.screen.Sync()
			v.redraw()
		case *tcell.EventKey:
			if v.handleKey(ev, p) {
				return nil
			}
		}
	}
}

func (v *View) redraw() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.draw()
}

// handleKey maps one key press to dashboard events. It reports whether the
// user asked to quit.
func (v *View) handleKey(ev *tcell.EventKey, p Poster) bool {
	events, quit := v.keyEvents(ev)
	// Posted without v.mu held: the controller calls Apply from its loop.
	for _, e := range events {
		p.Post(e)
	}
	return quit
}

func (v *View) keyEvents(ev *tcell.EventKey) ([]dashboard.Event, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if ev.Key() == tcell.KeyCtrlC {
		return nil, true
	}
	if v.mode != editNone {
		events := v.editKey(ev)
		v.draw()
		return events, false
	}

	switch ev.Key() {
	case tcell.KeyTab, tcell.KeyRight, tcell.KeyDown:
		return []dashboard.Event{dashboard.SelectNext{Delta: 1}}, false
	case tcell.KeyBacktab, tcell.KeyLeft, tcell.KeyUp:
		return []dashboard.Event{dashboard.SelectNext{Delta: -1}}, false
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q':
			return nil, true
		case 't':
			return []dashboard.Event{dashboard.RefreshTables{}}, false
		case 'r':
			return []dashboard.Event{dashboard.RefreshRows{}}, false
		case 'p', ' ':
			return []dashboard.Event{dashboard.TogglePolling{}}, false
		case '/':
			v.mode = editQuery
			v.buf = []rune(v.vm.QueryInput)
			v.draw()
		case 'l':
			v.mode = editLimit
			v.buf = []rune(v.vm.LimitInput)
			v.draw()
		}
	}
	return nil, false
}

func (v *View) editKey(ev *tcell.EventKey) []dashboard.Event {
	switch ev.Key() {
	case tcell.KeyEnter:
		value := string(v.buf)
		var set dashboard.Event = dashboard.SetLimit{Value: value}
		if v.mode == editQuery {
			set = dashboard.SetQuery{Value: value}
		}
		v.mode, v.buf = editNone, nil
		return []dashboard.Event{set, dashboard.RefreshRows{}}
	case tcell.KeyEscape:
		v.mode, v.buf = editNone, nil
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if len(v.buf) > 0 {
			v.buf = v.buf[:len(v.buf)-1]
		}
	case tcell.KeyRune:
		v.buf = append(v.buf, ev.Rune())
	}
	return nil
}

// draw renders the current view model. Callers hold v.mu.
func (v *View) draw() {
	s := v.screen
	s.Clear()
	width, height := s.Size()
	if width <= 0 || height <= 0 {
		return
	}
	vm := v.vm

	title := vm.Title
	if title == "" {
		title = "No table selected"
	}
	x := drawText(s, 0, 0, width, "rowwatch  ", styleMuted)
	drawText(s, x, 0, width-x, title, styleTitle)
	if w := runewidth.StringWidth(vm.Status); w < width-x-runewidth.StringWidth(title)-1 {
		drawText(s, width-w, 0, w, vm.Status, styleMuted)
	}

	if height > 1 {
		v.drawTables(1, width)
	}
	if height > 2 {
		v.drawControls(2, width)
	}
	if height > 3 {
		bottom := height
		if height > 5 {
			bottom = height - 1
			drawText(s, 0, height-1, width, helpLine, styleMuted)
		}
		drawRows(s, 3, bottom, width, vm)
	}
	s.Show()
}

func (v *View) drawTables(y, width int) {
	vm := v.vm
	if vm.TablesMessage != "" {
		style := styleMuted
		if strings.HasPrefix(vm.TablesMessage, "Error") {
			style = styleError
		}
		drawText(v.screen, 0, y, width, vm.TablesMessage, style)
		return
	}
	x := 0
	for _, t := range vm.Tables {
		style := styleDefault
		if t.Active {
			style = styleActive
		}
		label := " " + t.Name + " "
		if x+runewidth.StringWidth(label) > width {
			drawText(v.screen, x, y, width-x, "…", styleMuted)
			return
		}
		x += drawText(v.screen, x, y, width-x, label, style)
		x += drawText(v.screen, x, y, width-x, " ", styleDefault)
	}
}

func (v *View) drawControls(y, width int) {
	vm := v.vm
	x := drawText(v.screen, 0, y, width, "limit: ", styleMuted)

	limit, limitStyle := vm.LimitInput, styleDefault
	if limit == "" {
		limit, limitStyle = dashboard.DefaultLimit, styleMuted
	}
	if v.mode == editLimit {
		limit, limitStyle = string(v.buf)+"_", styleEditing
	}
	x += drawText(v.screen, x, y, width-x, limit, limitStyle)

	x += drawText(v.screen, x, y, width-x, "  query: ", styleMuted)
	query, queryStyle := vm.QueryInput, styleDefault
	if v.mode == editQuery {
		query, queryStyle = string(v.buf)+"_", styleEditing
	}
	x += drawText(v.screen, x, y, width-x, query, queryStyle)

	x += drawText(v.screen, x, y, width-x, "  [p] "+vm.PollLabel, styleDefault)
	drawText(v.screen, x, y, width-x, "  rows: "+humanize.Comma(int64(len(vm.Rows))), styleMuted)
}

// drawRows renders the rows grid between lines top and bottom (exclusive).
func drawRows(s tcell.Screen, top, bottom, width int, vm dashboard.ViewModel) {
	idW, createdW := len("id"), len("created_at")
	for _, r := range vm.Rows {
		idW = max(idW, runewidth.StringWidth(r.ID))
		createdW = max(createdW, runewidth.StringWidth(r.CreatedAt))
	}
	idW = min(idW, 12)
	createdW = min(createdW, 26)
	contentW := max(width-idW-createdW-4, 0)

	line := func(y int, id, content, created string, style tcell.Style) {
		drawText(s, 0, y, idW, id, style)
		drawText(s, idW+2, y, contentW, content, style)
		drawText(s, idW+2+contentW+2, y, createdW, created, style)
	}

	line(top, "id", "content", "created_at", styleHeader)
	y := top + 1
	if vm.RowsMessage != "" && y < bottom {
		drawText(s, 0, y, width, vm.RowsMessage, styleMuted)
		return
	}
	for _, r := range vm.Rows {
		if y >= bottom {
			return
		}
		line(y, truncate(r.ID, idW), truncate(firstLine(r.Content), contentW), truncate(r.CreatedAt, createdW), styleDefault)
		y++
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimRight(s[:i], "\r") + " …"
	}
	return s
}

func truncate(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// drawText writes text at (x, y), clipped to width display cells, and returns
// the number of cells used.
func drawText(s tcell.Screen, x, y, width int, text string, style tcell.Style) int {
	col := 0
	for _, r := range text {
		w := runewidth.RuneWidth(r)
		if w == 0 {
			continue
		}
		if col+w > width {
			break
		}
		s.SetContent(x+col, y, r, nil, style)
		col += w
	}
	return col
}
