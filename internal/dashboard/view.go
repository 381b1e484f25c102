package dashboard

import (
	"fmt"
	"strings"
)

// DefaultLimit is the row limit sent when the limit input is blank.
const DefaultLimit = "200"

// Row is one record of the selected table. Values are whatever the API
// decoded them as; nil means absent.
type Row struct {
	ID        any `json:"id"`
	Content   any `json:"content"`
	CreatedAt any `json:"created_at"`
}

// RowQuery carries the raw limit and query inputs of a row fetch.
type RowQuery struct {
	// Limit is passed to the server as typed.
	Limit string
	Query string
}

// TablesPhase tracks what the table picker shows.
type TablesPhase int

const (
	TablesIdle TablesPhase = iota
	TablesLoading
	TablesReady
	TablesFailed
)

// State is everything the dashboard renders from.
type State struct {
	Tables      []string
	TablesPhase TablesPhase
	TablesError string

	// Selected is empty when no table is selected.
	Selected string
	Polling  bool

	Rows       []Row
	RowsLoaded bool

	LimitInput string
	QueryInput string

	Status string
}

// HasSelection reports whether a table is selected.
func (s State) HasSelection() bool { return s.Selected != "" }

// TableButton is one entry of the table picker.
type TableButton struct {
	Name   string
	Active bool
}

// RowView is a row with every cell already formatted.
type RowView struct {
	ID        string
	Content   string
	CreatedAt string
}

// ViewModel is the fully formatted dashboard, ready for a Surface.
type ViewModel struct {
	Title  string
	Status string

	// TablesMessage replaces the picker when set.
	TablesMessage string
	Tables        []TableButton

	// RowsMessage is the single placeholder row shown instead of Rows.
	RowsMessage string
	Rows        []RowView

	PollLabel  string
	Polling    bool
	LimitInput string
	QueryInput string
}

// Render maps a state to its view model.
func Render(s State) ViewModel {
	vm := ViewModel{
		Status:     "Status: " + s.Status,
		PollLabel:  "Resume",
		Polling:    s.Polling,
		LimitInput: s.LimitInput,
		QueryInput: s.QueryInput,
	}
	if s.Polling {
		vm.PollLabel = "Pause"
	}
	if s.HasSelection() {
		vm.Title = "Table: " + s.Selected
	}

	switch s.TablesPhase {
	case TablesLoading:
		vm.TablesMessage = "Loading…"
	case TablesFailed:
		vm.TablesMessage = "Error fetching tables: " + s.TablesError
	case TablesReady:
		if len(s.Tables) == 0 {
			vm.TablesMessage = "No tables found"
		}
	}
	if vm.TablesMessage == "" {
		for _, t := range s.Tables {
			vm.Tables = append(vm.Tables, TableButton{Name: t, Active: t == s.Selected})
		}
	}

	if s.RowsLoaded && len(s.Rows) == 0 {
		vm.RowsMessage = "No rows"
	}
	for _, r := range s.Rows {
		vm.Rows = append(vm.Rows, RowView{
			ID:        cell(r.ID),
			Content:   cell(r.Content),
			CreatedAt: cell(r.CreatedAt),
		})
	}
	return vm
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
