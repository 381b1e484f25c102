package dashboard

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  ViewModel
	}{
		{
			name:  "initial",
			state: State{Polling: true, Status: "idle"},
			want: ViewModel{
				Status:    "Status: idle",
				PollLabel: "Pause",
				Polling:   true,
			},
		},
		{
			name: "loading keeps inputs",
			state: State{
				TablesPhase: TablesLoading,
				Tables:      []string{"old"},
				LimitInput:  "50",
				QueryInput:  "err",
				Status:      "idle",
			},
			want: ViewModel{
				Status:        "Status: idle",
				TablesMessage: "Loading…",
				PollLabel:     "Resume",
				LimitInput:    "50",
				QueryInput:    "err",
			},
		},
		{
			name: "selected with rows",
			state: State{
				Tables:      []string{"a", "b"},
				TablesPhase: TablesReady,
				Selected:    "b",
				Polling:     true,
				Rows: []Row{
					{ID: json.Number("10"), Content: "line one\nline two", CreatedAt: "2024-01-01"},
				},
				RowsLoaded: true,
				Status:     "last update 09:30:00",
			},
			want: ViewModel{
				Title:     "Table: b",
				Status:    "Status: last update 09:30:00",
				Tables:    []TableButton{{Name: "a"}, {Name: "b", Active: true}},
				Rows:      []RowView{{ID: "10", Content: "line one\nline two", CreatedAt: "2024-01-01"}},
				PollLabel: "Pause",
				Polling:   true,
			},
		},
		{
			name: "empty rows",
			state: State{
				Tables:      []string{"a"},
				TablesPhase: TablesReady,
				Selected:    "a",
				RowsLoaded:  true,
				Rows:        []Row{},
				Status:      "last update 09:30:00",
			},
			want: ViewModel{
				Title:       "Table: a",
				Status:      "Status: last update 09:30:00",
				Tables:      []TableButton{{Name: "a", Active: true}},
				RowsMessage: "No rows",
				PollLabel:   "Resume",
			},
		},
		{
			name:  "no tables",
			state: State{TablesPhase: TablesReady, Tables: []string{}, Status: "tables loaded"},
			want: ViewModel{
				Status:        "Status: tables loaded",
				TablesMessage: "No tables found",
				PollLabel:     "Resume",
			},
		},
		{
			name:  "tables failed",
			state: State{TablesPhase: TablesFailed, TablesError: "timeout", Status: "error"},
			want: ViewModel{
				Status:        "Status: error",
				TablesMessage: "Error fetching tables: timeout",
				PollLabel:     "Resume",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.state)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Render mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCellFormatting(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"", ""},
		{"text", "text"},
		{float64(3), "3"},
		{int64(42), "42"},
		{json.Number("9007199254740993"), "9007199254740993"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := cell(tt.in); got != tt.want {
			t.Errorf("cell(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
