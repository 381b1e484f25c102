package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rowwatch/rowwatch/internal/catalog"
	"github.com/rowwatch/rowwatch/internal/client"
	"github.com/rowwatch/rowwatch/internal/config"
	"github.com/rowwatch/rowwatch/internal/dashboard"
	"github.com/rowwatch/rowwatch/internal/health"
	"github.com/rowwatch/rowwatch/internal/metrics"
	"github.com/rowwatch/rowwatch/internal/store"
)

func newTestConfig(dbPath string) *config.Config {
	return &config.Config{
		Listen: config.ListenConfig{
			APIBind:    "127.0.0.1",
			APIPort:    5000,
			CORSOrigin: "*",
		},
		Database: config.DatabaseConfig{Path: dbPath, BusyTimeout: time.Second},
		Dashboard: config.DashboardConfig{
			RefreshInterval: 1500 * time.Millisecond,
			DefaultLimit:    config.DefaultRowLimit,
		},
		HealthCheck: config.HealthCheckConfig{
			Interval:         time.Minute,
			Timeout:          time.Second,
			FailureThreshold: 3,
		},
	}
}

func newTestStore(t *testing.T, dbPath string) *store.Store {
	t.Helper()
	st, err := store.Open(dbPath, time.Second)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	stmts := []string{
		`CREATE TABLE messages (id INTEGER PRIMARY KEY, content TEXT, created_at TEXT)`,
		`CREATE TABLE notes (id INTEGER PRIMARY KEY, content TEXT)`,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE "Odd-Cols" ("ID" INTEGER, "Content" TEXT, "Created-At" TEXT)`,
		`INSERT INTO messages (id, content, created_at) VALUES
			(1, 'hello world', '2024-01-01 10:00:00'),
			(2, 'second message', '2024-01-01 10:01:00'),
			(3, 'hello again', '2024-01-01 10:02:00')`,
		`INSERT INTO notes (id, content) VALUES (1, 'note')`,
	}
	for _, stmt := range stmts {
		if _, err := st.DB().Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	return st
}

type testServer struct {
	s       *Server
	store   *store.Store
	metrics *metrics.Collector
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "dash <test>.db")
	st := newTestStore(t, dbPath)
	cfg := newTestConfig(dbPath)

	m := metrics.New()
	s := NewServer(catalog.New(st), st, nil, m, cfg)
	return &testServer{s: s, store: st, metrics: m, handler: s.Handler()}
}

func (ts *testServer) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestListTables(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get(t, "/api/tables")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var result struct {
		Tables []string `json:"tables"`
	}
	decodeBody(t, rr, &result)

	want := []string{"Odd-Cols", "messages"}
	if strings.Join(result.Tables, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, result.Tables)
	}
}

func TestListTablesEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(dbPath, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	s := NewServer(catalog.New(st), st, nil, nil, newTestConfig(dbPath))
	req := httptest.NewRequest("GET", "/api/tables", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if body := strings.TrimSpace(rr.Body.String()); body != `{"tables":[]}` {
		t.Errorf("expected empty list, got %s", body)
	}
}

func TestListRows(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get(t, "/api/rows/messages")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result struct {
		Rows []map[string]interface{} `json:"rows"`
		Meta struct {
			Limit int `json:"limit"`
		} `json:"meta"`
	}
	decodeBody(t, rr, &result)

	if result.Meta.Limit != config.DefaultRowLimit {
		t.Errorf("expected default limit %d, got %d", config.DefaultRowLimit, result.Meta.Limit)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(result.Rows))
	}
	if result.Rows[0]["id"] != float64(3) || result.Rows[0]["content"] != "hello again" {
		t.Errorf("expected newest row first, got %v", result.Rows[0])
	}
	if result.Rows[2]["created_at"] != "2024-01-01 10:00:00" {
		t.Errorf("unexpected created_at %v", result.Rows[2]["created_at"])
	}
}

func TestListRowsFilters(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		target  string
		wantIDs []float64
		limit   int
	}{
		{"/api/rows/messages?limit=2", []float64{3, 2}, 2},
		{"/api/rows/messages?q=hello", []float64{3, 1}, 200},
		{"/api/rows/messages?since_id=1", []float64{3, 2}, 200},
		{"/api/rows/messages?since_id=1&q=hello", []float64{3}, 200},
		{"/api/rows/messages?q=nothing-matches", nil, 200},
	}

	for _, tt := range tests {
		rr := ts.get(t, tt.target)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tt.target, rr.Code)
			continue
		}
		var result struct {
			Rows []struct {
				ID float64 `json:"id"`
			} `json:"rows"`
			Meta struct {
				Limit int `json:"limit"`
			} `json:"meta"`
		}
		decodeBody(t, rr, &result)

		if result.Rows == nil {
			t.Errorf("%s: rows must be a list, got null", tt.target)
		}
		if result.Meta.Limit != tt.limit {
			t.Errorf("%s: expected meta.limit %d, got %d", tt.target, tt.limit, result.Meta.Limit)
		}
		if len(result.Rows) != len(tt.wantIDs) {
			t.Errorf("%s: expected %d rows, got %d", tt.target, len(tt.wantIDs), len(result.Rows))
			continue
		}
		for i, id := range tt.wantIDs {
			if result.Rows[i].ID != id {
				t.Errorf("%s: row %d expected id %v, got %v", tt.target, i, id, result.Rows[i].ID)
			}
		}
	}
}

func TestListRowsWithoutCreatedColumn(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get(t, "/api/rows/notes")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"created_at":null`) {
		t.Errorf("expected null created_at, got %s", rr.Body.String())
	}
}

func TestListRowsErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		target string
		code   int
	}{
		{"/api/rows/bad;name", http.StatusBadRequest},
		{"/api/rows/messages?limit=abc", http.StatusBadRequest},
		{"/api/rows/users", http.StatusBadRequest},
		{"/api/rows/Odd-Cols", http.StatusBadRequest},
		{"/api/rows/missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		rr := ts.get(t, tt.target)
		if rr.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.target, tt.code, rr.Code)
			continue
		}
		var result map[string]string
		decodeBody(t, rr, &result)
		if result["error"] == "" {
			t.Errorf("%s: expected error message", tt.target)
		}
	}
}

func TestSettings(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get(t, "/api/settings")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var result struct {
		RefreshMS    int64  `json:"refresh_ms"`
		DefaultLimit int    `json:"default_limit"`
		DBPath       string `json:"db_path"`
	}
	decodeBody(t, rr, &result)
	if result.RefreshMS != 1500 || result.DefaultLimit != 200 {
		t.Errorf("unexpected settings %+v", result)
	}
	if result.DBPath != ts.store.Path() {
		t.Errorf("expected db path %s, got %s", ts.store.Path(), result.DBPath)
	}
}

func TestUpdateDashboard(t *testing.T) {
	ts := newTestServer(t)
	ts.s.UpdateDashboard(config.DashboardConfig{RefreshInterval: 5 * time.Second, DefaultLimit: 1})

	rr := ts.get(t, "/api/rows/messages")
	var result struct {
		Rows []json.RawMessage `json:"rows"`
	}
	decodeBody(t, rr, &result)
	if len(result.Rows) != 1 {
		t.Errorf("expected new default limit to apply, got %d rows", len(result.Rows))
	}

	page := ts.get(t, "/").Body.String()
	if !strings.Contains(page, "parseInt('5000', 10)") {
		t.Error("expected reloaded refresh interval in page")
	}
}

func TestDashboardPage(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/", "/dashboard"} {
		rr := ts.get(t, path)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s: unexpected content type %s", path, ct)
		}

		body := rr.Body.String()
		if strings.Contains(body, "%REFRESH_MS%") || strings.Contains(body, "%DB_PATH%") {
			t.Errorf("%s: placeholders left in page", path)
		}
		if !strings.Contains(body, "parseInt('1500', 10)") {
			t.Errorf("%s: refresh interval not injected", path)
		}
		if !strings.Contains(body, "dash &lt;test&gt;.db") {
			t.Errorf("%s: database path not escaped", path)
		}
		for _, id := range []string{"tablesList", "rowsBody", "status", "query", "limit", "refreshTables", "refreshRows", "togglePolling", "selectedTitle"} {
			if !strings.Contains(body, `id="`+id+`"`) {
				t.Errorf("%s: missing element %s", path, id)
			}
		}
	}
}

func TestRenderDashboardEscaping(t *testing.T) {
	page := renderDashboard(250, `a"b&c`)
	if !strings.Contains(page, "a&#34;b&amp;c") {
		t.Error("expected html-escaped path")
	}
	if !strings.Contains(page, "parseInt('250', 10)") {
		t.Error("expected refresh interval")
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get(t, "/health")
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestHealthWithChecker(t *testing.T) {
	ts := newTestServer(t)
	cfg := newTestConfig(ts.store.Path())
	hc := health.NewChecker(ts.store, nil, cfg.HealthCheck)
	hc.Check()

	s := NewServer(catalog.New(ts.store), ts.store, hc, nil, cfg)
	h := s.Handler()

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var result struct {
		Status   string `json:"status"`
		Database struct {
			Status string `json:"status"`
		} `json:"database"`
	}
	decodeBody(t, rr, &result)
	if result.Status != "healthy" || result.Database.Status != "healthy" {
		t.Errorf("unexpected health %+v", result)
	}

	ts.store.Close()
	for i := 0; i < cfg.HealthCheck.FailureThreshold; i++ {
		hc.Check()
	}

	req = httptest.NewRequest("GET", "/ready", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after failures, got %d", rr.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get(t, "/ready")
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.get(t, "/api/tables")

	rr := ts.get(t, "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var result map[string]interface{}
	decodeBody(t, rr, &result)
	if result["tables_detected"] != float64(2) {
		t.Errorf("expected 2 tables detected, got %v", result["tables_detected"])
	}
	if result["refresh_ms"] != float64(1500) {
		t.Errorf("unexpected refresh_ms %v", result["refresh_ms"])
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get(t, "/api/tables")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}

	req := httptest.NewRequest("OPTIONS", "/api/rows/messages", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 preflight, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "GET") {
		t.Errorf("unexpected allowed methods %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get(t, "/api/tables")
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing frame options header")
	}
}

func TestListRowsAfterSchemaChange(t *testing.T) {
	ts := newTestServer(t)
	db := ts.store.DB()

	if rr := ts.get(t, "/api/rows/notes"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, err := db.Exec(`DROP TABLE notes`); err != nil {
		t.Fatal(err)
	}
	if rr := ts.get(t, "/api/rows/notes"); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a dropped table, got %d: %s", rr.Code, rr.Body.String())
	}

	if _, err := db.Exec(`CREATE TABLE later (id INTEGER PRIMARY KEY, content TEXT)`); err != nil {
		t.Fatal(err)
	}
	if rr := ts.get(t, "/api/rows/later"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	for _, stmt := range []string{
		`ALTER TABLE later ADD COLUMN created_at TEXT`,
		`INSERT INTO later (id, content, created_at) VALUES (1, 'x', '2024')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	rr := ts.get(t, "/api/rows/later")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"created_at":"2024"`) {
		t.Errorf("expected the added created_at column to be served, got %s", rr.Body.String())
	}
}

func TestUnmatchedRequests(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.get(t, "/nope")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var result map[string]string
	decodeBody(t, rr, &result)
	if result["error"] == "" {
		t.Error("expected error message")
	}

	req := httptest.NewRequest("POST", "/api/tables", nil)
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}

	body := ts.get(t, "/metrics").Body.String()
	for _, want := range []string{
		`rowwatch_http_requests_total{code="404",route="unmatched"} 1`,
		`rowwatch_http_requests_total{code="405",route="unmatched"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics to contain %q", want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.get(t, "/api/tables")
	ts.get(t, "/api/rows/messages")

	rr := ts.get(t, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`rowwatch_http_requests_total{code="200",route="/api/rows/{table}"} 1`,
		`rowwatch_rows_served_total{table="messages"} 3`,
		`rowwatch_tables_detected 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics to contain %q", want)
		}
	}
}

// The terminal dashboard's controller, driven through the real client
// against the real server.
func TestDashboardAgainstServer(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	c, err := client.New(srv.URL, srv.Client())
	if err != nil {
		t.Fatal(err)
	}

	views := make(chan dashboard.ViewModel, 256)
	ctrl := dashboard.New(c, dashboard.SurfaceFunc(func(vm dashboard.ViewModel) {
		select {
		case views <- vm:
		default:
		}
	}), dashboard.Options{
		Interval: time.Hour,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor := func(cond func(dashboard.State) bool) dashboard.State {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			st, err := ctrl.State(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if cond(st) {
				return st
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatal("timed out waiting for dashboard state")
		return dashboard.State{}
	}

	// The first listed table is selected automatically; its rows are refused.
	st := waitFor(func(s dashboard.State) bool {
		return s.Selected == "Odd-Cols" && s.Status == "poll error, retrying"
	})
	if st.RowsLoaded {
		t.Error("expected no rows for Odd-Cols")
	}

	ctrl.Post(dashboard.SetQuery{Value: "hello"})
	ctrl.Post(dashboard.SelectTable{Name: "messages"})
	st = waitFor(func(s dashboard.State) bool {
		return s.Selected == "messages" && len(s.Rows) == 2 && strings.HasPrefix(s.Status, "last update")
	})
	if id, ok := st.Rows[0].ID.(json.Number); !ok || id.String() != "3" {
		t.Errorf("expected newest matching row first, got %#v", st.Rows[0].ID)
	}

	vm := dashboard.Render(st)
	if vm.Title != "Table: messages" {
		t.Errorf("unexpected title %q", vm.Title)
	}
}

func TestStartStop(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.s.Stop(); err != nil {
		t.Errorf("Stop before Start should be a no-op, got %v", err)
	}
	if err := ts.s.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := ts.s.Stop(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Stop failed: %v", err)
	}
}
