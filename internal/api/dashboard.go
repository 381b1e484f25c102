package api

import (
	"html"
	"net/http"
	"strconv"
	"strings"
)

// renderDashboard fills the page placeholders.
func renderDashboard(refreshMillis int64, dbPath string) string {
	return strings.NewReplacer(
		"%REFRESH_MS%", strconv.FormatInt(refreshMillis, 10),
		"%DB_PATH%", html.EscapeString(dbPath),
	).Replace(dashboardHTML)
}

// dashboardHandler serves the dashboard page with the refresh interval injected.
func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(renderDashboard(s.dashboardConfig().RefreshMillis(), s.dbPath)))
}
