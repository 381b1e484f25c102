// Package store reads message-log tables out of a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	_ "modernc.org/sqlite"
)

var (
	// ErrInvalidTableName is returned for names outside [letters digits _ -].
	ErrInvalidTableName = errors.New("invalid table name")
	// ErrMissingColumns is returned when a table lacks the id/content columns.
	ErrMissingColumns = errors.New("table missing id/content columns")
)

// RequiredColumns are the columns a table needs to show up in the listing.
var RequiredColumns = []string{"id", "content", "created_at"}

// TableSpec describes how to select rows from one table.
type TableSpec struct {
	Name string
	// CreatedColumn is the actual column backing created_at, empty when absent.
	CreatedColumn string
}

// RowQuery narrows a row selection.
type RowQuery struct {
	Limit   int
	Query   string
	SinceID *string
}

// Row is a single record as served to dashboard clients.
type Row struct {
	ID        any `json:"id"`
	Content   any `json:"content"`
	CreatedAt any `json:"created_at"`
}

// Store wraps the SQLite handle.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the SQLite database at path.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: empty database path")
	}
	dsn := path
	if busyTimeout > 0 {
		// Applied per pooled connection by the driver.
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, busyTimeout.Milliseconds())
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// TableNames lists user tables ordered by name.
func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("store: list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Columns returns the column names of table in declaration order.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+quoteString(table)+")")
	if err != nil {
		return nil, fmt.Errorf("store: table_info %s: %w", table, err)
	}
	defer rows.Close()

	colTypes, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var cols []string
	for rows.Next() {
		// cid, name, type, notnull, dflt_value, pk
		dest := make([]any, len(colTypes))
		var name string
		for i := range dest {
			if colTypes[i] == "name" {
				dest[i] = &name
			} else {
				dest[i] = new(any)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("store: scan table_info %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// SchemaVersion returns the database's schema cookie, which SQLite bumps on
// every CREATE, DROP or ALTER.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("store: schema version: %w", err)
	}
	return v, nil
}

// SpecFromColumns builds a TableSpec, requiring exact id and content columns.
func SpecFromColumns(table string, cols []string) (TableSpec, error) {
	var hasID, hasContent bool
	spec := TableSpec{Name: table}
	for _, c := range cols {
		switch c {
		case "id":
			hasID = true
		case "content":
			hasContent = true
		}
		if spec.CreatedColumn == "" && NormalizeColumn(c) == "created_at" {
			spec.CreatedColumn = c
		}
	}
	if !hasID || !hasContent {
		return TableSpec{}, ErrMissingColumns
	}
	return spec, nil
}

// HasRequiredColumns reports whether cols cover RequiredColumns after normalization.
func HasRequiredColumns(cols []string) bool {
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[NormalizeColumn(c)] = true
	}
	for _, r := range RequiredColumns {
		if !have[r] {
			return false
		}
	}
	return true
}

// NormalizeColumn lowercases and maps '-' to '_'.
func NormalizeColumn(c string) string {
	return strings.ReplaceAll(strings.ToLower(c), "-", "_")
}

// ValidTableName accepts letters, digits, underscore and hyphen.
func ValidTableName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

// Rows selects up to q.Limit rows, newest id first.
func (s *Store) Rows(ctx context.Context, spec TableSpec, q RowQuery) ([]Row, error) {
	created := "NULL"
	if spec.CreatedColumn != "" {
		created = quoteIdent(spec.CreatedColumn)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, content, %s AS created_at FROM %s", created, quoteIdent(spec.Name))

	var where []string
	var args []any
	if q.SinceID != nil {
		where = append(where, "id > ?")
		args = append(args, *q.SinceID)
	}
	if q.Query != "" {
		where = append(where, "content LIKE ?")
		args = append(args, "%"+q.Query+"%")
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY id DESC LIMIT ?")
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: select rows from %s: %w", spec.Name, err)
	}
	defer rows.Close()

	result := []Row{}
	for rows.Next() {
		var id, content, createdAt any
		if err := rows.Scan(&id, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan row from %s: %w", spec.Name, err)
		}
		result = append(result, Row{
			ID:        jsonValue(id),
			Content:   jsonValue(content),
			CreatedAt: jsonValue(createdAt),
		})
	}
	return result, rows.Err()
}

func jsonValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return v
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
