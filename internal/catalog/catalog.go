package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rowwatch/rowwatch/internal/store"
)

// ErrUnknownTable is returned when a table does not exist in the database.
var ErrUnknownTable = errors.New("unknown table")

// Source is the slice of store.Store the catalog needs.
type Source interface {
	TableNames(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]string, error)
	SchemaVersion(ctx context.Context) (int64, error)
}

// Catalog resolves table names to their row selection specs. Cached specs
// are only trusted while the database schema version is unchanged.
type Catalog struct {
	mu      sync.RWMutex
	src     Source
	specs   map[string]store.TableSpec
	listed  []string
	version int64
	known   bool // version has been read
}

// New creates an empty Catalog backed by src.
func New(src Source) *Catalog {
	return &Catalog{
		src:   src,
		specs: make(map[string]store.TableSpec),
	}
}

// Refresh re-detects the tables carrying id, content and created_at columns
// and returns their names in database order.
func (c *Catalog) Refresh(ctx context.Context) ([]string, error) {
	version, err := c.src.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	names, err := c.src.TableNames(ctx)
	if err != nil {
		return nil, err
	}

	specs := make(map[string]store.TableSpec, len(names))
	detected := []string{}
	for _, name := range names {
		cols, err := c.src.Columns(ctx, name)
		if err != nil {
			return nil, err
		}
		if !store.HasRequiredColumns(cols) {
			continue
		}
		detected = append(detected, name)
		if spec, err := store.SpecFromColumns(name, cols); err == nil {
			specs[name] = spec
		}
	}

	c.mu.Lock()
	c.specs = specs
	c.listed = detected
	c.version, c.known = version, true
	c.mu.Unlock()

	out := make([]string, len(detected))
	copy(out, detected)
	return out, nil
}

// Resolve returns the spec for name, inspecting the table on a cache miss.
func (c *Catalog) Resolve(ctx context.Context, name string) (store.TableSpec, error) {
	if !store.ValidTableName(name) {
		return store.TableSpec{}, store.ErrInvalidTableName
	}
	if err := c.checkSchema(ctx); err != nil {
		return store.TableSpec{}, err
	}

	c.mu.RLock()
	spec, ok := c.specs[name]
	c.mu.RUnlock()
	if ok {
		return spec, nil
	}

	cols, err := c.src.Columns(ctx, name)
	if err != nil {
		return store.TableSpec{}, err
	}
	if len(cols) == 0 {
		return store.TableSpec{}, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	spec, err = store.SpecFromColumns(name, cols)
	if err != nil {
		return store.TableSpec{}, err
	}

	c.mu.Lock()
	c.specs[name] = spec
	c.mu.Unlock()
	return spec, nil
}

// checkSchema drops the cached specs when the schema changed since they were
// read. The listing is kept until the next Refresh.
func (c *Catalog) checkSchema(ctx context.Context) error {
	version, err := c.src.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known && version == c.version {
		return nil
	}
	c.specs = make(map[string]store.TableSpec)
	c.version, c.known = version, true
	return nil
}

// Invalidate drops every cached spec.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs = make(map[string]store.TableSpec)
	c.listed = nil
	c.known = false
}

// Len returns how many tables the last Refresh detected.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listed)
}
