package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Dialect adapts the engine to one database driver: how procedure
// signatures are derived, how a call is rendered, and how an output cursor
// handle is opened.
type Dialect interface {
	// Name is the key used in Settings.Driver.
	Name() string

	// DriverName is the database/sql driver name passed to sqlx.Open.
	DriverName() string

	// DeriveParameters returns the formal parameters of procedure in
	// position order.
	DeriveParameters(ctx context.Context, q sqlx.QueryerContext, procedure string) ([]*FormalParameter, error)

	// Bind renders the call text and arguments for cmd. collect copies the
	// output values into cmd's parameters once the statement has run.
	Bind(cmd *Command) (text string, args []any, collect func())

	// OpenCursor returns a Cursor if value is a result set handle.
	OpenCursor(value any) (Cursor, bool, error)
}

var (
	dialectsMu sync.RWMutex
	dialects   = make(map[string]Dialect)
)

// RegisterDialect makes d available under d.Name(). Dialects register
// themselves in init.
func RegisterDialect(d Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	dialects[d.Name()] = d
}

// LookupDialect returns the dialect registered under name.
func LookupDialect(name string) (Dialect, error) {
	dialectsMu.RLock()
	d, ok := dialects[name]
	dialectsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownDriver, name, RegisteredDialects())
	}
	return d, nil
}

// RegisteredDialects lists registered dialect names, sorted.
func RegisteredDialects() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
