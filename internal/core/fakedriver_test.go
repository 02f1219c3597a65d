package core

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// --- Minimal in-test driver -------------------------------------------------
//
// fakeServer scripts what a procedure call does: which output values it
// produces, which rows it returns and whether it fails. It records the
// arguments it received and how transactions ended.

type fakeServer struct {
	mu sync.Mutex

	outputs   map[string]any
	columns   []string
	rows      [][]driver.Value
	execErr   error
	queryErr  error
	commitErr error

	// onExec runs instead of the default behavior when set.
	onExec func(query string, args []driver.NamedValue) error
	// resultsFor picks the result set per query when set.
	resultsFor func(query string) ([]string, [][]driver.Value)

	queries   []string
	args      map[string]any
	commits   int
	rollbacks int
	cursors   []*fakeRows
}

func newFakeServer() *fakeServer {
	return &fakeServer{outputs: map[string]any{}, args: map[string]any{}}
}

func (s *fakeServer) run(query string, args []driver.NamedValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if s.onExec != nil {
		return s.onExec(query, args)
	}
	for _, a := range args {
		out, ok := a.Value.(sql.Out)
		if !ok {
			s.args[a.Name] = a.Value
			continue
		}
		if out.In {
			s.args[a.Name] = *out.Dest.(*any)
		}
		v, ok := s.outputs[a.Name]
		if !ok {
			continue
		}
		if cr, isCursor := v.(*fakeRows); isCursor {
			s.cursors = append(s.cursors, cr)
		}
		*out.Dest.(*any) = v
	}
	return nil
}

func (s *fakeServer) committed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *fakeServer) rolledBack() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

func (s *fakeServer) arg(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.args[name]
	return v, ok
}

type fakeConnector struct{ s *fakeServer }

func (c *fakeConnector) Connect(context.Context) (driver.Conn, error) { return &fakeConn{s: c.s}, nil }
func (c *fakeConnector) Driver() driver.Driver                        { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("fakeDriver.Open should not be called; use sql.OpenDB with connector")
}

type fakeConn struct{ s *fakeServer }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("prepare not supported") }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)           { return &fakeTx{s: c.s}, nil }

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return &fakeTx{s: c.s}, nil
}

// CheckNamedValue lets sql.Out through untouched.
func (c *fakeConn) CheckNamedValue(nv *driver.NamedValue) error {
	if _, ok := nv.Value.(sql.Out); ok {
		return nil
	}
	v, err := driver.DefaultParameterConverter.ConvertValue(nv.Value)
	if err != nil {
		return err
	}
	nv.Value = v
	return nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.s.run(query, args); err != nil {
		return nil, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.execErr != nil {
		return nil, c.s.execErr
	}
	return driver.RowsAffected(0), nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.s.run(query, args); err != nil {
		return nil, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.queryErr != nil {
		return nil, c.s.queryErr
	}
	if c.s.resultsFor != nil {
		cols, rows := c.s.resultsFor(query)
		return newFakeRows(cols, rows...), nil
	}
	return newFakeRows(c.s.columns, c.s.rows...), nil
}

type fakeTx struct{ s *fakeServer }

func (t *fakeTx) Commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.commits++
	return t.s.commitErr
}

func (t *fakeTx) Rollback() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.rollbacks++
	return nil
}

// fakeRows is both a driver.Rows and a Cursor.
type fakeRows struct {
	cols   []string
	data   [][]driver.Value
	pos    int
	err    error // returned instead of the row at errAt
	errAt  int
	closed bool
}

func newFakeRows(cols []string, data ...[]driver.Value) *fakeRows {
	return &fakeRows{cols: cols, data: data, errAt: -1}
}

func (r *fakeRows) Columns() []string { return r.cols }

func (r *fakeRows) Close() error {
	r.closed = true
	return nil
}

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.err != nil && r.pos == r.errAt {
		return r.err
	}
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

// --- Fake dialect -------------------------------------------------------------

// fakeDialect serves formal parameters from a static catalog and renders
// calls with named arguments so the fake server can see every name.
type fakeDialect struct {
	catalog map[string][]FormalParameter
	err     error
}

func (d *fakeDialect) Name() string       { return "fake" }
func (d *fakeDialect) DriverName() string { return "fake" }

func (d *fakeDialect) DeriveParameters(_ context.Context, _ sqlx.QueryerContext, procedure string) ([]*FormalParameter, error) {
	if d.err != nil {
		return nil, d.err
	}
	formals, ok := d.catalog[strings.ToUpper(procedure)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProcedureNotFound, procedure)
	}
	out := make([]*FormalParameter, len(formals))
	for i := range formals {
		p := formals[i]
		out[i] = &p
	}
	return out, nil
}

func (d *fakeDialect) Bind(cmd *Command) (string, []any, func()) {
	args := make([]any, 0, len(cmd.Parameters))
	names := make([]string, 0, len(cmd.Parameters))
	var reads []func()
	for _, p := range cmd.Parameters {
		names = append(names, p.Name)
		if !p.Direction.IsOutput() {
			args = append(args, sql.Named(p.Name, p.Value))
			continue
		}
		v := new(any)
		*v = p.Value
		args = append(args, sql.Named(p.Name, sql.Out{Dest: v, In: p.Direction == DirectionInputOutput}))
		reads = append(reads, func() { p.Value = *v })
	}
	text := "CALL " + cmd.Procedure + "(" + strings.Join(names, ", ") + ")"
	return text, args, func() {
		for _, r := range reads {
			r()
		}
	}
}

func (d *fakeDialect) OpenCursor(value any) (Cursor, bool, error) {
	if c, ok := value.(Cursor); ok {
		return c, true, nil
	}
	return nil, false, nil
}

// --- Helpers ------------------------------------------------------------------

type recordingObserver struct {
	mu       sync.Mutex
	calls    []Outcome
	shapes   []Shape
	bindings []string
	mappings []string
}

func (o *recordingObserver) CallFinished(shape Shape, outcome Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shapes = append(o.shapes, shape)
	o.calls = append(o.calls, outcome)
}

func (o *recordingObserver) BindingFailed(procedure string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bindings = append(o.bindings, procedure)
}

func (o *recordingObserver) MappingFailed(field string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mappings = append(o.mappings, field)
}

func newFakeDB(t *testing.T, s *fakeServer) *sqlx.DB {
	t.Helper()
	db := sqlx.NewDb(sql.OpenDB(&fakeConnector{s: s}), "fake")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// usersCatalog has GET_USERS(P_STATUS IN, RETURN_VALUE OUT) and
// SAVE_USER(P_ID IN, P_NAME IN, P_TOTAL IN OUT, P_CURSOR OUT, RETURN_VALUE OUT).
func usersCatalog() *fakeDialect {
	return &fakeDialect{catalog: map[string][]FormalParameter{
		"GET_USERS": {
			{Name: "P_STATUS", Direction: DirectionInput, DataType: "VARCHAR2", Position: 1},
			{Name: ReturnValueName, Direction: DirectionOutput, DataType: "VARCHAR2", Position: 2},
		},
		"SAVE_USER": {
			{Name: "P_ID", Direction: DirectionInput, DataType: "NUMBER", Position: 1},
			{Name: "P_NAME", Direction: DirectionInput, DataType: "VARCHAR2", Position: 2},
			{Name: "P_TOTAL", Direction: DirectionInputOutput, DataType: "NUMBER", Position: 3},
			{Name: "P_CURSOR", Direction: DirectionOutput, DataType: "REF CURSOR", Position: 4},
			{Name: ReturnValueName, Direction: DirectionOutput, DataType: "VARCHAR2", Position: 5},
		},
	}}
}

func newTestEngine(t *testing.T, s *fakeServer, d Dialect, obs Observer) *Engine {
	t.Helper()
	conns := NewConnectionManager(Settings{Driver: "fake"}, d, newFakeDB(t, s), zerolog.Nop())
	return NewEngine(conns, zerolog.Nop(), obs)
}
