package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ignaciocaff/dataprovider/pkg/model"
)

var errUnknownParameter = errors.New("no formal parameter with that name")

// Command is one procedure call: the derived formal parameters and the
// values bound to them. It lives for exactly one orchestrated call.
type Command struct {
	Procedure  string
	Parameters []*FormalParameter

	failures []BindingFailure
	handles  []*handle
}

// BuildCommand validates params and returns an unbound command.
func BuildCommand(params *model.ParameterCollection) (*Command, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: parameter collection is nil", ErrInvalidArgument)
	}
	name := strings.TrimSpace(params.Procedure)
	if name == "" {
		return nil, fmt.Errorf("%w: procedure name is empty", ErrInvalidArgument)
	}
	return &Command{Procedure: name}, nil
}

// BindParameters derives the procedure's formal parameters through d and
// assigns the caller's values to them by name. A derivation error aborts
// the call. An input that cannot be bound is recorded as a BindingFailure
// and its formal parameter, if any, is left NULL.
func BindParameters(ctx context.Context, d Dialect, q sqlx.QueryerContext, cmd *Command, params *model.ParameterCollection) error {
	formals, err := d.DeriveParameters(ctx, q, cmd.Procedure)
	if err != nil {
		return fmt.Errorf("derive parameters of %s: %w", cmd.Procedure, err)
	}
	cmd.Parameters = formals

	for _, in := range params.Inputs {
		p, ok := cmd.Parameter(in.Name)
		if !ok {
			cmd.failures = append(cmd.failures, BindingFailure{Name: in.Name, Err: errUnknownParameter})
			continue
		}
		p.Direction = DirectionInput
		v, err := bindable(in.Value)
		if err != nil {
			p.Value = nil
			cmd.failures = append(cmd.failures, BindingFailure{Name: in.Name, Err: err})
			continue
		}
		p.Value = v
	}

	for _, out := range params.Outputs {
		if out.Value == nil {
			continue
		}
		p, ok := cmd.Parameter(out.Name)
		if !ok || p.Direction != DirectionInputOutput {
			continue
		}
		if v, err := bindable(out.Value); err == nil {
			p.Value = v
		}
	}
	return nil
}

// Parameter finds a formal parameter by name, ignoring case and a leading '@'.
func (c *Command) Parameter(name string) (*FormalParameter, bool) {
	key := normalizeName(name)
	if key == "" {
		return nil, false
	}
	for _, p := range c.Parameters {
		if normalizeName(p.Name) == key {
			return p, true
		}
	}
	return nil, false
}

// BindingFailures lists the inputs that could not be bound.
func (c *Command) BindingFailures() []BindingFailure {
	return c.failures
}

// ReturnMessage reads RETURN_VALUE. A missing or NULL parameter means
// success.
func (c *Command) ReturnMessage() (msg string) {
	defer func() {
		if recover() != nil {
			msg = ""
		}
	}()
	if c == nil {
		return ""
	}
	p, ok := c.Parameter(ReturnValueName)
	if !ok || p.Value == nil {
		return ""
	}
	if s, isStr := p.Value.(string); isStr {
		return trimTrailingWhitespace(s)
	}
	return asString(p.Value)
}

// Outputs resolves the declared outputs against the executed command.
// Entries with an empty name are skipped; NULL, unknown and result set
// parameters come back as "".
func (c *Command) Outputs(declared []model.Parameter) []model.Parameter {
	out := make([]model.Parameter, 0, len(declared))
	for _, d := range declared {
		if d.Name == "" {
			continue
		}
		var v any = ""
		if c != nil {
			if p, ok := c.Parameter(d.Name); ok && p.Value != nil && !isHandle(p.Value) {
				v = p.Value
			}
		}
		out = append(out, model.Parameter{Name: d.Name, Value: v})
	}
	return out
}

// holdOutputs takes ownership of the result set handles the server left
// in output parameters, so Close releases them whether or not they are
// ever mapped.
func (c *Command) holdOutputs() {
	for _, p := range c.Parameters {
		if !p.Direction.IsOutput() {
			continue
		}
		if h, ok := p.Value.(io.Closer); ok {
			c.hold(h)
		}
	}
}

// track registers a cursor opened from the output value raw. Closing the
// returned cursor closes raw when it is a handle, cur otherwise.
func (c *Command) track(cur Cursor, raw any) Cursor {
	h, ok := raw.(io.Closer)
	if !ok {
		h = cur
	}
	return &trackedCursor{Cursor: cur, h: c.hold(h)}
}

func (c *Command) hold(x io.Closer) *handle {
	t := reflect.TypeOf(x)
	for _, h := range c.handles {
		if reflect.TypeOf(h.c) == t && t.Comparable() && h.c == x {
			return h
		}
	}
	h := &handle{c: x}
	c.handles = append(c.handles, h)
	return h
}

// Close releases every handle held by the command, each at most once.
func (c *Command) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.handles) - 1; i >= 0; i-- {
		errs = append(errs, c.handles[i].Close())
	}
	c.handles = nil
	return errors.Join(errs...)
}

func isHandle(v any) bool {
	_, ok := v.(io.Closer)
	return ok
}

type handle struct {
	c      io.Closer
	closed bool
}

// Close closes the handle once. A handle the driver never filled in can
// panic on Close; that is reported as an error.
func (h *handle) Close() (err error) {
	if h.closed {
		return nil
	}
	h.closed = true
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close %T: %v", h.c, r)
		}
	}()
	return h.c.Close()
}

type trackedCursor struct {
	Cursor
	h *handle
}

func (c *trackedCursor) Close() error {
	return c.h.Close()
}
