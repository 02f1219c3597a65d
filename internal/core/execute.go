package core

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ignaciocaff/dataprovider/pkg/model"
)

// Shape is the kind of call being orchestrated.
type Shape string

const (
	ShapeReader          Shape = "reader"
	ShapeBasic           Shape = "basic"
	ShapeStoredProcedure Shape = "stored_procedure"
)

// Status classifies an Outcome.
type Status string

const (
	StatusSuccess               Status = "success"
	StatusProcedureFailure      Status = "procedure_failure"
	StatusInfrastructureFailure Status = "infrastructure_failure"
)

// Outcome is what a call reports back besides its records.
type Outcome struct {
	Status        Status
	ReturnMessage string
	Outputs       []model.Parameter
}

// CallOptions tune a single call.
type CallOptions struct {
	// RequireIdentityContext asks for caller identity propagation, which is
	// not supported; such calls fail with ErrNotImplemented.
	RequireIdentityContext bool
}

type stage int

const (
	stageIdle stage = iota
	stageConnectionOpen
	stageCommandBound
	stageParametersBound
	stageExecuted
	stageRowsMapped
	stageOutcomeResolved
	stageReleased
)

func (s stage) String() string {
	switch s {
	case stageIdle:
		return "idle"
	case stageConnectionOpen:
		return "connection_open"
	case stageCommandBound:
		return "command_bound"
	case stageParametersBound:
		return "parameters_bound"
	case stageExecuted:
		return "executed"
	case stageRowsMapped:
		return "rows_mapped"
	case stageOutcomeResolved:
		return "outcome_resolved"
	case stageReleased:
		return "released"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Engine sequences connection, binding, execution, mapping, transaction
// resolution and release for the three call shapes.
type Engine struct {
	conns   *ConnectionManager
	dialect Dialect
	mapper  *RowMapper
	log     zerolog.Logger
	obs     Observer
}

// NewEngine creates an Engine. A nil obs disables metrics.
func NewEngine(conns *ConnectionManager, log zerolog.Logger, obs Observer) *Engine {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Engine{
		conns:   conns,
		dialect: conns.dialect,
		mapper:  NewRowMapper(log, obs),
		log:     log,
		obs:     obs,
	}
}

// Close closes the connection pool if the engine opened it.
func (e *Engine) Close() error {
	return e.conns.Close()
}

type call struct {
	ctx    context.Context
	params *model.ParameterCollection
	conn   *Connection
	cmd    *Command
	stage  stage
	log    zerolog.Logger
}

// run drives the state machine shared by all shapes. body executes the
// statement and maps rows; it runs after parameters are bound. Argument,
// configuration and capability errors are returned; every later failure
// ends up in Outcome.ReturnMessage.
func (e *Engine) run(ctx context.Context, shape Shape, params *model.ParameterCollection, opts CallOptions, body func(c *call) error) (Outcome, error) {
	start := time.Now()
	cmd, err := BuildCommand(params)
	if err != nil {
		return Outcome{}, err
	}

	c := &call{
		ctx:    ctx,
		params: params,
		cmd:    cmd,
		log: e.log.With().
			Str("call", uuid.NewString()).
			Str("procedure", cmd.Procedure).
			Str("shape", string(shape)).
			Logger(),
	}

	conn, err := e.conns.Open(ctx, opts.RequireIdentityContext)
	if err != nil {
		if isFatal(err) {
			return Outcome{}, err
		}
		c.log.Error().Err(err).Stringer("stage", c.stage).Msg("open connection failed")
		out := Outcome{
			Status:        StatusInfrastructureFailure,
			ReturnMessage: err.Error(),
			Outputs:       cmd.Outputs(params.Outputs),
		}
		e.obs.CallFinished(shape, out, time.Since(start))
		return out, nil
	}
	c.conn = conn
	c.stage = stageConnectionOpen

	defer func() {
		rerr := conn.Release(cmd)
		c.stage = stageReleased
		if rerr != nil {
			c.log.Error().Err(rerr).Stringer("stage", c.stage).Msg("release failed")
		}
	}()

	failure := e.execute(c, body)

	returnMsg := cmd.ReturnMessage()
	if rerr := conn.Resolve(returnMsg); rerr != nil {
		c.log.Error().Err(rerr).Str("return_message", returnMsg).Msg("resolve transaction failed")
		if failure == nil && returnMsg == "" {
			failure = fmt.Errorf("commit: %w", rerr)
		}
	}
	c.stage = stageOutcomeResolved

	out := Outcome{
		Status:        StatusSuccess,
		ReturnMessage: returnMsg,
		Outputs:       cmd.Outputs(params.Outputs),
	}
	switch {
	case failure != nil:
		out.Status = StatusInfrastructureFailure
		out.ReturnMessage = failure.Error()
	case returnMsg != "":
		out.Status = StatusProcedureFailure
	}
	e.obs.CallFinished(shape, out, time.Since(start))
	return out, nil
}

// execute binds parameters and runs body, turning errors and panics into
// a single failure value.
func (e *Engine) execute(c *call, body func(c *call) error) (failure error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Stringer("stage", c.stage).Msg("call panicked")
			failure = fmt.Errorf("%v", r)
		}
	}()

	c.stage = stageCommandBound
	if err := BindParameters(c.ctx, e.dialect, c.conn.Tx(), c.cmd, c.params); err != nil {
		c.log.Error().Err(err).Stringer("stage", c.stage).Msg("parameter derivation failed")
		return err
	}
	for _, f := range c.cmd.BindingFailures() {
		c.log.Warn().Err(f.Err).Str("parameter", f.Name).Msg("binding failure, parameter left NULL")
		e.obs.BindingFailed(c.cmd.Procedure)
	}
	c.stage = stageParametersBound

	if err := body(c); err != nil {
		c.log.Error().Err(err).Stringer("stage", c.stage).Msg("call failed")
		return err
	}
	return nil
}

// Query runs the procedure as a query and maps its result set into
// records of type rt. Records are only returned when nothing failed.
func (e *Engine) Query(ctx context.Context, params *model.ParameterCollection, opts CallOptions, rt reflect.Type) ([]reflect.Value, Outcome, error) {
	if err := checkRecordType(rt); err != nil {
		return nil, Outcome{}, err
	}
	var records []reflect.Value
	out, err := e.run(ctx, ShapeReader, params, opts, func(c *call) error {
		text, args, collect := e.dialect.Bind(c.cmd)
		rows, err := c.conn.Tx().QueryContext(c.ctx, text, args...)
		if err != nil {
			return err
		}
		c.stage = stageExecuted

		recs, mapErr := e.mapper.Map(RowsCursor(rows), rt)
		collect()
		c.cmd.holdOutputs()
		if mapErr != nil {
			return mapErr
		}
		c.stage = stageRowsMapped
		records = recs
		return nil
	})
	if err != nil {
		return nil, out, err
	}
	if out.Status == StatusInfrastructureFailure {
		records = nil
	}
	return records, out, nil
}

// ExecuteBasic runs the procedure without expecting rows.
func (e *Engine) ExecuteBasic(ctx context.Context, params *model.ParameterCollection, opts CallOptions) (Outcome, error) {
	return e.run(ctx, ShapeBasic, params, opts, func(c *call) error {
		text, args, collect := e.dialect.Bind(c.cmd)
		if _, err := c.conn.Tx().ExecContext(c.ctx, text, args...); err != nil {
			return err
		}
		collect()
		c.cmd.holdOutputs()
		c.stage = stageExecuted
		return nil
	})
}

// ExecuteCursor runs the procedure without expecting rows and maps the
// first output parameter holding a cursor into records of type rt. No
// cursor means no records.
func (e *Engine) ExecuteCursor(ctx context.Context, params *model.ParameterCollection, opts CallOptions, rt reflect.Type) ([]reflect.Value, Outcome, error) {
	if err := checkRecordType(rt); err != nil {
		return nil, Outcome{}, err
	}
	var records []reflect.Value
	out, err := e.run(ctx, ShapeStoredProcedure, params, opts, func(c *call) error {
		text, args, collect := e.dialect.Bind(c.cmd)
		if _, err := c.conn.Tx().ExecContext(c.ctx, text, args...); err != nil {
			return err
		}
		collect()
		c.cmd.holdOutputs()
		c.stage = stageExecuted

		for _, p := range c.cmd.Parameters {
			if !p.Direction.IsOutput() || p.Value == nil {
				continue
			}
			cur, ok, err := e.dialect.OpenCursor(p.Value)
			if err != nil {
				return fmt.Errorf("open cursor %s: %w", p.Name, err)
			}
			if !ok {
				continue
			}
			recs, err := e.mapper.Map(c.cmd.track(cur, p.Value), rt)
			p.Value = nil
			if err != nil {
				return err
			}
			records = recs
			break
		}
		c.stage = stageRowsMapped
		return nil
	})
	if err != nil {
		return nil, out, err
	}
	if out.Status == StatusInfrastructureFailure {
		records = nil
	}
	return records, out, nil
}

// ExecuteReader is Query for a static record type. The returned slice is
// never nil.
func ExecuteReader[T any](ctx context.Context, e *Engine, params *model.ParameterCollection, opts CallOptions) ([]T, Outcome, error) {
	vals, out, err := e.Query(ctx, params, opts, reflect.TypeOf((*T)(nil)).Elem())
	return collectRecords[T](vals), out, err
}

// ExecuteStoredProcedure is ExecuteCursor for a static record type. The
// returned slice is never nil.
func ExecuteStoredProcedure[T any](ctx context.Context, e *Engine, params *model.ParameterCollection, opts CallOptions) ([]T, Outcome, error) {
	vals, out, err := e.ExecuteCursor(ctx, params, opts, reflect.TypeOf((*T)(nil)).Elem())
	return collectRecords[T](vals), out, err
}

func collectRecords[T any](vals []reflect.Value) []T {
	out := make([]T, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.Interface().(T))
	}
	return out
}
