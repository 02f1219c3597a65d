package dataprovider

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ignaciocaff/dataprovider/internal/core"
	"github.com/ignaciocaff/dataprovider/internal/metrics"
	"github.com/ignaciocaff/dataprovider/pkg/model"
)

// Errors returned by New and the Execute calls. Anything that goes wrong
// once a connection is open, a missing procedure included, is reported in
// the response's ResultMessage instead.
var (
	ErrConfiguration   = core.ErrConfiguration
	ErrInvalidArgument = core.ErrInvalidArgument
	ErrNotImplemented  = core.ErrNotImplemented
	ErrUnknownDriver   = core.ErrUnknownDriver
)

// Provider executes stored procedures against one configured database.
// It is safe for concurrent use; every call gets its own connection and
// transaction.
type Provider struct {
	engine *core.Engine
}

type options struct {
	log zerolog.Logger
	db  *sqlx.DB
	reg prometheus.Registerer
}

// Option configures a Provider.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithDB uses an already opened pool instead of opening one from the
// connection string. The pool is not closed by Provider.Close.
func WithDB(db *sqlx.DB) Option {
	return func(o *options) { o.db = db }
}

// WithMetrics registers the provider's Prometheus metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// New creates a Provider for cfg. It fails with ErrUnknownDriver when no
// dialect is registered for cfg.Driver. The database is not contacted.
func New(cfg Config, opts ...Option) (*Provider, error) {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	settings := cfg.settings()
	dialect, err := settings.Dialect()
	if err != nil {
		return nil, err
	}

	var obs core.Observer
	if o.reg != nil {
		c, err := metrics.NewCollector(o.reg)
		if err != nil {
			return nil, fmt.Errorf("dataprovider: register metrics: %w", err)
		}
		obs = c
	}

	log := o.log.With().Str("component", "dataprovider").Str("dialect", dialect.Name()).Logger()
	conns := core.NewConnectionManager(settings, dialect, o.db, log)
	return &Provider{engine: core.NewEngine(conns, log, obs)}, nil
}

// Close closes the connection pool if the provider opened it.
func (p *Provider) Close() error {
	return p.engine.Close()
}

// CallOption tunes a single call.
type CallOption func(*core.CallOptions)

// WithIdentityContext requests caller identity propagation. It is not
// supported and makes the call fail with ErrNotImplemented.
func WithIdentityContext() CallOption {
	return func(o *core.CallOptions) { o.RequireIdentityContext = true }
}

func callOptions(opts []CallOption) core.CallOptions {
	var o core.CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ExecuteBasic runs a procedure that returns no rows. The response carries
// the return message and the declared outputs.
func (p *Provider) ExecuteBasic(ctx context.Context, params *model.ParameterCollection, opts ...CallOption) (*model.BasicResponse, error) {
	out, err := p.engine.ExecuteBasic(ctx, params, callOptions(opts))
	if err != nil {
		return nil, err
	}
	resp := model.NewBasicResponse(out.ReturnMessage)
	fillResponse(resp, out)
	return resp, nil
}

func fillResponse(resp *model.BasicResponse, out core.Outcome) {
	resp.ResultCode = string(out.Status)
	resp.ResultMessage = out.ReturnMessage
	if out.Outputs != nil {
		resp.Outputs = out.Outputs
	}
}
