// Package metrics exports call and failure counters for the data provider.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ignaciocaff/dataprovider/internal/core"
)

// Collector implements core.Observer on top of Prometheus vectors.
type Collector struct {
	calls           *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	bindingFailures *prometheus.CounterVec
	mappingFailures *prometheus.CounterVec
}

var _ core.Observer = (*Collector)(nil)

// NewCollector registers the provider metrics with reg. Registering twice
// against the same registry reuses the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		// calls counts finished calls by shape and outcome status.
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataprovider_calls_total",
				Help: "Total number of stored procedure calls by shape and outcome",
			},
			[]string{"shape", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dataprovider_call_duration_seconds",
				Help:    "Stored procedure call latency, connection to release",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"shape"},
		),
		bindingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataprovider_binding_failures_total",
				Help: "Input parameters that could not be bound and were sent as NULL",
			},
			[]string{"procedure"},
		),
		mappingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataprovider_mapping_failures_total",
				Help: "Record fields left unset because the column value could not be assigned",
			},
			[]string{"field"},
		),
	}

	var err error
	if c.calls, err = register(reg, c.calls); err != nil {
		return nil, err
	}
	if c.duration, err = register(reg, c.duration); err != nil {
		return nil, err
	}
	if c.bindingFailures, err = register(reg, c.bindingFailures); err != nil {
		return nil, err
	}
	if c.mappingFailures, err = register(reg, c.mappingFailures); err != nil {
		return nil, err
	}
	return c, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (c *Collector) CallFinished(shape core.Shape, outcome core.Outcome, elapsed time.Duration) {
	c.calls.WithLabelValues(string(shape), string(outcome.Status)).Inc()
	c.duration.WithLabelValues(string(shape)).Observe(elapsed.Seconds())
}

func (c *Collector) BindingFailed(procedure string) {
	c.bindingFailures.WithLabelValues(procedure).Inc()
}

func (c *Collector) MappingFailed(field string) {
	c.mappingFailures.WithLabelValues(field).Inc()
}
