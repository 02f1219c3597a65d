package core

import "time"

// Observer receives call and failure events, typically to feed metrics.
type Observer interface {
	CallFinished(shape Shape, outcome Outcome, elapsed time.Duration)
	BindingFailed(procedure string)
	MappingFailed(field string)
}

type nopObserver struct{}

func (nopObserver) CallFinished(Shape, Outcome, time.Duration) {}
func (nopObserver) BindingFailed(string)                       {}
func (nopObserver) MappingFailed(string)                       {}
