package core

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// ReturnValueName is the output parameter that carries the procedure's
// return message. Empty means success.
const ReturnValueName = "RETURN_VALUE"

// Direction of a formal parameter.
type Direction int

const (
	DirectionInput Direction = iota + 1
	DirectionOutput
	DirectionInputOutput
	DirectionReturnValue
)

func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "IN"
	case DirectionOutput:
		return "OUT"
	case DirectionInputOutput:
		return "IN/OUT"
	case DirectionReturnValue:
		return "RETURN"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// IsOutput reports whether the parameter receives a value from the server.
func (d Direction) IsOutput() bool {
	return d == DirectionOutput || d == DirectionInputOutput || d == DirectionReturnValue
}

// FormalParameter is one derived procedure argument together with the value
// bound to it. After execution Value holds the output value for output
// directions (nil for NULL).
type FormalParameter struct {
	Name      string
	Direction Direction
	DataType  string
	Size      int
	Position  int
	Value     any
}

// BindingFailure records an input that could not be bound.
type BindingFailure struct {
	Name string
	Err  error
}

func (f BindingFailure) Error() string {
	return fmt.Sprintf("bind %s: %v", f.Name, f.Err)
}

func normalizeName(name string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

// bindable converts v into a value every database/sql driver accepts, or
// fails when v has no driver representation.
func bindable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if _, ok := v.(driver.Valuer); ok {
		return v, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}
