package model

// Parameter is a named stored procedure argument. A nil Value binds as
// database NULL.
type Parameter struct {
	Name  string
	Value any
}

// Param builds a Parameter.
func Param(name string, value any) Parameter {
	return Parameter{Name: name, Value: value}
}

// ParameterCollection describes one stored procedure invocation.
// Inputs are bound by name, so their order only matters for iteration.
// Outputs start as placeholders; resolved values come back on the response,
// the collection itself is never written to.
type ParameterCollection struct {
	// Procedure is the routine name, optionally qualified (OWNER.PACKAGE.PROC).
	Procedure string
	Inputs    []Parameter
	Outputs   []Parameter
}

// NewParameterCollection creates a collection for procedure with the given inputs.
func NewParameterCollection(procedure string, inputs ...Parameter) *ParameterCollection {
	return &ParameterCollection{
		Procedure: procedure,
		Inputs:    inputs,
		Outputs:   []Parameter{},
	}
}

// In appends an input binding.
func (c *ParameterCollection) In(name string, value any) *ParameterCollection {
	c.Inputs = append(c.Inputs, Parameter{Name: name, Value: value})
	return c
}

// Out declares an output parameter. value is sent along when the formal
// parameter is IN OUT.
func (c *ParameterCollection) Out(name string, value any) *ParameterCollection {
	c.Outputs = append(c.Outputs, Parameter{Name: name, Value: value})
	return c
}
