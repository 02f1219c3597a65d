package model

// BasicResponse is the status envelope of every call. An empty
// ResultMessage means success.
type BasicResponse struct {
	ResultCode    string
	ResultMessage string

	// Outputs holds the declared output parameters with their values after
	// execution, in declaration order. NULL values come back as "".
	Outputs []Parameter
}

// NewBasicResponse returns an envelope carrying msg.
func NewBasicResponse(msg string) *BasicResponse {
	return &BasicResponse{ResultMessage: msg, Outputs: []Parameter{}}
}

// Result reports whether the call succeeded.
func (r *BasicResponse) Result() bool {
	return r.ResultMessage == ""
}

// Output returns the value of the named output parameter.
func (r *BasicResponse) Output(name string) (any, bool) {
	for _, p := range r.Outputs {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// ResponseList carries the records mapped from a result set. List is never
// nil; a failed call returns an empty list and a non-empty message.
type ResponseList[T any] struct {
	BasicResponse
	List []T
}

// NewResponseList builds a ResponseList.
func NewResponseList[T any](list []T, msg string) *ResponseList[T] {
	if list == nil {
		list = []T{}
	}
	return &ResponseList[T]{
		BasicResponse: BasicResponse{ResultMessage: msg, Outputs: []Parameter{}},
		List:          list,
	}
}

// ResponseModel carries a single record. Model is nil when the call
// produced no rows.
type ResponseModel[T any] struct {
	BasicResponse
	Model *T
}

// NewResponseModel builds a ResponseModel.
func NewResponseModel[T any](m *T, msg string) *ResponseModel[T] {
	return &ResponseModel[T]{
		BasicResponse: BasicResponse{ResultMessage: msg, Outputs: []Parameter{}},
		Model:         m,
	}
}
