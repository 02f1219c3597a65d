package dataprovider

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ignaciocaff/dataprovider/internal/core"
	"github.com/ignaciocaff/dataprovider/pkg/model"
)

// ExecuteReader runs a procedure whose result set comes back directly and
// maps every row into a T. On a procedure failure the mapped rows are kept
// and the message is set; on an infrastructure failure the list is empty.
func ExecuteReader[T any](ctx context.Context, p *Provider, params *model.ParameterCollection, opts ...CallOption) (*model.ResponseList[T], error) {
	list, out, err := core.ExecuteReader[T](ctx, p.engine, params, callOptions(opts))
	if err != nil {
		return nil, err
	}
	resp := model.NewResponseList(list, out.ReturnMessage)
	fillResponse(&resp.BasicResponse, out)
	return resp, nil
}

// ExecuteStoredProcedure runs a procedure that returns its rows through an
// output cursor parameter. The first output holding a cursor is mapped;
// none yields an empty list.
func ExecuteStoredProcedure[T any](ctx context.Context, p *Provider, params *model.ParameterCollection, opts ...CallOption) (*model.ResponseList[T], error) {
	list, out, err := core.ExecuteStoredProcedure[T](ctx, p.engine, params, callOptions(opts))
	if err != nil {
		return nil, err
	}
	resp := model.NewResponseList(list, out.ReturnMessage)
	fillResponse(&resp.BasicResponse, out)
	return resp, nil
}

// ExecuteModel is ExecuteReader for a single record: Model is the first
// row, or nil when there is none.
func ExecuteModel[T any](ctx context.Context, p *Provider, params *model.ParameterCollection, opts ...CallOption) (*model.ResponseModel[T], error) {
	list, out, err := core.ExecuteReader[T](ctx, p.engine, params, callOptions(opts))
	if err != nil {
		return nil, err
	}
	var m *T
	if len(list) > 0 {
		m = &list[0]
	}
	resp := model.NewResponseModel(m, out.ReturnMessage)
	fillResponse(&resp.BasicResponse, out)
	return resp, nil
}

// Execute runs a procedure returning an output cursor and fills result,
// which must be a pointer to a slice of structs (or struct pointers), or a
// pointer to a single struct that receives the first row.
func (p *Provider) Execute(ctx context.Context, params *model.ParameterCollection, result any, opts ...CallOption) (*model.BasicResponse, error) {
	rv := reflect.ValueOf(result)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, fmt.Errorf("%w: result must be a non-nil pointer, got %T", ErrInvalidArgument, result)
	}
	target := rv.Elem()

	rt := target.Type()
	single := true
	if target.Kind() == reflect.Slice {
		rt = rt.Elem()
		single = false
	}

	records, out, err := p.engine.ExecuteCursor(ctx, params, callOptions(opts), rt)
	if err != nil {
		return nil, err
	}

	if single {
		if len(records) > 0 {
			target.Set(records[0])
		}
	} else {
		slice := reflect.MakeSlice(target.Type(), 0, len(records))
		slice = reflect.Append(slice, records...)
		target.Set(slice)
	}

	resp := model.NewBasicResponse(out.ReturnMessage)
	fillResponse(resp, out)
	return resp, nil
}
