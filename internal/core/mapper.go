package core

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx/reflectx"
	"github.com/rs/zerolog"
)

// RowMapper turns cursors into records. Fields are matched to columns by
// uppercased name, or by an `oracle:"COLUMN"` tag.
type RowMapper struct {
	fields *reflectx.Mapper
	log    zerolog.Logger
	obs    Observer
}

// NewRowMapper creates a RowMapper. A nil obs disables failure counting.
func NewRowMapper(log zerolog.Logger, obs Observer) *RowMapper {
	if obs == nil {
		obs = nopObserver{}
	}
	return &RowMapper{
		fields: reflectx.NewMapperTagFunc("oracle", strings.ToUpper, strings.ToUpper),
		log:    log,
		obs:    obs,
	}
}

type column struct {
	index int
	name  string
	field *reflectx.FieldInfo
}

// checkRecordType accepts structs and pointers to structs.
func checkRecordType(rt reflect.Type) error {
	if rt == nil {
		return fmt.Errorf("%w: record type is nil", ErrInvalidArgument)
	}
	if reflectx.Deref(rt).Kind() != reflect.Struct || (rt.Kind() == reflect.Pointer && rt.Elem().Kind() == reflect.Pointer) {
		return fmt.Errorf("%w: record type %s is not a struct", ErrInvalidArgument, rt)
	}
	return nil
}

// Map drains cur into records of type rt, one per row. The cursor is
// closed before Map returns, whatever the outcome. A field that cannot be
// assigned is logged and left at its zero value.
func (m *RowMapper) Map(cur Cursor, rt reflect.Type) (out []reflect.Value, err error) {
	defer func() {
		if cerr := cur.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := checkRecordType(rt); err != nil {
		return nil, err
	}
	base := reflectx.Deref(rt)

	cols := cur.Columns()
	plan := m.plan(base, cols)
	dest := make([]driver.Value, len(cols))

	out = make([]reflect.Value, 0)
	for {
		if err := cur.Next(dest); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		rec := reflect.New(base)
		m.fill(rec.Elem(), plan, dest)
		if rt.Kind() == reflect.Pointer {
			out = append(out, rec)
		} else {
			out = append(out, rec.Elem())
		}
	}
}

// mapRows is Map for a static record type.
func mapRows[T any](m *RowMapper, cur Cursor) ([]T, error) {
	vals, err := m.Map(cur, reflect.TypeOf((*T)(nil)).Elem())
	return collectRecords[T](vals), err
}

func (m *RowMapper) plan(base reflect.Type, cols []string) []column {
	tm := m.fields.TypeMap(base)
	plan := make([]column, 0, len(cols))
	for i, c := range cols {
		key := columnKey(c)
		fi, ok := tm.Names[key]
		if !ok || fi.Embedded {
			continue
		}
		plan = append(plan, column{index: i, name: c, field: fi})
	}
	return plan
}

func (m *RowMapper) fill(rec reflect.Value, plan []column, dest []driver.Value) {
	for _, c := range plan {
		if err := assignField(rec, c.field.Index, dest[c.index]); err != nil {
			m.log.Warn().
				Err(err).
				Str("column", c.name).
				Str("field", c.field.Path).
				Msg("mapping failure, field left unset")
			m.obs.MappingFailed(c.field.Path)
		}
	}
}

// assignField writes src into the field of rec at index. NULL and empty
// values touch nothing, so pointer fields on the way stay nil.
func assignField(rec reflect.Value, index []int, src driver.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("assign panicked: %v", r)
		}
	}()
	src = normalizeSource(src)
	if src == nil || len(index) == 0 {
		return nil
	}
	v := rec
	for _, i := range index[:len(index)-1] {
		v = reflect.Indirect(v).Field(i)
		if v.Kind() == reflect.Pointer && v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
	}
	return assign(reflect.Indirect(v).Field(index[len(index)-1]), src)
}

// columnKey strips identifier quoting and uppercases the column name.
func columnKey(s string) string {
	if l := len(s); l >= 2 {
		switch s[0] {
		case '"':
			if s[l-1] == '"' {
				s = s[1 : l-1]
			}
		case '`':
			if s[l-1] == '`' {
				s = s[1 : l-1]
			}
		case '[':
			if s[l-1] == ']' {
				s = s[1 : l-1]
			}
		}
	}
	return strings.ToUpper(s)
}
