package core

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	ora "github.com/sijms/go-ora/v2"
)

const oracleDefaultOutSize = 4000

const oracleArgumentsQuery = `SELECT ARGUMENT_NAME, IN_OUT, DATA_TYPE, DATA_LENGTH, POSITION
FROM ALL_ARGUMENTS
WHERE OBJECT_NAME = :1
  AND DATA_LEVEL = 0
  AND NVL(OVERLOAD, '1') = '1'
  AND %s
ORDER BY POSITION`

func init() {
	RegisterDialect(NewOracle("oracle", "oracle", goOraOut))
}

// OutArgFunc builds the driver argument that receives an output parameter
// and a function reading the received value back (nil for NULL).
type OutArgFunc func(p *FormalParameter) (arg any, read func() any)

// Oracle renders PL/SQL anonymous blocks and derives signatures from
// ALL_ARGUMENTS. The output argument strategy depends on the driver.
type Oracle struct {
	name       string
	driverName string
	outArg     OutArgFunc
}

// NewOracle creates an Oracle dialect for a database/sql driver.
func NewOracle(name, driverName string, outArg OutArgFunc) *Oracle {
	return &Oracle{name: name, driverName: driverName, outArg: outArg}
}

func (o *Oracle) Name() string       { return o.name }
func (o *Oracle) DriverName() string { return o.driverName }

type oracleArgument struct {
	Name     sql.NullString `db:"ARGUMENT_NAME"`
	InOut    sql.NullString `db:"IN_OUT"`
	DataType sql.NullString `db:"DATA_TYPE"`
	Length   sql.NullInt64  `db:"DATA_LENGTH"`
	Position int64          `db:"POSITION"`
}

// DeriveParameters reads the procedure signature. procedure may be
// PROC, PACKAGE.PROC (or OWNER.PROC) or OWNER.PACKAGE.PROC.
func (o *Oracle) DeriveParameters(ctx context.Context, q sqlx.QueryerContext, procedure string) ([]*FormalParameter, error) {
	query, args, err := oracleArgumentsFilter(procedure)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []*FormalParameter
	found := false
	for rows.Next() {
		var a oracleArgument
		if err := rows.StructScan(&a); err != nil {
			return nil, err
		}
		found = true
		if !a.DataType.Valid {
			// argument-less routines report a single placeholder row
			continue
		}
		p := &FormalParameter{
			Name:      a.Name.String,
			Direction: oracleDirection(a.InOut.String),
			DataType:  strings.ToUpper(a.DataType.String),
			Size:      int(a.Length.Int64),
			Position:  int(a.Position),
		}
		if a.Position == 0 && !a.Name.Valid {
			p.Name = ReturnValueName
			p.Direction = DirectionReturnValue
		}
		params = append(params, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrProcedureNotFound, procedure)
	}
	return params, nil
}

func oracleArgumentsFilter(procedure string) (string, []any, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(procedure)), ".")
	for _, p := range parts {
		if p == "" {
			return "", nil, fmt.Errorf("%w: malformed procedure name %q", ErrInvalidArgument, procedure)
		}
	}
	const currentSchema = "SYS_CONTEXT('USERENV', 'CURRENT_SCHEMA')"

	switch len(parts) {
	case 1:
		filter := "PACKAGE_NAME IS NULL AND OWNER = " + currentSchema
		return fmt.Sprintf(oracleArgumentsQuery, filter), []any{parts[0]}, nil
	case 2:
		filter := "((PACKAGE_NAME = :2 AND OWNER = " + currentSchema + ") OR (PACKAGE_NAME IS NULL AND OWNER = :3))"
		return fmt.Sprintf(oracleArgumentsQuery, filter), []any{parts[1], parts[0], parts[0]}, nil
	case 3:
		filter := "OWNER = :2 AND PACKAGE_NAME = :3"
		return fmt.Sprintf(oracleArgumentsQuery, filter), []any{parts[2], parts[0], parts[1]}, nil
	default:
		return "", nil, fmt.Errorf("%w: malformed procedure name %q", ErrInvalidArgument, procedure)
	}
}

func oracleDirection(inOut string) Direction {
	switch strings.ToUpper(strings.TrimSpace(inOut)) {
	case "OUT":
		return DirectionOutput
	case "IN/OUT":
		return DirectionInputOutput
	default:
		return DirectionInput
	}
}

// Bind renders `BEGIN proc(:1, :2); END;`, or `BEGIN :1 := func(:2); END;`
// when the first parameter is a function result.
func (o *Oracle) Bind(cmd *Command) (string, []any, func()) {
	var b strings.Builder
	args := make([]any, 0, len(cmd.Parameters))
	var reads []func()

	n := 0
	placeholder := func() string {
		n++
		return ":" + strconv.Itoa(n)
	}
	bindOne := func(p *FormalParameter) {
		if !p.Direction.IsOutput() {
			args = append(args, p.Value)
			return
		}
		arg, read := o.outArg(p)
		args = append(args, arg)
		reads = append(reads, func() { p.Value = read() })
	}

	params := cmd.Parameters
	b.WriteString("BEGIN ")
	if len(params) > 0 && params[0].Direction == DirectionReturnValue {
		b.WriteString(placeholder())
		b.WriteString(" := ")
		bindOne(params[0])
		params = params[1:]
	}
	b.WriteString(cmd.Procedure)
	b.WriteString("(")
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder())
		bindOne(p)
	}
	b.WriteString("); END;")

	collect := func() {
		for _, r := range reads {
			r()
		}
	}
	return b.String(), args, collect
}

// OpenCursor accepts go-ora ref cursors and any driver.Rows handle.
func (o *Oracle) OpenCursor(value any) (Cursor, bool, error) {
	switch v := value.(type) {
	case *ora.RefCursor:
		ds, err := v.Query()
		if err != nil {
			return nil, true, err
		}
		return ds, true, nil
	case driver.Rows:
		return v, true, nil
	}
	return nil, false, nil
}

type oracleKind int

const (
	oracleString oracleKind = iota
	oracleInteger
	oracleNumber
	oracleTime
	oracleCursor
)

func oracleKindOf(dataType string) oracleKind {
	switch dt := strings.ToUpper(dataType); {
	case dt == "REF CURSOR":
		return oracleCursor
	case dt == "INTEGER" || dt == "PLS_INTEGER" || dt == "BINARY_INTEGER":
		return oracleInteger
	case dt == "NUMBER" || dt == "FLOAT" || strings.HasPrefix(dt, "BINARY_"):
		return oracleNumber
	case dt == "DATE" || strings.HasPrefix(dt, "TIMESTAMP"):
		return oracleTime
	default:
		return oracleString
	}
}

func outSize(p *FormalParameter) int {
	if p.Size > 0 {
		return p.Size
	}
	return oracleDefaultOutSize
}

// goOraOut binds outputs with go_ora.Out so string buffers get a size.
func goOraOut(p *FormalParameter) (any, func() any) {
	in := p.Direction == DirectionInputOutput
	switch oracleKindOf(p.DataType) {
	case oracleCursor:
		cur := new(ora.RefCursor)
		return sql.Out{Dest: cur}, func() any { return cur }
	case oracleInteger:
		var v sql.NullInt64
		if in {
			_ = v.Scan(p.Value)
		}
		return ora.Out{Dest: &v, In: in}, func() any { return nullValue(v) }
	case oracleNumber:
		var v sql.NullFloat64
		if in {
			_ = v.Scan(p.Value)
		}
		return ora.Out{Dest: &v, In: in}, func() any { return nullValue(v) }
	case oracleTime:
		var v sql.NullTime
		if in {
			_ = v.Scan(p.Value)
		}
		return ora.Out{Dest: &v, In: in}, func() any { return nullValue(v) }
	default:
		var v sql.NullString
		if in {
			_ = v.Scan(p.Value)
		}
		return ora.Out{Dest: &v, Size: outSize(p), In: in}, func() any { return nullValue(v) }
	}
}

// nullValue unwraps a sql.Null* value; invalid values become nil.
func nullValue(v driver.Valuer) any {
	val, err := v.Value()
	if err != nil {
		return nil
	}
	return val
}
