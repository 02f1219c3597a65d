package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb" // MS SQL Server driver
)

const sqlServerParametersQuery = `SELECT
	p.name AS PARAMETER_NAME,
	p.is_output AS IS_OUTPUT,
	TYPE_NAME(p.user_type_id) AS DATA_TYPE,
	p.max_length AS MAX_LENGTH,
	p.parameter_id AS POSITION
FROM sys.parameters AS p
WHERE p.object_id = OBJECT_ID(@procName)
  AND p.parameter_id > 0
ORDER BY p.parameter_id`

func init() {
	RegisterDialect(SQLServer{})
}

// SQLServer calls procedures with EXEC and named arguments. It has no
// output cursor handles.
type SQLServer struct{}

func (SQLServer) Name() string       { return "sqlserver" }
func (SQLServer) DriverName() string { return "sqlserver" }

type sqlServerParameter struct {
	Name      string `db:"PARAMETER_NAME"`
	IsOutput  bool   `db:"IS_OUTPUT"`
	DataType  string `db:"DATA_TYPE"`
	MaxLength int64  `db:"MAX_LENGTH"`
	Position  int64  `db:"POSITION"`
}

// DeriveParameters reads sys.parameters. Output parameters are IN/OUT in
// SQL Server.
func (SQLServer) DeriveParameters(ctx context.Context, q sqlx.QueryerContext, procedure string) ([]*FormalParameter, error) {
	var objectID sql.NullInt64
	if err := q.QueryRowxContext(ctx, "SELECT OBJECT_ID(@procName)", sql.Named("procName", procedure)).Scan(&objectID); err != nil {
		return nil, err
	}
	if !objectID.Valid {
		return nil, fmt.Errorf("%w: %s", ErrProcedureNotFound, procedure)
	}

	rows, err := q.QueryxContext(ctx, sqlServerParametersQuery, sql.Named("procName", procedure))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []*FormalParameter
	for rows.Next() {
		var sp sqlServerParameter
		if err := rows.StructScan(&sp); err != nil {
			return nil, err
		}
		p := &FormalParameter{
			Name:      strings.TrimPrefix(sp.Name, "@"),
			Direction: DirectionInput,
			DataType:  strings.ToLower(sp.DataType),
			Size:      int(sp.MaxLength),
			Position:  int(sp.Position),
		}
		if sp.IsOutput {
			p.Direction = DirectionInputOutput
		}
		params = append(params, p)
	}
	return params, rows.Err()
}

// Bind renders `EXEC proc @a = @a, @b = @b OUTPUT`.
func (SQLServer) Bind(cmd *Command) (string, []any, func()) {
	var b strings.Builder
	args := make([]any, 0, len(cmd.Parameters))
	var reads []func()

	b.WriteString("EXEC ")
	b.WriteString(cmd.Procedure)
	for i, p := range cmd.Parameters {
		if i == 0 {
			b.WriteString(" ")
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@%s = @%s", p.Name, p.Name)
		if !p.Direction.IsOutput() {
			args = append(args, sql.Named(p.Name, p.Value))
			continue
		}
		b.WriteString(" OUTPUT")
		arg, read := sqlServerOut(p)
		args = append(args, sql.Named(p.Name, arg))
		reads = append(reads, func() { p.Value = read() })
	}

	collect := func() {
		for _, r := range reads {
			r()
		}
	}
	return b.String(), args, collect
}

// OpenCursor never finds a cursor: SQL Server returns result sets directly.
func (SQLServer) OpenCursor(any) (Cursor, bool, error) {
	return nil, false, nil
}

func sqlServerOut(p *FormalParameter) (sql.Out, func() any) {
	in := p.Direction == DirectionInputOutput
	switch p.DataType {
	case "int", "bigint", "smallint", "tinyint":
		var v sql.NullInt64
		_ = v.Scan(p.Value)
		return sql.Out{Dest: &v, In: in}, func() any { return nullValue(v) }
	case "bit":
		var v sql.NullBool
		_ = v.Scan(p.Value)
		return sql.Out{Dest: &v, In: in}, func() any { return nullValue(v) }
	case "decimal", "numeric", "money", "smallmoney", "float", "real":
		var v sql.NullFloat64
		_ = v.Scan(p.Value)
		return sql.Out{Dest: &v, In: in}, func() any { return nullValue(v) }
	case "date", "datetime", "datetime2", "smalldatetime", "datetimeoffset", "time":
		var v sql.NullTime
		_ = v.Scan(p.Value)
		return sql.Out{Dest: &v, In: in}, func() any { return nullValue(v) }
	default:
		var v sql.NullString
		_ = v.Scan(p.Value)
		return sql.Out{Dest: &v, In: in}, func() any { return nullValue(v) }
	}
}
