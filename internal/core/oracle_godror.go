//go:build godror

package core

import (
	"database/sql"
	"database/sql/driver"

	_ "github.com/godror/godror" // Oracle driver (cgo, ODPI-C)
)

func init() {
	RegisterDialect(NewOracle("godror", "godror", godrorOut))
}

// godrorOut binds outputs with sql.Out; godror sizes string buffers itself
// and hands ref cursors back as driver.Rows.
func godrorOut(p *FormalParameter) (any, func() any) {
	in := p.Direction == DirectionInputOutput
	switch oracleKindOf(p.DataType) {
	case oracleCursor:
		var rows driver.Rows
		return sql.Out{Dest: &rows}, func() any {
			if rows == nil {
				return nil
			}
			return rows
		}
	case oracleInteger:
		var v sql.NullInt64
		if in {
			_ = v.Scan(p.Value)
		}
		return sql.Out{Dest: &v, In: in}, func() any { return nullValue(v) }
	case oracleNumber:
		var v sql.NullFloat64
		if in {
			_ = v.Scan(p.Value)
		}
		return sql.Out{Dest: &v, In: in}, func() any { return nullValue(v) }
	case oracleTime:
		var v sql.NullTime
		if in {
			_ = v.Scan(p.Value)
		}
		return sql.Out{Dest: &v, In: in}, func() any { return nullValue(v) }
	default:
		var v sql.NullString
		if in {
			_ = v.Scan(p.Value)
		}
		return sql.Out{Dest: &v, In: in}, func() any { return nullValue(v) }
	}
}
