package core

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
)

var (
	timeType     = reflect.TypeOf(time.Time{})
	dateType     = reflect.TypeOf(civil.Date{})
	dateTimeType = reflect.TypeOf(civil.DateTime{})
	scannerType  = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// assign writes src into dst following the mapping policy: NULL and empty
// strings leave dst untouched, the type of dst picks the extraction.
func assign(dst reflect.Value, src driver.Value) error {
	src = normalizeSource(src)
	if src == nil {
		return nil
	}
	if !dst.CanSet() {
		return errors.New("field is not settable")
	}

	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), src); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	if reflect.PointerTo(dst.Type()).Implements(scannerType) {
		return dst.Addr().Interface().(sql.Scanner).Scan(src)
	}

	switch dst.Type() {
	case timeType:
		t, err := asTime(src)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	case dateType:
		t, err := asTime(src)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(civil.DateOf(t)))
		return nil
	case dateTimeType:
		t, err := asTime(src)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(civil.DateTimeOf(t)))
		return nil
	}

	switch dst.Kind() {
	case reflect.Bool:
		b, err := asBool(src)
		if err != nil {
			return err
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := asInt64(src)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := asInt64(src)
		if err != nil {
			return err
		}
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return fmt.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		f, err := asFloat64(src)
		if err != nil {
			return err
		}
		if dst.OverflowFloat(f) {
			return fmt.Errorf("value %g overflows %s", f, dst.Type())
		}
		dst.SetFloat(f)
	case reflect.String:
		s := trimTrailingWhitespace(asString(src))
		if s == "" {
			return nil
		}
		dst.SetString(s)
	case reflect.Slice:
		if dst.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("unsupported field type %s", dst.Type())
		}
		var b []byte
		switch v := src.(type) {
		case []byte:
			b = append([]byte(nil), v...)
		case string:
			b = []byte(v)
		default:
			return fmt.Errorf("cannot convert %T to %s", src, dst.Type())
		}
		dst.SetBytes(b)
	default:
		sv := reflect.ValueOf(src)
		if !sv.Type().ConvertibleTo(dst.Type()) {
			return fmt.Errorf("cannot convert %T to %s", src, dst.Type())
		}
		dst.Set(sv.Convert(dst.Type()))
	}
	return nil
}

// normalizeSource collapses NULL and empty values to nil and turns named
// string types (godror.Number and friends) into plain strings.
func normalizeSource(src driver.Value) driver.Value {
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		if trimTrailingWhitespace(v) == "" {
			return nil
		}
		return v
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return v
	}
	rv := reflect.ValueOf(src)
	if rv.Kind() == reflect.String {
		return normalizeSource(rv.String())
	}
	return src
}

// CHAR columns come back blank-padded.
func trimTrailingWhitespace(input string) string {
	if len(input) == 0 {
		return input
	}
	return strings.TrimRight(input, " ")
}

func asInt64(src driver.Value) (int64, error) {
	switch v := src.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		return integralFloat(v)
	case float32:
		return integralFloat(float64(v))
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case decimal.Decimal:
		if !v.IsInteger() {
			return 0, fmt.Errorf("value %s is not an integer", v)
		}
		return v.IntPart(), nil
	case string:
		return parseInt(v)
	case []byte:
		return parseInt(string(v))
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", src)
	}
}

func integralFloat(f float64) (int64, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("value %g is not an integer", f)
	}
	return int64(f), nil
}

func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %q to integer", s)
	}
	return integralFloat(f)
}

func asFloat64(src driver.Value) (float64, error) {
	switch v := src.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case decimal.Decimal:
		return v.InexactFloat64(), nil
	case string:
		return parseFloat(v)
	case []byte:
		return parseFloat(string(v))
	}
	n, err := asInt64(src)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float", src)
	}
	return float64(n), nil
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %q to float", s)
	}
	return f, nil
}

func asBool(src driver.Value) (bool, error) {
	switch v := src.(type) {
	case bool:
		return v, nil
	case string:
		return parseFlag(v)
	case []byte:
		return parseFlag(string(v))
	}
	f, err := asFloat64(src)
	if err != nil {
		return false, fmt.Errorf("cannot convert %T to bool", src)
	}
	return f != 0, nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "TRUE", "T", "Y", "YES", "S", "SI":
		return true, nil
	case "0", "FALSE", "F", "N", "NO":
		return false, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return false, fmt.Errorf("cannot convert %q to bool", s)
	}
	return f != 0, nil
}

func asString(src driver.Value) string {
	switch v := src.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func asTime(src driver.Value) (time.Time, error) {
	switch v := src.(type) {
	case time.Time:
		return v, nil
	case string:
		return parseTime(v)
	case []byte:
		return parseTime(string(v))
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", src)
	}
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot convert %q to time", s)
}
