package store

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"time"

	"golang.org/x/text/unicode/norm"
)

// TimeFormat is the text layout time.Time binds are stored in. It is the
// first layout the cgo driver parses back into time.Time for DATETIME and
// TIMESTAMP columns.
const TimeFormat = "2006-01-02 15:04:05.999999999-07:00"

// NormalizeArgs converts every bind value to nil, int64, float64, []byte or
// string. Booleans bind as 1 or 0. Pointers are dereferenced (nil binds NULL)
// and driver.Valuer implementations are resolved first. Named types are
// accepted by kind.
//
// When nfc is set, text is converted to Unicode Normalization Form C so that
// equality predicates match regardless of how the caller composed it.
//
// The returned slice is never nil.
func NormalizeArgs(args []any, nfc bool) ([]any, error) {
	out := make([]any, len(args))
	for i, arg := range args {
		v, err := normalize(arg, nfc)
		if err != nil {
			if ue, ok := err.(*UnsupportedBindTypeError); ok {
				ue.Position = i
				ue.Value = arg
				return nil, ue
			}
			return nil, fmt.Errorf("bind position %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func normalize(arg any, nfc bool) (any, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case int64:
		return v, nil
	case float64:
		return v, nil
	case string:
		return text(v, nfc), nil
	case []byte:
		return v, nil
	case bool:
		return boolInt(v), nil
	case time.Time:
		return v.Format(TimeFormat), nil
	case driver.Valuer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil, nil
		}
		dv, err := v.Value()
		if err != nil {
			return nil, err
		}
		if _, again := dv.(driver.Valuer); again {
			return nil, &UnsupportedBindTypeError{Reason: "Value returned another Valuer"}
		}
		return normalize(dv, nfc)
	}

	rv := reflect.ValueOf(arg)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem().Interface(), nfc)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, &UnsupportedBindTypeError{Reason: "exceeds the signed 64-bit range"}
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Bool:
		return boolInt(rv.Bool()), nil
	case reflect.String:
		return text(rv.String(), nfc), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), nil
		}
	}

	return nil, &UnsupportedBindTypeError{}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func text(s string, nfc bool) string {
	if nfc {
		return norm.NFC.String(s)
	}
	return s
}
