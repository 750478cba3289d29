package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NumericParseError is returned when an aggregate yields something that is
// not a number, including NULL.
type NumericParseError struct {
	Function string
	Column   string
	Value    any
}

// Error implements the error interface.
func (e *NumericParseError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s(%s): result is NULL, not a number", e.Function, e.Column)
	}
	return fmt.Sprintf("%s(%s): cannot parse %v (%T) as a number", e.Function, e.Column, e.Value, e.Value)
}

// IsNumericParse reports whether err is, or wraps, a NumericParseError.
func IsNumericParse(err error) bool {
	var ne *NumericParseError
	return errors.As(err, &ne)
}

// ParseNumber converts a scalar read from SQLite to float64.
func ParseNumber(fn, column string, v any) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		return parseText(fn, column, n)
	case []byte:
		return parseText(fn, column, string(n))
	default:
		return 0, &NumericParseError{Function: fn, Column: column, Value: v}
	}
}

func parseText(fn, column, s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &NumericParseError{Function: fn, Column: column, Value: s}
	}
	return f, nil
}
