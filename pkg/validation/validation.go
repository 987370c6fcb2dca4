package validation

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/AJM432/racing/pkg/apperr"
	"github.com/AJM432/racing/pkg/model"
)

// StartPos validates a caller-supplied start position. The value usually comes straight
// from a JSON decode ([]interface{} of float64), but typed slices and arrays are accepted too.
// Text is never coerced into numbers.
func StartPos(value interface{}) (model.StartPos, error) {
	if value == nil {
		return model.StartPos{}, apperr.InvalidStartPos("start position is null")
	}

	switch v := value.(type) {
	case model.StartPos:
		return checkFinite(v[0], v[1])
	case *model.StartPos:
		if v == nil {
			return model.StartPos{}, apperr.InvalidStartPos("start position is null")
		}
		return checkFinite(v[0], v[1])
	case string:
		return model.StartPos{}, apperr.InvalidStartPos("start position must be an array, got text")
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return model.StartPos{}, apperr.InvalidStartPos(fmt.Sprintf("start position must be an array, got %T", value))
	}
	if rv.Len() != 2 {
		return model.StartPos{}, apperr.InvalidStartPos(fmt.Sprintf("start position must have exactly 2 elements, got %d", rv.Len()))
	}

	var pos model.StartPos
	for i := 0; i < 2; i++ {
		n, ok := number(rv.Index(i).Interface())
		if !ok {
			return model.StartPos{}, apperr.InvalidStartPos(fmt.Sprintf("start position element %d is not a number", i))
		}
		pos[i] = n
	}
	return checkFinite(pos[0], pos[1])
}

func checkFinite(x, y float64) (model.StartPos, error) {
	if !isFinite(x) || !isFinite(y) {
		return model.StartPos{}, apperr.InvalidStartPos("start position coordinates must be finite")
	}
	return model.StartPos{x, y}, nil
}

// Time validates a run time in seconds: a finite number strictly greater than zero.
func Time(value interface{}) (float64, error) {
	n, ok := number(value)
	if !ok {
		return 0, apperr.InvalidTime(fmt.Sprintf("time must be a number, got %T", value))
	}
	if !isFinite(n) {
		return 0, apperr.InvalidTime("time must be finite")
	}
	if n <= 0 {
		return 0, apperr.InvalidTime("time must be greater than zero")
	}
	return n, nil
}

// Name validates a racetrack name and returns it trimmed
func Name(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", apperr.InvalidName("name must not be empty")
	}
	return trimmed, nil
}

// number converts Go numeric kinds to float64. Strings, booleans and nil are rejected.
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
