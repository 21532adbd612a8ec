package utils

import (
	"cmp"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// IsScalar reports whether v is nil, a bool, a string or a number.
func IsScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// Truthy reports whether v survives the default filter: nil, false, ""
// and empty collections are falsy, everything else is truthy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []byte:
		return len(t) > 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// ToFloat converts numbers and numeric strings to float64.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Compare is a total order over values. Numeric values (numbers and
// numeric strings) come first in numeric order, followed by everything
// else ordered by string form. It returns -1, 0 or 1.
func Compare(a, b any) int {
	fa, aok := orderedFloat(a)
	fb, bok := orderedFloat(b)
	switch {
	case aok && bok:
		return cmp.Compare(fa, fb)
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(Stringify(a), Stringify(b))
}

// orderedFloat is ToFloat without NaN, which has no place in an order.
func orderedFloat(v any) (float64, bool) {
	f, ok := ToFloat(v)
	return f, ok && !math.IsNaN(f)
}

// Stringify renders scalars as plain text and compound values as JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case fmt.Stringer:
		return t.String()
	}
	if IsScalar(v) {
		return fmt.Sprint(v)
	}
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Values returns the values of a compound item in a stable order: slice
// order for slices, sorted key order for maps and field order for structs.
// Scalars yield a single value.
func Values(v any) []any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if _, ok := v.([]byte); ok {
			return []any{v}
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = rv.MapIndex(k).Interface()
		}
		return out
	case reflect.Struct:
		t := rv.Type()
		out := make([]any, 0, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			if t.Field(i).IsExported() {
				out = append(out, rv.Field(i).Interface())
			}
		}
		return out
	}
	return []any{v}
}

// Serialize renders the values of an item (keys dropped) as JSON-ish
// text, used by free-text search and grep.
func Serialize(v any) string {
	if IsScalar(v) {
		return Stringify(v)
	}
	values := Values(v)
	for i, x := range values {
		if !IsScalar(x) {
			values[i] = Values(x)
		}
	}
	data, err := sonic.ConfigStd.Marshal(values)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
