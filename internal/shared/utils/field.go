package utils

import (
	"reflect"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

// Field looks up a named field on an item. Maps are indexed directly,
// JSON text is queried with a gjson path and structs are matched by field
// name or json tag, case-insensitively.
func Field(item any, name string) (any, bool) {
	switch t := item.(type) {
	case map[string]any:
		v, ok := t[name]
		return v, ok
	case map[string]string:
		v, ok := t[name]
		return v, ok
	case string:
		return jsonField([]byte(t), name)
	case []byte:
		return jsonField(t, name)
	}

	rv := reflect.ValueOf(item)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if strings.EqualFold(f.Name, name) || tag == name {
				return rv.Field(i).Interface(), true
			}
		}
	}
	return nil, false
}

func jsonField(data []byte, name string) (any, bool) {
	if !sonic.Valid(data) {
		return nil, false
	}
	r := gjson.GetBytes(data, name)
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}
