// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rpc

import (
	"fmt"
	"reflect"
	"strconv"
)

// PrepareParams sanitizes call arguments for the wire: integers become
// decimal strings, slices and maps are walked recursively and nil map
// entries are dropped.
func PrepareParams(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = prepare(reflect.ValueOf(a))
	}
	return out
}

func prepare(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return prepare(v.Elem())
	case reflect.Slice:
		if v.IsNil() {
			return []any{}
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = prepare(v.Index(i))
		}
		return out
	case reflect.Map:
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			val := iter.Value()
			if isNil(val) {
				continue
			}
			out[keyString(iter.Key())] = prepare(val)
		}
		return out
	default:
		return v.Interface()
	}
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface:
		return v.IsNil() || isNil(v.Elem())
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return !v.IsValid()
}

func keyString(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if s, ok := prepare(k).(string); ok {
		return s
	}
	return fmt.Sprint(k.Interface())
}
