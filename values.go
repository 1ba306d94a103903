// values.go: JSON value normalization and equality for the cascade store
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cascade

import (
	"encoding/json"
	"reflect"
	"sort"
)

// notSetType is the type of the NotSet sentinel.
type notSetType struct{}

// String implements fmt.Stringer for diagnostics and test output.
func (notSetType) String() string { return "<not set>" }

// NotSet stands in for "key absent" on either side of a change transition.
// A change callback receives previous == NotSet when the key was created and
// current == NotSet when an inherited default disappeared. It is distinct
// from nil, which is a legitimate stored value (JSON null).
var NotSet notSetType

// normalizeValue maps a JSON-compatible value onto the canonical decoded
// shape (float64 numbers, []any lists, map[string]any objects) so that a
// value set by the application compares equal to the same value after a
// save/load round trip. Values that are not JSON shapes are returned as-is.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case notSetType:
		return x
	case bool, string, float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out[iter.Key().String()] = normalizeValue(iter.Value().Interface())
			}
			return out
		}
	case reflect.Ptr, reflect.Interface:
		if !rv.IsNil() {
			return normalizeValue(rv.Elem().Interface())
		}
		return nil
	}
	return v
}

// valueEqual reports whether two JSON-compatible values are deeply equal,
// tolerating the int/float64 asymmetry between application-supplied values
// and values decoded from the backing file.
func valueEqual(a, b any) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

// sortedKeys returns the keys of m in ascending order. Mutation and diff
// loops iterate in this order so notification sequences are deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// runAll invokes collected callback closures in order. Invocations happen
// with no store lock held; a panicking callback propagates to the caller of
// the triggering mutation and leaves the remaining closures un-invoked.
func runAll(fired []func()) {
	for _, fn := range fired {
		fn()
	}
}
