// Package translate converts interpreter values and failures into the
// transfer-safe shapes carried by worker responses.
package translate

import (
	"fmt"
	"reflect"

	"github.com/caffeineduck/pyworker/interp"
)

const maxDepth = 64

// Value converts v into plain data: nil, bool, string, numbers, []any and
// map[string]any. Interpreter proxies are unwrapped recursively. A value
// that cannot be converted becomes a diagnostic string.
func Value(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = diagnostic(fmt.Errorf("%v", r))
		}
	}()
	res, err := convert(v, 0)
	if err != nil {
		return diagnostic(err)
	}
	return res
}

func diagnostic(err error) string {
	return "[Result processing error]: " + err.Error()
}

func convert(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}

	switch x := v.(type) {
	case nil:
		return nil, nil
	case interp.Proxy:
		inner, err := x.ToGo()
		if err != nil {
			return nil, err
		}
		return convert(inner, depth+1)
	case bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x, nil
	case []byte:
		return string(x), nil
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			c, err := convert(elem, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			c, err := convert(elem, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case fmt.Stringer:
		return x.String(), nil
	}

	return convertReflect(reflect.ValueOf(v), depth)
}

func convertReflect(rv reflect.Value, depth int) (any, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return convert(rv.Elem().Interface(), depth+1)
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			c, err := convert(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			c, err := convert(iter.Value().Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(iter.Key().Interface())] = c
		}
		return out, nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Struct:
		out := make(map[string]any)
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)
			if !field.IsExported() {
				continue
			}
			c, err := convert(rv.Field(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[field.Name] = c
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %s", rv.Type())
	}
}
