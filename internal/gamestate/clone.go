package gamestate

import "reflect"

// Clone deep-copies a state map. Maps, slices, arrays and pointers are copied
// recursively so the result shares no mutable memory with st.
func Clone(st State) State {
	if st == nil {
		return nil
	}
	out := make(State, len(st))
	for k, v := range st {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, int, int32, int64, uint, uint32, uint64, float32, float64:
		return v
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	}
	return deepCopy(reflect.ValueOf(v)).Interface()
}

func deepCopy(src reflect.Value) reflect.Value {
	switch src.Kind() {
	case reflect.Map:
		if src.IsNil() {
			return src
		}
		dst := reflect.MakeMapWithSize(src.Type(), src.Len())
		iter := src.MapRange()
		for iter.Next() {
			dst.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
		}
		return dst
	case reflect.Slice:
		if src.IsNil() {
			return src
		}
		dst := reflect.MakeSlice(src.Type(), src.Len(), src.Len())
		for i := 0; i < src.Len(); i++ {
			dst.Index(i).Set(deepCopy(src.Index(i)))
		}
		return dst
	case reflect.Array:
		dst := reflect.New(src.Type()).Elem()
		for i := 0; i < src.Len(); i++ {
			dst.Index(i).Set(deepCopy(src.Index(i)))
		}
		return dst
	case reflect.Pointer:
		if src.IsNil() {
			return src
		}
		dst := reflect.New(src.Type().Elem())
		dst.Elem().Set(deepCopy(src.Elem()))
		return dst
	case reflect.Interface:
		if src.IsNil() {
			return src
		}
		inner := deepCopy(src.Elem())
		dst := reflect.New(src.Type()).Elem()
		dst.Set(inner)
		return dst
	case reflect.Struct:
		dst := reflect.New(src.Type()).Elem()
		dst.Set(src)
		for i := 0; i < src.NumField(); i++ {
			if dst.Field(i).CanSet() {
				dst.Field(i).Set(deepCopy(src.Field(i)))
			}
		}
		return dst
	default:
		return src
	}
}
