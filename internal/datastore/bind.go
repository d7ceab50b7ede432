package datastore

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/repostore/internal/codec"
)

// bind resolves the parameters of st against param and converts each value
// to its column form.
func (s *DataStore) bind(d codec.Dialect, st *statement, param any) ([]any, error) {
	args := make([]any, len(st.params))
	root := reflect.ValueOf(param)
	for i, p := range st.params {
		v, tagHandler, err := resolvePath(root, p.Path)
		if err != nil {
			return nil, fmt.Errorf("parameter #{%s}: %w", strings.Join(p.Path, "."), err)
		}
		handler := p.Handler
		if handler == "" {
			handler = tagHandler
		}
		arg, err := s.toColumn(d, handler, v)
		if err != nil {
			return nil, err
		}
		args[i] = arg
	}
	return args, nil
}

// resolvePath walks path through structs (db tag or field name) and string
// keyed maps. A leading "value" segment that names no field addresses the
// parameter itself. A nil pointer on the way yields an invalid value, bound
// as NULL.
func resolvePath(root reflect.Value, path []string) (reflect.Value, string, error) {
	v := root
	handler := ""
	for i, seg := range path {
		v = indirect(v)
		if !v.IsValid() {
			return v, "", nil
		}
		switch v.Kind() {
		case reflect.Struct:
			if f, h, ok := fieldByName(v, seg); ok {
				v, handler = f, h
				continue
			}
		case reflect.Map:
			if v.Type().Key().Kind() == reflect.String {
				v = v.MapIndex(reflect.ValueOf(seg).Convert(v.Type().Key()))
				handler = ""
				continue
			}
		}
		if i == 0 && seg == "value" && len(path) == 1 {
			return root, "", nil
		}
		return reflect.Value{}, "", fmt.Errorf("%s has no field %q", v.Type(), seg)
	}
	return v, handler, nil
}

// indirect dereferences pointers and interfaces. A nil yields an invalid
// value.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// fieldByName finds the field of struct v matching name by db tag or,
// case-insensitively, by field name, searching embedded structs too. It also
// returns the handler named in the tag, if any.
func fieldByName(v reflect.Value, name string) (reflect.Value, string, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() && !f.Anonymous {
			continue
		}
		column, handler := parseTag(f.Tag.Get("db"))
		if column == "-" {
			continue
		}
		if column == name || (column == "" && strings.EqualFold(f.Name, name)) {
			return v.Field(i), handler, true
		}
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}
		embedded := indirect(v.Field(i))
		if embedded.IsValid() && embedded.Kind() == reflect.Struct {
			if fv, h, ok := fieldByName(embedded, name); ok {
				return fv, h, true
			}
		}
	}
	return reflect.Value{}, "", false
}

// parseTag splits a `db:"column,handler"` tag.
func parseTag(tag string) (column, handler string) {
	column, handler, _ = strings.Cut(tag, ",")
	return column, handler
}

// toColumn converts v with the named handler, the handler registered for
// its static type, the handler for its dynamic type, or passes it to the
// driver unchanged.
func (s *DataStore) toColumn(d codec.Dialect, name string, v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if name != "" {
		h, ok := s.handlers.ByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown type handler %q", name)
		}
		return h.ToColumn(d, v)
	}
	if h, ok := s.handlers.Lookup(v.Type()); ok {
		return h.ToColumn(d, v)
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		return s.toColumn(d, "", v.Elem())
	}
	if !v.CanInterface() {
		return nil, fmt.Errorf("cannot bind unexported value of type %s", v.Type())
	}
	return v.Interface(), nil
}
