package datastore

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/repostore/internal/codec"
)

// scanner maps result rows onto Go values.
//
// Struct destinations receive columns by db tag or field name, compared
// without case and underscores, so config_repository_id fills
// ConfigRepositoryID. Columns matching no field are ignored. Any other
// destination receives the first column.
type scanner struct {
	handlers *codec.Registry
	dialect  codec.Dialect
	columns  []string
}

type fieldRef struct {
	index   []int
	handler string
}

var fieldCache sync.Map // reflect.Type -> map[string]fieldRef

func newScanner(handlers *codec.Registry, d codec.Dialect, rows *sql.Rows) (*scanner, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	for i, c := range cols {
		cols[i] = normalizeColumn(c)
	}
	return &scanner{handlers: handlers, dialect: d, columns: cols}, nil
}

func normalizeColumn(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "")
}

func (sc *scanner) scan(rows *sql.Rows, target reflect.Value) error {
	raw := make([]any, len(sc.columns))
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return err
	}

	if target.Kind() == reflect.Pointer {
		if _, handled := sc.handlers.Lookup(target.Type()); !handled {
			if target.IsNil() {
				target.Set(reflect.New(target.Type().Elem()))
			}
			target = target.Elem()
		}
	}

	if target.Kind() != reflect.Struct || sc.handled(target.Type()) {
		if len(raw) == 0 {
			return fmt.Errorf("no columns to scan into %s", target.Type())
		}
		return sc.assign(target, "", raw[0])
	}

	fields := structFields(target.Type())
	for i, col := range sc.columns {
		ref, ok := fields[col]
		if !ok {
			continue
		}
		if err := sc.assign(target.FieldByIndex(ref.index), ref.handler, raw[i]); err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
	}
	return nil
}

func (sc *scanner) handled(t reflect.Type) bool {
	_, ok := sc.handlers.Lookup(t)
	return ok
}

// assign decodes src into dst with the named handler, the handler for dst's
// type, or a plain conversion.
func (sc *scanner) assign(dst reflect.Value, handler string, src any) error {
	if handler != "" {
		h, ok := sc.handlers.ByName(handler)
		if !ok {
			return fmt.Errorf("unknown type handler %q", handler)
		}
		return h.FromColumn(sc.dialect, src, dst)
	}
	if h, ok := sc.handlers.Lookup(dst.Type()); ok {
		return h.FromColumn(sc.dialect, src, dst)
	}
	if src == nil {
		dst.SetZero()
		return nil
	}
	if dst.Kind() == reflect.Pointer {
		v := reflect.New(dst.Type().Elem())
		if err := sc.assign(v.Elem(), "", src); err != nil {
			return err
		}
		dst.Set(v)
		return nil
	}
	return convertAssign(dst, src)
}

func convertAssign(dst reflect.Value, src any) error {
	sv := reflect.ValueOf(src)
	switch {
	case sv.Type().AssignableTo(dst.Type()):
		dst.Set(sv)
		return nil
	case dst.Kind() == reflect.Bool && sv.Kind() == reflect.Int64:
		dst.SetBool(sv.Int() != 0)
		return nil
	case dst.Kind() == reflect.String && sv.Kind() == reflect.Slice && sv.Type().Elem().Kind() == reflect.Uint8:
		dst.SetString(string(sv.Bytes()))
		return nil
	case sv.Kind() == reflect.String && numericKind(dst.Kind()):
		return parseNumber(dst, sv.String())
	case sv.Type().ConvertibleTo(dst.Type()) && sameFamily(sv.Kind(), dst.Kind()):
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign column value %T to %s", src, dst.Type())
}

func numericKind(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Uint64) || k == reflect.Float32 || k == reflect.Float64
}

func sameFamily(a, b reflect.Kind) bool {
	switch {
	case numericKind(a):
		return numericKind(b)
	case a == reflect.String, a == reflect.Slice:
		return a == b
	}
	return false
}

func parseNumber(dst reflect.Value, s string) error {
	switch {
	case dst.Kind() >= reflect.Int && dst.Kind() <= reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		dst.SetInt(n)
	case dst.Kind() >= reflect.Uint && dst.Kind() <= reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		dst.SetUint(n)
	default:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		dst.SetFloat(f)
	}
	return nil
}

// structFields indexes the settable fields of t by normalized column name.
// Direct fields win over fields of embedded structs.
func structFields(t reflect.Type) map[string]fieldRef {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(map[string]fieldRef)
	}
	out := make(map[string]fieldRef)
	collectFields(t, nil, out)
	fieldCache.Store(t, out)
	return out
}

func collectFields(t reflect.Type, prefix []int, out map[string]fieldRef) {
	var embedded []reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		column, handler := parseTag(f.Tag.Get("db"))
		if column == "-" {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct && column == "" {
			embedded = append(embedded, f)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if column == "" {
			column = f.Name
		}
		key := normalizeColumn(column)
		if _, taken := out[key]; !taken {
			out[key] = fieldRef{index: append(append([]int(nil), prefix...), i), handler: handler}
		}
	}
	for _, f := range embedded {
		collectFields(f.Type, append(append([]int(nil), prefix...), f.Index...), out)
	}
}
