package datastore

import (
	"context"
	"reflect"
	"strings"
)

// Executor runs the named statements of a registered access type.
//
// Accessors receive an Executor bound to their access type: a statement
// name without a dot is qualified with the access type name, so "read"
// runs "SecretDAO.read". Fully qualified ids reach other access types.
type Executor interface {
	// Exec runs a mutating statement and returns the affected row count.
	Exec(ctx context.Context, stmt string, param any) (int64, error)

	// SelectOne scans the single result row into dest, a non-nil pointer.
	// It reports false when there is no row.
	SelectOne(ctx context.Context, stmt string, param any, dest any) (bool, error)

	// SelectList scans all result rows into dest, a pointer to a slice.
	SelectList(ctx context.Context, stmt string, param any, dest any) error
}

// AccessType is a registrable data access type: a named mapper document
// plus the accessor built over it.
type AccessType interface {
	// Name is the access type name and statement namespace.
	Name() string

	spec() *accessSpec
}

type accessSpec struct {
	name     string
	mapper   []byte
	template *Template
	immune   bool
	expects  []AccessType
	model    reflect.Type
	abstract bool
}

// Template is a mapper document shared by several access types. It is never
// registered itself. An access type named <Prefix><TemplateName> built on it
// substitutes ${placeholder} with the lowercased prefix.
type Template struct {
	s accessSpec

	// Placeholder is the ${...} variable bound to the access type prefix.
	Placeholder string
}

// NewTemplate defines a template.
func NewTemplate(name, placeholder string, mapperYAML []byte) *Template {
	return &Template{
		s:           accessSpec{name: name, mapper: mapperYAML, abstract: true},
		Placeholder: placeholder,
	}
}

// Name returns the template name.
func (t *Template) Name() string { return t.s.name }

func (t *Template) spec() *accessSpec { return &t.s }

// DAO is an access type whose accessor has type T.
type DAO[T any] struct {
	s    accessSpec
	ctor func(Executor) T
}

// AccessOption configures an access type.
type AccessOption func(*accessSpec)

// Immune exempts the access type from frozen mode.
func Immune() AccessOption {
	return func(s *accessSpec) { s.immune = true }
}

// Expects names access types registered before this one, typically those
// owning tables this one references.
func Expects(types ...AccessType) AccessOption {
	return func(s *accessSpec) { s.expects = append(s.expects, types...) }
}

// FromTemplate builds the access type on a template. Its own mapper document
// may then be empty or add statements and schema.
func FromTemplate(t *Template) AccessOption {
	return func(s *accessSpec) { s.template = t }
}

// NewAccessType defines an access type. ctor builds the accessor once per
// session from an Executor bound to name.
func NewAccessType[T any](name string, mapperYAML []byte, ctor func(Executor) T, opts ...AccessOption) *DAO[T] {
	a := &DAO[T]{
		s: accessSpec{
			name:   name,
			mapper: mapperYAML,
			model:  reflect.TypeFor[T](),
		},
		ctor: ctor,
	}
	for _, opt := range opts {
		opt(&a.s)
	}
	return a
}

// Name returns the access type name.
func (a *DAO[T]) Name() string { return a.s.name }

func (a *DAO[T]) spec() *accessSpec { return &a.s }

// Access returns the session's accessor for t, building it on first use.
func Access[T any](s *Session, t *DAO[T]) (T, error) {
	var zero T
	if err := s.usable(""); err != nil {
		return zero, err
	}
	if cached, ok := s.accessors[t.s.name]; ok {
		return cached.(T), nil
	}
	if !s.store.isRegistered(t.s.name) {
		return zero, newError(ErrCodeSession, "", "access type %s is not registered", t.s.name)
	}
	accessor := t.ctor(&boundExecutor{session: s, namespace: t.s.name})
	s.accessors[t.s.name] = accessor
	return accessor, nil
}

// typeAliases collects simple names for the named, non-standard types
// reachable from model's methods and, for structs, their fields.
func typeAliases(model reflect.Type) map[string][]reflect.Type {
	out := make(map[string][]reflect.Type)
	seen := make(map[reflect.Type]bool)
	var walk func(t reflect.Type)
	walk = func(t reflect.Type) {
		if seen[t] {
			return
		}
		seen[t] = true

		if t.Name() != "" && !standardPackage(t.PkgPath()) {
			// Instantiated generic types are aliased by their base name.
			name, _, _ := strings.Cut(t.Name(), "[")
			out[name] = append(out[name], t)
		}
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Chan:
			walk(t.Elem())
		case reflect.Map:
			walk(t.Key())
			walk(t.Elem())
		case reflect.Struct:
			if standardPackage(t.PkgPath()) {
				return
			}
			for i := 0; i < t.NumField(); i++ {
				if f := t.Field(i); f.IsExported() {
					walk(f.Type)
				}
			}
		case reflect.Func:
			for i := 0; i < t.NumIn(); i++ {
				walk(t.In(i))
			}
			for i := 0; i < t.NumOut(); i++ {
				walk(t.Out(i))
			}
		}
	}

	walk(model)
	methods := model
	if methods.Kind() != reflect.Interface && methods.Kind() != reflect.Pointer {
		methods = reflect.PointerTo(methods)
	}
	for i := 0; i < methods.NumMethod(); i++ {
		mt := methods.Method(i).Type
		start := 0
		if methods.Kind() != reflect.Interface {
			start = 1 // receiver
		}
		for j := start; j < mt.NumIn(); j++ {
			walk(mt.In(j))
		}
		for j := 0; j < mt.NumOut(); j++ {
			walk(mt.Out(j))
		}
	}
	return out
}

// standardPackage reports whether path is a builtin or standard library
// package. Module paths always contain a dot in their first element.
func standardPackage(path string) bool {
	if path == "" {
		return true
	}
	first, _, _ := strings.Cut(path, "/")
	return !strings.Contains(first, ".")
}
