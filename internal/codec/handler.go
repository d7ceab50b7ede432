// Package codec converts entity attribute values to and from their column
// representation.
//
// A TypeHandler owns one Go type (or, for detached handlers, only a name).
// Handlers are registered once in a Registry and shared by every session and
// store, so implementations must be safe for concurrent use once prepared.
//
// Handlers that need key material implement CipherAware; JSON handlers that
// can mask individual attributes implement SensitiveAware. The data store
// prepares both before a handler is registered.
package codec

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/roach88/repostore/internal/cipher"
)

// Dialect describes the column conventions of the active engine.
type Dialect interface {
	// DatabaseID names the engine ("SQLite", "PostgreSQL", ...).
	DatabaseID() string

	// JSONAsBytes reports whether JSON columns are written as raw bytes
	// rather than UTF-8 strings.
	JSONAsBytes() bool

	// NativeTime reports whether the driver binds time.Time directly.
	NativeTime() bool
}

// TypeHandler converts between one Go type and its column form.
type TypeHandler interface {
	// Name identifies the handler in #{field:name} parameter references.
	Name() string

	// Type is the Go type the handler binds to. Detached handlers still
	// report the type they produce.
	Type() reflect.Type

	// ToColumn returns the driver value for v.
	ToColumn(d Dialect, v reflect.Value) (any, error)

	// FromColumn decodes src (as scanned from the driver) into dst, which
	// must be settable.
	FromColumn(d Dialect, src any, dst reflect.Value) error
}

// CipherAware handlers receive the store cipher before registration.
type CipherAware interface {
	SetCipher(c *cipher.Service)
}

// SensitiveAware handlers mask attributes matched by a predicate.
type SensitiveAware interface {
	EncryptSensitiveFields(match Predicate)
}

// Error is a codec failure. It always carries the underlying cause.
type Error struct {
	Handler string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("codec %s: %s: %v", e.Handler, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(h TypeHandler, op string, err error) error {
	return &Error{Handler: h.Name(), Op: op, Err: err}
}

// Registry maps Go types and handler names to handlers.
//
// Registrations are permanent. Registering may happen at any time, including
// while sessions are running.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]TypeHandler
	byName map[string]TypeHandler
	ifaces []TypeHandler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]TypeHandler),
		byName: make(map[string]TypeHandler),
	}
}

// Register binds h to its type and name.
//
// Registering a handler with the same name for the same type again is a
// no-op. Binding a second, different handler to a type already taken is an
// error.
func (r *Registry) Register(h TypeHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := h.Type()
	if existing, ok := r.byType[t]; ok {
		if existing.Name() == h.Name() {
			return nil
		}
		return fmt.Errorf("codec: type %s already handled by %q", t, existing.Name())
	}
	if err := r.bindName(h); err != nil {
		return err
	}
	r.byType[t] = h
	if t.Kind() == reflect.Interface {
		r.ifaces = append(r.ifaces, h)
	}
	return nil
}

// RegisterDetached binds h by name only.
func (r *Registry) RegisterDetached(h TypeHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindName(h)
}

func (r *Registry) bindName(h TypeHandler) error {
	if existing, ok := r.byName[h.Name()]; ok {
		if existing == h {
			return nil
		}
		return fmt.Errorf("codec: handler name %q already registered", h.Name())
	}
	r.byName[h.Name()] = h
	return nil
}

// Lookup finds the handler for t: an exact type binding first, then the
// first registered interface type that t implements.
func (r *Registry) Lookup(t reflect.Type) (TypeHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.byType[t]; ok {
		return h, true
	}
	for _, h := range r.ifaces {
		if t.Implements(h.Type()) {
			return h, true
		}
	}
	return nil, false
}

// ByName finds a handler by name.
func (r *Registry) ByName(name string) (TypeHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// columnBytes normalizes a scanned JSON or binary column.
// A nil result with ok=false means SQL NULL.
func columnBytes(src any) (b []byte, ok bool, err error) {
	switch v := src.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return v, true, nil
	case string:
		return []byte(v), true, nil
	default:
		return nil, false, fmt.Errorf("unsupported column value %T", src)
	}
}

// assign stores v into dst, failing on a type mismatch.
func assign(dst, v reflect.Value) error {
	if !v.IsValid() {
		dst.SetZero()
		return nil
	}
	if !v.Type().AssignableTo(dst.Type()) {
		if v.Type().ConvertibleTo(dst.Type()) && v.Kind() == dst.Kind() {
			dst.Set(v.Convert(dst.Type()))
			return nil
		}
		return fmt.Errorf("cannot assign %s to %s", v.Type(), dst.Type())
	}
	dst.Set(v)
	return nil
}

// valueOf extracts a T from v. Invalid values and nil interfaces give the
// zero T.
func valueOf[T any](v reflect.Value) (T, error) {
	var zero T
	if !v.IsValid() {
		return zero, nil
	}
	if v.Kind() == reflect.Interface && v.IsNil() {
		return zero, nil
	}
	if t, ok := v.Interface().(T); ok {
		return t, nil
	}
	target := reflect.TypeFor[T]()
	if v.Type().ConvertibleTo(target) {
		return v.Convert(target).Interface().(T), nil
	}
	return zero, fmt.Errorf("cannot use %s as %s", v.Type(), target)
}
