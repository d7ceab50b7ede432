package codec

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/repostore/internal/cipher"
)

// TypeRegistry assigns CBOR tag numbers to concrete types so values held in
// interface-typed fields decode back to their original type.
type TypeRegistry struct {
	mu      sync.RWMutex
	entries []typeEntry
}

type typeEntry struct {
	tag uint64
	typ reflect.Type
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{}
}

// Add registers the type of sample (a value or pointer) under tag.
func (r *TypeRegistry) Add(tag uint64, sample any) error {
	t := reflect.TypeOf(sample)
	if t == nil {
		return errors.New("codec: nil sample type")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.tag == tag || e.typ == t {
			return fmt.Errorf("codec: tag %d or type %s already registered", tag, t)
		}
	}
	r.entries = append(r.entries, typeEntry{tag: tag, typ: t})
	return nil
}

func (r *TypeRegistry) snapshot() []typeEntry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]typeEntry(nil), r.entries...)
}

func tagSet(groups ...[]typeEntry) (cbor.TagSet, error) {
	tags := cbor.NewTagSet()
	seen := make(map[reflect.Type]bool)
	for _, entries := range groups {
		for _, e := range entries {
			if seen[e.typ] {
				continue
			}
			seen[e.typ] = true
			opts := cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}
			if err := tags.Add(opts, e.typ, e.tag); err != nil {
				return nil, err
			}
		}
	}
	return tags, nil
}

// Serialized stores arbitrary values as encrypted CBOR.
//
// Decoding first uses the handler's own type registry and, when that fails,
// retries with the fallback registry supplied by the store. The payload is
// always encrypted; a handler without a cipher refuses to work.
type Serialized[T any] struct {
	name     string
	types    *TypeRegistry
	fallback *TypeRegistry
	cipher   *cipher.Service
}

// NewSerialized returns a handler for T using types for interface values.
// types may be nil.
func NewSerialized[T any](types *TypeRegistry) *Serialized[T] {
	if types == nil {
		types = NewTypeRegistry()
	}
	return &Serialized[T]{
		name:  "serialized<" + reflect.TypeFor[T]().String() + ">",
		types: types,
	}
}

func (h *Serialized[T]) Name() string { return h.name }
func (h *Serialized[T]) Type() reflect.Type { return reflect.TypeFor[T]() }
func (h *Serialized[T]) SetCipher(c *cipher.Service) { h.cipher = c }

// SetFallbackTypes sets the registry used for the second decode attempt.
func (h *Serialized[T]) SetFallbackTypes(r *TypeRegistry) { h.fallback = r }

// Encode serializes and encrypts v.
func (h *Serialized[T]) Encode(v T) ([]byte, error) {
	if h.cipher == nil {
		return nil, fail(h, "encrypt", errors.New("no cipher configured"))
	}
	tags, err := tagSet(h.types.snapshot(), h.fallback.snapshot())
	if err != nil {
		return nil, fail(h, "encode", err)
	}
	em, err := cbor.CoreDetEncOptions().EncModeWithTags(tags)
	if err != nil {
		return nil, fail(h, "encode", err)
	}
	data, err := em.Marshal(v)
	if err != nil {
		return nil, fail(h, "encode", err)
	}
	enc, err := h.cipher.Encrypt(data)
	if err != nil {
		return nil, fail(h, "encrypt", err)
	}
	return enc, nil
}

// Decode decrypts and deserializes data.
func (h *Serialized[T]) Decode(data []byte) (T, error) {
	var out T
	if h.cipher == nil {
		return out, fail(h, "decrypt", errors.New("no cipher configured"))
	}
	plain, err := h.cipher.Decrypt(data)
	if err != nil {
		return out, fail(h, "decrypt", err)
	}

	own := h.types.snapshot()
	firstErr := h.decodeWith(plain, &out, own)
	if firstErr == nil {
		return out, nil
	}
	fallback := h.fallback.snapshot()
	if len(fallback) == 0 {
		return out, fail(h, "decode", firstErr)
	}

	out = *new(T)
	if err := h.decodeWith(plain, &out, own, fallback); err != nil {
		return out, fail(h, "decode", errors.Join(firstErr, err))
	}
	return out, nil
}

func (h *Serialized[T]) decodeWith(data []byte, out *T, groups ...[]typeEntry) error {
	tags, err := tagSet(groups...)
	if err != nil {
		return err
	}
	dm, err := cbor.DecOptions{}.DecModeWithTags(tags)
	if err != nil {
		return err
	}
	return dm.Unmarshal(data, out)
}

func (h *Serialized[T]) ToColumn(_ Dialect, v reflect.Value) (any, error) {
	val, err := valueOf[T](v)
	if err != nil {
		return nil, fail(h, "encode", err)
	}
	return h.Encode(val)
}

func (h *Serialized[T]) FromColumn(_ Dialect, src any, dst reflect.Value) error {
	data, ok, err := columnBytes(src)
	if err != nil {
		return fail(h, "decode", err)
	}
	if !ok {
		dst.SetZero()
		return nil
	}
	out, err := h.Decode(data)
	if err != nil {
		return err
	}
	if err := assign(dst, reflect.ValueOf(&out).Elem()); err != nil {
		return fail(h, "decode", err)
	}
	return nil
}
