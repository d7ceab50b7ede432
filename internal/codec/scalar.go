package codec

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/repostore/internal/cipher"
	"github.com/roach88/repostore/internal/entity"
)

// Bytes stores []byte as-is.
type Bytes struct{}

func (Bytes) Name() string { return "bytes" }
func (Bytes) Type() reflect.Type { return reflect.TypeFor[[]byte]() }

func (Bytes) ToColumn(_ Dialect, v reflect.Value) (any, error) {
	if !v.IsValid() || v.IsNil() {
		return nil, nil
	}
	return v.Bytes(), nil
}

func (h Bytes) FromColumn(_ Dialect, src any, dst reflect.Value) error {
	b, ok, err := columnBytes(src)
	if err != nil {
		return fail(h, "decode", err)
	}
	if !ok {
		dst.SetZero()
		return nil
	}
	dst.SetBytes(append([]byte(nil), b...))
	return nil
}

// EntityID stores entity identities.
//
// Strict mode only accepts UUID values. Lenient mode, used when the engine's
// UUID column type came from configuration, also stores and reads back
// detached ids as plain text.
type EntityID struct {
	Lenient bool
}

func (h EntityID) Name() string { return "entity-id" }
func (h EntityID) Type() reflect.Type { return reflect.TypeFor[entity.ID]() }

func (h EntityID) ToColumn(_ Dialect, v reflect.Value) (any, error) {
	id, err := valueOf[entity.ID](v)
	if err != nil {
		return nil, fail(h, "encode", err)
	}
	if id == nil {
		return nil, nil
	}
	if _, isUUID := id.(entity.UUID); !isUUID && !h.Lenient {
		if _, err := uuid.Parse(id.Value()); err != nil {
			return nil, fail(h, "encode", fmt.Errorf("id %q is not a UUID", id.Value()))
		}
	}
	return id.Value(), nil
}

func (h EntityID) FromColumn(_ Dialect, src any, dst reflect.Value) error {
	var id entity.ID
	switch v := src.(type) {
	case nil:
		dst.SetZero()
		return nil
	case [16]byte:
		id = entity.NewUUID(uuid.UUID(v))
	case []byte:
		if len(v) == 16 {
			u, err := uuid.FromBytes(v)
			if err != nil {
				return fail(h, "decode", err)
			}
			id = entity.NewUUID(u)
		} else if parsed, err := h.parse(string(v)); err != nil {
			return err
		} else {
			id = parsed
		}
	case string:
		parsed, err := h.parse(v)
		if err != nil {
			return err
		}
		id = parsed
	default:
		return fail(h, "decode", fmt.Errorf("unsupported column value %T", src))
	}

	if err := assign(dst, reflect.ValueOf(id)); err != nil {
		return fail(h, "decode", err)
	}
	return nil
}

func (h EntityID) parse(s string) (entity.ID, error) {
	id := entity.ParseID(s)
	if _, ok := id.(entity.Detached); ok && !h.Lenient {
		return nil, fail(h, "decode", fmt.Errorf("column value %q is not a UUID", s))
	}
	return id, nil
}

// Time stores time.Time as RFC 3339 text on engines without a native
// timestamp binding, natively elsewhere. Values are normalized to UTC.
type Time struct{}

func (Time) Name() string { return "time" }
func (Time) Type() reflect.Type { return reflect.TypeFor[time.Time]() }

func (h Time) ToColumn(d Dialect, v reflect.Value) (any, error) {
	t, err := valueOf[time.Time](v)
	if err != nil {
		return nil, fail(h, "encode", err)
	}
	if d.NativeTime() {
		return t.UTC(), nil
	}
	return t.UTC().Format(time.RFC3339Nano), nil
}

func (h Time) FromColumn(_ Dialect, src any, dst reflect.Value) error {
	var t time.Time
	switch v := src.(type) {
	case nil:
		dst.SetZero()
		return nil
	case time.Time:
		t = v
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fail(h, "decode", err)
		}
		t = parsed
	case []byte:
		parsed, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return fail(h, "decode", err)
		}
		t = parsed
	default:
		return fail(h, "decode", fmt.Errorf("unsupported column value %T", src))
	}
	dst.Set(reflect.ValueOf(t.UTC()))
	return nil
}

// EncryptedStringName is the name of the detached EncryptedString handler.
const EncryptedStringName = "encrypted-string"

// EncryptedString stores a string encrypted with the store cipher. It is not
// bound to the string type; statements opt in with #{field:encrypted-string}
// and result fields with a `db:"column,encrypted-string"` tag.
type EncryptedString struct {
	cipher *cipher.Service
}

func (h *EncryptedString) Name() string { return EncryptedStringName }
func (h *EncryptedString) Type() reflect.Type { return reflect.TypeFor[string]() }
func (h *EncryptedString) SetCipher(c *cipher.Service) { h.cipher = c }

func (h *EncryptedString) ToColumn(_ Dialect, v reflect.Value) (any, error) {
	if h.cipher == nil {
		return nil, fail(h, "encrypt", errors.New("no cipher configured"))
	}
	s, err := valueOf[string](v)
	if err != nil {
		return nil, fail(h, "encode", err)
	}
	enc, err := h.cipher.EncryptString(s)
	if err != nil {
		return nil, fail(h, "encrypt", err)
	}
	return enc, nil
}

func (h *EncryptedString) FromColumn(_ Dialect, src any, dst reflect.Value) error {
	if h.cipher == nil {
		return fail(h, "decrypt", errors.New("no cipher configured"))
	}
	raw, ok, err := columnBytes(src)
	if err != nil {
		return fail(h, "decode", err)
	}
	if !ok {
		dst.SetZero()
		return nil
	}
	plain, err := h.cipher.DecryptString(string(raw))
	if err != nil {
		return fail(h, "decrypt", err)
	}
	dst.SetString(plain)
	return nil
}
