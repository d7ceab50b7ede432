package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/repostore/internal/cipher"
)

// JSON stores a T as a JSON document.
//
// When prepared with a cipher and a sensitive predicate, string attributes
// under matching keys are individually encrypted; the rest of the document
// stays readable in the database.
type JSON[T any] struct {
	name   string
	cipher *cipher.Service
	match  Predicate
}

// NewJSON returns a JSON handler for T.
func NewJSON[T any]() *JSON[T] {
	return &JSON[T]{name: "json<" + reflect.TypeFor[T]().String() + ">"}
}

func (h *JSON[T]) Name() string { return h.name }
func (h *JSON[T]) Type() reflect.Type { return reflect.TypeFor[T]() }

// SetCipher implements CipherAware.
func (h *JSON[T]) SetCipher(c *cipher.Service) { h.cipher = c }

// EncryptSensitiveFields implements SensitiveAware.
func (h *JSON[T]) EncryptSensitiveFields(match Predicate) { h.match = match }

func (h *JSON[T]) masking() bool {
	return h.match != nil && h.cipher != nil
}

// Marshal returns the stored document for v.
func (h *JSON[T]) Marshal(v T) ([]byte, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, fail(h, "encode", err)
	}
	if h.masking() {
		if doc, err = EncodeSensitive(doc, h.match, h.cipher); err != nil {
			return nil, fail(h, "encrypt sensitive attributes", err)
		}
	}
	return doc, nil
}

// Unmarshal decodes a stored document.
func (h *JSON[T]) Unmarshal(doc []byte) (T, error) {
	var out T
	var err error
	if h.masking() {
		if doc, err = DecodeSensitive(doc, h.match, h.cipher); err != nil {
			return out, fail(h, "decrypt sensitive attributes", err)
		}
	}
	if err := decodeJSON(doc, &out); err != nil {
		return out, fail(h, "decode", err)
	}
	return out, nil
}

func (h *JSON[T]) ToColumn(d Dialect, v reflect.Value) (any, error) {
	val, err := valueOf[T](v)
	if err != nil {
		return nil, fail(h, "encode", err)
	}
	doc, err := h.Marshal(val)
	if err != nil {
		return nil, err
	}
	return jsonColumn(d, doc), nil
}

func (h *JSON[T]) FromColumn(_ Dialect, src any, dst reflect.Value) error {
	doc, ok, err := columnBytes(src)
	if err != nil {
		return fail(h, "decode", err)
	}
	if !ok {
		dst.SetZero()
		return nil
	}
	out, err := h.Unmarshal(doc)
	if err != nil {
		return err
	}
	if err := assign(dst, reflect.ValueOf(&out).Elem()); err != nil {
		return fail(h, "decode", err)
	}
	return nil
}

// EncryptedJSON stores a T as an encrypted JSON document.
//
// The stored form is itself valid JSON: a quoted string "$1$<base64>". Values
// written without the "$1$" prefix, as a bare quoted base64 string, are
// still readable.
type EncryptedJSON[T any] struct {
	name   string
	cipher *cipher.Service
}

const encryptedPrefix = "$1$"

// NewEncryptedJSON returns an encrypting JSON handler for T.
func NewEncryptedJSON[T any]() *EncryptedJSON[T] {
	return &EncryptedJSON[T]{name: "encrypted-json<" + reflect.TypeFor[T]().String() + ">"}
}

func (h *EncryptedJSON[T]) Name() string { return h.name }
func (h *EncryptedJSON[T]) Type() reflect.Type { return reflect.TypeFor[T]() }
func (h *EncryptedJSON[T]) SetCipher(c *cipher.Service) { h.cipher = c }

func (h *EncryptedJSON[T]) ToColumn(d Dialect, v reflect.Value) (any, error) {
	if h.cipher == nil {
		return nil, fail(h, "encrypt", errors.New("no cipher configured"))
	}
	val, err := valueOf[T](v)
	if err != nil {
		return nil, fail(h, "encode", err)
	}
	doc, err := json.Marshal(val)
	if err != nil {
		return nil, fail(h, "encode", err)
	}
	enc, err := h.cipher.Encrypt(doc)
	if err != nil {
		return nil, fail(h, "encrypt", err)
	}
	framed, err := json.Marshal(encryptedPrefix + base64.StdEncoding.EncodeToString(enc))
	if err != nil {
		return nil, fail(h, "encode", err)
	}
	return jsonColumn(d, framed), nil
}

func (h *EncryptedJSON[T]) FromColumn(_ Dialect, src any, dst reflect.Value) error {
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
	if len(raw) < 6 || raw[0] != '"' {
		return fail(h, "decrypt", fmt.Errorf("value is not an encrypted document"))
	}

	var framed string
	if err := json.Unmarshal(raw, &framed); err != nil {
		return fail(h, "decrypt", err)
	}
	encoded := strings.TrimPrefix(framed, encryptedPrefix)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fail(h, "decrypt", fmt.Errorf("%w: %v", cipher.ErrInvalidCiphertext, err))
	}
	doc, err := h.cipher.Decrypt(data)
	if err != nil {
		return fail(h, "decrypt", err)
	}

	var out T
	if err := decodeJSON(doc, &out); err != nil {
		return fail(h, "decode", err)
	}
	if err := assign(dst, reflect.ValueOf(&out).Elem()); err != nil {
		return fail(h, "decode", err)
	}
	return nil
}

func decodeJSON(doc []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON document")
	}
	return nil
}

func jsonColumn(d Dialect, doc []byte) any {
	if d.JSONAsBytes() {
		return doc
	}
	return string(doc)
}
