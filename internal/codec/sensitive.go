package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"

	"github.com/roach88/repostore/internal/cipher"
)

// Predicate decides whether an attribute name is sensitive.
type Predicate func(field string) bool

var defaultSensitive = []string{"password", "secret"}

// SensitivePredicate matches "password", "secret" and any of the
// comma-separated extra names, ignoring case.
func SensitivePredicate(extra string) Predicate {
	fold := cases.Fold()
	names := make(map[string]struct{})
	for _, n := range defaultSensitive {
		names[fold.String(n)] = struct{}{}
	}
	for _, n := range strings.Split(extra, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names[fold.String(n)] = struct{}{}
		}
	}
	return func(field string) bool {
		_, ok := names[cases.Fold().String(field)]
		return ok
	}
}

// EncodeSensitive rewrites a JSON document so every string value whose
// immediately enclosing object key matches is encrypted and stored as
// "{<base64>}". Everything else is copied through.
func EncodeSensitive(doc []byte, match Predicate, c *cipher.Service) ([]byte, error) {
	return rewriteStrings(doc, match, func(s string) (string, error) {
		enc, err := c.EncryptString(s)
		if err != nil {
			return "", err
		}
		return "{" + enc + "}", nil
	})
}

// DecodeSensitive reverses EncodeSensitive. Matching values that are not
// wrapped (written before masking was enabled) are returned unchanged.
func DecodeSensitive(doc []byte, match Predicate, c *cipher.Service) ([]byte, error) {
	return rewriteStrings(doc, match, func(s string) (string, error) {
		if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
			return s, nil
		}
		return c.DecryptString(s[1 : len(s)-1])
	})
}

type frame struct {
	object  bool
	wantKey bool
	count   int
	key     string
}

// rewriteStrings streams doc token by token, applying fn to string values
// directly under a matching key, and emits compact JSON.
func rewriteStrings(doc []byte, match Predicate, fn func(string) (string, error)) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var out bytes.Buffer
	var stack []frame

	completed := func() {
		if len(stack) == 0 {
			return
		}
		top := &stack[len(stack)-1]
		top.count++
		if top.object {
			top.wantKey = true
		}
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if d, ok := tok.(json.Delim); ok && (d == '}' || d == ']') {
			stack = stack[:len(stack)-1]
			out.WriteByte(byte(d))
			completed()
			continue
		}

		var top *frame
		if len(stack) > 0 {
			top = &stack[len(stack)-1]
			if top.object && top.wantKey {
				if top.count > 0 {
					out.WriteByte(',')
				}
				key, _ := tok.(string)
				top.key = key
				top.wantKey = false
				if err := writeJSON(&out, key); err != nil {
					return nil, err
				}
				out.WriteByte(':')
				continue
			}
			if !top.object && top.count > 0 {
				out.WriteByte(',')
			}
		}

		switch v := tok.(type) {
		case json.Delim:
			out.WriteByte(byte(v))
			stack = append(stack, frame{object: v == '{', wantKey: v == '{'})
			continue
		case string:
			if top != nil && top.object && match(top.key) {
				if v, err = fn(v); err != nil {
					return nil, fmt.Errorf("attribute %q: %w", top.key, err)
				}
			}
			if err := writeJSON(&out, v); err != nil {
				return nil, err
			}
		case json.Number:
			out.WriteString(v.String())
		case bool:
			if v {
				out.WriteString("true")
			} else {
				out.WriteString("false")
			}
		case nil:
			out.WriteString("null")
		}
		completed()
	}

	if len(stack) != 0 {
		return nil, errors.New("unexpected end of JSON input")
	}
	return out.Bytes(), nil
}

func writeJSON(out *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	out.Write(b)
	return nil
}
