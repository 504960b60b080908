package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"reflect"
)

// Payload is an opaque JSON answer value. Choices and answers are compared by
// decoded value, so formatting differences ("a" vs "a" with whitespace, key
// order in objects) do not matter.
type Payload json.RawMessage

// IsNull reports whether the payload is absent or JSON null.
func (p Payload) IsNull() bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Decode returns the payload as a generic JSON value. Numbers stay
// json.Number so large integers keep their exact value.
func (p Payload) Decode() (any, error) {
	if p.IsNull() {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("payload has trailing data")
	}
	return v, nil
}

// exactNumber is a number in lowest-terms rational form, so 1, 1.0 and 1e0
// compare equal and 2^53+1 does not equal 2^53.
type exactNumber string

func canonical(v any) any {
	switch t := v.(type) {
	case json.Number:
		r, ok := new(big.Rat).SetString(string(t))
		if !ok {
			return t
		}
		return exactNumber(r.RatString())
	case []any:
		for i := range t {
			t[i] = canonical(t[i])
		}
	case map[string]any:
		for k := range t {
			t[k] = canonical(t[k])
		}
	}
	return v
}

// Equal reports exact value equality. Undecodable payloads are never equal.
func (p Payload) Equal(other Payload) bool {
	if p.IsNull() || other.IsNull() {
		return p.IsNull() && other.IsNull()
	}
	a, err := p.Decode()
	if err != nil {
		return false
	}
	b, err := other.Decode()
	if err != nil {
		return false
	}
	return reflect.DeepEqual(canonical(a), canonical(b))
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.IsNull() {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	*p = append((*p)[0:0], b...)
	return nil
}

// PayloadOf marshals v into a Payload; it panics on unmarshalable input and is
// meant for constants and tests.
func PayloadOf(v any) Payload {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Payload(b)
}
