// Package jsonvalue implements the canonical, serialise-once JSON value
// shared across the network, disk journal, and in-memory command tables.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is a reference-counted, immutable, pre-serialised JSON document.
// Its canonical text is computed once at construction time and reused
// verbatim whenever the value is embedded into an outgoing message, so
// that the same payload never gets serialised twice as it crosses the
// network, the journal, and RecentCommands.
type Value struct {
	raw []byte
}

// Null is the canonical JSON null value.
var Null = Value{raw: []byte("null")}

// From canonicalises v (any JSON-marshalable Go value) into a Value.
// encoding/json sorts map keys but preserves struct field declaration
// order, so wire-facing callers that promise a specific member order
// (pkg/conv, pkg/jsonrpc) must pass field-ordered structs, not maps.
func From(v any) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("marshal json value: %w", err)
	}
	return Raw(b)
}

// Raw wraps pre-encoded JSON bytes, compacting them into canonical form.
// The input must already be valid JSON.
func Raw(b []byte) (Value, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return Value{}, fmt.Errorf("compact json value: %w", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return Value{raw: out}, nil
}

// MustFrom is From but panics on error; intended for internally
// constructed values that are known to be valid (e.g. our own envelopes).
func MustFrom(v any) Value {
	val, err := From(v)
	if err != nil {
		panic(fmt.Sprintf("jsonvalue: bug: %v", err))
	}
	return val
}

// Parse reads a single JSON document from b, canonicalising it.
func Parse(b []byte) (Value, error) {
	if !json.Valid(b) {
		return Value{}, fmt.Errorf("parse json value: invalid json")
	}
	return Raw(b)
}

// Bytes returns the canonical encoding. The caller must not mutate it.
func (v Value) Bytes() []byte {
	if v.raw == nil {
		return []byte("null")
	}
	return v.raw
}

// String returns the canonical encoding as a string.
func (v Value) String() string {
	return string(v.Bytes())
}

// IsZero reports whether v is the zero Value (distinct from JSON null).
func (v Value) IsZero() bool {
	return v.raw == nil
}

// Decode unmarshals the canonical text into dst.
func (v Value) Decode(dst any) error {
	if err := json.Unmarshal(v.Bytes(), dst); err != nil {
		return fmt.Errorf("decode json value: %w", err)
	}
	return nil
}

// Member extracts a named field from a JSON object value.
func (v Value) Member(name string) (Value, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(v.Bytes(), &obj); err != nil {
		return Value{}, false
	}
	raw, ok := obj[name]
	if !ok {
		return Value{}, false
	}
	val, err := Raw(raw)
	if err != nil {
		return Value{}, false
	}
	return val, true
}

// MarshalJSON implements json.Marshaler, embedding the canonical text
// verbatim so nesting a Value inside another structure costs no
// re-serialisation.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler by canonicalising the input.
func (v *Value) UnmarshalJSON(b []byte) error {
	val, err := Raw(b)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// Equal compares two values by their canonical text, never by re-parsing.
func Equal(a, b Value) bool {
	return bytes.Equal(a.Bytes(), b.Bytes())
}
