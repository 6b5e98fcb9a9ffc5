// Package secret provides carriers for credentials read from the project
// configuration. Plaintext only leaves a carrier through Value.Expose; every
// formatting and serialization path renders Redacted instead.
package secret

import (
	"encoding/json"
	"fmt"
)

// Redacted is rendered in place of plaintext secrets.
const Redacted = "***REDACTED***"

// Value is a loaded plaintext secret.
type Value struct {
	b []byte
}

// NewValue copies s into a fresh buffer.
func NewValue(s string) *Value {
	b := make([]byte, len(s))
	copy(b, s)
	return &Value{b: b}
}

// Expose returns the plaintext.
func (v *Value) Expose() string {
	if v == nil {
		return ""
	}
	return string(v.b)
}

// Len returns the plaintext length in bytes.
func (v *Value) Len() int {
	if v == nil {
		return 0
	}
	return len(v.b)
}

// Zero wipes the buffer. The value is empty afterwards.
func (v *Value) Zero() {
	if v == nil {
		return
	}
	for i := range v.b {
		v.b[i] = 0
	}
	v.b = v.b[:0]
}

func (v *Value) String() string   { return Redacted }
func (v *Value) GoString() string { return Redacted }

// Format renders Redacted for every verb.
func (v *Value) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(Redacted))
}

// MarshalJSON never emits the plaintext.
func (v *Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(Redacted)
}
