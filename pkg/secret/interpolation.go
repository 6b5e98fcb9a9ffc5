package secret

import (
	"encoding/json"
	"regexp"
	"strings"
)

var markerRe = regexp.MustCompile(`\$\{\{\s*(env|file|text)\.(.*?)\s*\}\}`)

// Part is a piece of an interpolated string. Exactly one of Public or Secret is meaningful.
type Part struct {
	Public string
	Secret *Secret
}

// Interpolation is a string with ${{env.NAME}}, ${{file.PATH}} and
// ${{text.VALUE}} markers, split into ordered public and secret parts.
type Interpolation struct {
	parts []Part
}

// ParseInterpolation splits s into public and secret parts. Text that does not
// match a well formed marker is kept public.
func ParseInterpolation(s string) Interpolation {
	var parts []Part
	last := 0
	for _, m := range markerRe.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			parts = append(parts, Part{Public: s[last:m[0]]})
		}
		kind, ref := s[m[2]:m[3]], s[m[4]:m[5]]
		var sec Secret
		switch kind {
		case "env":
			sec = FromEnv(ref)
		case "file":
			sec = FromFile(ref)
		default:
			sec = FromPlainText(ref)
		}
		parts = append(parts, Part{Secret: &sec})
		last = m[1]
	}
	if last < len(s) {
		parts = append(parts, Part{Public: s[last:]})
	}
	return Interpolation{parts: parts}
}

// Parts returns the parts in declaration order.
func (i Interpolation) Parts() []Part {
	return i.parts
}

// HasSecrets reports whether any part is a secret.
func (i Interpolation) HasSecrets() bool {
	for _, p := range i.parts {
		if p.Secret != nil {
			return true
		}
	}
	return false
}

// Load resolves every secret part in order and concatenates the result.
func (i Interpolation) Load() (*Value, error) {
	var b strings.Builder
	for _, p := range i.parts {
		if p.Secret == nil {
			b.WriteString(p.Public)
			continue
		}
		v, err := p.Secret.Load()
		if err != nil {
			return nil, err
		}
		b.WriteString(v.Expose())
		v.Zero()
	}
	return NewValue(b.String()), nil
}

// String renders public parts verbatim and secrets in marker form, with text
// markers redacted.
func (i Interpolation) String() string {
	var b strings.Builder
	for _, p := range i.parts {
		if p.Secret == nil {
			b.WriteString(p.Public)
			continue
		}
		switch p.Secret.Kind() {
		case KindPlainText:
			b.WriteString("${{text." + Redacted + "}}")
		default:
			b.WriteString(p.Secret.String())
		}
	}
	return b.String()
}

// MarshalJSON renders the same text as String.
func (i Interpolation) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// UnmarshalJSON parses a JSON string.
func (i *Interpolation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*i = ParseInterpolation(s)
	return nil
}
