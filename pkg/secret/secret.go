package secret

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Kind tells where a secret is read from.
type Kind int

const (
	// KindPlainText secrets are stored inline.
	KindPlainText Kind = iota
	// KindEnvVar secrets are read from an environment variable.
	KindEnvVar
	// KindFile secrets are read from a file.
	KindFile
)

// ReadEnvError is returned when an environment variable is not set.
type ReadEnvError struct {
	Name string
}

func (e *ReadEnvError) Error() string {
	return fmt.Sprintf("environment variable %s is not set", e.Name)
}

// ReadFileError is returned when a secret file cannot be read.
type ReadFileError struct {
	Path string
	Err  error
}

func (e *ReadFileError) Error() string {
	return fmt.Sprintf("read secret file %s: %v", e.Path, e.Err)
}

func (e *ReadFileError) Unwrap() error { return e.Err }

// Secret is a lazily loaded credential.
type Secret struct {
	kind  Kind
	ref   string
	plain *Value
}

// FromEnv returns a secret read from the named environment variable.
func FromEnv(name string) Secret {
	return Secret{kind: KindEnvVar, ref: name}
}

// FromFile returns a secret read from path.
func FromFile(path string) Secret {
	return Secret{kind: KindFile, ref: path}
}

// FromPlainText returns an inline secret.
func FromPlainText(s string) Secret {
	return Secret{kind: KindPlainText, plain: NewValue(s)}
}

// Kind returns where the secret is read from.
func (s Secret) Kind() Kind { return s.kind }

// Ref returns the environment variable name or the file path. It is empty
// for plaintext secrets.
func (s Secret) Ref() string { return s.ref }

// IsZero reports whether s was never set.
func (s Secret) IsZero() bool {
	return s.kind == KindPlainText && s.plain == nil
}

// Load resolves the secret. It is the only way to obtain the plaintext.
func (s Secret) Load() (*Value, error) {
	switch s.kind {
	case KindEnvVar:
		v, ok := LookupEnv(s.ref)
		if !ok {
			return nil, &ReadEnvError{Name: s.ref}
		}
		return NewValue(v), nil
	case KindFile:
		b, err := os.ReadFile(s.ref)
		if err != nil {
			return nil, &ReadFileError{Path: s.ref, Err: err}
		}
		v := NewValue(strings.TrimRight(string(b), "\r\n"))
		for i := range b {
			b[i] = 0
		}
		return v, nil
	default:
		if s.plain == nil {
			return NewValue(""), nil
		}
		return NewValue(s.plain.Expose()), nil
	}
}

// String renders the marker form for env and file secrets and Redacted for plaintext.
func (s Secret) String() string {
	switch s.kind {
	case KindEnvVar:
		return "${{env." + s.ref + "}}"
	case KindFile:
		return "${{file." + s.ref + "}}"
	default:
		return Redacted
	}
}

// GoString keeps %#v redacted.
func (s Secret) GoString() string { return s.String() }

// MarshalJSON renders the same text as String.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

type secretObject struct {
	Env    *string `json:"env,omitempty"`
	File   *string `json:"file,omitempty"`
	Secret *string `json:"secret,omitempty"`
}

// UnmarshalJSON accepts {"env": NAME}, {"file": PATH}, {"secret": VALUE} or a
// bare string. A bare string consisting of exactly one marker is read as that
// marker; any other string is plaintext.
func (s *Secret) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = fromString(str)
		return nil
	}

	var obj secretObject
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&obj); err != nil {
		return fmt.Errorf("invalid secret: %w", err)
	}
	set := 0
	for _, p := range []*string{obj.Env, obj.File, obj.Secret} {
		if p != nil {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("invalid secret: expected exactly one of 'env', 'file' or 'secret'")
	}
	switch {
	case obj.Env != nil:
		*s = FromEnv(*obj.Env)
	case obj.File != nil:
		*s = FromFile(*obj.File)
	default:
		*s = FromPlainText(*obj.Secret)
	}
	return nil
}

func fromString(str string) Secret {
	parts := ParseInterpolation(str).Parts()
	if len(parts) == 1 && parts[0].Secret != nil {
		return *parts[0].Secret
	}
	return FromPlainText(str)
}
