package config

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Target is a chain contracts can be deployed to. Its string form is used as
// a JSON map key and as a path segment.
type Target string

const (
	Ethereum  Target = "ethereum"
	Polygon   Target = "polygon"
	Avalanche Target = "avalanche"
	Stellar   Target = "stellar"
)

// AllTargets lists every supported target in a stable order.
var AllTargets = []Target{Ethereum, Polygon, Avalanche, Stellar}

// ParseTarget converts a lowercase name into a Target.
func ParseTarget(s string) (Target, error) {
	for _, t := range AllTargets {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown target %q", s)
}

func (t Target) String() string { return string(t) }

// IsEVM reports whether the target runs the Ethereum virtual machine.
func (t Target) IsEVM() bool {
	return t != Stellar
}

// UnmarshalText rejects unknown targets, which also applies to map keys.
func (t *Target) UnmarshalText(b []byte) error {
	parsed, err := ParseTarget(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Target) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

// UnmarshalJSON decodes a JSON string through UnmarshalText.
func (t *Target) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return t.UnmarshalText([]byte(s))
}

// SortTargets sorts ts in the order of AllTargets.
func SortTargets(ts []Target) {
	rank := func(t Target) int {
		for i, x := range AllTargets {
			if x == t {
				return i
			}
		}
		return len(AllTargets)
	}
	sort.Slice(ts, func(i, j int) bool { return rank(ts[i]) < rank(ts[j]) })
}
