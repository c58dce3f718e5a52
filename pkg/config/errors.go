package config

import "fmt"

// ErrorKind classifies configuration failures.
type ErrorKind string

const (
	// KindMissingField marks a required field that is absent or empty.
	KindMissingField ErrorKind = "missing field"
	// KindTypeMismatch marks a field whose value has the wrong type or is
	// outside its declared domain.
	KindTypeMismatch ErrorKind = "type mismatch"
	// KindCrossField marks a violated constraint spanning multiple fields.
	KindCrossField ErrorKind = "cross-field constraint"
)

// ConfigError reports a single invalid field, identified by its dotted path
// in the YAML document (for example "minhash_deduplication.n_buckets").
type ConfigError struct {
	Kind   ErrorKind
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Detail)
}
