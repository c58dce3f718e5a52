package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report YAML key names instead of Go field names in error paths.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks the configuration against the schema rules: required
// fields present, directory paths non-empty, numeric fields positive,
// cluster.type within its enum, dataset names unique, and
// minhash_deduplication.n_buckets equal to executor.n_tasks. All violations
// are returned joined; each is a *ConfigError naming the field path.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, translateFieldError(fe))
		}
	}

	if c.MinhashDedup != nil && c.Executor != nil && c.MinhashDedup.NBuckets != c.Executor.NTasks {
		errs = append(errs, &ConfigError{
			Kind:  KindCrossField,
			Field: "minhash_deduplication.n_buckets",
			Detail: fmt.Sprintf("must equal executor.n_tasks: n_buckets=%d, n_tasks=%d",
				c.MinhashDedup.NBuckets, c.Executor.NTasks),
		})
	}

	return errors.Join(errs...)
}

func translateFieldError(fe validator.FieldError) *ConfigError {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")

	switch fe.Tag() {
	case "required":
		return &ConfigError{Kind: KindMissingField, Field: field}
	case "unique":
		return &ConfigError{
			Kind:   KindCrossField,
			Field:  field,
			Detail: "dataset names must be unique",
		}
	case "oneof":
		return &ConfigError{
			Kind:   KindTypeMismatch,
			Field:  field,
			Detail: fmt.Sprintf("value %q is not one of: %s", fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", ")),
		}
	case "gt":
		return &ConfigError{
			Kind:   KindTypeMismatch,
			Field:  field,
			Detail: fmt.Sprintf("must be a positive integer, got %v", fe.Value()),
		}
	default:
		return &ConfigError{
			Kind:   KindTypeMismatch,
			Field:  field,
			Detail: fmt.Sprintf("failed %q constraint", fe.Tag()),
		}
	}
}
