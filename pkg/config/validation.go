package config

import (
	"reflect"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// Validator is an optional interface configuration structs may implement
// for cross-field checks the struct tags cannot express. Validate runs
// after the required-tag pass succeeds. Errors that already are a
// [*gwerr.Error] pass through unchanged; anything else is wrapped with
// [gwerr.CodeValidation].
//
// The gateway uses this to enforce relations between values, for example
// that every business-to-business domain also appears in the domain
// whitelist.
type Validator interface {
	Validate() error
}

// validate runs required-tag validation and then the Validator interface
// if cfg implements it.
func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isGWErr := gwerr.AsError(err); isGWErr {
				return err
			}
			return gwerr.Wrap(err, gwerr.CodeValidation,
				"config: custom validation failed")
		}
	}

	return nil
}

// validateRequired recursively checks that every field tagged
// `required:"true"` is non-zero. path carries the dotted field path for
// error messages (e.g., "Postgres.Host").
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if field.Kind() == reflect.Struct {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}

		if sf.Tag.Get("required") != "true" {
			continue
		}

		if field.IsZero() {
			return gwerr.Newf(gwerr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}

	return nil
}
