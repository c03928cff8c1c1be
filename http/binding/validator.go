package binding

import (
	"fmt"
	"reflect"
	"strings"

	validatorV10 "github.com/go-playground/validator/v10"
)

var validator *validatorV10.Validate

func init() {
	validator = validatorV10.New()
	// Report the name a client sent, not the Go field name.
	validator.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"query", "json"} {
			name := strings.Split(f.Tag.Get(tag), ",")[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
}

func getValidationMessage(fe validatorV10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "uuid", "uuid7":
		return "must be a valid UUID"
	default:
		return fmt.Sprintf("failed validation for tag '%s'", fe.Tag())
	}
}
