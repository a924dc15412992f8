package app

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateInput checks struct tags and returns a ValidationFailed error
// listing every violation.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalid(err.Error())
	}

	var messages []string
	for _, fe := range fieldErrs {
		field := strings.ToLower(fe.Field())
		param := fe.Param()

		switch fe.Tag() {
		case "required":
			messages = append(messages, field+" is required")
		case "min":
			switch fe.Kind() {
			case reflect.Slice:
				messages = append(messages, field+" must contain at least "+param+" items")
			case reflect.Int:
				messages = append(messages, field+" must be at least "+param)
			default:
				messages = append(messages, field+" must be at least "+param+" characters")
			}
		case "max":
			messages = append(messages, field+" must be at most "+param+" characters")
		case "email":
			messages = append(messages, field+" must be a valid email")
		case "oneof":
			messages = append(messages, field+" must be one of "+param)
		case "unique":
			messages = append(messages, field+" must not repeat entries")
		default:
			messages = append(messages, field+" is invalid")
		}
	}
	return invalid(strings.Join(messages, ", "))
}

// cleanName trims surrounding whitespace so "   " fails required.
func cleanName(s string) string {
	return strings.TrimSpace(s)
}
