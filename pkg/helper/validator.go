package helper

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// validate reports fields by their json name, as api clients see them
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return field.Name
		}
		return name
	})
	return v
}()

func ValidateStruct(s interface{}) error { return validate.Struct(s) }

// IsValidationError true if err carries validator field errors
func IsValidationError(err error) bool {
	var verr validator.ValidationErrors

	return errors.As(err, &verr)
}

// InvalidFields json names of the fields failed validation
func InvalidFields(err error) []string {
	var verr validator.ValidationErrors
	if !errors.As(err, &verr) {
		return nil
	}

	fields := make([]string, 0, len(verr))
	for _, fe := range verr {
		fields = append(fields, fe.Field())
	}
	return fields
}
