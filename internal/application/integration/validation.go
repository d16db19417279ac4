package integration

import (
	"errors"
	"reflect"
	"strings"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator configures a validator that reports JSON field names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validateStruct validates a request DTO and converts failures into an
// INVALID_INPUT domain error listing every offending field
func validateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.NewValidationError(err.Error())
	}
	details := make([]string, 0, len(verrs))
	for _, e := range verrs {
		details = append(details, e.Field()+": "+validationMessage(e))
	}
	return shared.NewValidationError("validation failed: " + strings.Join(details, "; "))
}

// validationMessage returns a human-readable validation message
func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		if e.Type().Kind() == reflect.String {
			return "must be at least " + e.Param() + " characters"
		}
		return "must have at least " + e.Param() + " entries"
	case "max":
		if e.Type().Kind() == reflect.String {
			return "must be at most " + e.Param() + " characters"
		}
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	default:
		return "is invalid"
	}
}
