package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/joseph-ayodele/receipts-classifier/constants"
)

// Validator wraps go-playground/validator with the project's custom rules and
// turns field errors into a single InvalidInput error.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// category checks the closed label vocabulary (Other included)
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return constants.Category(fl.Field().String()).IsValid()
	})
	return &Validator{validate: v}
}

// Struct validates s and returns an AppError wrapping ErrInvalidInput.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewAppError("INVALID_INPUT", err.Error(), ErrInvalidInput)
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, fieldMessage(fe))
	}
	return NewAppError("INVALID_INPUT", strings.Join(messages, "; "), ErrInvalidInput)
}

// Var validates a single value against a tag, e.g. Var("uuid", id, "required,uuid").
func (v *Validator) Var(field string, value any, tag string) error {
	if err := v.validate.Var(value, tag); err != nil {
		return NewAppError("INVALID_INPUT", fmt.Sprintf("%s is invalid (%s)", field, tag), ErrInvalidInput)
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "category":
		return fmt.Sprintf("%s must be one of %s", field, strings.Join(constants.AsStringSlice(), ", "))
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "uuid", "uuid4":
		return field + " must be a valid UUID"
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

var defaultValidator = NewValidator()

// ValidateStruct validates s with the shared validator.
func ValidateStruct(s any) error {
	return defaultValidator.Struct(s)
}
