package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"hearth/internal/types"
)

// dateLayout is the wire format of calendar dates in request bodies.
const dateLayout = "2006-01-02"

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()./-]{5,24}$`)

// ValidationError is one failed field, as returned to API clients under
// details.validation_errors.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator and registers the domain tags:
//
//	not_past_date  YYYY-MM-DD that is not before yesterday (UTC)
//	phone          loose international phone number
//
// Field names in errors are taken from the json tag.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
	clock    types.Clock
}

// NewValidator creates a Validator. A nil clock uses the system clock.
func NewValidator(logger *slog.Logger, clock types.Clock) *Validator {
	if clock == nil {
		clock = types.RealClock{}
	}
	v := &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		clock:    clock,
	}

	v.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	// Registration only fails on programmer error (empty tag or nil func).
	_ = v.validate.RegisterValidation("not_past_date", v.notPastDate)
	_ = v.validate.RegisterValidation("phone", validatePhone)

	return v
}

// Engine exposes the underlying validator for packages that validate their
// own documents, such as settings.
func (v *Validator) Engine() *validator.Validate {
	return v.validate
}

// ValidateStruct checks s against its tags and, when s implements
// types.Validator, its cross-field rules. Failures are returned as an
// AppError whose code is derived from the first failed tag and whose
// details carry every failed field.
func (v *Validator) ValidateStruct(s any) error {
	if err := v.validate.Struct(s); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			// InvalidValidationError: s was not a struct.
			return fmt.Errorf("validate: %w", err)
		}

		fields := make([]ValidationError, 0, len(ve))
		for _, fe := range ve {
			fields = append(fields, ValidationError{
				Field:   fieldPath(fe),
				Code:    tagToErrorCode(fe.Tag()),
				Message: fieldMessage(fe),
			})
		}
		return types.NewAppErrorWithDetails(
			types.ErrorCode(fields[0].Code),
			fields[0].Message,
			err,
			map[string]any{"validation_errors": fields},
		)
	}

	if cv, ok := s.(types.Validator); ok {
		return cv.Validate()
	}
	return nil
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required", "required_without", "required_if":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must match %s", field, fe.Param())
	case "not_past_date":
		return field + " must be a date (YYYY-MM-DD) that is not in the past"
	case "phone":
		return field + " must be a phone number"
	default:
		return field + " is invalid"
	}
}

// tagToErrorCode maps a validator tag to the API error code.
func tagToErrorCode(tag string) string {
	switch tag {
	case "required", "required_without", "required_if":
		return string(types.ErrCodeValidationMissingField)
	case "email":
		return string(types.ErrCodeValidationInvalidEmail)
	default:
		return string(types.ErrCodeValidationInvalidField)
	}
}

// notPastDate allows yesterday so that a diner west of UTC booking for
// their own "today" is not rejected.
func (v *Validator) notPastDate(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return false
	}
	now := v.clock.Now().UTC()
	yesterday := time.Date(now.Year(), now.Month(), now.Day()-1, 0, 0, 0, 0, time.UTC)
	return !d.Before(yesterday)
}

func validatePhone(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	return s == "" || phonePattern.MatchString(s)
}
