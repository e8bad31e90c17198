package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"duo-pass-api/internal/catalog"
	"duo-pass-api/internal/month"
)

// MaxMonthsPerRequest bounds a single quote or purchase.
const MaxMonthsPerRequest = 24

const maxUserIDLength = 128

var validate = validator.New(validator.WithRequiredStructEnabled())

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateStruct applies the `validate` struct tags and converts the first
// failure into a ValidationError.
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "body", Message: err.Error()}
	}

	fe := fieldErrs[0]
	return &ValidationError{
		Field:   strings.ToLower(fe.Field()),
		Message: describeTag(fe),
	}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "max":
		return "must have at most " + fe.Param() + " entries"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ValidateUserID checks an opaque user id. Identity is resolved upstream;
// only shape is checked here.
func ValidateUserID(id string) error {
	id = SanitizeString(id)
	if id == "" {
		return &ValidationError{Field: "user_id", Message: "is required"}
	}
	if len(id) > maxUserIDLength {
		return &ValidationError{Field: "user_id", Message: fmt.Sprintf("cannot exceed %d characters", maxUserIDLength)}
	}
	if strings.ContainsAny(id, " \t\r\n/") {
		return &ValidationError{Field: "user_id", Message: "must not contain whitespace or slashes"}
	}
	return nil
}

// ValidateMonth checks the canonical YYYY-MM form.
func ValidateMonth(m, field string) error {
	if m == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	if _, err := month.Parse(m); err != nil {
		return &ValidationError{Field: field, Message: "must be a zero-padded YYYY-MM month"}
	}
	return nil
}

// ValidateMonths checks a quote or purchase month list.
func ValidateMonths(months []string) error {
	if len(months) == 0 {
		return &ValidationError{Field: "months", Message: "must contain at least one month"}
	}
	if len(months) > MaxMonthsPerRequest {
		return &ValidationError{
			Field:   "months",
			Message: fmt.Sprintf("cannot contain more than %d months", MaxMonthsPerRequest),
		}
	}
	for i, m := range months {
		if err := ValidateMonth(m, fmt.Sprintf("months[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTier parses a tier id.
func ValidateTier(s string) (catalog.TierID, error) {
	id, err := catalog.ParseTier(SanitizeString(s))
	if err != nil {
		return "", &ValidationError{Field: "tier", Message: "must be one of: go run fly"}
	}
	return id, nil
}

// ValidateCompanionType parses a companion type.
func ValidateCompanionType(s string) (catalog.CompanionType, error) {
	c, err := catalog.ParseCompanionType(SanitizeString(s))
	if err != nil {
		return "", &ValidationError{Field: "companion_type", Message: "must be one of: nunu certified-nunu shangzhe"}
	}
	return c, nil
}
