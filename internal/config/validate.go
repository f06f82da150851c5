package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ConfigError is a validation failure for one field.
type ConfigError struct {
	Field   string
	Message string
	Value   any
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every field that failed validation.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Validate checks struct tags and the cross-field heat bounds.
// Failures are returned as ValidationErrors.
func (c *Config) Validate() error {
	var details ValidationErrors

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			details = append(details, ConfigError{
				Field:   fe.Namespace(),
				Message: formatValidationError(fe),
				Value:   fe.Value(),
			})
		}
	}

	h := c.Heat
	if h.MinHeat >= h.MaxHeat {
		details = append(details, ConfigError{
			Field:   "Config.Heat.MinHeat",
			Message: fmt.Sprintf("must be less than max_heat (%g)", h.MaxHeat),
			Value:   h.MinHeat,
		})
	}
	if h.InitialHeat < h.MinHeat || h.InitialHeat > h.MaxHeat {
		details = append(details, ConfigError{
			Field:   "Config.Heat.InitialHeat",
			Message: fmt.Sprintf("must be within [%g, %g]", h.MinHeat, h.MaxHeat),
			Value:   h.InitialHeat,
		})
	}
	if h.ColdThreshold > h.HotThreshold {
		details = append(details, ConfigError{
			Field:   "Config.Heat.ColdThreshold",
			Message: fmt.Sprintf("must not exceed hot_threshold (%g)", h.HotThreshold),
			Value:   h.ColdThreshold,
		})
	}

	if len(details) > 0 {
		return details
	}
	return nil
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
