package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers domain-specific validation rules.
// Must be called before validating a Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("policy_locator", validatePolicyLocator); err != nil {
		return fmt.Errorf("failed to register policy_locator validator: %w", err)
	}
	return nil
}

// validatePolicyLocator accepts an absolute file path, optionally with
// a file:// scheme.
func validatePolicyLocator(fl validator.FieldLevel) bool {
	locator := strings.TrimPrefix(fl.Field().String(), "file://")
	return locator != "" && filepath.IsAbs(locator)
}

// Validate validates the configuration using struct tags and
// cross-field rules, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if !c.DevMode && c.Token.Key == "" {
		return errors.New("token.key is required outside dev mode")
	}
	if c.SMTP.Host != "" && c.SMTP.Sender == "" {
		return errors.New("smtp.sender is required when smtp.host is set")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "fqdn":
		return fmt.Sprintf("%s must be a valid domain name", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "policy_locator":
		return fmt.Sprintf("%s must be an absolute path or file://<absolute-path>", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
