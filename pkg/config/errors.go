// Package config provides the rig's INI-style configuration: file
// parsing with [include] support, access tracking, typed getters with
// bounds validation, and the typed view of the bench deployment the
// main binary consumes.
package config

import "fmt"

// ConfigError carries the section and option a configuration problem
// was found in.
type ConfigError struct {
	Section string
	Option  string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Option != "":
		return fmt.Sprintf("Option '%s' in section '%s': %s", e.Option, e.Section, e.Message)
	case e.Section != "":
		return fmt.Sprintf("Section '%s': %s", e.Section, e.Message)
	default:
		return e.Message
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError builds a ConfigError with a literal message.
func NewConfigError(section, option, message string) *ConfigError {
	return &ConfigError{Section: section, Option: option, Message: message}
}

// WrapError attaches section/option context to err.
func WrapError(section, option string, err error) *ConfigError {
	return &ConfigError{Section: section, Option: option, Message: err.Error(), Cause: err}
}

// ErrMissingOption marks a required option that was not set.
func ErrMissingOption(section, option string) *ConfigError {
	return NewConfigError(section, option, "must be specified")
}

// ErrMissingSection marks a required section that does not exist.
func ErrMissingSection(section string) *ConfigError {
	return NewConfigError(section, "", "section not found")
}

// ErrInvalidValue marks a value that failed to parse as expected.
func ErrInvalidValue(section, option, value, expected string) *ConfigError {
	return NewConfigError(section, option,
		fmt.Sprintf("invalid value '%s', expected %s", value, expected))
}

// ErrOutOfRange marks a numeric value that violated constraint.
func ErrOutOfRange(section, option string, value float64, constraint string) *ConfigError {
	return NewConfigError(section, option, fmt.Sprintf("value %v %s", value, constraint))
}

// ErrInvalidChoice marks a value outside the allowed choices.
func ErrInvalidChoice(section, option, value string, choices []string) *ConfigError {
	return NewConfigError(section, option,
		fmt.Sprintf("'%s' is not a valid choice (valid: %v)", value, choices))
}
