// Package config parses the INI-style configuration file and exposes typed
// section accessors.
package config

import "fmt"

// ConfigError is a configuration problem with section/option context.
type ConfigError struct {
	Section string
	Option  string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Option != "" {
		return fmt.Sprintf("option '%s' in section '%s': %s", e.Option, e.Section, e.Message)
	}
	if e.Section != "" {
		return fmt.Sprintf("section '%s': %s", e.Section, e.Message)
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrMissingOption reports a required but absent option.
func ErrMissingOption(section, option string) *ConfigError {
	return &ConfigError{Section: section, Option: option, Message: "must be specified"}
}

// ErrMissingSection reports an absent section.
func ErrMissingSection(section string) *ConfigError {
	return &ConfigError{Section: section, Message: "section not found"}
}

// ErrInvalidValue reports a value that failed to parse as the expected type.
func ErrInvalidValue(section, option, value, expected string) *ConfigError {
	return &ConfigError{
		Section: section,
		Option:  option,
		Message: fmt.Sprintf("invalid value '%s', expected %s", value, expected),
	}
}
