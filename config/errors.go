package config

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every ConfigurationError via errors.Is
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError reports a malformed score, emission parameter set,
// transition row or setting. It is fatal and raised at construction.
type ConfigurationError struct {
	Component string
	Reason    string
	Err       error
}

// Errorf builds a ConfigurationError for component
func Errorf(component, format string, args ...any) error {
	return &ConfigurationError{Component: component, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds a ConfigurationError around an underlying cause
func Wrap(component string, err error, format string, args ...any) error {
	return &ConfigurationError{Component: component, Reason: fmt.Sprintf(format, args...), Err: err}
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Component, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
