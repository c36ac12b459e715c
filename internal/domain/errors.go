package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfig           = errors.New("config error")
	ErrInsufficientData = errors.New("insufficient data")
	ErrSourceFetch      = errors.New("source fetch error")
)

// ConfigError reports a bad unit, threshold or bias configuration. It is
// fatal and never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Reason)
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientDataError means fewer usable sources than required. Batch
// callers skip the instant.
type InsufficientDataError struct {
	InstantID string
	Usable    int
	Required  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: %d usable sources, need %d", e.InstantID, e.Usable, e.Required)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// SourceFetchError wraps the failure of a single source. It only ever
// reduces the vote denominator.
type SourceFetchError struct {
	SourceID string
	Err      error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("source %s: %v", e.SourceID, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

func (e *SourceFetchError) Is(target error) bool { return target == ErrSourceFetch }
