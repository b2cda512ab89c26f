package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a user, event, pattern or schedule does
	// not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by stores when a unique key already exists.
	ErrConflict = errors.New("conflict")
)

// ValidationError rejects an event whose fields do not fit its date mode.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "invalid event: " + joinFields(e.Fields)
}

// ConfigurationError reports a schedule pattern that cannot be expanded.
type ConfigurationError struct {
	Pattern string
	Fields  map[string]string
}

func (e *ConfigurationError) Error() string {
	if e.Pattern == "" {
		return "invalid pattern: " + joinFields(e.Fields)
	}
	return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, joinFields(e.Fields))
}

func joinFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fields[k])
	}
	return strings.Join(parts, "; ")
}
