package config

import (
	"fmt"
	"strings"

	coreerrors "ndlp-proxy/internal/core/errors"
)

// ValidationError 单个字段的校验错误
type ValidationError struct {
	Field   string // 字段路径，如 "proxy.listen_addr"
	Value   string
	Message string
	Hint    string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult 汇总所有校验错误
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid returns true if there are no validation errors
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error
func (r *ValidationResult) AddError(field, value, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Hint:    hint,
	})
}

// Error returns a formatted error message
func (r *ValidationResult) Error() string {
	if r.IsValid() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:")
	for i, err := range r.Errors {
		sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, err.Field))
		if err.Value != "" {
			sb.WriteString(fmt.Sprintf(" (current value: %s)", err.Value))
		}
		sb.WriteString(": " + err.Message)
		if err.Hint != "" {
			sb.WriteString(" hint: " + err.Hint)
		}
	}
	return sb.String()
}

// Err 无错误时返回 nil，否则返回 CONFIG_ERROR
func (r *ValidationResult) Err() error {
	if r.IsValid() {
		return nil
	}
	return coreerrors.New(coreerrors.CodeConfigError, r.Error())
}
