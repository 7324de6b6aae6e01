package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ValidationError marks a record that cannot enter classification
// (missing amount, missing date, non-positive amount). Retrying without
// fixing the record will not help.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError is returned when an optimistic version check on an invoice
// keeps failing after retries. Retryable by re-running reconciliation.
type ConflictError struct {
	InvoiceId     int
	TransactionId int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict applying transaction %d to invoice %d", e.TransactionId, e.InvoiceId)
}

// ConfigError marks an invalid engine configuration. Always terminal;
// surfaced at construction, never mid-run.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return "invalid reconciler config: " + e.Detail
}

func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Detail: fmt.Sprintf(format, args...)}
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
