// Package apperr holds the error kinds shared by the triage pipeline and the
// HTTP layer that maps them to responses.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError for field.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// StorageError wraps a datastore read or write failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError, keeping nil as nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ClassificationError wraps a failed call to the classifier.
type ClassificationError struct {
	StatusCode int
	Err        error
}

func (e *ClassificationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("classification failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("classification failed: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// NotificationError wraps a failed alert delivery to one recipient.
type NotificationError struct {
	Recipient string
	Err       error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Recipient, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsClassification reports whether err is, or wraps, a ClassificationError.
func IsClassification(err error) bool {
	var c *ClassificationError
	return errors.As(err, &c)
}
