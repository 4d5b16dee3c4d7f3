// Package validate holds the error type shared by every component that
// rejects user-supplied form values before acting on them.
package validate

import "errors"

// Error reports a missing or out-of-range field. No side effect has happened
// when an Error is returned.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string { return e.Field + ": " + e.Reason }

// Errorf is a shorthand constructor.
func Errorf(field, reason string) error { return &Error{Field: field, Reason: reason} }

// IsValidation reports whether err (or anything it wraps) is an *Error.
func IsValidation(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

// Field returns the offending field name, or "" when err is not an *Error.
func Field(err error) string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}
