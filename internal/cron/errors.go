package cron

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedExpression matches every *MalformedExpressionError.
	ErrMalformedExpression = errors.New("malformed cron expression")

	// ErrAmbiguousField matches every *AmbiguousFieldError.
	ErrAmbiguousField = errors.New("ambiguous day-of-month/day-of-week")

	// ErrUnsupportedPrecision matches every *UnsupportedPrecisionError.
	ErrUnsupportedPrecision = errors.New("unsupported precision")
)

// MalformedExpressionError reports a field that does not follow the
// dialect's grammar. Field is "expression" when the field count is wrong.
type MalformedExpressionError struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedExpressionError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("malformed cron expression: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed cron expression: %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *MalformedExpressionError) Is(target error) bool {
	return target == ErrMalformedExpression
}

// AmbiguousFieldError is returned when both day-of-month and day-of-week
// carry a constraint.
type AmbiguousFieldError struct {
	DayOfMonth string
	DayOfWeek  string
}

func (e *AmbiguousFieldError) Error() string {
	return fmt.Sprintf("ambiguous cron expression: day-of-month %q and day-of-week %q are both constrained", e.DayOfMonth, e.DayOfWeek)
}

func (e *AmbiguousFieldError) Is(target error) bool {
	return target == ErrAmbiguousField
}

// UnsupportedPrecisionError is returned when an internal expression uses a
// seconds or year constraint the external dialect cannot carry.
type UnsupportedPrecisionError struct {
	Field string
	Value string
}

func (e *UnsupportedPrecisionError) Error() string {
	return fmt.Sprintf("cannot convert to 5-field cron: %s %q has no 5-field equivalent", e.Field, e.Value)
}

func (e *UnsupportedPrecisionError) Is(target error) bool {
	return target == ErrUnsupportedPrecision
}

func malformed(field, value, reason string) error {
	return &MalformedExpressionError{Field: field, Value: value, Reason: reason}
}
