package coeffs

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord is returned when a coefficient row cannot be parsed
	// into (type, degree, order, values) or breaks the table layout.
	ErrMalformedRecord = errors.New("malformed coefficient record")
	// ErrEpochOutOfRange is returned for epochs outside the model span.
	ErrEpochOutOfRange = errors.New("epoch out of range")
)

// RecordError describes a rejected coefficient row.
type RecordError struct {
	Line   int
	Text   string
	Reason string
}

func (e *RecordError) Error() string {
	if e.Line <= 0 {
		return fmt.Sprintf("%s: %s", ErrMalformedRecord, e.Reason)
	}
	return fmt.Sprintf("%s: line %d: %s (%q)", ErrMalformedRecord, e.Line, e.Reason, e.Text)
}

func (e *RecordError) Unwrap() error {
	return ErrMalformedRecord
}
