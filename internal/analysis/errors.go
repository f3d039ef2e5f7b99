package analysis

import (
	"errors"
	"fmt"
)

// ErrorKind partitions pipeline failures for logging and tests. The kinds
// mirror how a job can fail: the inference service was unreachable, its
// response was not extractable JSON, or the JSON broke the data contract.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindParse     ErrorKind = "parse"
	KindSchema    ErrorKind = "schema"
)

// Error is the single error type AnalyzeImage returns. Its message is what
// ends up in the job record's error field, so it stays human-readable.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func transportErr(err error) *Error {
	return &Error{Kind: KindTransport, Msg: "inference service request failed", Err: err}
}

func parseErr(err error) *Error {
	return &Error{Kind: KindParse, Msg: "could not parse inference response", Err: err}
}

func schemaErr(err error) *Error {
	return &Error{Kind: KindSchema, Msg: "inference response violates the ingredient contract", Err: err}
}

// KindOf extracts the kind from an AnalyzeImage error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
