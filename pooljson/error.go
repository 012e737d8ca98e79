package pooljson

import (
	"fmt"
)

// ErrorCode identifies a kind of error.  These error codes are NOT used for
// pool protocol error responses.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrDuplicateMethod indicates a message with the specified method
	// already exists for the type.
	ErrDuplicateMethod ErrorCode = iota

	// ErrInvalidType indicates a type was passed that is not the required
	// type.
	ErrInvalidType

	// ErrUnregisteredMethod indicates a method was specified that has not
	// been registered.
	ErrUnregisteredMethod

	// ErrMissingMethod indicates a message did not carry its message tag.
	ErrMissingMethod

	// ErrMalformed indicates a message is not a JSON object or a field
	// does not match its declared type.
	ErrMalformed

	// ErrUnknownField indicates a message carried a field its type does
	// not declare.
	ErrUnknownField

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDuplicateMethod:    "ErrDuplicateMethod",
	ErrInvalidType:        "ErrInvalidType",
	ErrUnregisteredMethod: "ErrUnregisteredMethod",
	ErrMissingMethod:      "ErrMissingMethod",
	ErrMalformed:          "ErrMalformed",
	ErrUnknownField:       "ErrUnknownField",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies a general error.  This differs from an ErrorMsg in that
// this error typically is used more by the consumers of the package as
// opposed to ErrorMsg which is sent by a pool.
//
// The caller can use type assertions to determine the specific error and
// access the ErrorCode field.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// makeError creates an Error given a set of arguments.
func makeError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}
