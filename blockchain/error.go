package blockchain

import (
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrDuplicateBlock indicates a block with the same hash already
	// exists.
	ErrDuplicateBlock ErrorCode = iota

	// ErrOrphanBlock indicates the parent of a block is not known.  The
	// nano chain keeps no orphan pool, so such blocks are rejected.
	ErrOrphanBlock

	// ErrNotSuccessor indicates a block does not directly follow the
	// block it references as its parent.
	ErrNotSuccessor

	// ErrBadInterlink indicates the interlink of a block does not match
	// the interlink hash committed to by its header.
	ErrBadInterlink

	// ErrBadBits indicates the compact target of a block is not a valid
	// positive target.
	ErrBadBits

	// ErrNoChainHead indicates an operation needed a head block but the
	// chain has not been seeded yet.
	ErrNoChainHead
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDuplicateBlock: "ErrDuplicateBlock",
	ErrOrphanBlock:    "ErrOrphanBlock",
	ErrNotSuccessor:   "ErrNotSuccessor",
	ErrBadInterlink:   "ErrBadInterlink",
	ErrBadBits:        "ErrBadBits",
	ErrNoChainHead:    "ErrNoChainHead",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a block failed due to one of the many validation rules.  The
// caller can use type assertions to determine if a failure was specifically
// due to a rule violation and access the ErrorCode field to ascertain the
// specific reason for the rule violation.
type RuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates an RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}
