package namespace

import "errors"

// Error represents a business logic error from a namespace operation.
//
// Quota violations are not Errors: they surface as *quota.ExceededError so
// callers can inspect the offending directory and resource. Unknown policies
// surface as *erasure.UnknownPolicyError and overflowing sizes wrap
// blockgroup.ErrArithmeticOverflow.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the namespace path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of a namespace error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested file or directory doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates an entry with the name already exists
	ErrAlreadyExists

	// ErrNotDirectory indicates operation expected a directory but got a file
	ErrNotDirectory

	// ErrIsDirectory indicates operation expected a file but got a directory
	ErrIsDirectory

	// ErrNotEmpty indicates a non-recursive delete of a non-empty directory
	ErrNotEmpty

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: relative path, quota below -1, unsupported storage type
	ErrInvalidArgument

	// ErrFileClosed indicates a block operation on a closed file
	ErrFileClosed

	// ErrBlockNotFound indicates the block group is not part of the file
	ErrBlockNotFound
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrAlreadyExists:
		return "already exists"
	case ErrNotDirectory:
		return "not a directory"
	case ErrIsDirectory:
		return "is a directory"
	case ErrNotEmpty:
		return "directory not empty"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrFileClosed:
		return "file closed"
	case ErrBlockNotFound:
		return "block not found"
	default:
		return "unknown"
	}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func newError(code ErrorCode, msg, path string) *Error {
	return &Error{Code: code, Message: msg, Path: path}
}
