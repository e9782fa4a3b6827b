// Package errors provides typed error codes for the metadata layer. It is a
// leaf package with no internal dependencies so that both the store
// implementations and the FTP dispatcher can import it without cycles; the
// dispatcher maps these codes onto FTP reply codes.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrNotFound indicates the requested node does not exist.
	ErrNotFound ErrorCode = iota + 1

	// ErrAlreadyExists indicates a (parent, name) collision, surfaced by the
	// store's unique index on insert.
	ErrAlreadyExists

	// ErrNotDirectory indicates the operation requires a directory.
	ErrNotDirectory

	// ErrIsDirectory indicates the operation is not valid on a directory.
	ErrIsDirectory

	// ErrPermissionDenied indicates the user's permission set forbids the
	// operation on the target path.
	ErrPermissionDenied

	// ErrInvalidArgument indicates a malformed path or argument.
	ErrInvalidArgument

	// ErrIOError indicates a store or staging I/O failure.
	ErrIOError
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrNotDirectory:
		return "NotDirectory"
	case ErrIsDirectory:
		return "IsDirectory"
	case ErrPermissionDenied:
		return "PermissionDenied"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrIOError:
		return "IOError"
	default:
		return fmt.Sprintf("Unknown(%d)", int(e))
	}
}

// StoreError is a metadata error with an error code and the path involved.
type StoreError struct {
	Code    ErrorCode
	Message string
	Path    string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a StoreError with the given code, path and message.
func New(code ErrorCode, path, message string) *StoreError {
	return &StoreError{Code: code, Message: message, Path: path}
}

// NotFound creates an ErrNotFound error for the given path.
func NotFound(path string) *StoreError {
	return New(ErrNotFound, path, "no such file or directory")
}

// AlreadyExists creates an ErrAlreadyExists error for the given path.
func AlreadyExists(path string) *StoreError {
	return New(ErrAlreadyExists, path, "file exists")
}

// CodeOf returns the error code carried by err, or 0 if err carries none.
func CodeOf(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsNotFound reports whether err carries ErrNotFound.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsAlreadyExists reports whether err carries ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return CodeOf(err) == ErrAlreadyExists
}
