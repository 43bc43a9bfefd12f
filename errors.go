package aio

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured aio error with stream/request context and
// errno mapping.
type Error struct {
	Op      string    // Operation that failed (e.g. "Read", "Write", "Dial")
	Addr    string    // Peer or local address, if applicable ("" otherwise)
	Code    ErrorCode // High-level error category
	Errno   syscall.Errno
	Msg     string
	Inner   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Addr != "" {
		parts = append(parts, fmt.Sprintf("addr=%s", e.Addr))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("aio: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("aio: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparison by error category.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories returned across the
// runtime's public API.
type ErrorCode string

const (
	ErrCodeNotImplemented     ErrorCode = "not implemented"
	ErrCodeStreamClosed       ErrorCode = "stream closed"
	ErrCodeConnectionRefused  ErrorCode = "connection refused"
	ErrCodeInvalidParameters  ErrorCode = "invalid parameters"
	ErrCodeUnsupported        ErrorCode = "operation not supported"
	ErrCodePermissionDenied   ErrorCode = "permission denied"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
	ErrCodeIOError            ErrorCode = "I/O error"
	ErrCodeTimeout            ErrorCode = "timeout"
	ErrCodeAddressInUse       ErrorCode = "address in use"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a new structured error carrying an errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewAddrError creates a new structured error with a peer/local address.
func NewAddrError(op string, addr string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Addr: addr, Code: code, Msg: msg}
}

// WrapError wraps an existing error with aio context, mapping syscall
// errnos to an ErrorCode where possible.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ae, ok := inner.(*Error); ok {
		return &Error{Op: op, Addr: ae.Addr, Code: ae.Code, Errno: ae.Errno, Msg: ae.Msg, Inner: ae.Inner}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Code: ErrCodeIOError, Msg: inner.Error(), Inner: inner}
}

// mapErrnoToCode maps a syscall errno to an ErrorCode.
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ECONNREFUSED:
		return ErrCodeConnectionRefused
	case syscall.EADDRINUSE:
		return ErrCodeAddressInUse
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeUnsupported
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var aioErr *Error
	if errors.As(err, &aioErr) {
		return aioErr.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var aioErr *Error
	if errors.As(err, &aioErr) {
		return aioErr.Errno == errno
	}
	return false
}
