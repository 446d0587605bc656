package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for storage operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Rejected operations (client errors, never retried)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeKeyNotFound     ErrorCode = 1001
	ErrCodeKeyTooLarge     ErrorCode = 1002
	ErrCodeRecordTooLarge  ErrorCode = 1003
	ErrCodeInvalidKey      ErrorCode = 1004
	ErrCodeRejected        ErrorCode = 1005

	// Connection-class failures (retryable, trigger failover)
	ErrCodeConnectionFailed ErrorCode = 2000
	ErrCodeTimeout          ErrorCode = 2001

	// Orchestrator failures
	ErrCodeExhaustedFailover ErrorCode = 3000
	ErrCodeInternal          ErrorCode = 3001
	ErrCodeClosed            ErrorCode = 3002
)

// StorageError represents a structured error with code and context
type StorageError struct {
	Code    ErrorCode
	Backend string
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	msg := e.Message
	if e.Backend != "" {
		msg = fmt.Sprintf("[%s] %s", e.Backend, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts StorageError to gRPC status for callers that expose
// this layer behind a gRPC service
func (e *StorageError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *StorageError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeKeyTooLarge, ErrCodeRecordTooLarge,
		ErrCodeInvalidKey, ErrCodeRejected:
		return codes.InvalidArgument
	case ErrCodeKeyNotFound:
		return codes.NotFound
	case ErrCodeTimeout:
		return codes.DeadlineExceeded
	case ErrCodeConnectionFailed, ErrCodeExhaustedFailover, ErrCodeClosed:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewStorageError creates a new StorageError
func NewStorageError(code ErrorCode, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	e.Details[key] = value
	return e
}

// WithBackend tags the error with the backend it originated from
func (e *StorageError) WithBackend(name string) *StorageError {
	e.Backend = name
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, message, cause)
}

func KeyNotFound(key string) *StorageError {
	return NewStorageError(ErrCodeKeyNotFound, fmt.Sprintf("key not found: %s", key), nil).
		WithDetail("key", key)
}

func KeyTooLarge(size, maxSize int) *StorageError {
	return NewStorageError(ErrCodeKeyTooLarge, fmt.Sprintf("key size %d exceeds maximum %d", size, maxSize), nil).
		WithDetail("size", size).
		WithDetail("max_size", maxSize)
}

func RecordTooLarge(size, maxSize int) *StorageError {
	return NewStorageError(ErrCodeRecordTooLarge, fmt.Sprintf("record size %d exceeds maximum %d", size, maxSize), nil).
		WithDetail("size", size).
		WithDetail("max_size", maxSize)
}

func InvalidKey(key, reason string) *StorageError {
	return NewStorageError(ErrCodeInvalidKey, fmt.Sprintf("invalid key '%s': %s", key, reason), nil).
		WithDetail("key", key).
		WithDetail("reason", reason)
}

// Rejected marks a backend-side validation failure. Never retried.
func Rejected(backend, message string, cause error) *StorageError {
	return NewStorageError(ErrCodeRejected, message, cause).WithBackend(backend)
}

// ConnectionFailed marks a backend as unreachable. Triggers failover.
func ConnectionFailed(backend, message string, cause error) *StorageError {
	return NewStorageError(ErrCodeConnectionFailed, message, cause).WithBackend(backend)
}

// Timeout marks a backend call that exceeded its deadline. Treated as a
// connection-class failure.
func Timeout(backend string, cause error) *StorageError {
	return NewStorageError(ErrCodeTimeout, "backend call timed out", cause).WithBackend(backend)
}

// ExhaustedFailover means every configured backend failed
func ExhaustedFailover(attempts int, cause error) *StorageError {
	return NewStorageError(ErrCodeExhaustedFailover, fmt.Sprintf("all %d backends failed", attempts), cause).
		WithDetail("attempts", attempts)
}

func InternalError(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInternal, message, cause)
}

func Closed(message string) *StorageError {
	return NewStorageError(ErrCodeClosed, message, nil)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsConnectionFailure reports whether the error is retryable and should
// advance the failover chain
func IsConnectionFailure(err error) bool {
	switch GetCode(err) {
	case ErrCodeConnectionFailed, ErrCodeTimeout:
		return true
	}
	return false
}

// IsNotFound reports whether the error means the key is absent
func IsNotFound(err error) bool {
	return GetCode(err) == ErrCodeKeyNotFound
}

// IsRejected reports whether the error is a non-retryable rejected operation
func IsRejected(err error) bool {
	switch GetCode(err) {
	case ErrCodeInvalidArgument, ErrCodeKeyTooLarge, ErrCodeRecordTooLarge,
		ErrCodeInvalidKey, ErrCodeRejected:
		return true
	}
	return false
}
