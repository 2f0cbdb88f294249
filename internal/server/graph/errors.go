package graph

import (
	"errors"
	"fmt"
)

// ErrorCode classifies store failures.
type ErrorCode string

// Graph store error codes
const (
	CodeUnavailable   ErrorCode = "GRAPH_UNAVAILABLE"
	CodeQueryFailed   ErrorCode = "GRAPH_QUERY_FAILED"
	CodeInvalidConfig ErrorCode = "GRAPH_INVALID_CONFIG"
	CodeClosed        ErrorCode = "GRAPH_CLOSED"
)

// Sentinels for errors.Is checks.
var (
	ErrUnavailable   = errors.New("graph store unavailable")
	ErrQueryFailed   = errors.New("graph query failed")
	ErrInvalidConfig = errors.New("invalid graph configuration")
	ErrClosed        = errors.New("graph client closed")
)

// StoreError is returned for every failure that reaches the store boundary.
type StoreError struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
}

func newError(code ErrorCode, op, msg string, err error) *StoreError {
	return &StoreError{Code: code, Op: op, Message: msg, Err: err}
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error code.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Code == CodeUnavailable
	case ErrQueryFailed:
		return e.Code == CodeQueryFailed
	case ErrInvalidConfig:
		return e.Code == CodeInvalidConfig
	case ErrClosed:
		return e.Code == CodeClosed
	}
	return false
}
