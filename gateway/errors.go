package gateway

import (
	"context"
	"errors"
	"fmt"
)

var (
	// 致命错误：重试无意义
	ErrRejected             = errors.New("order rejected")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrUnknownOrder         = errors.New("unknown order")

	// 可重试错误
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("gateway unavailable")
)

// Error 网关错误，携带可重试标记。
type Error struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("gateway %s (%s): %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable 包装为可重试错误
func Retryable(op string, err error) error {
	return &Error{Op: op, Retryable: true, Err: err}
}

// Fatal 包装为致命错误
func Fatal(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// IsRetryable 判断错误是否可重试。未分类的错误按致命处理。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}

	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
