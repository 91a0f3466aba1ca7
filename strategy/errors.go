package strategy

import (
	"errors"
	"fmt"

	"strategy-engine/gateway"
)

// Kind 机器可读的错误类别
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindInvalidState   Kind = "invalid_state_transition"
	KindGateway        Kind = "gateway_error"
	KindExecution      Kind = "execution_error"
	KindNotFound       Kind = "not_found"
	KindAlreadyRunning Kind = "already_running"
)

// Error 策略错误。Retryable 仅对 gateway_error 有意义。
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ValidationError 参数错误，在进入 running 前返回
func ValidationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition 当前状态不允许该操作
func InvalidTransition(from, to State) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf("cannot transition from %s to %s", from, to)}
}

// GatewayFailure 包装网关错误，保留可重试标记
func GatewayFailure(op string, err error) error {
	return &Error{Kind: KindGateway, Message: op, Retryable: gateway.IsRetryable(err), Err: err}
}

// ExecutionFailure 策略内部异常
func ExecutionFailure(err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: KindExecution, Err: err}
}

func NotFound(id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("strategy %s not found", id)}
}

func AlreadyRunning(id string) error {
	return &Error{Kind: KindAlreadyRunning, Message: fmt.Sprintf("strategy %s is already running", id)}
}

// KindOf 返回错误类别，未分类错误视为 execution_error。
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindExecution
}

// IsRetryable 只有可重试的网关错误返回 true。
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindGateway && se.Retryable
	}
	return false
}

// Message 返回不带类别前缀的错误描述。
func Message(err error) string {
	var se *Error
	if errors.As(err, &se) {
		switch {
		case se.Message != "" && se.Err != nil:
			return se.Message + ": " + se.Err.Error()
		case se.Message != "":
			return se.Message
		case se.Err != nil:
			return se.Err.Error()
		}
	}
	return err.Error()
}

// QuoteUnavailable 行情缺失按可重试网关错误处理
func QuoteUnavailable(err error) error {
	return &Error{Kind: KindGateway, Message: "quote unavailable", Retryable: true, Err: err}
}
