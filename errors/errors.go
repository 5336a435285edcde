// Package errors defines the error taxonomy shared by every x402pay package.
package errors

import (
	"errors"
	"fmt"
)

// X402Error is the single error type surfaced by x402pay. Callers match on
// Code, either directly or through errors.Is against the sentinels below.
type X402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Err     error       `json:"-"`
}

func (e *X402Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *X402Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an X402Error with the same code.
func (e *X402Error) Is(target error) bool {
	t, ok := target.(*X402Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	CodeNegativeAmount           = "NEGATIVE_AMOUNT"
	CodeInvalidFormat            = "INVALID_FORMAT"
	CodeCurrencyMismatch         = "CURRENCY_MISMATCH"
	CodeInvalidNetworkIdentifier = "INVALID_NETWORK_IDENTIFIER"
	CodeNoCompatibleChain        = "NO_COMPATIBLE_CHAIN"
	CodeProtocolDetectionFailed  = "PROTOCOL_DETECTION_FAILED"
	CodeBudgetExceeded           = "BUDGET_EXCEEDED"
	CodeInvalidRequirements      = "INVALID_REQUIREMENTS"
	CodePaymentFailed            = "PAYMENT_FAILED"
	CodeConfigError              = "CONFIG_ERROR"
)

// Sentinel errors for comparison with errors.Is
var (
	ErrNegativeAmount           = &X402Error{Code: CodeNegativeAmount, Message: "negative amount"}
	ErrInvalidFormat            = &X402Error{Code: CodeInvalidFormat, Message: "invalid format"}
	ErrCurrencyMismatch         = &X402Error{Code: CodeCurrencyMismatch, Message: "currency mismatch"}
	ErrInvalidNetworkIdentifier = &X402Error{Code: CodeInvalidNetworkIdentifier, Message: "invalid network identifier"}
	ErrNoCompatibleChain        = &X402Error{Code: CodeNoCompatibleChain, Message: "no compatible chain"}
	ErrProtocolDetectionFailed  = &X402Error{Code: CodeProtocolDetectionFailed, Message: "protocol detection failed"}
	ErrBudgetExceeded           = &X402Error{Code: CodeBudgetExceeded, Message: "budget exceeded"}
	ErrInvalidRequirements      = &X402Error{Code: CodeInvalidRequirements, Message: "invalid payment requirements"}
	ErrPaymentFailed            = &X402Error{Code: CodePaymentFailed, Message: "payment failed"}
	ErrConfigError              = &X402Error{Code: CodeConfigError, Message: "invalid configuration"}
)

// NoCompatibleChainData is attached to NO_COMPATIBLE_CHAIN errors.
type NoCompatibleChainData struct {
	Requested []string `json:"requested"`
	Supported []string `json:"supported"`
}

// New builds an X402Error with a formatted message.
func New(code string, format string, args ...interface{}) *X402Error {
	return &X402Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap builds an X402Error around an underlying cause.
func Wrap(code string, err error, message string) *X402Error {
	return &X402Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithData returns a copy of e carrying data.
func (e *X402Error) WithData(data interface{}) *X402Error {
	cp := *e
	cp.Data = data
	return &cp
}

// CodeOf returns the code of the first X402Error in err's chain, or "" if none.
func CodeOf(err error) string {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return CodeOf(err) == code
}
