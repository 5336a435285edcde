package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	x402errors "github.com/vitwit/x402pay/errors"
)

type envelope struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Exit codes, one per error family.
const (
	exitOK = iota
	exitGeneric
	exitConfig
	exitInvalidInput
	exitDetectionFailed
	exitNoCompatibleChain
	exitBudgetExceeded
	exitPaymentFailed
)

func exitCode(err error) int {
	switch x402errors.CodeOf(err) {
	case "":
		return exitGeneric
	case x402errors.CodeConfigError:
		return exitConfig
	case x402errors.CodeInvalidFormat, x402errors.CodeNegativeAmount,
		x402errors.CodeCurrencyMismatch, x402errors.CodeInvalidNetworkIdentifier,
		x402errors.CodeInvalidRequirements:
		return exitInvalidInput
	case x402errors.CodeProtocolDetectionFailed:
		return exitDetectionFailed
	case x402errors.CodeNoCompatibleChain:
		return exitNoCompatibleChain
	case x402errors.CodeBudgetExceeded:
		return exitBudgetExceeded
	case x402errors.CodePaymentFailed:
		return exitPaymentFailed
	default:
		return exitGeneric
	}
}

func printResult(w io.Writer, data interface{}, text func(io.Writer)) error {
	if !jsonOutput {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope{Success: true, Data: data})
}

// printError writes the JSON error envelope to stdout in --json mode and a
// plain message to stderr otherwise.
func printError(stderr, stdout io.Writer, err error) {
	if !jsonOutput {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return
	}

	detail := &errorDetail{Code: x402errors.CodeOf(err), Message: err.Error()}
	if detail.Code == "" {
		detail.Code = "CLI_ERROR"
	}
	var xe *x402errors.X402Error
	if errors.As(err, &xe) {
		detail.Data = xe.Data
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(envelope{Success: false, Error: detail})
}
