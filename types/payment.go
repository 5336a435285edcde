package types

import (
	"net/http"
	"time"

	"github.com/vitwit/x402pay/money"
)

// PaymentRequest is what the orchestrator hands to an adapter's Execute.
type PaymentRequest struct {
	URL     string
	Method  string
	Headers http.Header
	Body    []byte
	Amount  money.Money
	// Accept is the option picked by chain selection, nil when the quote
	// carried no options.
	Accept *AcceptOption
}

// ExecutionResult is the paid response returned by an adapter.
type ExecutionResult struct {
	Status  int
	Headers http.Header
	Body    []byte
	TxHash  string
	Network string
}

// PaymentRequiredResponse is an already received 402 response, with the body
// fully read. Each adapter receives its own copy of Body.
type PaymentRequiredResponse struct {
	URL     string
	Status  int
	Headers http.Header
	Body    []byte
}

// PaymentRecord is one entry of the session payment history.
type PaymentRecord struct {
	ID        string      `json:"id"`
	URL       string      `json:"url"`
	Protocol  string      `json:"protocol"`
	Amount    money.Money `json:"amount"`
	Timestamp time.Time   `json:"timestamp"`
	TxHash    string      `json:"txHash,omitempty"`
	Network   string      `json:"network,omitempty"`
}
