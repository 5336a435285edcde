package types

import (
	"fmt"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
	X402Version2 X402Version = 2
)

// PaymentScheme names how an offer is paid.
type PaymentScheme string

// SchemeExact pays exactly the offered amount.
const SchemeExact PaymentScheme = "exact"

// Header names used by the x402 protocol.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderPaymentRequired = "PAYMENT-REQUIRED"
)

// PaymentRequirements is one entry of the "accepts" list a resource server
// returns with a 402 response. It covers both protocol versions: v1 servers
// fill MaxAmountRequired and a network name, v2 servers fill Amount and a
// CAIP-2 network identifier.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use (e.g., "exact").
	Scheme string `json:"scheme" validate:"required"`

	// Network to send payment on, "base-sepolia" (v1) or "eip155:84532" (v2).
	Network string `json:"network" validate:"required"`

	// Maximum amount required in atomic units of the asset (v1).
	// Represented as a string because Go does not support uint256.
	MaxAmountRequired string `json:"maxAmountRequired,omitempty" validate:"required_without=Amount"`

	// Amount required in atomic units of the asset (v2).
	Amount string `json:"amount,omitempty" validate:"required_without=MaxAmountRequired"`

	// URL of the resource to pay for.
	Resource string `json:"resource,omitempty"`

	// Description of the resource being purchased.
	Description string `json:"description,omitempty"`

	// MIME type of the resource response (e.g., "application/json").
	MimeType string `json:"mimeType,omitempty"`

	// Output schema of the resource response, if applicable.
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`

	// Address to which the payment must be sent.
	PayTo string `json:"payTo" validate:"required"`

	// Maximum time in seconds for the resource server to respond.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty" validate:"gte=0"`

	// Address of the token contract or mint.
	Asset string `json:"asset" validate:"required"`

	// Extra information about payment details specific to the scheme.
	// For the `exact` scheme on EVM, this may include fields like `name` and `version`.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// AtomicAmount returns whichever amount field the server populated.
func (pr *PaymentRequirements) AtomicAmount() string {
	if pr.Amount != "" {
		return pr.Amount
	}
	return pr.MaxAmountRequired
}

// X402Response is the body (v1) or decoded PAYMENT-REQUIRED header (v2) of a
// 402 response.
type X402Response struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	// List of payment requirements that the resource server accepts.
	Accepts []PaymentRequirements `json:"accepts" validate:"dive"`

	// Message from the resource server indicating any processing error.
	Error string `json:"error,omitempty"`

	// Resource description (v2).
	Resource *ResourceInfo `json:"resource,omitempty"`
}

// ResourceInfo describes the paid resource in v2 responses.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentPayload is what the buyer sends back in the X-PAYMENT header,
// base64 encoded.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Payload     map[string]interface{} `json:"payload"`
}

// SettlementResult is the decoded X-PAYMENT-RESPONSE header.
type SettlementResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	TxHash      string `json:"txHash,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// Hash returns the settled transaction hash, whichever field carried it.
func (s *SettlementResult) Hash() string {
	if s.Transaction != "" {
		return s.Transaction
	}
	return s.TxHash
}

// Validate checks the fields struct tags cannot express.
func (r *X402Response) Validate() error {
	if r.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}
	if len(r.Accepts) == 0 {
		return fmt.Errorf("accepts must not be empty")
	}
	return nil
}
