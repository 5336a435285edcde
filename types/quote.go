package types

import (
	"math/big"

	"github.com/vitwit/x402pay/money"
	"github.com/vitwit/x402pay/network"
)

// AcceptOption is one concrete way to pay a resource: chain, asset, amount
// and recipient.
type AcceptOption struct {
	Namespace network.Namespace `json:"namespace"`
	Network   string            `json:"network"`
	// Amount in atomic units of Asset.
	Amount *big.Int `json:"amount"`
	PayTo  string   `json:"payTo"`
	Asset  string   `json:"asset"`
	Scheme string   `json:"scheme"`

	// Price is Amount expressed in USD, as priced by the quoting adapter.
	Price money.Money `json:"price"`

	// Requirements is the raw offer the option was built from, kept so the
	// executing adapter can sign exactly what the server asked for.
	Requirements *PaymentRequirements `json:"-"`
}

// AmountOrZero returns Amount, treating nil as zero.
func (a AcceptOption) AmountOrZero() *big.Int {
	if a.Amount == nil {
		return new(big.Int)
	}
	return a.Amount
}

// InputHints describes how to call the paid endpoint, when the server says so.
type InputHints struct {
	Method       string                 `json:"method,omitempty"`
	Description  string                 `json:"description,omitempty"`
	MimeType     string                 `json:"mimeType,omitempty"`
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
}

// Quote is the price of a resource as reported by one adapter.
type Quote struct {
	Amount     money.Money    `json:"amount"`
	Protocol   string         `json:"protocol"`
	Network    string         `json:"network,omitempty"`
	PayTo      string         `json:"payTo,omitempty"`
	AllAccepts []AcceptOption `json:"allAccepts,omitempty"`
	InputHints *InputHints    `json:"inputHints,omitempty"`
}

// HasOptions reports whether the quote exposes chain options to choose from.
func (q *Quote) HasOptions() bool {
	return len(q.AllAccepts) > 0
}
