package router

import (
	"context"
	"net/http"

	"github.com/vitwit/x402pay/types"
)

// Adapter speaks one payment scheme over HTTP.
type Adapter interface {
	// Name identifies the scheme, e.g. "x402". It is also the protocol
	// reported in quotes and payment records.
	Name() string

	// Detect reports whether the resource at url is protected by this scheme.
	Detect(ctx context.Context, url string, headers http.Header) (bool, error)

	// Quote prices the resource.
	Quote(ctx context.Context, url string, headers http.Header) (*types.Quote, error)

	// Execute pays for and fetches the resource.
	Execute(ctx context.Context, req *types.PaymentRequest) (*types.ExecutionResult, error)
}

// ResponseQuoter is implemented by adapters that can recognise their scheme
// from a 402 response the caller already received. QuoteFromResponse returns
// (nil, nil) when the response does not belong to the scheme.
type ResponseQuoter interface {
	Adapter
	QuoteFromResponse(ctx context.Context, resp *types.PaymentRequiredResponse) (*types.Quote, error)
}

// Result pairs a detecting adapter with the quote it produced.
type Result struct {
	Adapter Adapter
	Quote   *types.Quote
}
