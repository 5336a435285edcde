package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	x402errors "github.com/vitwit/x402pay/errors"
	"github.com/vitwit/x402pay/types"
)

var validate = validator.New()

// ErrNotX402 is returned by ParsePaymentRequired when a 402 response carries
// no x402 payment requirements at all.
var ErrNotX402 = errors.New("response does not carry x402 payment requirements")

// ParsePaymentRequired extracts the payment requirements of a 402 response.
// A base64 PAYMENT-REQUIRED header (protocol v2) takes precedence over a JSON
// body (protocol v1).
func ParsePaymentRequired(headers http.Header, body []byte) (*types.X402Response, error) {
	var (
		resp types.X402Response
		raw  []byte
	)

	if encoded := strings.TrimSpace(headers.Get(types.HeaderPaymentRequired)); encoded != "" {
		decoded, err := decodeBase64(encoded)
		if err != nil {
			return nil, x402errors.Wrap(x402errors.CodeInvalidRequirements, err, "invalid PAYMENT-REQUIRED header")
		}
		raw = decoded
	} else {
		raw = body
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, ErrNotX402
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, ErrNotX402
	}
	if resp.X402Version == 0 && len(resp.Accepts) == 0 {
		return nil, ErrNotX402
	}

	if err := resp.Validate(); err != nil {
		return nil, x402errors.Wrap(x402errors.CodeInvalidRequirements, err, "invalid payment requirements")
	}
	if err := validate.Struct(&resp); err != nil {
		return nil, x402errors.Wrap(x402errors.CodeInvalidRequirements, err, "validation failed")
	}

	return &resp, nil
}

// EncodePaymentHeader serializes payload for the X-PAYMENT header.
func EncodePaymentHeader(payload *types.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettlementHeader parses an X-PAYMENT-RESPONSE header.
func DecodeSettlementHeader(value string) (*types.SettlementResult, error) {
	data, err := decodeBase64(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}

	var result types.SettlementResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("invalid settlement response: %w", err)
	}
	return &result, nil
}

// Servers disagree on padding and alphabet.
func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("value is not base64")
}
