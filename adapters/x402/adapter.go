// Package x402 speaks the x402 HTTP payment protocol: a resource answers 402
// with the offers it accepts, the buyer retries with a signed X-PAYMENT
// header, and the server reports settlement in X-PAYMENT-RESPONSE.
package x402

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	x402errors "github.com/vitwit/x402pay/errors"
	"github.com/vitwit/x402pay/logger"
	"github.com/vitwit/x402pay/metrics"
	"github.com/vitwit/x402pay/network"
	"github.com/vitwit/x402pay/router"
	"github.com/vitwit/x402pay/types"
)

const (
	// Name is the protocol name reported in quotes and payment records.
	Name = "x402"

	// DefaultAssetDecimals matches USDC, the asset x402 servers price in.
	DefaultAssetDecimals = 6

	maxBodySize = 10 << 20
)

// Signer produces the signed payload for one offer. Key custody lives
// behind it.
type Signer interface {
	Sign(ctx context.Context, requirements *types.PaymentRequirements, version types.X402Version) (*types.PaymentPayload, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, requirements *types.PaymentRequirements, version types.X402Version) (*types.PaymentPayload, error)

func (f SignerFunc) Sign(ctx context.Context, requirements *types.PaymentRequirements, version types.X402Version) (*types.PaymentPayload, error) {
	return f(ctx, requirements, version)
}

// Adapter implements router.ResponseQuoter for x402.
type Adapter struct {
	client   *http.Client
	signer   Signer
	decimals int32

	logger  logger.Logger
	metrics metrics.Recorder
}

var _ router.ResponseQuoter = (*Adapter)(nil)

type Option func(*Adapter)

func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		a.client = c
	}
}

func WithSigner(s Signer) Option {
	return func(a *Adapter) {
		a.signer = s
	}
}

// WithAssetDecimals sets how many decimals the priced asset has.
func WithAssetDecimals(d int32) Option {
	return func(a *Adapter) {
		a.decimals = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(a *Adapter) {
		a.metrics = r
	}
}

func New(opts ...Option) *Adapter {
	a := &Adapter{
		decimals: DefaultAssetDecimals,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: 30 * time.Second}
	}
	a.logger = logger.OrNoop(a.logger)
	a.metrics = metrics.OrNoop(a.metrics)
	return a
}

func (a *Adapter) Name() string { return Name }

// Detect requests url and reports whether it answered 402 with x402
// requirements.
func (a *Adapter) Detect(ctx context.Context, url string, headers http.Header) (bool, error) {
	resp, err := a.do(ctx, http.MethodGet, url, headers, nil)
	if err != nil {
		return false, err
	}
	if resp.Status != http.StatusPaymentRequired {
		return false, nil
	}

	_, err = ParsePaymentRequired(resp.Headers, resp.Body)
	if errors.Is(err, ErrNotX402) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Quote requests url and prices the offers in its 402 response.
func (a *Adapter) Quote(ctx context.Context, url string, headers http.Header) (*types.Quote, error) {
	resp, err := a.do(ctx, http.MethodGet, url, headers, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusPaymentRequired {
		return nil, fmt.Errorf("%s answered %d, not 402", url, resp.Status)
	}

	parsed, err := ParsePaymentRequired(resp.Headers, resp.Body)
	if err != nil {
		return nil, err
	}
	return a.buildQuote(parsed)
}

// QuoteFromResponse prices a 402 response the caller already received. It
// returns nil when the response is not x402.
func (a *Adapter) QuoteFromResponse(_ context.Context, resp *types.PaymentRequiredResponse) (*types.Quote, error) {
	parsed, err := ParsePaymentRequired(resp.Headers, resp.Body)
	if errors.Is(err, ErrNotX402) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a.buildQuote(parsed)
}

// Execute signs the chosen offer and replays the request with it.
func (a *Adapter) Execute(ctx context.Context, req *types.PaymentRequest) (*types.ExecutionResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.ObserveLatency("execute", time.Since(start), map[string]string{
			metrics.LabelProtocol: Name,
		})
	}()

	if a.signer == nil {
		return nil, x402errors.New(x402errors.CodePaymentFailed, "x402 adapter has no signer configured")
	}

	requirements, err := a.requirementsFor(ctx, req)
	if err != nil {
		return nil, err
	}

	version := types.X402Version1
	if requirements.Amount != "" {
		version = types.X402Version2
	}

	payload, err := a.signer.Sign(ctx, requirements, version)
	if err != nil {
		return nil, x402errors.Wrap(x402errors.CodePaymentFailed, err, "failed to sign payment")
	}
	if payload.X402Version == 0 {
		payload.X402Version = int(version)
	}
	header, err := EncodePaymentHeader(payload)
	if err != nil {
		return nil, x402errors.Wrap(x402errors.CodePaymentFailed, err, "failed to encode payment")
	}

	headers := cloneHeader(req.Headers)
	headers.Set(types.HeaderPayment, header)

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	resp, err := a.do(ctx, method, req.URL, headers, req.Body)
	if err != nil {
		return nil, x402errors.Wrap(x402errors.CodePaymentFailed, err, "paid request failed")
	}
	if resp.Status == http.StatusPaymentRequired {
		reason := "payment rejected by server"
		if parsed, perr := ParsePaymentRequired(resp.Headers, resp.Body); perr == nil && parsed.Error != "" {
			reason = parsed.Error
		}
		return nil, x402errors.New(x402errors.CodePaymentFailed, "%s: %s", req.URL, reason)
	}

	result := &types.ExecutionResult{
		Status:  resp.Status,
		Headers: resp.Headers,
		Body:    resp.Body,
		Network: canonicalNetwork(requirements.Network),
	}

	if value := resp.Headers.Get(types.HeaderPaymentResponse); value != "" {
		settlement, err := DecodeSettlementHeader(value)
		if err != nil {
			a.logger.Warn("ignoring malformed settlement header", map[string]any{
				"url":   req.URL,
				"error": err,
			})
			return result, nil
		}
		if !settlement.Success {
			reason := settlement.ErrorReason
			if reason == "" {
				reason = "server reported an unsuccessful settlement"
			}
			return nil, x402errors.New(x402errors.CodePaymentFailed, "settlement failed: %s", reason)
		}
		result.TxHash = settlement.Hash()
		if settlement.Network != "" {
			result.Network = canonicalNetwork(settlement.Network)
		}
	}

	a.logger.Info("x402 payment executed", map[string]any{
		"url":     req.URL,
		"status":  resp.Status,
		"network": result.Network,
		"tx_hash": result.TxHash,
	})
	return result, nil
}

// requirementsFor returns the offer to sign: the one chain selection picked,
// or the first one the server offers now.
func (a *Adapter) requirementsFor(ctx context.Context, req *types.PaymentRequest) (*types.PaymentRequirements, error) {
	if req.Accept != nil && req.Accept.Requirements != nil {
		return req.Accept.Requirements, nil
	}

	q, err := a.Quote(ctx, req.URL, req.Headers)
	if err != nil {
		return nil, x402errors.Wrap(x402errors.CodePaymentFailed, err, "failed to fetch payment requirements")
	}
	return q.AllAccepts[0].Requirements, nil
}

func (a *Adapter) buildQuote(resp *types.X402Response) (*types.Quote, error) {
	options := make([]types.AcceptOption, 0, len(resp.Accepts))
	for _, req := range resp.Accepts {
		opt, err := a.acceptOption(req)
		if err != nil {
			a.logger.Debug("skipping x402 offer", map[string]any{
				"network": req.Network,
				"error":   err,
			})
			continue
		}
		options = append(options, opt)
	}
	if len(options) == 0 {
		return nil, x402errors.New(x402errors.CodeInvalidRequirements, "none of the %d x402 offers is usable", len(resp.Accepts))
	}

	first := options[0]
	q := &types.Quote{
		Amount:     first.Price,
		Protocol:   Name,
		Network:    first.Network,
		PayTo:      first.PayTo,
		AllAccepts: options,
	}

	hints := &types.InputHints{
		Description:  first.Requirements.Description,
		MimeType:     first.Requirements.MimeType,
		OutputSchema: first.Requirements.OutputSchema,
	}
	if resp.Resource != nil {
		if hints.Description == "" {
			hints.Description = resp.Resource.Description
		}
		if hints.MimeType == "" {
			hints.MimeType = resp.Resource.MimeType
		}
	}
	if method, ok := first.Requirements.Extra["method"].(string); ok {
		hints.Method = strings.ToUpper(method)
	}
	if hints.Method != "" || hints.Description != "" || hints.MimeType != "" || hints.OutputSchema != nil {
		q.InputHints = hints
	}

	return q, nil
}

func (a *Adapter) acceptOption(req types.PaymentRequirements) (types.AcceptOption, error) {
	ns, networkID, err := resolveNetwork(req.Network)
	if err != nil {
		return types.AcceptOption{}, err
	}

	amount, err := ParseAtomicAmount(req.AtomicAmount())
	if err != nil {
		return types.AcceptOption{}, err
	}
	if err := ValidatePayTo(ns, req.PayTo); err != nil {
		return types.AcceptOption{}, err
	}
	price, err := AtomicToUSD(amount, a.decimals)
	if err != nil {
		return types.AcceptOption{}, err
	}

	return types.AcceptOption{
		Namespace:    ns,
		Network:      networkID,
		Amount:       amount,
		PayTo:        req.PayTo,
		Asset:        req.Asset,
		Scheme:       req.Scheme,
		Price:        price,
		Requirements: &req,
	}, nil
}

// resolveNetwork maps a v1 network name or a v2 CAIP-2 identifier to its
// namespace. CAIP-2 identifiers of families this package cannot pay on keep
// their prefix as namespace so chain selection can report them.
func resolveNetwork(name string) (network.Namespace, string, error) {
	id, err := network.Resolve(name)
	if err == nil {
		return id.Namespace, id.String(), nil
	}

	prefix, ref, ok := strings.Cut(name, ":")
	if !ok || prefix == "" || ref == "" {
		return "", "", err
	}
	if _, perr := network.ParseNamespace(prefix); perr == nil {
		// a known family with a malformed reference
		return "", "", err
	}
	return network.Namespace(strings.ToLower(prefix)), name, nil
}

// canonicalNetwork returns the CAIP-2 form of name, or name itself when it
// cannot be resolved.
func canonicalNetwork(name string) string {
	if _, id, err := resolveNetwork(name); err == nil {
		return id
	}
	return name
}

type httpResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

func (a *Adapter) do(ctx context.Context, method, url string, headers http.Header, body []byte) (*httpResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = append([]string(nil), v...)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	return &httpResponse{Status: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
