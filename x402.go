// Package x402pay pays for HTTP resources protected by machine payment
// schemes. It probes every registered adapter, picks a chain, enforces the
// wallet budget, executes the payment and records it.
package x402pay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vitwit/x402pay/budget"
	"github.com/vitwit/x402pay/chains"
	"github.com/vitwit/x402pay/config"
	x402errors "github.com/vitwit/x402pay/errors"
	"github.com/vitwit/x402pay/events"
	"github.com/vitwit/x402pay/history"
	"github.com/vitwit/x402pay/logger"
	"github.com/vitwit/x402pay/metrics"
	"github.com/vitwit/x402pay/money"
	"github.com/vitwit/x402pay/network"
	"github.com/vitwit/x402pay/router"
	"github.com/vitwit/x402pay/types"
)

// Version information
const (
	Version = "0.1.0"
)

const maxBodySize = 10 << 20

// Client orchestrates probing, chain selection, budget enforcement and
// payment for one wallet. It is safe for concurrent use; payments are
// serialized so two of them never pass the budget check against the same
// remaining amount.
type Client struct {
	router  *router.Router
	budget  *budget.Manager
	caps    chains.Capabilities
	history *history.Log

	httpClient *http.Client
	timeout    time.Duration

	logger   logger.Logger
	metrics  metrics.Recorder
	observer events.Observer

	// mu guards budget.
	mu sync.Mutex
}

// New builds a Client from cfg, or config.Default() when cfg is nil.
// Adapters are probed in the order given.
func New(cfg *config.Config, adapters []router.Adapter, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	caps, err := cfg.Capabilities()
	if err != nil {
		return nil, err
	}
	budgetCfg, err := cfg.BudgetConfig()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.RequestTimeout()
	if err != nil {
		return nil, err
	}

	c := &Client{
		caps:    caps,
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.OrNoop(c.logger)
	c.metrics = metrics.OrNoop(c.metrics)
	c.observer = events.OrNop(c.observer)
	if c.history == nil {
		c.history = history.NewLog()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}

	c.router = router.New(adapters,
		router.WithLogger(c.logger),
		router.WithMetrics(c.metrics),
		router.WithObserver(c.observer),
	)
	c.budget, err = budget.NewManager(budgetCfg,
		budget.WithLogger(c.logger),
		budget.WithMetrics(c.metrics),
		budget.WithObserver(c.observer),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// FetchRequest describes the resource to fetch.
type FetchRequest struct {
	URL     string
	Method  string
	Headers http.Header
	Body    []byte
	// Chain narrows the preferred chain family for this request, e.g. "evm"
	// or "solana". It is advisory like any preference.
	Chain string
}

// FetchResult is the final response, paid or not.
type FetchResult struct {
	Status  int
	Headers http.Header
	Body    []byte

	// Payment is set when the resource was paid for.
	Payment *types.PaymentRecord
	// Warning is set when this payment pushed spend over the warning threshold.
	Warning *budget.Warning
}

// Paid reports whether a payment was made.
func (r *FetchResult) Paid() bool {
	return r.Payment != nil
}

// CheckResult tells whether a resource requires payment.
type CheckResult struct {
	URL      string       `json:"url"`
	Paid     bool         `json:"isPaid"`
	Protocol string       `json:"protocol,omitempty"`
	Amount   *money.Money `json:"amount,omitempty"`
	// Chains lists the networks the resource accepts payment on.
	Chains []string `json:"chains,omitempty"`
}

// QuoteResult is the price of a resource with the chain that would be used.
type QuoteResult struct {
	URL      string              `json:"url"`
	Protocol string              `json:"protocol"`
	Amount   money.Money         `json:"amount"`
	Network  string              `json:"network,omitempty"`
	Selected *types.AcceptOption `json:"selected,omitempty"`
	// Quotes holds every detecting adapter's quote in registration order.
	Quotes []*types.Quote `json:"quotes"`
}

// Fetch requests a resource and pays for it if needed.
//
// When no adapter recognises a payment scheme up front the request is sent
// unpaid. A 402 answer to that request gets a second chance through late
// detection; any other answer is returned as is.
func (c *Client) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveLatency("fetch", time.Since(start), nil)
	}()

	results, err := c.router.ProbeAll(ctx, req.URL, req.Headers)
	if x402errors.Is(err, x402errors.CodeProtocolDetectionFailed) {
		var free *FetchResult
		results, free, err = c.fetchUnpaid(ctx, req)
		if err != nil {
			return nil, err
		}
		if free != nil {
			return free, nil
		}
	} else if err != nil {
		return nil, err
	}

	return c.pay(ctx, req, results[0])
}

// fetchUnpaid sends the request without payment. It returns the response
// when no payment is asked for, or the late detection results otherwise.
func (c *Client) fetchUnpaid(ctx context.Context, req FetchRequest) ([]router.Result, *FetchResult, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header[k] = append([]string(nil), v...)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		late, err := c.router.ProbeFromResponse(ctx, req.URL, resp)
		if err != nil {
			return nil, nil, err
		}
		if len(late) == 0 {
			return nil, nil, x402errors.New(x402errors.CodeProtocolDetectionFailed,
				"%s requires payment but no adapter recognised the response", req.URL)
		}
		return late, nil, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response from %s: %w", req.URL, err)
	}
	return nil, &FetchResult{Status: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

func (c *Client) pay(ctx context.Context, req FetchRequest, res router.Result) (*FetchResult, error) {
	protocol := res.Adapter.Name()

	accept, err := c.selectAccept(res.Quote, req.Chain)
	if err != nil {
		return nil, err
	}
	amount := res.Quote.Amount
	networkID := res.Quote.Network
	if accept != nil {
		amount = accept.Price
		networkID = accept.Network
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := budget.ExceededError(c.budget.CheckTransaction(amount)); err != nil {
		c.paymentFailed(req.URL, protocol, amount, err)
		return nil, err
	}

	exec, err := c.router.Execute(ctx, res.Adapter, &types.PaymentRequest{
		URL:     req.URL,
		Method:  req.Method,
		Headers: req.Headers,
		Body:    req.Body,
		Amount:  amount,
		Accept:  accept,
	})
	if err != nil {
		if x402errors.CodeOf(err) == "" {
			err = x402errors.Wrap(x402errors.CodePaymentFailed, err, fmt.Sprintf("%s payment failed", protocol))
		}
		c.paymentFailed(req.URL, protocol, amount, err)
		return nil, err
	}

	c.budget.RecordSpending(amount)
	if exec.Network != "" {
		networkID = exec.Network
	}
	record := c.history.Append(types.PaymentRecord{
		URL:      req.URL,
		Protocol: protocol,
		Amount:   amount,
		TxHash:   exec.TxHash,
		Network:  networkID,
	})
	warning := c.budget.CheckWarning()

	c.logger.Info("payment completed", map[string]any{
		"url":      req.URL,
		"protocol": protocol,
		"amount":   amount.String(),
		"network":  networkID,
		"tx_hash":  exec.TxHash,
	})
	c.metrics.IncCounter("payment", map[string]string{
		metrics.LabelProtocol: protocol,
		metrics.LabelOutcome:  "success",
	})
	events.Emit(c.observer, events.Event{
		Type:    events.PaymentCompleted,
		URL:     req.URL,
		Adapter: protocol,
		Amount:  &record.Amount,
		Data:    record,
	})

	return &FetchResult{
		Status:  exec.Status,
		Headers: exec.Headers,
		Body:    exec.Body,
		Payment: &record,
		Warning: warning,
	}, nil
}

// selectAccept returns nil when the quote offers no chain options.
func (c *Client) selectAccept(q *types.Quote, chain string) (*types.AcceptOption, error) {
	if !q.HasOptions() {
		return nil, nil
	}

	caps := c.caps
	if chain != "" {
		ns, err := network.ParseNamespace(chain)
		if err != nil {
			return nil, err
		}
		caps = caps.WithPreference(ns)
	}

	selected, err := chains.SelectBestAccept(q.AllAccepts, caps)
	if err != nil {
		return nil, err
	}
	return &selected, nil
}

func (c *Client) paymentFailed(url, protocol string, amount money.Money, err error) {
	c.logger.Error("payment failed", map[string]any{
		"url":      url,
		"protocol": protocol,
		"amount":   amount.String(),
		"error":    err,
	})
	c.metrics.IncCounter("payment", map[string]string{
		metrics.LabelProtocol: protocol,
		metrics.LabelOutcome:  "failure",
	})
	events.Emit(c.observer, events.Event{
		Type:    events.PaymentFailed,
		URL:     url,
		Adapter: protocol,
		Amount:  &amount,
		Err:     err,
	})
}

// Check reports whether url requires payment, without paying.
func (c *Client) Check(ctx context.Context, url string) (*CheckResult, error) {
	results, err := c.router.ProbeAll(ctx, url, nil)
	if x402errors.Is(err, x402errors.CodeProtocolDetectionFailed) {
		return &CheckResult{URL: url}, nil
	}
	if err != nil {
		return nil, err
	}

	first := results[0]
	amount := first.Quote.Amount
	out := &CheckResult{
		URL:      url,
		Paid:     true,
		Protocol: first.Adapter.Name(),
		Amount:   &amount,
	}
	for _, opt := range first.Quote.AllAccepts {
		out.Chains = append(out.Chains, opt.Network)
	}
	if len(out.Chains) == 0 && first.Quote.Network != "" {
		out.Chains = []string{first.Quote.Network}
	}
	return out, nil
}

// Quote prices url on the chain Fetch would pay on. chain is an optional
// preferred chain family.
func (c *Client) Quote(ctx context.Context, url, chain string) (*QuoteResult, error) {
	results, err := c.router.ProbeAll(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	first := results[0]
	out := &QuoteResult{
		URL:      url,
		Protocol: first.Adapter.Name(),
		Amount:   first.Quote.Amount,
		Network:  first.Quote.Network,
	}
	for _, r := range results {
		out.Quotes = append(out.Quotes, r.Quote)
	}

	accept, err := c.selectAccept(first.Quote, chain)
	if err != nil {
		return nil, err
	}
	if accept != nil {
		out.Selected = accept
		out.Amount = accept.Price
		out.Network = accept.Network
	}
	return out, nil
}

// Budget returns a snapshot of the wallet budget.
func (c *Client) Budget() budget.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget.State()
}

// ResetDaily zeroes the daily spend, as a scheduled rollover would.
func (c *Client) ResetDaily() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget.ResetDaily()
}

// History returns the payments made so far, oldest first.
func (c *Client) History() []types.PaymentRecord {
	return c.history.List()
}

// BudgetConfig returns the limits and thresholds the budget enforces.
func (c *Client) BudgetConfig() budget.Config {
	return c.budget.Config()
}

// Capabilities returns the wallet's chain capabilities.
func (c *Client) Capabilities() chains.Capabilities {
	return c.caps
}

// Adapters returns the registered adapters in probe order.
func (c *Client) Adapters() []router.Adapter {
	return c.router.Adapters()
}
