// Package router detects which payment scheme protects a resource and
// collects a quote from every adapter that recognises it.
package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	x402errors "github.com/vitwit/x402pay/errors"
	"github.com/vitwit/x402pay/events"
	"github.com/vitwit/x402pay/logger"
	"github.com/vitwit/x402pay/metrics"
	"github.com/vitwit/x402pay/types"
)

// Router holds an ordered, immutable list of adapters. Registration order is
// the priority order: every result list it returns follows it, whatever
// order the adapter calls complete in.
type Router struct {
	adapters []Adapter
	// quoters[i] is adapters[i] when it implements ResponseQuoter, nil otherwise.
	quoters []ResponseQuoter

	logger   logger.Logger
	metrics  metrics.Recorder
	observer events.Observer
}

type Option func(*Router)

func WithLogger(l logger.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

func WithObserver(o events.Observer) Option {
	return func(r *Router) {
		r.observer = o
	}
}

// New creates a router over adapters. The slice is copied.
func New(adapters []Adapter, opts ...Option) *Router {
	r := &Router{
		adapters: make([]Adapter, len(adapters)),
		quoters:  make([]ResponseQuoter, len(adapters)),
	}
	copy(r.adapters, adapters)
	for i, a := range r.adapters {
		if q, ok := a.(ResponseQuoter); ok {
			r.quoters[i] = q
		}
	}

	for _, opt := range opts {
		opt(r)
	}
	r.logger = logger.OrNoop(r.logger)
	r.metrics = metrics.OrNoop(r.metrics)
	r.observer = events.OrNop(r.observer)

	return r
}

// Adapters returns the registered adapters in order.
func (r *Router) Adapters() []Adapter {
	out := make([]Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// AdapterByName looks an adapter up by its declared name.
func (r *Router) AdapterByName(name string) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// ProbeAll asks every adapter whether it recognises the resource, then
// quotes with every adapter that did. One adapter failing never aborts the
// others.
//
// When nothing is detected and every adapter failed, the first adapter's
// error is returned as is; when nothing is detected otherwise, the error is
// PROTOCOL_DETECTION_FAILED. If every detecting adapter then fails to quote,
// the error is PROTOCOL_DETECTION_FAILED as well.
func (r *Router) ProbeAll(ctx context.Context, url string, headers http.Header) ([]Result, error) {
	start := time.Now()
	defer func() {
		r.metrics.ObserveLatency("probe_all", time.Since(start), nil)
	}()

	detected, err := r.detectAll(ctx, url, headers)
	if err != nil {
		return nil, err
	}

	quotes := make([]*types.Quote, len(detected))
	var g errgroup.Group
	for i, a := range detected {
		g.Go(func() error {
			q, err := r.quote(ctx, a, url, headers)
			if err == nil {
				quotes[i] = q
			}
			return nil
		})
	}
	_ = g.Wait()

	results := make([]Result, 0, len(detected))
	for i, q := range quotes {
		if q != nil {
			results = append(results, Result{Adapter: detected[i], Quote: q})
		}
	}

	if len(results) == 0 {
		return nil, x402errors.New(x402errors.CodeProtocolDetectionFailed,
			"%d adapter(s) detected a payment scheme at %s but none produced a quote", len(detected), url)
	}

	for _, res := range results {
		r.detectedEvent(url, res)
	}
	return results, nil
}

// Probe is ProbeAll that stops at the first adapter, in registration order,
// that both detects the resource and quotes it.
func (r *Router) Probe(ctx context.Context, url string, headers http.Header) (*Result, error) {
	detected, err := r.detectAll(ctx, url, headers)
	if err != nil {
		return nil, err
	}

	for _, a := range detected {
		q, err := r.quote(ctx, a, url, headers)
		if err != nil {
			continue
		}
		res := Result{Adapter: a, Quote: q}
		r.detectedEvent(url, res)
		return &res, nil
	}

	return nil, x402errors.New(x402errors.CodeProtocolDetectionFailed,
		"%d adapter(s) detected a payment scheme at %s but none produced a quote", len(detected), url)
}

// ProbeFromResponse inspects a response the caller already received. It
// returns no results unless the status is 402. The body is read once and
// every response-aware adapter gets its own copy; resp.Body is replaced so
// the caller can still read it.
func (r *Router) ProbeFromResponse(ctx context.Context, url string, resp *http.Response) ([]Result, error) {
	if resp == nil || resp.StatusCode != http.StatusPaymentRequired {
		return nil, nil
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read payment required response: %w", err)
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return r.ProbePaymentRequired(ctx, &types.PaymentRequiredResponse{
		URL:     url,
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    body,
	}), nil
}

// ProbePaymentRequired is ProbeFromResponse for a response whose body has
// already been read.
func (r *Router) ProbePaymentRequired(ctx context.Context, resp *types.PaymentRequiredResponse) []Result {
	if resp == nil || resp.Status != http.StatusPaymentRequired {
		return nil
	}

	quotes := make([]*types.Quote, len(r.quoters))
	var g errgroup.Group
	for i, q := range r.quoters {
		if q == nil {
			continue
		}
		own := &types.PaymentRequiredResponse{
			URL:     resp.URL,
			Status:  resp.Status,
			Headers: resp.Headers.Clone(),
			Body:    bytes.Clone(resp.Body),
		}
		g.Go(func() error {
			quote, err := safeCall(func() (*types.Quote, error) {
				return q.QuoteFromResponse(ctx, own)
			})
			if err != nil {
				r.adapterFailed(events.AdapterQuoteFailed, "quote_from_response", resp.URL, q, err)
				return nil
			}
			quotes[i] = quote
			return nil
		})
	}
	_ = g.Wait()

	var results []Result
	for i, q := range quotes {
		if q != nil {
			res := Result{Adapter: r.adapters[i], Quote: q}
			results = append(results, res)
			events.Emit(r.observer, events.Event{
				Type:    events.LateDetection,
				URL:     resp.URL,
				Adapter: res.Adapter.Name(),
				Amount:  &q.Amount,
			})
		}
	}
	return results
}

// Execute hands the payment to the chosen adapter.
func (r *Router) Execute(ctx context.Context, adapter Adapter, req *types.PaymentRequest) (*types.ExecutionResult, error) {
	return adapter.Execute(ctx, req)
}

// detectAll runs Detect on every adapter concurrently and returns the
// detecting ones in registration order.
func (r *Router) detectAll(ctx context.Context, url string, headers http.Header) ([]Adapter, error) {
	type outcome struct {
		ok  bool
		err error
	}
	outcomes := make([]outcome, len(r.adapters))

	var g errgroup.Group
	for i, a := range r.adapters {
		g.Go(func() error {
			ok, err := safeCall(func() (bool, error) {
				return a.Detect(ctx, url, cloneHeader(headers))
			})
			if err != nil {
				r.adapterFailed(events.AdapterDetectFailed, "detect", url, a, err)
			}
			outcomes[i] = outcome{ok: ok && err == nil, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		detected []Adapter
		firstErr error
		failures int
	)
	for i, o := range outcomes {
		if o.ok {
			detected = append(detected, r.adapters[i])
		}
		if o.err != nil {
			failures++
			if firstErr == nil {
				firstErr = o.err
			}
		}
	}

	if len(detected) > 0 {
		return detected, nil
	}
	if failures > 0 && failures == len(r.adapters) {
		return nil, firstErr
	}
	return nil, x402errors.New(x402errors.CodeProtocolDetectionFailed,
		"no payment protocol detected at %s among %d adapter(s)", url, len(r.adapters))
}

func (r *Router) quote(ctx context.Context, a Adapter, url string, headers http.Header) (*types.Quote, error) {
	q, err := safeCall(func() (*types.Quote, error) {
		return a.Quote(ctx, url, cloneHeader(headers))
	})
	if err == nil && q == nil {
		err = fmt.Errorf("adapter %s returned no quote", a.Name())
	}
	if err != nil {
		r.adapterFailed(events.AdapterQuoteFailed, "quote", url, a, err)
		return nil, err
	}
	return q, nil
}

func (r *Router) adapterFailed(t events.Type, op, url string, a Adapter, err error) {
	r.logger.Warn("adapter call failed", map[string]any{
		"adapter":   a.Name(),
		"operation": op,
		"url":       url,
		"error":     err,
	})
	r.metrics.IncCounter(op, map[string]string{
		metrics.LabelProtocol: a.Name(),
		metrics.LabelOutcome:  "error",
	})
	events.Emit(r.observer, events.Event{
		Type:    t,
		URL:     url,
		Adapter: a.Name(),
		Err:     err,
	})
}

func (r *Router) detectedEvent(url string, res Result) {
	r.logger.Debug("payment protocol detected", map[string]any{
		"adapter": res.Adapter.Name(),
		"url":     url,
		"amount":  res.Quote.Amount.String(),
	})
	r.metrics.IncCounter("detect", map[string]string{
		metrics.LabelProtocol: res.Adapter.Name(),
		metrics.LabelOutcome:  "detected",
	})
	events.Emit(r.observer, events.Event{
		Type:    events.ProtocolDetected,
		URL:     url,
		Adapter: res.Adapter.Name(),
		Amount:  &res.Quote.Amount,
	})
}

// safeCall turns an adapter panic into an error so it stays isolated to
// that adapter.
func safeCall[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("adapter panicked: %v", p)
		}
	}()
	return fn()
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
