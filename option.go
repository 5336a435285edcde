package x402pay

import (
	"net/http"
	"time"

	"github.com/vitwit/x402pay/events"
	"github.com/vitwit/x402pay/history"
	"github.com/vitwit/x402pay/logger"
	"github.com/vitwit/x402pay/metrics"
)

type Option func(*Client)

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = r
	}
}

// WithObserver receives every router, budget and payment event.
func WithObserver(o events.Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithHTTPClient sets the client used for the unpaid request made when no
// adapter detects a payment scheme up front.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithHistory shares a payment log between clients.
func WithHistory(h *history.Log) Option {
	return func(c *Client) {
		c.history = h
	}
}

func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		c.timeout = t
	}
}
