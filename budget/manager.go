// Package budget tracks cumulative spend against daily, monthly and
// per-transaction ceilings.
//
// A Manager does no locking of its own. Callers that pay concurrently must
// serialize RecordSpending and ResetDaily on the same Manager.
package budget

import (
	"math/big"

	"github.com/shopspring/decimal"

	x402errors "github.com/vitwit/x402pay/errors"
	"github.com/vitwit/x402pay/events"
	"github.com/vitwit/x402pay/logger"
	"github.com/vitwit/x402pay/metrics"
	"github.com/vitwit/x402pay/money"
)

// Period names the ceiling a check or warning refers to.
type Period string

const (
	PeriodPerTransaction Period = "per_transaction"
	PeriodDaily          Period = "daily"
	PeriodMonthly        Period = "monthly"
)

// Config holds the ceilings of one wallet. Nil limits are not enforced.
type Config struct {
	DailyLimit          *money.Money `json:"dailyLimit,omitempty"`
	MonthlyLimit        *money.Money `json:"monthlyLimit,omitempty"`
	PerTransactionLimit *money.Money `json:"perTransactionLimit,omitempty"`

	// WarningThreshold is the fraction of a limit, in [0,1], at which
	// CheckWarning starts warning.
	WarningThreshold decimal.Decimal `json:"warningThreshold"`

	// SatToUSDRate is the number of US cents one satoshi is worth.
	SatToUSDRate decimal.Decimal `json:"satToUsdRate"`
}

// CheckResult is the outcome of CheckTransaction. Period and Limit are set
// only when Exceeded is true.
type CheckResult struct {
	Exceeded  bool         `json:"exceeded"`
	Period    Period       `json:"period,omitempty"`
	Requested money.Money  `json:"requested"`
	Limit     *money.Money `json:"limit,omitempty"`
}

// Warning reports that spend in Period reached the warning threshold.
type Warning struct {
	Period    Period          `json:"period"`
	Spent     money.Money     `json:"spent"`
	Limit     money.Money     `json:"limit"`
	Usage     decimal.Decimal `json:"usage"`
	Threshold decimal.Decimal `json:"threshold"`
}

// PeriodState is a snapshot of one period. Limit and Remaining are nil when
// the period has no limit.
type PeriodState struct {
	Spent     money.Money  `json:"spent"`
	Limit     *money.Money `json:"limit,omitempty"`
	Remaining *money.Money `json:"remaining,omitempty"`
}

type State struct {
	Daily               PeriodState  `json:"daily"`
	Monthly             PeriodState  `json:"monthly"`
	PerTransactionLimit *money.Money `json:"perTransactionLimit,omitempty"`
}

// Manager holds the spend accumulators of one wallet for one session.
type Manager struct {
	cfg Config

	dailySpent   *big.Int
	monthlySpent *big.Int

	logger   logger.Logger
	metrics  metrics.Recorder
	observer events.Observer
}

type Option func(*Manager)

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

func WithObserver(o events.Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// NewManager validates cfg and returns a Manager with nothing spent.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:          cfg,
		dailySpent:   new(big.Int),
		monthlySpent: new(big.Int),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrNoop(m.logger)
	m.metrics = metrics.OrNoop(m.metrics)
	m.observer = events.OrNop(m.observer)

	return m, nil
}

func (c Config) validate() error {
	limits := []struct {
		name  string
		limit *money.Money
	}{
		{"per-transaction limit", c.PerTransactionLimit},
		{"daily limit", c.DailyLimit},
		{"monthly limit", c.MonthlyLimit},
	}
	for _, l := range limits {
		if l.limit != nil && l.limit.Currency() != money.USD {
			return x402errors.New(x402errors.CodeConfigError, "%s must be in USD, got %s", l.name, l.limit.Currency())
		}
	}
	if c.WarningThreshold.IsNegative() || c.WarningThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return x402errors.New(x402errors.CodeConfigError, "warning threshold must be between 0 and 1, got %s", c.WarningThreshold)
	}
	if c.SatToUSDRate.IsNegative() {
		return x402errors.New(x402errors.CodeConfigError, "sat to USD rate must not be negative, got %s", c.SatToUSDRate)
	}
	return nil
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() Config {
	return m.cfg
}

// ConvertToUSD normalizes amount to USD. USD passes through. SATS become
// floor(sats * rate) cents, and any positive SATS amount costs at least one
// cent, even at a zero rate.
func (m *Manager) ConvertToUSD(amount money.Money) money.Money {
	return usd(m.cents(amount))
}

func (m *Manager) cents(amount money.Money) *big.Int {
	atomic := amount.Atomic()
	if amount.Currency() == money.USD {
		return atomic
	}
	if atomic.Sign() == 0 {
		return atomic
	}

	cents := amount.Decimal().Mul(m.cfg.SatToUSDRate).Floor().BigInt()
	if cents.Sign() <= 0 {
		cents.SetInt64(1)
	}
	return cents
}

// CheckTransaction reports whether paying amount would breach a limit. The
// per-transaction limit is checked first, then the projected daily total,
// then the projected monthly total; the first breach wins. Reaching a limit
// exactly is allowed.
//
// The check is advisory: it never blocks RecordSpending.
func (m *Manager) CheckTransaction(amount money.Money) CheckResult {
	requested := m.cents(amount)
	result := CheckResult{Requested: usd(requested)}

	checks := []struct {
		period Period
		limit  *money.Money
		total  *big.Int
	}{
		{PeriodPerTransaction, m.cfg.PerTransactionLimit, requested},
		{PeriodDaily, m.cfg.DailyLimit, new(big.Int).Add(m.dailySpent, requested)},
		{PeriodMonthly, m.cfg.MonthlyLimit, new(big.Int).Add(m.monthlySpent, requested)},
	}
	for _, c := range checks {
		if c.limit == nil || c.total.Cmp(c.limit.Atomic()) <= 0 {
			continue
		}

		limit := *c.limit
		result.Exceeded = true
		result.Period = c.period
		result.Limit = &limit

		m.logger.Warn("transaction exceeds budget", map[string]any{
			"period":    string(c.period),
			"requested": result.Requested.String(),
			"limit":     limit.String(),
		})
		m.metrics.IncCounter("budget_exceeded", map[string]string{
			metrics.LabelOutcome: string(c.period),
		})
		events.Emit(m.observer, events.Event{
			Type:   events.BudgetExceeded,
			Amount: &result.Requested,
			Data:   result,
		})
		break
	}

	return result
}

// RecordSpending adds amount to the daily and monthly totals. It does not
// check limits; call CheckTransaction first.
func (m *Manager) RecordSpending(amount money.Money) {
	cents := m.cents(amount)
	m.dailySpent.Add(m.dailySpent, cents)
	m.monthlySpent.Add(m.monthlySpent, cents)

	recorded := usd(cents)
	m.logger.Info("spending recorded", map[string]any{
		"amount":        recorded.String(),
		"daily_spent":   usd(m.dailySpent).String(),
		"monthly_spent": usd(m.monthlySpent).String(),
	})
	m.metrics.IncCounter("budget_spend", map[string]string{
		metrics.LabelOutcome: "recorded",
	})
	events.Emit(m.observer, events.Event{
		Type:   events.SpendingRecorded,
		Amount: &recorded,
	})
}

// ResetDaily zeroes the daily total. The monthly total is kept.
func (m *Manager) ResetDaily() {
	m.dailySpent = new(big.Int)

	m.logger.Info("daily budget reset", nil)
	events.Emit(m.observer, events.Event{Type: events.DailyReset})
}

// CheckWarning looks at the first period with a limit, daily before monthly,
// and returns a Warning when its usage is at or above the threshold.
// It returns nil when no warning applies.
func (m *Manager) CheckWarning() *Warning {
	period, spent, limit := PeriodDaily, m.dailySpent, m.cfg.DailyLimit
	if limit == nil {
		period, spent, limit = PeriodMonthly, m.monthlySpent, m.cfg.MonthlyLimit
	}
	if limit == nil {
		return nil
	}

	spentDec := usd(spent).Decimal()
	limitDec := limit.Decimal()
	if spentDec.LessThan(limitDec.Mul(m.cfg.WarningThreshold)) {
		return nil
	}

	usage := decimal.NewFromInt(1)
	if limitDec.IsPositive() {
		usage = spentDec.Div(limitDec)
	}
	w := &Warning{
		Period:    period,
		Spent:     usd(spent),
		Limit:     *limit,
		Usage:     usage,
		Threshold: m.cfg.WarningThreshold,
	}

	m.logger.Warn("budget warning threshold reached", map[string]any{
		"period": string(period),
		"spent":  w.Spent.String(),
		"limit":  w.Limit.String(),
		"usage":  usage.StringFixed(4),
	})
	events.Emit(m.observer, events.Event{
		Type:   events.BudgetWarning,
		Amount: &w.Spent,
		Data:   *w,
	})
	return w
}

// State returns a snapshot of spend, limits and remaining budget.
func (m *Manager) State() State {
	return State{
		Daily:               periodState(m.dailySpent, m.cfg.DailyLimit),
		Monthly:             periodState(m.monthlySpent, m.cfg.MonthlyLimit),
		PerTransactionLimit: m.cfg.PerTransactionLimit,
	}
}

// ExceededError turns a breached CheckResult into a BUDGET_EXCEEDED error
// carrying the result as data.
func ExceededError(r CheckResult) error {
	if !r.Exceeded {
		return nil
	}
	return x402errors.New(x402errors.CodeBudgetExceeded,
		"%s budget exceeded: requested %s, limit %s", r.Period, r.Requested, r.Limit).WithData(r)
}

func periodState(spent *big.Int, limit *money.Money) PeriodState {
	ps := PeriodState{Spent: usd(spent)}
	if limit == nil {
		return ps
	}

	l := *limit
	remaining := new(big.Int).Sub(l.Atomic(), spent)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	r := usd(remaining)
	ps.Limit = &l
	ps.Remaining = &r
	return ps
}

// usd wraps a non-negative cent amount.
func usd(cents *big.Int) money.Money {
	m, _ := money.FromBigInt(cents, money.USD)
	return m
}
