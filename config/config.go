// Package config loads x402pay settings from JSON, with environment
// overrides, and turns them into budget and wallet settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vitwit/x402pay/budget"
	"github.com/vitwit/x402pay/chains"
	x402errors "github.com/vitwit/x402pay/errors"
	"github.com/vitwit/x402pay/money"
	"github.com/vitwit/x402pay/network"
)

var validate = validator.New()

// DefaultWarningThreshold is used when the budget section sets none.
const DefaultWarningThreshold = "0.8"

// Config is the on-disk configuration.
type Config struct {
	LogLevel      string       `json:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics bool         `json:"enableMetrics"`
	Timeout       string       `json:"timeout,omitempty"`
	AssetDecimals int32        `json:"assetDecimals" validate:"gte=0,lte=36"`
	// HistoryFile, when set, keeps payment history across runs.
	HistoryFile   string       `json:"historyFile,omitempty"`
	Wallet        WalletConfig `json:"wallet"`
	Budget        BudgetConfig `json:"budget"`
}

// WalletConfig lists the chain families the wallet can pay on.
type WalletConfig struct {
	SupportedNamespaces []string `json:"supportedNamespaces" validate:"required,min=1,dive,required"`
	PreferredChains     []string `json:"preferredChains,omitempty" validate:"dive,required"`

	// EVMPrivateKey signs EVM payments. It is only read from
	// X402PAY_EVM_PRIVATE_KEY, never from the config file.
	EVMPrivateKey string `json:"-"`
}

// BudgetConfig holds limits as USD decimal strings such as "10.00".
type BudgetConfig struct {
	DailyLimit          string `json:"dailyLimit,omitempty"`
	MonthlyLimit        string `json:"monthlyLimit,omitempty"`
	PerTransactionLimit string `json:"perTransactionLimit,omitempty"`
	WarningThreshold    string `json:"warningThreshold,omitempty"`
	// SatToUSDRate is in US cents per satoshi.
	SatToUSDRate string `json:"satToUsdRate,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:      "info",
		Timeout:       "30s",
		AssetDecimals: 6,
		Wallet: WalletConfig{
			SupportedNamespaces: []string{string(network.NamespaceEVM), string(network.NamespaceSVM)},
		},
		Budget: BudgetConfig{
			WarningThreshold: DefaultWarningThreshold,
		},
	}
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, x402errors.Wrap(x402errors.CodeConfigError, err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the file at path, or starts from Default when path is empty,
// then applies X402PAY_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, x402errors.Wrap(x402errors.CodeConfigError, err, fmt.Sprintf("failed to read config %s", path))
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("X402PAY_LOG_LEVEL", c.LogLevel)
	c.Timeout = getEnv("X402PAY_TIMEOUT", c.Timeout)
	c.HistoryFile = getEnv("X402PAY_HISTORY_FILE", c.HistoryFile)
	c.Budget.DailyLimit = getEnv("X402PAY_DAILY_LIMIT", c.Budget.DailyLimit)
	c.Budget.MonthlyLimit = getEnv("X402PAY_MONTHLY_LIMIT", c.Budget.MonthlyLimit)
	c.Budget.PerTransactionLimit = getEnv("X402PAY_PER_TRANSACTION_LIMIT", c.Budget.PerTransactionLimit)
	c.Budget.SatToUSDRate = getEnv("X402PAY_SAT_TO_USD_RATE", c.Budget.SatToUSDRate)
	c.Wallet.EVMPrivateKey = getEnv("X402PAY_EVM_PRIVATE_KEY", c.Wallet.EVMPrivateKey)

	switch strings.ToLower(os.Getenv("X402PAY_ENABLE_METRICS")) {
	case "1", "true", "yes":
		c.EnableMetrics = true
	case "0", "false", "no":
		c.EnableMetrics = false
	}
	if preferred := os.Getenv("X402PAY_PREFERRED_CHAINS"); preferred != "" {
		c.Wallet.PreferredChains = splitList(preferred)
	}
}

// Validate checks struct tags and every derived value.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return x402errors.Wrap(x402errors.CodeConfigError, err, "validation failed")
	}
	if _, err := c.RequestTimeout(); err != nil {
		return err
	}
	if _, err := c.Capabilities(); err != nil {
		return err
	}
	if _, err := c.BudgetConfig(); err != nil {
		return err
	}
	return nil
}

// RequestTimeout is the HTTP timeout for adapter calls. Zero means none.
func (c *Config) RequestTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d < 0 {
		return 0, x402errors.New(x402errors.CodeConfigError, "invalid timeout %q", c.Timeout)
	}
	return d, nil
}

// Capabilities converts the wallet section. Namespaces may be given as
// internal tags ("evm") or CAIP-2 prefixes ("eip155").
func (c *Config) Capabilities() (chains.Capabilities, error) {
	supported, err := parseNamespaces(c.Wallet.SupportedNamespaces)
	if err != nil {
		return chains.Capabilities{}, err
	}
	preferred, err := parseNamespaces(c.Wallet.PreferredChains)
	if err != nil {
		return chains.Capabilities{}, err
	}
	return chains.Capabilities{SupportedNamespaces: supported, PreferredChains: preferred}, nil
}

// BudgetConfig converts the budget section.
func (c *Config) BudgetConfig() (budget.Config, error) {
	var (
		out budget.Config
		err error
	)

	if out.DailyLimit, err = parseLimit("dailyLimit", c.Budget.DailyLimit); err != nil {
		return budget.Config{}, err
	}
	if out.MonthlyLimit, err = parseLimit("monthlyLimit", c.Budget.MonthlyLimit); err != nil {
		return budget.Config{}, err
	}
	if out.PerTransactionLimit, err = parseLimit("perTransactionLimit", c.Budget.PerTransactionLimit); err != nil {
		return budget.Config{}, err
	}

	threshold := c.Budget.WarningThreshold
	if threshold == "" {
		threshold = DefaultWarningThreshold
	}
	if out.WarningThreshold, err = parseDecimal("warningThreshold", threshold); err != nil {
		return budget.Config{}, err
	}
	if out.WarningThreshold.IsNegative() || out.WarningThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return budget.Config{}, x402errors.New(x402errors.CodeConfigError, "warningThreshold must be between 0 and 1, got %s", threshold)
	}

	if c.Budget.SatToUSDRate != "" {
		if out.SatToUSDRate, err = parseDecimal("satToUsdRate", c.Budget.SatToUSDRate); err != nil {
			return budget.Config{}, err
		}
		if out.SatToUSDRate.IsNegative() {
			return budget.Config{}, x402errors.New(x402errors.CodeConfigError, "satToUsdRate must not be negative, got %s", c.Budget.SatToUSDRate)
		}
	}

	return out, nil
}

func parseLimit(field, value string) (*money.Money, error) {
	if value == "" {
		return nil, nil
	}
	m, err := money.FromDecimalString(value)
	if err != nil {
		return nil, x402errors.Wrap(x402errors.CodeConfigError, err, fmt.Sprintf("invalid %s", field))
	}
	return &m, nil
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, x402errors.Wrap(x402errors.CodeConfigError, err, fmt.Sprintf("invalid %s", field))
	}
	return d, nil
}

func parseNamespaces(values []string) ([]network.Namespace, error) {
	out := make([]network.Namespace, 0, len(values))
	for _, v := range values {
		ns, err := network.ParseNamespace(v)
		if err != nil {
			return nil, x402errors.Wrap(x402errors.CodeConfigError, err, "invalid wallet namespace")
		}
		out = append(out, ns)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
