package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402errors "github.com/vitwit/x402pay/errors"
	"github.com/vitwit/x402pay/network"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	caps, err := cfg.Capabilities()
	require.NoError(t, err)
	assert.Equal(t, []network.Namespace{network.NamespaceEVM, network.NamespaceSVM}, caps.SupportedNamespaces)
	assert.Empty(t, caps.PreferredChains)

	bc, err := cfg.BudgetConfig()
	require.NoError(t, err)
	assert.Nil(t, bc.DailyLimit)
	assert.Equal(t, "0.8", bc.WarningThreshold.String())
	assert.True(t, bc.SatToUSDRate.IsZero())

	timeout, err := cfg.RequestTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"logLevel": "debug",
		"timeout": "5s",
		"wallet": {"supportedNamespaces": ["eip155", "solana"], "preferredChains": ["svm"]},
		"budget": {
			"dailyLimit": "$10.00",
			"monthlyLimit": "100",
			"perTransactionLimit": "0.50",
			"warningThreshold": "0.9",
			"satToUsdRate": "0.06"
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, int32(6), cfg.AssetDecimals)

	caps, err := cfg.Capabilities()
	require.NoError(t, err)
	assert.Equal(t, []network.Namespace{network.NamespaceEVM, network.NamespaceSVM}, caps.SupportedNamespaces)
	assert.Equal(t, []network.Namespace{network.NamespaceSVM}, caps.PreferredChains)

	bc, err := cfg.BudgetConfig()
	require.NoError(t, err)
	assert.Equal(t, "$10.00", bc.DailyLimit.String())
	assert.Equal(t, "$100.00", bc.MonthlyLimit.String())
	assert.Equal(t, "$0.50", bc.PerTransactionLimit.String())
	assert.Equal(t, "0.9", bc.WarningThreshold.String())
	assert.Equal(t, "0.06", bc.SatToUSDRate.String())
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"malformed json":     `{`,
		"bad log level":      `{"logLevel": "loud"}`,
		"no namespaces":      `{"wallet": {"supportedNamespaces": []}}`,
		"unknown namespace":  `{"wallet": {"supportedNamespaces": ["cosmos"]}}`,
		"bad limit":          `{"budget": {"dailyLimit": "10.001"}}`,
		"negative limit":     `{"budget": {"dailyLimit": "-1"}}`,
		"threshold above 1":  `{"budget": {"warningThreshold": "1.5"}}`,
		"negative rate":      `{"budget": {"satToUsdRate": "-0.1"}}`,
		"rate not a number":  `{"budget": {"satToUsdRate": "cheap"}}`,
		"bad timeout":        `{"timeout": "soon"}`,
		"decimals too large": `{"assetDecimals": 99}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, x402errors.ErrConfigError), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x402pay.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"budget": {"dailyLimit": "5.00"}}`), 0o600))

	t.Setenv("X402PAY_MONTHLY_LIMIT", "50.00")
	t.Setenv("X402PAY_PREFERRED_CHAINS", "evm, svm")
	t.Setenv("X402PAY_ENABLE_METRICS", "true")
	t.Setenv("X402PAY_EVM_PRIVATE_KEY", "0xabc")
	t.Setenv("X402PAY_HISTORY_FILE", "/tmp/x402pay-history.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "5.00", cfg.Budget.DailyLimit)
	assert.Equal(t, "50.00", cfg.Budget.MonthlyLimit)
	assert.Equal(t, []string{"evm", "svm"}, cfg.Wallet.PreferredChains)
	assert.True(t, cfg.EnableMetrics)
	assert.Equal(t, "0xabc", cfg.Wallet.EVMPrivateKey)
	assert.Equal(t, "/tmp/x402pay-history.json", cfg.HistoryFile)
}

func TestParse_IgnoresPrivateKeyInFile(t *testing.T) {
	cfg, err := Parse([]byte(`{"wallet": {"supportedNamespaces": ["evm"], "EVMPrivateKey": "0xabc"}}`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Wallet.EVMPrivateKey)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.Is(err, x402errors.ErrConfigError))

	t.Setenv("X402PAY_DAILY_LIMIT", "lots")
	_, err = Load("")
	assert.True(t, errors.Is(err, x402errors.ErrConfigError))
}
