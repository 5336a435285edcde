// Package cli implements the x402pay command line.
package cli

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vitwit/x402pay"
	"github.com/vitwit/x402pay/adapters/x402"
	"github.com/vitwit/x402pay/config"
	"github.com/vitwit/x402pay/history"
	"github.com/vitwit/x402pay/logger"
	"github.com/vitwit/x402pay/metrics"
	"github.com/vitwit/x402pay/router"
	"github.com/vitwit/x402pay/signer/evm"
)

var (
	configPath string
	jsonOutput bool
	logLevel   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "x402pay",
		Short: "Inspect and budget machine payments for HTTP resources",
		Long: `x402pay detects which payment scheme protects an HTTP resource,
prices it on the cheapest chain your wallet supports and shows the
remaining budget. With a wallet key in the environment it pays for and
fetches the resource.

Examples:
  x402pay check https://api.example.com/weather
  x402pay quote https://api.example.com/weather --chain solana
  x402pay budget --config ./x402pay.json --json
  x402pay history
  x402pay wallet
  X402PAY_EVM_PRIVATE_KEY=0x... x402pay fetch https://api.example.com/weather`,
		Version:       x402pay.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("X402PAY_CONFIG"), "path to a JSON config file")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine readable JSON")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newCheckCmd(), newQuoteCmd(), newFetchCmd(), newBudgetCmd(), newHistoryCmd(), newWalletCmd())
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		printError(root.ErrOrStderr(), root.OutOrStdout(), err)
		return exitCode(err)
	}
	return 0
}

// session is a Client plus what the CLI keeps around it.
type session struct {
	*x402pay.Client

	log         logger.Logger
	evmAddress  string
	history     *history.Log
	historyFile string
}

// newSession wires a Client from the loaded config. Logs go to stderr so
// stdout stays parseable.
func newSession() (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	s := &session{log: log, historyFile: cfg.HistoryFile}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.EnableMetrics {
		prom, err := metrics.NewPrometheusRecorder(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, err
		}
		recorder = prom
	}

	timeout, err := cfg.RequestTimeout()
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: timeout}

	x402Opts := []x402.Option{
		x402.WithHTTPClient(httpClient),
		x402.WithAssetDecimals(cfg.AssetDecimals),
		x402.WithLogger(log),
		x402.WithMetrics(recorder),
	}
	if cfg.Wallet.EVMPrivateKey != "" {
		signer, err := evm.NewSigner(cfg.Wallet.EVMPrivateKey)
		if err != nil {
			return nil, err
		}
		s.evmAddress = signer.Address().Hex()
		log.Info("evm signer configured", map[string]any{"address": s.evmAddress})
		x402Opts = append(x402Opts, x402.WithSigner(signer))
	}
	adapters := []router.Adapter{x402.New(x402Opts...)}

	if s.historyFile != "" {
		if s.history, err = history.Load(s.historyFile); err != nil {
			return nil, err
		}
	} else {
		s.history = history.NewLog()
	}

	s.Client, err = x402pay.New(cfg, adapters,
		x402pay.WithLogger(log),
		x402pay.WithMetrics(recorder),
		x402pay.WithHTTPClient(httpClient),
		x402pay.WithHistory(s.history),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// saveHistory writes the payment log back when a history file is configured.
func (s *session) saveHistory() error {
	if s.historyFile == "" {
		return nil
	}
	return s.history.Save(s.historyFile)
}

func (s *session) Close() {
	if z, ok := s.log.(*logger.ZapLogger); ok {
		_ = z.Sync()
	}
}
