package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vitwit/x402pay/budget"
	"github.com/vitwit/x402pay/chains"
)

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List payments made so far",
		Long: `List payments made so far. Payments survive between runs only when
historyFile (or X402PAY_HISTORY_FILE) is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newSession()
			if err != nil {
				return err
			}
			defer client.Close()

			records := client.History()
			return printResult(cmd.OutOrStdout(), records, func(w io.Writer) {
				if len(records) == 0 {
					fmt.Fprintln(w, "no payments")
					return
				}
				for _, rec := range records {
					tx := rec.TxHash
					if tx == "" {
						tx = "-"
					}
					fmt.Fprintf(w, "%s  %-10s %-6s %s  %s\n",
						rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Amount, rec.Protocol, tx, rec.URL)
				}
			})
		},
	}
}

type walletOutput struct {
	EVMAddress   string              `json:"evmAddress,omitempty"`
	Protocols    []string            `json:"protocols"`
	Capabilities chains.Capabilities `json:"capabilities"`
	Budget       budget.State        `json:"budget"`
}

func newWalletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wallet",
		Short: "Show signing accounts, supported chains and budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newSession()
			if err != nil {
				return err
			}
			defer client.Close()

			out := walletOutput{
				EVMAddress:   client.evmAddress,
				Capabilities: client.Capabilities(),
				Budget:       client.Budget(),
			}
			for _, a := range client.Adapters() {
				out.Protocols = append(out.Protocols, a.Name())
			}

			return printResult(cmd.OutOrStdout(), out, func(w io.Writer) {
				if out.EVMAddress != "" {
					fmt.Fprintf(w, "evm address: %s\n", out.EVMAddress)
				} else {
					fmt.Fprintln(w, "evm address: not configured (set X402PAY_EVM_PRIVATE_KEY)")
				}
				fmt.Fprintf(w, "protocols:   %s\n", strings.Join(out.Protocols, ", "))
				fmt.Fprintf(w, "chains:      %s\n", joinNamespaces(out.Capabilities))
				printPeriod(w, "daily", out.Budget.Daily)
				printPeriod(w, "monthly", out.Budget.Monthly)
			})
		},
	}
}

func joinNamespaces(c chains.Capabilities) string {
	names := make([]string, 0, len(c.SupportedNamespaces))
	for _, ns := range c.SupportedNamespaces {
		name := string(ns)
		if len(c.PreferredChains) > 0 && c.PreferredChains[0] == ns {
			name += " (preferred)"
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}
