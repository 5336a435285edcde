package cli

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vitwit/x402pay"
	"github.com/vitwit/x402pay/budget"
	x402errors "github.com/vitwit/x402pay/errors"
	"github.com/vitwit/x402pay/types"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <url>",
		Short: "Report whether a resource requires payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newSession()
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.Check(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, func(w io.Writer) {
				if !res.Paid {
					fmt.Fprintf(w, "%s is free\n", res.URL)
					return
				}
				fmt.Fprintf(w, "%s requires payment via %s: %s\n", res.URL, res.Protocol, res.Amount)
				if len(res.Chains) > 0 {
					fmt.Fprintf(w, "chains: %s\n", strings.Join(res.Chains, ", "))
				}
			})
		},
	}
}

func newQuoteCmd() *cobra.Command {
	var chain string

	cmd := &cobra.Command{
		Use:   "quote <url>",
		Short: "Price a resource on the chain a payment would use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newSession()
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.Quote(cmd.Context(), args[0], chain)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "protocol: %s\namount:   %s\n", res.Protocol, res.Amount)
				if res.Network != "" {
					fmt.Fprintf(w, "network:  %s\n", res.Network)
				}
				if len(res.Quotes) > 0 && len(res.Quotes[0].AllAccepts) > 1 {
					fmt.Fprintln(w, "options:")
					for _, opt := range res.Quotes[0].AllAccepts {
						fmt.Fprintf(w, "  %-8s %-45s %s\n", opt.Namespace, opt.Network, opt.Price)
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&chain, "chain", "", "preferred chain family (evm, svm, eip155, solana)")
	return cmd
}

type fetchOutput struct {
	Status  int                  `json:"status"`
	Body    string               `json:"body"`
	Paid    bool                 `json:"paid"`
	Payment *types.PaymentRecord `json:"payment,omitempty"`
	Warning *budget.Warning      `json:"warning,omitempty"`
}

func newFetchCmd() *cobra.Command {
	var (
		method  string
		data    string
		headers []string
		chain   string
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a resource, paying for it within budget if required",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			client, err := newSession()
			if err != nil {
				return err
			}
			defer client.Close()

			req := x402pay.FetchRequest{
				URL:     args[0],
				Method:  strings.ToUpper(method),
				Headers: h,
				Chain:   chain,
			}
			if data != "" {
				req.Body = []byte(data)
			}

			res, err := client.Fetch(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := client.saveHistory(); err != nil {
				return err
			}

			out := fetchOutput{
				Status:  res.Status,
				Body:    string(res.Body),
				Paid:    res.Paid(),
				Payment: res.Payment,
				Warning: res.Warning,
			}
			return printResult(cmd.OutOrStdout(), out, func(w io.Writer) {
				if res.Paid() {
					fmt.Fprintf(cmd.ErrOrStderr(), "paid %s via %s", res.Payment.Amount, res.Payment.Protocol)
					if res.Payment.TxHash != "" {
						fmt.Fprintf(cmd.ErrOrStderr(), " (tx %s)", res.Payment.TxHash)
					}
					fmt.Fprintln(cmd.ErrOrStderr())
				}
				if res.Warning != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s spend %s of %s\n", res.Warning.Period, res.Warning.Spent, res.Warning.Limit)
				}
				_, _ = w.Write(res.Body)
			})
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `request header as "Name: value", repeatable`)
	cmd.Flags().StringVar(&chain, "chain", "", "preferred chain family (evm, svm, eip155, solana)")
	return cmd
}

func parseHeaders(raw []string) (http.Header, error) {
	h := http.Header{}
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, x402errors.New(x402errors.CodeInvalidFormat, "malformed header %q", line)
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h, nil
}

func newBudgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "budget",
		Short: "Show configured limits and remaining budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newSession()
			if err != nil {
				return err
			}
			defer client.Close()

			state := client.Budget()
			return printResult(cmd.OutOrStdout(), state, func(w io.Writer) {
				printPeriod(w, "daily", state.Daily)
				printPeriod(w, "monthly", state.Monthly)
				if state.PerTransactionLimit != nil {
					fmt.Fprintf(w, "%-8s limit %s\n", "per-tx", state.PerTransactionLimit)
				}
			})
		},
	}
}

func printPeriod(w io.Writer, name string, p budget.PeriodState) {
	if p.Limit == nil {
		fmt.Fprintf(w, "%-8s spent %s, no limit\n", name, p.Spent)
		return
	}
	fmt.Fprintf(w, "%-8s spent %s of %s, %s remaining\n", name, p.Spent, p.Limit, p.Remaining)
}
