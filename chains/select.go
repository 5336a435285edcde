// Package chains picks which chain to pay on when a resource offers several.
package chains

import (
	"slices"

	x402errors "github.com/vitwit/x402pay/errors"
	"github.com/vitwit/x402pay/network"
	"github.com/vitwit/x402pay/types"
)

// Capabilities describes what the caller's wallet can pay with. It is
// derived once from wallet configuration and never mutated.
type Capabilities struct {
	SupportedNamespaces []network.Namespace `json:"supportedNamespaces"`
	PreferredChains     []network.Namespace `json:"preferredChains,omitempty"`
}

func (c Capabilities) Supports(ns network.Namespace) bool {
	return slices.Contains(c.SupportedNamespaces, ns)
}

func (c Capabilities) Prefers(ns network.Namespace) bool {
	return slices.Contains(c.PreferredChains, ns)
}

// WithPreference returns a copy of c preferring only ns.
func (c Capabilities) WithPreference(ns network.Namespace) Capabilities {
	return Capabilities{
		SupportedNamespaces: slices.Clone(c.SupportedNamespaces),
		PreferredChains:     []network.Namespace{ns},
	}
}

// SelectBestAccept returns the cheapest option the wallet can pay, restricted
// to preferred chains when any of them is on offer. Equal amounts are ordered
// by network.Priority. It performs no I/O and is deterministic.
func SelectBestAccept(accepts []types.AcceptOption, caps Capabilities) (types.AcceptOption, error) {
	compatible := make([]types.AcceptOption, 0, len(accepts))
	for _, a := range accepts {
		if caps.Supports(a.Namespace) {
			compatible = append(compatible, a)
		}
	}

	if len(compatible) == 0 {
		data := x402errors.NoCompatibleChainData{
			Requested: distinct(accepts, func(a types.AcceptOption) network.Namespace { return a.Namespace }),
			Supported: distinct(caps.SupportedNamespaces, func(ns network.Namespace) network.Namespace { return ns }),
		}
		return types.AcceptOption{}, x402errors.New(
			x402errors.CodeNoCompatibleChain,
			"no compatible chain: resource accepts %v, wallet supports %v", data.Requested, data.Supported,
		).WithData(data)
	}

	candidates := compatible
	if len(caps.PreferredChains) > 0 {
		var preferred []types.AcceptOption
		for _, a := range compatible {
			if caps.Prefers(a.Namespace) {
				preferred = append(preferred, a)
			}
		}
		// Preference is advisory: fall back to every compatible option.
		if len(preferred) > 0 {
			candidates = preferred
		}
	}

	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b types.AcceptOption) int {
		if c := a.AmountOrZero().Cmp(b.AmountOrZero()); c != 0 {
			return c
		}
		return network.Priority(a.Namespace) - network.Priority(b.Namespace)
	})

	return sorted[0], nil
}

func distinct[T any](items []T, key func(T) network.Namespace) []string {
	seen := make(map[network.Namespace]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		ns := key(item)
		if seen[ns] {
			continue
		}
		seen[ns] = true
		out = append(out, ns.String())
	}
	return out
}
