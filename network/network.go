// Package network parses and formats CAIP-2 style chain identifiers such as
// "eip155:8453" or "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp".
package network

import (
	"regexp"
	"strings"

	x402errors "github.com/vitwit/x402pay/errors"
)

// Namespace classifies a network into a chain family.
type Namespace string

const (
	NamespaceEVM Namespace = "evm"
	NamespaceSVM Namespace = "svm"
)

func (n Namespace) String() string {
	return string(n)
}

// Prefix returns the CAIP-2 prefix for the namespace, or "" if unknown.
func (n Namespace) Prefix() string {
	return namespacePrefixes[n]
}

var (
	prefixNamespaces = map[string]Namespace{
		"eip155": NamespaceEVM,
		"solana": NamespaceSVM,
	}
	namespacePrefixes = map[Namespace]string{
		NamespaceEVM: "eip155",
		NamespaceSVM: "solana",
	}

	evmReference = regexp.MustCompile(`^[0-9]+$`)
	// Base58 alphabet: 123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz
	svmReference = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// namespacePriority breaks price ties during chain selection. Lower wins.
var namespacePriority = map[Namespace]int{
	NamespaceEVM: 0,
	NamespaceSVM: 1,
}

// Priority returns the tie-break rank of ns. Unknown namespaces rank last.
func Priority(ns Namespace) int {
	if p, ok := namespacePriority[ns]; ok {
		return p
	}
	return len(namespacePriority)
}

// ParseNamespace accepts either the internal tag ("evm") or the CAIP prefix ("eip155").
func ParseNamespace(s string) (Namespace, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if ns, ok := prefixNamespaces[s]; ok {
		return ns, nil
	}
	if _, ok := namespacePrefixes[Namespace(s)]; ok {
		return Namespace(s), nil
	}
	return "", x402errors.New(x402errors.CodeInvalidNetworkIdentifier, "unknown namespace %q", s)
}

// Identifier is a parsed chain identifier.
type Identifier struct {
	Namespace Namespace `json:"namespace"`
	Reference string    `json:"reference"`
}

// Parse splits s on its first colon and validates the reference against the
// namespace's format.
func Parse(s string) (Identifier, error) {
	prefix, reference, found := strings.Cut(s, ":")
	if !found {
		return Identifier{}, x402errors.New(x402errors.CodeInvalidNetworkIdentifier, "network identifier %q has no namespace prefix", s)
	}

	ns, ok := prefixNamespaces[prefix]
	if !ok {
		return Identifier{}, x402errors.New(x402errors.CodeInvalidNetworkIdentifier, "unrecognized namespace prefix %q in %q", prefix, s)
	}

	if !validReference(ns, reference) {
		return Identifier{}, x402errors.New(x402errors.CodeInvalidNetworkIdentifier, "invalid %s reference %q in %q", ns, reference, s)
	}

	return Identifier{Namespace: ns, Reference: reference}, nil
}

// MustParse is Parse for package level values. It panics on error.
func MustParse(s string) Identifier {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func validReference(ns Namespace, reference string) bool {
	switch ns {
	case NamespaceEVM:
		return evmReference.MatchString(reference)
	case NamespaceSVM:
		return svmReference.MatchString(reference)
	default:
		return false
	}
}

// Format is the inverse of Parse.
func Format(id Identifier) string {
	return id.Namespace.Prefix() + ":" + id.Reference
}

func (id Identifier) String() string {
	return Format(id)
}

// Well-known networks
var (
	Base          = MustParse("eip155:8453")
	BaseSepolia   = MustParse("eip155:84532")
	Polygon       = MustParse("eip155:137")
	PolygonAmoy   = MustParse("eip155:80002")
	SolanaMainnet = MustParse("solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp")
	SolanaDevnet  = MustParse("solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1")
)

// legacyNames maps x402 v1 network names onto identifiers.
var legacyNames = map[string]Identifier{
	"base":           Base,
	"base-sepolia":   BaseSepolia,
	"polygon":        Polygon,
	"polygon-amoy":   PolygonAmoy,
	"solana":         SolanaMainnet,
	"solana-mainnet": SolanaMainnet,
	"solana-devnet":  SolanaDevnet,
}

// FromLegacyName resolves an x402 v1 network name such as "base-sepolia".
func FromLegacyName(name string) (Identifier, bool) {
	id, ok := legacyNames[strings.ToLower(name)]
	return id, ok
}

// Resolve accepts either a CAIP-2 identifier or a legacy x402 v1 name.
func Resolve(s string) (Identifier, error) {
	if id, ok := FromLegacyName(s); ok {
		return id, nil
	}
	return Parse(s)
}

// IsTestnet reports whether id is one of the well-known test networks.
func (id Identifier) IsTestnet() bool {
	return id == BaseSepolia || id == PolygonAmoy || id == SolanaDevnet
}
