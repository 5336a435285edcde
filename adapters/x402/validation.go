package x402

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/vitwit/x402pay/money"
	"github.com/vitwit/x402pay/network"
)

// ValidatePayTo checks that address is a well formed recipient on ns.
// Namespaces without a known address format are accepted as is.
func ValidatePayTo(ns network.Namespace, address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch ns {
	case network.NamespaceEVM:
		if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
			return fmt.Errorf("invalid EVM address %q", address)
		}
	case network.NamespaceSVM:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("invalid Solana address %q: %w", address, err)
		}
	}
	return nil
}

// ParseAtomicAmount parses a non-negative integer amount of asset units.
func ParseAtomicAmount(value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", value)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	return n, nil
}

// AtomicToUSD prices amount asset units, each worth 10^-decimals dollars, in
// cents. Fractions of a cent round up so a quote never understates the cost.
func AtomicToUSD(amount *big.Int, decimals int32) (money.Money, error) {
	dollars := decimal.NewFromBigInt(amount, -decimals)
	cents := dollars.Shift(2).Ceil()
	return money.FromBigInt(cents.BigInt(), money.USD)
}
