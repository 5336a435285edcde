// Package money provides an immutable, exact-precision monetary value.
//
// Amounts are held in atomic units (cents for USD, satoshis for SATS) as
// arbitrary precision integers. No operation ever goes through binary
// floating point.
package money

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	x402errors "github.com/vitwit/x402pay/errors"
)

// Currency tags a Money value.
type Currency string

const (
	USD  Currency = "USD"
	SATS Currency = "SATS"
)

// Valid reports whether c is a known currency.
func (c Currency) Valid() bool {
	return c == USD || c == SATS
}

func (c Currency) String() string {
	return string(c)
}

// decimalPattern is the accepted shape of a human USD amount once the
// currency symbol has been stripped.
var decimalPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

var atomicPattern = regexp.MustCompile(`^\d+$`)

// Money is an immutable amount tagged with a currency.
// The zero value is zero USD.
type Money struct {
	atomic   *big.Int
	currency Currency
}

// FromAtomicUnits builds a Money from a raw count of atomic units.
func FromAtomicUnits(n int64, currency Currency) (Money, error) {
	if n < 0 {
		return Money{}, x402errors.New(x402errors.CodeNegativeAmount, "amount must not be negative, got %d", n)
	}
	return newMoney(big.NewInt(n), currency)
}

// FromBigInt builds a Money from an arbitrary precision atomic amount.
// n is copied.
func FromBigInt(n *big.Int, currency Currency) (Money, error) {
	if n == nil {
		return Zero(currency), nil
	}
	if n.Sign() < 0 {
		return Money{}, x402errors.New(x402errors.CodeNegativeAmount, "amount must not be negative, got %s", n)
	}
	return newMoney(new(big.Int).Set(n), currency)
}

// FromAtomicString parses a decimal string of atomic units, as produced by
// ToSerializable.
func FromAtomicString(s string, currency Currency) (Money, error) {
	if strings.HasPrefix(s, "-") && atomicPattern.MatchString(s[1:]) {
		return Money{}, x402errors.New(x402errors.CodeNegativeAmount, "amount must not be negative, got %s", s)
	}
	if !atomicPattern.MatchString(s) {
		return Money{}, x402errors.New(x402errors.CodeInvalidFormat, "invalid atomic amount %q", s)
	}
	n, _ := new(big.Int).SetString(s, 10)
	return newMoney(n, currency)
}

// FromCents is shorthand for FromAtomicUnits(cents, USD).
func FromCents(cents int64) (Money, error) {
	return FromAtomicUnits(cents, USD)
}

// FromSatoshis is shorthand for FromAtomicUnits(sats, SATS).
func FromSatoshis(sats int64) (Money, error) {
	return FromAtomicUnits(sats, SATS)
}

// FromDecimalString parses a human USD amount such as "$1.50", "1.5" or "3".
// At most two fractional digits are accepted.
func FromDecimalString(s string) (Money, error) {
	raw := strings.TrimPrefix(s, "$")
	if !decimalPattern.MatchString(raw) {
		return Money{}, x402errors.New(x402errors.CodeInvalidFormat, "invalid USD amount %q: expected digits with at most two decimals", s)
	}

	whole, frac, _ := strings.Cut(raw, ".")
	for len(frac) < 2 {
		frac += "0"
	}

	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return Money{}, x402errors.New(x402errors.CodeInvalidFormat, "invalid USD amount %q", s)
	}
	return newMoney(n, USD)
}

// MustFromDecimalString is FromDecimalString for package level constants and
// tests. It panics on error.
func MustFromDecimalString(s string) Money {
	m, err := FromDecimalString(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns zero in the given currency.
func Zero(currency Currency) Money {
	return Money{atomic: new(big.Int), currency: currency}
}

func newMoney(n *big.Int, currency Currency) (Money, error) {
	if !currency.Valid() {
		return Money{}, x402errors.New(x402errors.CodeInvalidFormat, "unknown currency %q", currency)
	}
	return Money{atomic: n, currency: currency}, nil
}

func (m Money) amount() *big.Int {
	if m.atomic == nil {
		return new(big.Int)
	}
	return m.atomic
}

// Currency returns the currency tag.
func (m Money) Currency() Currency {
	if m.currency == "" {
		return USD
	}
	return m.currency
}

// Atomic returns a copy of the atomic amount.
func (m Money) Atomic() *big.Int {
	return new(big.Int).Set(m.amount())
}

func (m Money) sameCurrency(op string, other Money) error {
	if m.Currency() != other.Currency() {
		return x402errors.New(x402errors.CodeCurrencyMismatch, "cannot %s %s and %s", op, m.Currency(), other.Currency())
	}
	return nil
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency("add", other); err != nil {
		return Money{}, err
	}
	return Money{atomic: new(big.Int).Add(m.amount(), other.amount()), currency: m.Currency()}, nil
}

// Subtract returns m - other. It never clamps: a negative result is an error.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency("subtract", other); err != nil {
		return Money{}, err
	}
	diff := new(big.Int).Sub(m.amount(), other.amount())
	if diff.Sign() < 0 {
		return Money{}, x402errors.New(x402errors.CodeNegativeAmount, "subtracting %s from %s would be negative", other, m)
	}
	return Money{atomic: diff, currency: m.Currency()}, nil
}

// MultiplyByInteger returns m * factor.
func (m Money) MultiplyByInteger(factor int64) (Money, error) {
	if factor < 0 {
		return Money{}, x402errors.New(x402errors.CodeNegativeAmount, "multiplier must not be negative, got %d", factor)
	}
	return Money{atomic: new(big.Int).Mul(m.amount(), big.NewInt(factor)), currency: m.Currency()}, nil
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.amount().Sign() == 0
}

// Cmp compares m and other like big.Int.Cmp.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency("compare", other); err != nil {
		return 0, err
	}
	return m.amount().Cmp(other.amount()), nil
}

func (m Money) GreaterThan(other Money) (bool, error) {
	c, err := m.Cmp(other)
	return c > 0, err
}

func (m Money) GreaterThanOrEqual(other Money) (bool, error) {
	c, err := m.Cmp(other)
	return c >= 0, err
}

func (m Money) Equals(other Money) (bool, error) {
	c, err := m.Cmp(other)
	return c == 0, err
}

// Decimal returns the amount in major units (dollars for USD, satoshis for SATS).
func (m Money) Decimal() decimal.Decimal {
	if m.Currency() == USD {
		return decimal.NewFromBigInt(m.amount(), -2)
	}
	return decimal.NewFromBigInt(m.amount(), 0)
}

// String renders "$D.CC" for USD and "<n> sats" for SATS.
func (m Money) String() string {
	n := m.amount()
	if m.Currency() == SATS {
		return fmt.Sprintf("%s sats", n)
	}

	cents := new(big.Int)
	dollars, _ := new(big.Int).QuoRem(n, big.NewInt(100), cents)
	return fmt.Sprintf("$%s.%02d", dollars, cents.Int64())
}

// Serialized is the wire form of Money. Cents carries the atomic amount as a
// decimal string regardless of currency so that no JSON consumer ever sees a
// number it might round.
type Serialized struct {
	Cents    string   `json:"cents"`
	Currency Currency `json:"currency"`
	Display  string   `json:"display"`
}

func (m Money) ToSerializable() Serialized {
	return Serialized{
		Cents:    m.amount().String(),
		Currency: m.Currency(),
		Display:  m.String(),
	}
}

// FromSerializable rebuilds a Money from its wire form. Display is ignored.
func FromSerializable(s Serialized) (Money, error) {
	return FromAtomicString(s.Cents, s.Currency)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.ToSerializable())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var s Serialized
	if err := json.Unmarshal(data, &s); err != nil {
		return x402errors.Wrap(x402errors.CodeInvalidFormat, err, "invalid serialized money")
	}
	parsed, err := FromSerializable(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
