// Package money provides the fixed-scale decimal kinds used on every money
// path: Price (2 fractional digits), Amount and Balance (8 fractional digits).
// All arithmetic truncates at the target scale. Binary floats never appear.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// PriceScale is the number of fractional digits carried by a Price.
	PriceScale = 2
	// AmountScale is the number of fractional digits carried by an Amount,
	// a Balance, and every derived quantity (volume, fee, credit).
	AmountScale = 8
)

// feeRate is the flat transaction fee applied to every settlement.
var feeRate = decimal.New(15, -3) // 0.015

// Price is an order price with exactly two fractional digits.
type Price struct {
	dec decimal.Decimal
}

// Amount is an asset quantity with exactly eight fractional digits.
type Amount struct {
	dec decimal.Decimal
}

// Balance is a cash quantity with exactly eight fractional digits.
type Balance struct {
	dec decimal.Decimal
}

// NewPrice parses s into a Price, truncating to two fractional digits.
// The result must be positive.
func NewPrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("invalid price %q: %w", s, err)
	}
	d = d.Truncate(PriceScale)
	if !d.IsPositive() {
		return Price{}, fmt.Errorf("price must be positive, got %q", s)
	}
	return Price{dec: d}, nil
}

// NewAmount parses s into an Amount, truncating to eight fractional digits.
// The result must be positive.
func NewAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	d = d.Truncate(AmountScale)
	if !d.IsPositive() {
		return Amount{}, fmt.Errorf("amount must be positive, got %q", s)
	}
	return Amount{dec: d}, nil
}

// NewBalance parses s into a Balance, truncating to eight fractional digits.
// Negative balances are rejected.
func NewBalance(s string) (Balance, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Balance{}, fmt.Errorf("invalid balance %q: %w", s, err)
	}
	d = d.Truncate(AmountScale)
	if d.IsNegative() {
		return Balance{}, fmt.Errorf("balance must not be negative, got %q", s)
	}
	return Balance{dec: d}, nil
}

// Times returns the volume price*amount, truncated to eight fractional digits.
func (p Price) Times(a Amount) Balance {
	return Balance{dec: p.dec.Mul(a.dec).Truncate(AmountScale)}
}

// Fee returns 1.5% of the volume, truncated to eight fractional digits.
func Fee(volume Balance) Balance {
	return Balance{dec: volume.dec.Mul(feeRate).Truncate(AmountScale)}
}

// Cmp compares two prices: -1 if p < o, 0 if equal, 1 if p > o.
func (p Price) Cmp(o Price) int { return p.dec.Cmp(o.dec) }

func (p Price) IsZero() bool { return p.dec.IsZero() }

// Add returns a + o.
func (a Amount) Add(o Amount) Amount { return Amount{dec: a.dec.Add(o.dec)} }

// Sub returns a - o.
func (a Amount) Sub(o Amount) Amount { return Amount{dec: a.dec.Sub(o.dec)} }

// Cmp compares two amounts: -1 if a < o, 0 if equal, 1 if a > o.
func (a Amount) Cmp(o Amount) int { return a.dec.Cmp(o.dec) }

// Equal reports whether two amounts are numerically identical.
func (a Amount) Equal(o Amount) bool { return a.dec.Equal(o.dec) }

func (a Amount) IsZero() bool { return a.dec.IsZero() }

// Add returns b + o.
func (b Balance) Add(o Balance) Balance { return Balance{dec: b.dec.Add(o.dec)} }

// Sub returns b - o.
func (b Balance) Sub(o Balance) Balance { return Balance{dec: b.dec.Sub(o.dec)} }

// Cmp compares two balances: -1 if b < o, 0 if equal, 1 if b > o.
func (b Balance) Cmp(o Balance) int { return b.dec.Cmp(o.dec) }

func (b Balance) IsZero() bool { return b.dec.IsZero() }

// String formats the price with exactly two fractional digits.
func (p Price) String() string { return p.dec.StringFixed(PriceScale) }

// String formats the amount with exactly eight fractional digits.
func (a Amount) String() string { return a.dec.StringFixed(AmountScale) }

// String formats the balance with exactly eight fractional digits.
func (b Balance) String() string { return b.dec.StringFixed(AmountScale) }

// JSON: every money kind serializes as an exact decimal string. Parsing
// accepts quoted strings and bare JSON numbers, truncating to the canonical
// scale; range validation is left to the caller.

func (p Price) MarshalJSON() ([]byte, error) { return []byte(`"` + p.String() + `"`), nil }

func (p *Price) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid price: %w", err)
	}
	p.dec = d.Truncate(PriceScale)
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) { return []byte(`"` + a.String() + `"`), nil }

func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	a.dec = d.Truncate(AmountScale)
	return nil
}

func (b Balance) MarshalJSON() ([]byte, error) { return []byte(`"` + b.String() + `"`), nil }

func (b *Balance) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid balance: %w", err)
	}
	b.dec = d.Truncate(AmountScale)
	return nil
}

// SQL: each kind scans from and encodes to NUMERIC via its decimal value.

func (p *Price) Scan(src any) error {
	if err := p.dec.Scan(src); err != nil {
		return fmt.Errorf("failed to scan price: %w", err)
	}
	return nil
}

func (p Price) Value() (driver.Value, error) { return p.String(), nil }

func (a *Amount) Scan(src any) error {
	if err := a.dec.Scan(src); err != nil {
		return fmt.Errorf("failed to scan amount: %w", err)
	}
	return nil
}

func (a Amount) Value() (driver.Value, error) { return a.String(), nil }

func (b *Balance) Scan(src any) error {
	if err := b.dec.Scan(src); err != nil {
		return fmt.Errorf("failed to scan balance: %w", err)
	}
	return nil
}

func (b Balance) Value() (driver.Value, error) { return b.String(), nil }
