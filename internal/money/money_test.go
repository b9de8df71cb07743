package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrice(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{name: "Whole", input: "100", expected: "100.00"},
		{name: "TwoDecimals", input: "99.99", expected: "99.99"},
		{name: "TruncatesExtraDigits", input: "100.129", expected: "100.12"},
		{name: "Zero", input: "0", expectError: true},
		{name: "Negative", input: "-1", expectError: true},
		{name: "TruncatesToZero", input: "0.001", expectError: true},
		{name: "NotANumber", input: "abc", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPrice(tt.input)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p.String())
		})
	}
}

func TestNewAmount(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{name: "Whole", input: "2", expected: "2.00000000"},
		{name: "Satoshi", input: "0.00000001", expected: "0.00000001"},
		{name: "TruncatesExtraDigits", input: "0.123456789", expected: "0.12345678"},
		{name: "Zero", input: "0", expectError: true},
		{name: "Negative", input: "-0.5", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAmount(tt.input)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, a.String())
		})
	}
}

func TestPrice_Times(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		amount   string
		expected string
	}{
		{name: "WholeNumbers", price: "100", amount: "2", expected: "200.00000000"},
		{name: "FractionalAmount", price: "2000", amount: "0.4", expected: "800.00000000"},
		{name: "SatoshiAmount", price: "110", amount: "0.00000001", expected: "0.00000110"},
		{name: "TruncatesBelowScale", price: "0.01", amount: "0.00000001", expected: "0.00000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPrice(tt.price)
			require.NoError(t, err)
			a, err := NewAmount(tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p.Times(a).String())
		})
	}
}

func TestFee(t *testing.T) {
	tests := []struct {
		name     string
		volume   string
		expected string
	}{
		{name: "WholeVolume", volume: "110", expected: "1.65000000"},
		{name: "TruncatesFee", volume: "1.23456789", expected: "0.01851851"},
		{name: "ZeroVolume", volume: "0", expected: "0.00000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewBalance(tt.volume)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, Fee(v).String())
		})
	}
}

// Settlement math for a 1 BTC trade at 110: the seller receives the volume
// minus the 1.5% fee, and all three quantities stay exact.
func TestSettlementArithmetic(t *testing.T) {
	price, err := NewPrice("110")
	require.NoError(t, err)
	amount, err := NewAmount("1")
	require.NoError(t, err)

	volume := price.Times(amount)
	fee := Fee(volume)
	credit := volume.Sub(fee)

	assert.Equal(t, "110.00000000", volume.String())
	assert.Equal(t, "1.65000000", fee.String())
	assert.Equal(t, "108.35000000", credit.String())

	balance, err := NewBalance("200")
	require.NoError(t, err)
	assert.Equal(t, "90.00000000", balance.Sub(volume).String())
}

func TestJSONRoundTrip(t *testing.T) {
	p, err := NewPrice("110")
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `"110.00"`, string(data))

	var fromString Price
	require.NoError(t, json.Unmarshal([]byte(`"42.50"`), &fromString))
	assert.Equal(t, "42.50", fromString.String())

	// bare JSON numbers are accepted and truncated to scale
	var fromNumber Price
	require.NoError(t, json.Unmarshal([]byte(`42.509`), &fromNumber))
	assert.Equal(t, "42.50", fromNumber.String())

	var amt Amount
	require.NoError(t, json.Unmarshal([]byte(`"0.40000000"`), &amt))
	data, err = json.Marshal(amt)
	require.NoError(t, err)
	assert.Equal(t, `"0.40000000"`, string(data))
}

func TestScanValue(t *testing.T) {
	var b Balance
	require.NoError(t, b.Scan("300.00000000"))
	assert.Equal(t, "300.00000000", b.String())

	v, err := b.Value()
	require.NoError(t, err)
	assert.Equal(t, "300.00000000", v)

	var a Amount
	require.NoError(t, a.Scan([]byte("0.60000000")))
	assert.Equal(t, "0.60000000", a.String())
}
