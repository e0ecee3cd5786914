package x402gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDollarsToSmallestUnit(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int
		want     string
	}{
		{"4.02", 6, "4020000"},
		{"$4.02", 6, "4020000"},
		{"0.000001", 6, "1"},
		{"1", 6, "1000000"},
		{"0", 6, "0"},
		{"123.456789", 6, "123456789"},
		{"1.5", 18, "1500000000000000000"},
	}
	for _, c := range cases {
		got, err := DollarsToSmallestUnit(c.amount, c.decimals)
		require.NoError(t, err, c.amount)
		assert.Equal(t, c.want, got, c.amount)
	}
}

func TestDollarsToSmallestUnitRejectsExcessPrecision(t *testing.T) {
	_, err := DollarsToSmallestUnit("1.1234567", 6)
	assert.Error(t, err)
}

func TestDollarsToSmallestUnitRejectsGarbage(t *testing.T) {
	_, err := DollarsToSmallestUnit("not-a-number", 6)
	assert.Error(t, err)
}

func TestSmallestUnitToDollarsRoundTrip(t *testing.T) {
	for _, amount := range []string{"4.02", "1", "0.000001", "123.456789"} {
		smallest, err := DollarsToSmallestUnit(amount, 6)
		require.NoError(t, err)
		back, err := SmallestUnitToDollars(smallest, 6)
		require.NoError(t, err)
		assert.Equal(t, amount, back)
	}
}

func TestCompareSmallestUnit(t *testing.T) {
	cmp, err := CompareSmallestUnit("1000000", "999999")
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	cmp, err = CompareSmallestUnit("1000000", "1000000")
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)
}
