package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0.00000000000000"},
		{"12", "12.00000000000000"},
		{"0.5", "0.50000000000000"},
		{".25", "0.25000000000000"},
		{"007.1", "7.10000000000000"},
		{"3.00000000000001", "3.00000000000001"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			a, err := ParseAmount(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, a.String())
		})
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "1.2.3", "0.000000000000001"} {
		_, err := ParseAmount(in)
		require.ErrorIs(t, err, ErrInvalidAmount, in)
	}
}

func TestAmountArithmetic(t *testing.T) {
	a := MustParseAmount("10.5")
	b := MustParseAmount("0.25")

	require.Equal(t, "10.75000000000000", a.Add(b).String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	require.Equal(t, "10.25000000000000", diff.String())

	_, err = b.Sub(a)
	require.ErrorIs(t, err, ErrNegativeAmount)

	require.Equal(t, b, a.Min(b))
	require.Equal(t, uint64(10), a.Floor())
	require.Equal(t, "31.50000000000000", a.MulUint64(3).String())
	require.Equal(t, 1, a.Cmp(b))
	require.True(t, SumAmounts(a, b).Equal(a.Add(b)))
}

func TestAmountMulRateAndTruncate(t *testing.T) {
	rate := MustParseAmount("0.001")
	require.Equal(t, "0.10000000000000", NewAmount(100).MulRate(rate).String())

	a := MustParseAmount("1.12345678901234")
	require.Equal(t, "1.12345678900000", a.Truncate(FeeDecimals).String())
	require.Equal(t, "1.00000000000000", a.Truncate(0).String())
	require.Equal(t, a, a.Truncate(AmountDecimals))
}

func TestProportionalFeeTruncates(t *testing.T) {
	// 0.00000000001 * 0.001 is below fee precision
	tiny := MustParseAmount("0.00000000001")
	require.True(t, testFee.Fee(tiny).IsZero())
	require.Equal(t, "0.01000000000000", testFee.Fee(NewAmount(10)).String())
	require.True(t, NoFee{}.Fee(NewAmount(10)).IsZero())
}

func TestAmountText(t *testing.T) {
	a := MustParseAmount("42.125")
	text, err := a.MarshalText()
	require.NoError(t, err)

	var back Amount
	require.NoError(t, back.UnmarshalText(text))
	require.True(t, a.Equal(back))
}
