package types

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// AmountDecimals is the number of fractional digits every Amount carries.
const AmountDecimals = 14

// Errors
var (
	ErrNegativeAmount  = errors.New("amount would become negative")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAmountOverflow  = errors.New("amount overflow")
	errAmountPrecision = errors.New("too many fractional digits")
)

var amountScale = uint256.NewInt(100_000_000_000_000) // 10^AmountDecimals

// Amount is an exact non-negative decimal with AmountDecimals fractional
// digits, stored as an integer count of 10^-14 units.
type Amount struct {
	v uint256.Int
}

// NewAmount returns a whole-unit amount.
func NewAmount(units uint64) Amount {
	var a Amount
	a.v.Mul(uint256.NewInt(units), amountScale)
	return a
}

// AmountFromUnits returns an amount of raw 10^-14 units.
func AmountFromUnits(raw uint64) Amount {
	var a Amount
	a.v.SetUint64(raw)
	return a
}

// ParseAmount parses a decimal string such as "12", "0.5" or "3.00000000000001".
func ParseAmount(s string) (Amount, error) {
	var a Amount
	s = strings.TrimSpace(s)
	if s == "" {
		return a, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > AmountDecimals {
		return a, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, errAmountPrecision)
	}
	digits := whole + frac + strings.Repeat("0", AmountDecimals-len(frac))
	for _, c := range digits {
		if c < '0' || c > '9' {
			return a, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return a, nil
	}
	if err := a.v.SetFromDecimal(digits); err != nil {
		return a, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return a, nil
}

// MustParseAmount parses s, panicking on failure. Use only for constants.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Units returns the raw 10^-14 unit count.
func (a Amount) Units() *uint256.Int {
	return new(uint256.Int).Set(&a.v)
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Cmp compares two amounts and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// Equal reports whether a == b.
func (a Amount) Equal(b Amount) bool {
	return a.v.Eq(&b.v)
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		panic(ErrAmountOverflow)
	}
	return out
}

// Sub returns a - b, or ErrNegativeAmount when b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.v.Lt(&b.v) {
		return Amount{}, fmt.Errorf("%w: %s - %s", ErrNegativeAmount, a, b)
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out, nil
}

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MulRate multiplies by a rate expressed as an Amount (for example 0.001)
// and truncates to AmountDecimals.
func (a Amount) MulRate(rate Amount) Amount {
	var out Amount
	if _, overflow := out.v.MulDivOverflow(&a.v, &rate.v, amountScale); overflow {
		panic(ErrAmountOverflow)
	}
	return out
}

// Truncate drops fractional digits beyond decimals.
func (a Amount) Truncate(decimals int) Amount {
	if decimals >= AmountDecimals {
		return a
	}
	if decimals < 0 {
		decimals = 0
	}
	step := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(AmountDecimals-decimals)))
	var rem, out Amount
	rem.v.Mod(&a.v, step)
	out.v.Sub(&a.v, &rem.v)
	return out
}

// Floor returns the integer part. Values past 2^64 saturate.
func (a Amount) Floor() uint64 {
	var whole uint256.Int
	whole.Div(&a.v, amountScale)
	if !whole.IsUint64() {
		return ^uint64(0)
	}
	return whole.Uint64()
}

// String renders the canonical form with exactly AmountDecimals fractional
// digits. The canonical form is what identifiers hash over.
func (a Amount) String() string {
	var whole, frac uint256.Int
	whole.DivMod(&a.v, amountScale, &frac)
	f := frac.Dec()
	return whole.Dec() + "." + strings.Repeat("0", AmountDecimals-len(f)) + f
}

// MarshalText encodes the canonical decimal form.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a decimal string.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// EncodeRLP implements rlp.Encoder.
func (a Amount) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, a.v.ToBig())
}

// DecodeRLP implements rlp.Decoder.
func (a *Amount) DecodeRLP(s *rlp.Stream) error {
	var b big.Int
	if err := s.Decode(&b); err != nil {
		return err
	}
	if overflow := a.v.SetFromBig(&b); overflow {
		return ErrAmountOverflow
	}
	return nil
}

// SumAmounts adds a list of amounts.
func SumAmounts(vs ...Amount) Amount {
	var total Amount
	for _, v := range vs {
		total = total.Add(v)
	}
	return total
}

// MulUint64 returns a * n.
func (a Amount) MulUint64(n uint64) Amount {
	var out Amount
	if _, overflow := out.v.MulOverflow(&a.v, uint256.NewInt(n)); overflow {
		panic(ErrAmountOverflow)
	}
	return out
}
