package types

// FeeDecimals is the precision fees are truncated to.
const FeeDecimals = 10

// FeeSchedule maps a taxed base to a fee. Implementations must be
// deterministic, non-negative and monotonically non-decreasing, and every
// validator on a network must run the same one.
type FeeSchedule interface {
	Fee(taxed Amount) Amount
}

// ProportionalFee charges Rate per unit of taxed value, truncated to
// FeeDecimals.
type ProportionalFee struct {
	Rate Amount
}

// Fee implements FeeSchedule.
func (p ProportionalFee) Fee(taxed Amount) Amount {
	return taxed.MulRate(p.Rate).Truncate(FeeDecimals)
}

// NoFee charges nothing. Useful for tests that do not care about fees.
type NoFee struct{}

// Fee implements FeeSchedule.
func (NoFee) Fee(Amount) Amount { return Amount{} }
