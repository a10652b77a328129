package sortition

import (
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/blockberries/ckptberry/types"
)

func distribution(stake uint64) distuv.Normal {
	s := float64(stake)
	return distuv.Normal{Mu: s, Sigma: s}
}

// Votes maps a sample to the number of votes stake earns: the largest x
// with cdf(x) <= sample under N(stake, stake). Only whole units of stake
// count.
func Votes(sample types.Sample, stake types.Amount) uint64 {
	whole := stake.Floor()
	if whole == 0 {
		return 0
	}
	s := sample.Float()
	dist := distribution(whole)
	if dist.CDF(0) >= s {
		return 0
	}

	// Walk up by one standard deviation until the cdf passes the sample.
	lo, hi := uint64(0), whole
	for dist.CDF(float64(hi)) <= s {
		lo = hi
		hi += whole
	}
	// Invariant: cdf(lo) <= s < cdf(hi).
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if dist.CDF(float64(mid)) <= s {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// VerifyVotes reports whether votes is what Votes returns for sample and
// stake.
func VerifyVotes(sample types.Sample, stake types.Amount, votes uint64) bool {
	whole := stake.Floor()
	if whole == 0 {
		return votes == 0
	}
	s := sample.Float()
	dist := distribution(whole)
	if votes == 0 {
		return s < dist.CDF(1)
	}
	return dist.CDF(float64(votes)) <= s && s < dist.CDF(float64(votes+1))
}
