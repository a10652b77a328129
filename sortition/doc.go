/*
Package sortition implements stake-weighted leader election.

# VRF

The VRF is hash based. For input alpha and key pk the prover hashes the
JSON list [hex(alpha), hex(pk)] with SHA-512/256 and signs the digest; the
proof carries both. Anyone holding pk can recompute the digest and check the
signature. The sample is the digest read as a big-endian fraction of 2^256,
truncated to 1/10000.

# Votes

A validator with integer stake s is granted the largest x such that
cdf(x) <= sample < cdf(x+1) for the normal distribution N(s, s). Stake below
one whole unit grants no votes. The highest number of votes wins the round;
see types.Priority.IsGreaterThan for the full order.
*/
package sortition
