// Package evidence detects and collects conflicting votes.
//
// A validator equivocates when it signs two different concrete votes
// (non-PASS) for the same creation state. Switching from a concrete vote to
// PASS is allowed and is not evidence.
//
// # Lifecycle
//
//	1. Detect: the vote registry passes every accepted vote to CheckVote
//	2. Record: a conflict yields a DuplicateVoteEvidence holding both votes
//	3. Validate: Verify checks that the votes really conflict and are signed
//	4. Expire: evidence older than MaxAgeHeights checkpoints or MaxAge is
//	   pruned when the pool learns a new checkpoint height
//
// Evidence is only reported. Nothing is slashed.
//
// The pool is safe for concurrent use.
package evidence
