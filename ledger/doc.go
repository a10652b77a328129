/*
Package ledger folds the DAG into checkpoints.

Build starts from the live wallets of a base (a genesis or the previous
checkpoint) and applies every acknowledged transaction whose inputs are live,
in ascending identifier order, until a pass applies nothing. The difference
between a transaction's inputs and outputs is paid to its validator key, or
to the miner when it names none. Payouts and an optional block reward become
the checkpoint's outputs; stake is the per-owner sum of every live wallet.

Verify rebuilds a claimed checkpoint from the local DAG and compares
identifiers. Missing transactions make the result PENDING and are handed to
a Fetcher; a claim that folds nothing is EMPTY.

Service exposes the accepted checkpoint and its stake table. MockService
derives it from the genesis nodes of a DAG; BackedService loads and persists
it through a Persistence.
*/
package ledger
