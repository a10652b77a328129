// Package store persists accepted checkpoints in LevelDB.
//
// Checkpoints are keyed by identifier; a height index points at the
// identifier accepted at each height. Values are RLP-encoded checkpoints
// compressed with zstd. A height or identifier is written at most once.
package store
