// Package wal implements the write-ahead log the consensus engine recovers
// from after a crash.
//
// The engine logs every state transition, every vote and proposal it signs,
// and every checkpoint it commits, before acting on them. On restart the
// log is replayed to restore the last creation state and the engine's own
// votes, so a restarted validator never contradicts itself.
//
// # Message Types
//
//	- MsgTypeTransition: previous state, next state, supporting votes
//	- MsgTypeVote: an own ValidatorVote
//	- MsgTypeProposal: an own CkptHash, CkptData or MockCkptData
//	- MsgTypeCommit: a committed checkpoint; ends a checkpoint height
//
// # File Format
//
// Each entry is encoded as:
//
//	[4 bytes: length][N bytes: RLP-encoded message][4 bytes: CRC32]
//
// The CRC detects torn writes and disk corruption.
//
// # Segments
//
// Entries are appended to numbered segments (wal-00000, wal-00001, ...).
// A segment is closed once it grows past the size limit. Prune deletes
// closed segments whose entries all belong to checkpoint heights already
// persisted elsewhere.
//
// # Thread Safety
//
// FileWAL uses internal locking. Only one FileWAL may write to a directory.
package wal
