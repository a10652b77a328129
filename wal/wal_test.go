package wal

import (
	"crypto/ed25519"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blockberries/ckptberry/types"
)

var testState = types.NewCreationState(types.HashBytes([]byte("genesis")))

func startWAL(t *testing.T, dir string, segSize int64) *FileWAL {
	t.Helper()
	w, err := NewFileWALWithOptions(dir, segSize)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start WAL: %v", err)
	}
	return w
}

func testVote(t *testing.T, state types.CreationState) *types.ValidatorVote {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)
	id := types.HashBytes([]byte("priority"))
	v := types.NewValidatorVote(state, types.ItemPriority, &id, types.PublicKeyOf(priv))
	if err := v.Sign(priv); err != nil {
		t.Fatal(err)
	}
	return v
}

func testCheckpoint(height uint64) *types.Checkpoint {
	g := types.NewGenesis([]byte(types.GenesisSeed), []types.Wallet{
		types.NewWallet(types.PublicKey{1}, types.NewAmount(10)),
	})
	live := g.LiveWallets()
	return types.NewCheckpoint(g.ID(), height, time.Unix(100, 0), 3, live, nil, types.StakeFromWallets(live), types.PublicKey{2})
}

func TestFileWALReadWrite(t *testing.T) {
	dir := t.TempDir()
	w := startWAL(t, dir, 0)

	next := testState.WithValidator(types.PublicKey{7})
	tm, err := NewTransitionMessage(1, testState, next, 3)
	if err != nil {
		t.Fatal(err)
	}
	vote := testVote(t, testState)
	vm, err := NewVoteMessage(1, vote)
	if err != nil {
		t.Fatal(err)
	}
	ckpt := testCheckpoint(1)
	cm, err := NewCommitMessage(ckpt)
	if err != nil {
		t.Fatal(err)
	}

	for _, m := range []*Message{tm, vm} {
		if err := w.Write(m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.WriteSync(cm); err != nil {
		t.Fatalf("write sync: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "wal-00000")); err != nil {
		t.Fatalf("WAL segment file should exist: %v", err)
	}

	r, err := OpenWALForReading(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	m, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	tr, err := DecodeTransition(m)
	if err != nil {
		t.Fatal(err)
	}
	if !tr.Prev.Equal(testState) || !tr.Next.Equal(next) || tr.Votes != 3 {
		t.Errorf("transition mismatch: %+v", tr)
	}

	m, err = r.Read()
	if err != nil {
		t.Fatal(err)
	}
	gotVote, err := DecodeVote(m)
	if err != nil {
		t.Fatal(err)
	}
	if gotVote.ID() != vote.ID() {
		t.Error("vote id mismatch")
	}
	if err := gotVote.VerifySignature(); err != nil {
		t.Errorf("replayed vote should keep its signature: %v", err)
	}

	m, err = r.Read()
	if err != nil {
		t.Fatal(err)
	}
	gotCkpt, err := DecodeCommit(m)
	if err != nil {
		t.Fatal(err)
	}
	if gotCkpt.ID() != ckpt.ID() || m.Height != 1 {
		t.Error("commit mismatch")
	}

	if _, err := r.Read(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestDecodeWrongType(t *testing.T) {
	m := &Message{Type: MsgTypeVote}
	if _, err := DecodeTransition(m); !errors.Is(err, ErrUnexpected) {
		t.Errorf("expected ErrUnexpected, got %v", err)
	}
	if _, err := DecodeCommit(m); !errors.Is(err, ErrUnexpected) {
		t.Errorf("expected ErrUnexpected, got %v", err)
	}
}

func TestFileWALCorruption(t *testing.T) {
	dir := t.TempDir()
	w := startWAL(t, dir, 0)
	for i := uint64(1); i <= 3; i++ {
		m, err := NewTransitionMessage(i, testState, testState.NextRound(), 1)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Write(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "wal-00000")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// flip a payload byte of the second entry
	first := 4 + int(uint32(data[0])<<24|uint32(data[1])<<16|uint32(data[2])<<8|uint32(data[3])) + 4
	data[first+6] ^= 0xff
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	r, err := OpenWALForReading(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Read(); err != nil {
		t.Fatalf("first entry should be intact: %v", err)
	}
	if _, err := r.Read(); !errors.Is(err, ErrWALCorrupted) {
		t.Errorf("expected ErrWALCorrupted, got %v", err)
	}
}

func TestFileWALTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	w := startWAL(t, dir, 0)
	m, err := NewCommitMessage(testCheckpoint(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteSync(m); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "wal-00000")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-2); err != nil {
		t.Fatal(err)
	}

	r, err := OpenWALForReading(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Read(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestFileWALRotationAndSearch(t *testing.T) {
	dir := t.TempDir()
	w := startWAL(t, dir, 256)

	for h := uint64(1); h <= 4; h++ {
		for i := 0; i < 3; i++ {
			m, err := NewTransitionMessage(h, testState, testState.NextRound(), i)
			if err != nil {
				t.Fatal(err)
			}
			if err := w.Write(m); err != nil {
				t.Fatal(err)
			}
		}
		m, err := NewCommitMessage(testCheckpoint(h))
		if err != nil {
			t.Fatal(err)
		}
		if err := w.WriteSync(m); err != nil {
			t.Fatal(err)
		}
	}
	if w.SegmentCount() < 2 {
		t.Fatalf("expected rotation, got %d segment(s)", w.SegmentCount())
	}

	r, found, err := w.SearchForCommit(2)
	if err != nil || !found {
		t.Fatalf("commit 2 should be found: %v", err)
	}
	m, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	if m.Height != 3 {
		t.Errorf("expected first entry of height 3, got %d", m.Height)
	}
	r.Close()

	if _, found, _ := w.SearchForCommit(9); found {
		t.Error("unknown height should not be found")
	}

	before := w.SegmentCount()
	if err := w.Prune(2); err != nil {
		t.Fatal(err)
	}
	if w.SegmentCount() >= before {
		t.Errorf("prune should remove segments: %d -> %d", before, w.SegmentCount())
	}
	if _, found, _ := w.SearchForCommit(4); !found {
		t.Error("latest commit should survive pruning")
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}

	// Restart rebuilds the index
	w = startWAL(t, dir, 256)
	defer w.Stop()
	if _, found, _ := w.SearchForCommit(4); !found {
		t.Error("commit should be found after restart")
	}
}

func TestFileWALClosed(t *testing.T) {
	w, err := NewFileWAL(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(&Message{Type: MsgTypeTransition}); !errors.Is(err, ErrWALClosed) {
		t.Errorf("expected ErrWALClosed, got %v", err)
	}
	if _, err := OpenWALForReading(t.TempDir()); !errors.Is(err, ErrWALNotFound) {
		t.Errorf("expected ErrWALNotFound, got %v", err)
	}
}
