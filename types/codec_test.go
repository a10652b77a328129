package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNodeRoundTrip(t *testing.T) {
	g := testGenesis(100, 50)
	validator := testPub(7)
	prev := HashBytes([]byte("prev"))

	tx := NewTransaction(g.LiveWallets()[:1], []Wallet{NewWallet(testPub(2), NewAmount(100))}, &validator)
	tx.Sign(testKey(1))
	ack := NewAcknowledge(tx.ID(), &prev, validator)
	ack.Sign(testKey(7))

	nodes := []Node{
		g,
		tx,
		NewTransaction(g.LiveWallets()[1:], []Wallet{NewWallet(testPub(3), NewAmount(50))}, nil),
		ack,
		NewAcknowledge(tx.ID(), nil, validator),
		testCheckpoint(g, 1, time.Unix(0, 12345)),
	}
	for _, n := range nodes {
		t.Run(n.Kind().String(), func(t *testing.T) {
			enc, err := EncodeNode(n)
			require.NoError(t, err)
			back, err := DecodeNode(enc)
			require.NoError(t, err)
			require.Equal(t, n, back)
		})
	}
}

func TestCheckpointRoundTripKeepsLockTime(t *testing.T) {
	c := testCheckpoint(testGenesis(5), 3, time.Unix(99, 0))
	enc, err := EncodeCheckpoint(c)
	require.NoError(t, err)
	back, err := DecodeCheckpoint(enc)
	require.NoError(t, err)
	require.Equal(t, c.Created(), back.Created())
	require.Equal(t, c.ID(), back.ID())
}

func TestDecodeCheckpointRejectsOtherKinds(t *testing.T) {
	enc, err := EncodeNode(testGenesis(1))
	require.NoError(t, err)
	_, err = DecodeCheckpoint(enc)
	require.ErrorIs(t, err, ErrMalformedItem)
}

func TestItemRoundTrip(t *testing.T) {
	g := testGenesis(100)
	ckpt := testCheckpoint(g, 1, time.Unix(10, 0))
	state := NewCreationState(g.ID())
	hashState := state.WithValidator(testPub(1))
	contentState := hashState.WithContentHash(ckpt.ID())
	voted := HashBytes([]byte("voted"))

	prio := NewPriority(state, testPub(1), NewAmount(100), testProof(0x22, 0), 3)
	prio.Sign(testKey(1))

	vote := NewValidatorVote(hashState, ItemCkptHash, &voted, testPub(1))
	require.NoError(t, vote.Sign(testKey(1)))
	pass := NewValidatorVote(state, ItemPriority, nil, testPub(2))
	require.NoError(t, pass.Sign(testKey(2)))

	ckptHash := NewCkptHash(hashState, ckpt.ID())
	ckptHash.Sign(testKey(1))
	data := NewCkptData(contentState, ckpt)
	data.Sign(testKey(1))

	tx := NewTransaction(g.LiveWallets(), []Wallet{NewWallet(testPub(2), NewAmount(100))}, nil)
	mock := NewMockCkptData(contentState, []*Transaction{tx})
	mock.Sign(testKey(1))

	items := []Item{
		prio,
		vote,
		pass,
		NewMajorityVotes(hashState, []Hash{vote.ID(), pass.ID()}, &voted),
		NewMajorityVotes(state, nil, nil),
		ckptHash,
		NewCkptHash(hashState, ckpt.ID()),
		data,
		mock,
		NewMockCkptData(contentState, nil),
		NewCkptSync(ckpt),
	}
	for _, it := range items {
		t.Run(it.ItemType().String(), func(t *testing.T) {
			enc, err := EncodeItem(it)
			require.NoError(t, err)
			back, err := DecodeItem(enc)
			require.NoError(t, err)
			require.Equal(t, it.ItemType(), back.ItemType())
			require.Equal(t, it.ID(), back.ID())
			require.Equal(t, it, back)
		})
	}
}

func TestDecodeItemUnknownType(t *testing.T) {
	_, err := DecodeItem([]byte{0x01})
	require.ErrorIs(t, err, ErrMalformedItem)

	enc, err := EncodeNode(testGenesis(1))
	require.NoError(t, err)
	_, err = DecodeItem(enc)
	require.ErrorIs(t, err, ErrUnknownItemType)
}

func TestSignedItemsVerify(t *testing.T) {
	state := NewCreationState(HashBytes([]byte("lcs")))
	vote := NewValidatorVote(state, ItemPriority, nil, testPub(1))
	require.Error(t, vote.Sign(testKey(2)))
	require.NoError(t, vote.Sign(testKey(1)))
	require.NoError(t, vote.VerifySignature())
	require.True(t, vote.IsPass())

	mv := NewMajorityVotes(state, []Hash{HashBytes([]byte("b")), HashBytes([]byte("a"))}, nil)
	require.True(t, mv.Votes[0].Less(mv.Votes[1]))
	require.True(t, mv.IsPass())

	g := testGenesis(1, 1)
	txs := []*Transaction{
		NewTransaction(g.LiveWallets()[:1], []Wallet{NewWallet(testPub(3), NewAmount(1))}, nil),
		NewTransaction(g.LiveWallets()[1:], []Wallet{NewWallet(testPub(3), NewAmount(1))}, nil),
	}
	mock := NewMockCkptData(state, txs)
	require.Equal(t, XORHashes([]Hash{txs[0].ID(), txs[1].ID()}), mock.ContentHash())
}
