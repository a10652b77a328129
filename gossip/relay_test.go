package gossip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/ckptberry/types"
)

var t0 = time.Unix(1700000000, 0)

type recorder struct {
	sends     [][]types.Item
	requests  []string
	checklist []string
}

func (r *recorder) Send(items []types.Item) { r.sends = append(r.sends, items) }

func (r *recorder) Request(_ types.ItemType, q string) { r.requests = append(r.requests, q) }

func (r *recorder) Checklist(_ types.ItemType, qs []string) { r.checklist = append(r.checklist, qs...) }

func testItem(round uint32) types.Item {
	state := types.NewCreationState(types.HashBytes([]byte("lcs")))
	state.Round = round
	return types.NewMajorityVotes(state, nil, nil)
}

func newTestRelay(t *testing.T, ttl int) (*Relay, *recorder) {
	t.Helper()
	out := &recorder{}
	r, err := NewRelay(Config{TTL: ttl, Interval: time.Second, CacheSize: 64}, out)
	require.NoError(t, err)
	return r, out
}

func TestRelayTTLDecaysByOnePerSend(t *testing.T) {
	r, out := newTestRelay(t, 3)
	it := testItem(0)
	r.Broadcast(it)

	ttl, ok := r.TTL(it.ID())
	require.True(t, ok)
	require.Equal(t, 3, ttl)

	require.Equal(t, 1, r.Tick(t0))
	ttl, _ = r.TTL(it.ID())
	require.Equal(t, 2, ttl)

	// within the interval nothing is sent and the TTL holds
	require.Equal(t, 0, r.Tick(t0.Add(500*time.Millisecond)))
	ttl, _ = r.TTL(it.ID())
	require.Equal(t, 2, ttl)

	require.Equal(t, 1, r.Tick(t0.Add(time.Second)))
	ttl, _ = r.TTL(it.ID())
	require.Equal(t, 1, ttl)

	require.Equal(t, 1, r.Tick(t0.Add(2*time.Second)))
	_, ok = r.TTL(it.ID())
	require.False(t, ok)
	require.Zero(t, r.Pending())

	require.Equal(t, 0, r.Tick(t0.Add(time.Hour)))
	require.Len(t, out.sends, 3)
	require.Equal(t, uint64(3), r.Sent())
}

func TestRelayKeepsBroadcastOrder(t *testing.T) {
	r, out := newTestRelay(t, 1)
	items := []types.Item{testItem(0), testItem(1), testItem(2)}
	r.Broadcast(items...)
	r.Broadcast(items[0])

	require.Equal(t, 3, r.Tick(t0))
	require.Equal(t, items, out.sends[0])
}

func TestRelayRebroadcastKeepsTTL(t *testing.T) {
	r, _ := newTestRelay(t, 3)
	it := testItem(0)
	r.Broadcast(it)
	r.Tick(t0)
	r.Broadcast(it)

	ttl, ok := r.TTL(it.ID())
	require.True(t, ok)
	require.Equal(t, 2, ttl)
}

func TestRelaySeen(t *testing.T) {
	r, _ := newTestRelay(t, 3)
	a, b := testItem(0), testItem(1)

	require.False(t, r.Seen(a))
	require.True(t, r.Seen(a))

	// own broadcasts are known
	r.Broadcast(b)
	require.True(t, r.Seen(b))

	r.Forget(a.ID())
	require.False(t, r.Seen(a))
}

func TestRelayPassesRequestsThrough(t *testing.T) {
	r, out := newTestRelay(t, 3)
	r.Request(types.ItemValidatorVote, "abc")
	r.Checklist(types.ItemCkpt, []string{"x", "y"})

	require.Equal(t, []string{"abc"}, out.requests)
	require.Equal(t, []string{"x", "y"}, out.checklist)
	require.Zero(t, r.Pending())
}

func TestRelayConfig(t *testing.T) {
	require.NoError(t, DefaultConfig().ValidateBasic())

	_, err := NewRelay(Config{TTL: 0, Interval: time.Second, CacheSize: 1}, &recorder{})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewRelay(Config{TTL: 1, Interval: 0, CacheSize: 1}, &recorder{})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewRelay(Config{TTL: 1, Interval: time.Second}, &recorder{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
