package api

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/ckptberry/engine"
	"github.com/blockberries/ckptberry/store"
	"github.com/blockberries/ckptberry/types"
)

type fakeEngine struct {
	status engine.Status
	sync   engine.SyncStatus
}

func (f *fakeEngine) Status() engine.Status         { return f.status }
func (f *fakeEngine) SyncStatus() engine.SyncStatus { return f.sync }

func testMiner() types.PublicKey {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7
	return types.PublicKeyOf(ed25519.NewKeyFromSeed(seed))
}

func testServer(t *testing.T) (*Server, *fakeEngine, *types.Checkpoint) {
	t.Helper()
	db := store.NewMemLevelStore()
	t.Cleanup(func() { _ = db.Close() })

	miner := testMiner()
	stake := []types.StakeEntry{{Owner: miner, Amount: types.NewAmount(150)}}
	outputs := []types.Wallet{types.NewWallet(miner, types.NewAmount(150))}
	ckpt := types.NewCheckpoint(types.HashBytes([]byte("genesis")), 1,
		time.Unix(1700000000, 0), 3, nil, outputs, stake, miner)
	require.NoError(t, db.Save(ckpt))

	eng := &fakeEngine{
		status: engine.Status{
			State:        types.NewCreationState(ckpt.ID()),
			Height:       1,
			CheckpointID: ckpt.ID(),
			Votes:        2,
			Started:      true,
		},
		sync: engine.SyncStatus{Known: 1},
	}
	reg := prometheus.NewRegistry()
	engine.NewMetrics(reg)
	return NewServer(eng, db, reg), eng, ckpt
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	s, _, ckpt := testServer(t)
	rec := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, float64(1), body["height"])
	require.Equal(t, float64(2), body["votes"])
	require.Equal(t, ckpt.ID().String(), body["checkpoint_id"])

	state := body["state"].(map[string]any)
	require.Equal(t, "AGREE_VALIDATOR", state["status"])
	require.NotContains(t, state, "chosen_validator")
	require.Equal(t, float64(1), body["sync"].(map[string]any)["known"])
}

func TestCheckpoints(t *testing.T) {
	s, _, ckpt := testServer(t)

	for _, path := range []string{"/checkpoints/latest", "/checkpoints/1"} {
		rec := get(t, s, path)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var body checkpointResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, ckpt.ID(), body.ID)
		require.Equal(t, uint64(1), body.Height)
		require.True(t, body.TotalCoins.Equal(types.NewAmount(150)))
		require.Len(t, body.Stake, 1)
		require.Equal(t, testMiner(), body.Stake[0].Owner)
	}

	rec := get(t, s, "/checkpoints/9")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "checkpoint not found")

	rec = get(t, s, "/checkpoints/abc")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestCheckpointEmptyStore(t *testing.T) {
	db := store.NewMemLevelStore()
	defer db.Close()
	s := NewServer(&fakeEngine{}, db, prometheus.NewRegistry())

	rec := get(t, s, "/checkpoints/latest")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics(t *testing.T) {
	s, _, _ := testServer(t)
	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ckptberry_consensus_checkpoint_height")
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
