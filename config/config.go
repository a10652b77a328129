package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/blockberries/ckptberry/engine"
	"github.com/blockberries/ckptberry/gossip"
	"github.com/blockberries/ckptberry/types"
)

// EnvPrefix prefixes every environment override, as in
// CKPTBERRY_LEDGER_ACK_LENGTH.
const EnvPrefix = "CKPTBERRY"

// Errors
var (
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the configuration of one validator process.
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Store     StoreConfig     `mapstructure:"store"`
	WAL       WALConfig       `mapstructure:"wal"`
	Gossip    GossipConfig    `mapstructure:"gossip"`
	API       APIConfig       `mapstructure:"api"`
	Log       LogConfig       `mapstructure:"log"`
}

// NodeConfig locates the validator's files.
type NodeConfig struct {
	Home      string `mapstructure:"home"`
	KeyFile   string `mapstructure:"key_file"`
	StateFile string `mapstructure:"state_file"`
	// MockContent proposes raw transaction lists instead of checkpoints.
	MockContent  bool          `mapstructure:"mock_content"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// ConsensusConfig holds the creation timers.
type ConsensusConfig struct {
	Creation           time.Duration `mapstructure:"creation"`
	PriorityReceive    time.Duration `mapstructure:"priority_receive"`
	HashReceive        time.Duration `mapstructure:"hash_receive"`
	ContentReceive     time.Duration `mapstructure:"content_receive"`
	ContentPending     time.Duration `mapstructure:"content_pending"`
	TransitionBuffer   time.Duration `mapstructure:"transition_buffer"`
	MajorityPost       time.Duration `mapstructure:"majority_post"`
	Stalemate          time.Duration `mapstructure:"stalemate"`
	StalemateSwitch    time.Duration `mapstructure:"stalemate_switch"`
	MissingVotes       time.Duration `mapstructure:"missing_votes"`
	VoteChecklist      time.Duration `mapstructure:"vote_checklist"`
	RequestedVotes     time.Duration `mapstructure:"requested_votes"`
	DistributionEval   time.Duration `mapstructure:"distribution_eval"`
	PrevVotesBroadcast time.Duration `mapstructure:"prev_votes_broadcast"`
	VoteRetry          time.Duration `mapstructure:"vote_retry"`
	SyncDAGCheck       time.Duration `mapstructure:"sync_dag_check"`
	SyncChecklist      time.Duration `mapstructure:"sync_checklist"`
	SyncFetch          time.Duration `mapstructure:"sync_fetch"`
	SyncResponse       time.Duration `mapstructure:"sync_response"`
}

// LedgerConfig holds the checkpoint rules. Amounts are decimal strings.
type LedgerConfig struct {
	AckLength              uint32 `mapstructure:"ack_length"`
	FeeRate                string `mapstructure:"fee_rate"`
	BlockReward            string `mapstructure:"block_reward"`
	ParticipationThreshold string `mapstructure:"participation_threshold"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type WALConfig struct {
	Path string `mapstructure:"path"`
	Sync bool   `mapstructure:"sync"`
}

type GossipConfig struct {
	TTL       int           `mapstructure:"ttl"`
	Interval  time.Duration `mapstructure:"interval"`
	CacheSize int           `mapstructure:"cache_size"`
}

type APIConfig struct {
	// ListenAddr is empty when the HTTP API is off.
	ListenAddr string `mapstructure:"listen_addr"`
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// Default returns the network defaults rooted at home.
func Default(home string) *Config {
	tc := engine.DefaultTimeoutConfig()
	ec := engine.DefaultConfig()
	gc := gossip.DefaultConfig()
	return &Config{
		Node: NodeConfig{
			Home:         home,
			KeyFile:      filepath.Join(home, "config", "priv_validator_key.json"),
			StateFile:    filepath.Join(home, "data", "priv_validator_state.json"),
			TickInterval: 100 * time.Millisecond,
		},
		Consensus: ConsensusConfig{
			Creation:           tc.Creation,
			PriorityReceive:    tc.PriorityReceive,
			HashReceive:        tc.HashReceive,
			ContentReceive:     tc.ContentReceive,
			ContentPending:     tc.ContentPending,
			TransitionBuffer:   tc.TransitionBuffer,
			MajorityPost:       tc.MajorityPost,
			Stalemate:          tc.Stalemate,
			StalemateSwitch:    tc.StalemateSwitch,
			MissingVotes:       tc.MissingVotes,
			VoteChecklist:      tc.VoteChecklist,
			RequestedVotes:     tc.RequestedVotes,
			DistributionEval:   tc.DistributionEval,
			PrevVotesBroadcast: tc.PrevVotesBroadcast,
			VoteRetry:          tc.VoteRetry,
			SyncDAGCheck:       tc.SyncDAGCheck,
			SyncChecklist:      tc.SyncChecklist,
			SyncFetch:          tc.SyncFetch,
			SyncResponse:       tc.SyncResponse,
		},
		Ledger: LedgerConfig{
			AckLength:              ec.AckLength,
			FeeRate:                "0",
			BlockReward:            "0",
			ParticipationThreshold: ec.ParticipationThreshold.String(),
		},
		Store: StoreConfig{Path: filepath.Join(home, "data", "checkpoints")},
		WAL:   WALConfig{Path: filepath.Join(home, "data", "wal"), Sync: ec.WALSync},
		Gossip: GossipConfig{
			TTL:       gc.TTL,
			Interval:  gc.Interval,
			CacheSize: gc.CacheSize,
		},
		API: APIConfig{ListenAddr: "127.0.0.1:26680"},
		Log: LogConfig{Level: "info"},
	}
}

// ValidateBasic checks the config without touching the filesystem.
func (c *Config) ValidateBasic() error {
	paths := map[string]string{
		"node.home":       c.Node.Home,
		"node.key_file":   c.Node.KeyFile,
		"node.state_file": c.Node.StateFile,
		"store.path":      c.Store.Path,
		"wal.path":        c.WAL.Path,
	}
	for name, p := range paths {
		if p == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidConfig, name)
		}
	}
	if c.Node.TickInterval <= 0 {
		return fmt.Errorf("%w: node.tick_interval must be positive", ErrInvalidConfig)
	}
	if c.Ledger.AckLength == 0 {
		return fmt.Errorf("%w: ledger.ack_length must be positive", ErrInvalidConfig)
	}
	if _, err := c.EngineConfig(); err != nil {
		return err
	}
	if err := c.GossipConfig().ValidateBasic(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// TimeoutConfig returns the consensus timers.
func (c *Config) TimeoutConfig() engine.TimeoutConfig {
	cc := c.Consensus
	return engine.TimeoutConfig{
		Creation:           cc.Creation,
		PriorityReceive:    cc.PriorityReceive,
		HashReceive:        cc.HashReceive,
		ContentReceive:     cc.ContentReceive,
		ContentPending:     cc.ContentPending,
		TransitionBuffer:   cc.TransitionBuffer,
		MajorityPost:       cc.MajorityPost,
		Stalemate:          cc.Stalemate,
		StalemateSwitch:    cc.StalemateSwitch,
		MissingVotes:       cc.MissingVotes,
		VoteChecklist:      cc.VoteChecklist,
		RequestedVotes:     cc.RequestedVotes,
		DistributionEval:   cc.DistributionEval,
		PrevVotesBroadcast: cc.PrevVotesBroadcast,
		VoteRetry:          cc.VoteRetry,
		SyncDAGCheck:       cc.SyncDAGCheck,
		SyncChecklist:      cc.SyncChecklist,
		SyncFetch:          cc.SyncFetch,
		SyncResponse:       cc.SyncResponse,
	}
}

// EngineConfig converts the consensus and ledger groups.
func (c *Config) EngineConfig() (*engine.Config, error) {
	rate, err := parseAmount("ledger.fee_rate", c.Ledger.FeeRate)
	if err != nil {
		return nil, err
	}
	reward, err := parseAmount("ledger.block_reward", c.Ledger.BlockReward)
	if err != nil {
		return nil, err
	}
	threshold, err := parseAmount("ledger.participation_threshold", c.Ledger.ParticipationThreshold)
	if err != nil {
		return nil, err
	}

	ec := engine.DefaultConfig()
	ec.Timeouts = c.TimeoutConfig()
	ec.AckLength = c.Ledger.AckLength
	ec.Reward = reward
	ec.ParticipationThreshold = threshold
	ec.MockContent = c.Node.MockContent
	ec.WALSync = c.WAL.Sync
	if !rate.IsZero() {
		ec.Fees = types.ProportionalFee{Rate: rate}
	}
	if err := ec.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return ec, nil
}

// GossipConfig returns the relay parameters.
func (c *Config) GossipConfig() gossip.Config {
	return gossip.Config{
		TTL:       c.Gossip.TTL,
		Interval:  c.Gossip.Interval,
		CacheSize: c.Gossip.CacheSize,
	}
}

// a negative amount fails to parse
func parseAmount(name, s string) (types.Amount, error) {
	a, err := types.ParseAmount(s)
	if err != nil {
		return types.Amount{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
	}
	return a, nil
}

// settings flattens c into viper keys. Durations are written as strings
// so config files stay readable.
func (c *Config) settings() map[string]any {
	cc := c.Consensus
	return map[string]any{
		"node.home":          c.Node.Home,
		"node.key_file":      c.Node.KeyFile,
		"node.state_file":    c.Node.StateFile,
		"node.mock_content":  c.Node.MockContent,
		"node.tick_interval": c.Node.TickInterval.String(),

		"consensus.creation":             cc.Creation.String(),
		"consensus.priority_receive":     cc.PriorityReceive.String(),
		"consensus.hash_receive":         cc.HashReceive.String(),
		"consensus.content_receive":      cc.ContentReceive.String(),
		"consensus.content_pending":      cc.ContentPending.String(),
		"consensus.transition_buffer":    cc.TransitionBuffer.String(),
		"consensus.majority_post":        cc.MajorityPost.String(),
		"consensus.stalemate":            cc.Stalemate.String(),
		"consensus.stalemate_switch":     cc.StalemateSwitch.String(),
		"consensus.missing_votes":        cc.MissingVotes.String(),
		"consensus.vote_checklist":       cc.VoteChecklist.String(),
		"consensus.requested_votes":      cc.RequestedVotes.String(),
		"consensus.distribution_eval":    cc.DistributionEval.String(),
		"consensus.prev_votes_broadcast": cc.PrevVotesBroadcast.String(),
		"consensus.vote_retry":           cc.VoteRetry.String(),
		"consensus.sync_dag_check":       cc.SyncDAGCheck.String(),
		"consensus.sync_checklist":       cc.SyncChecklist.String(),
		"consensus.sync_fetch":           cc.SyncFetch.String(),
		"consensus.sync_response":        cc.SyncResponse.String(),

		"ledger.ack_length":              c.Ledger.AckLength,
		"ledger.fee_rate":                c.Ledger.FeeRate,
		"ledger.block_reward":            c.Ledger.BlockReward,
		"ledger.participation_threshold": c.Ledger.ParticipationThreshold,

		"store.path": c.Store.Path,
		"wal.path":   c.WAL.Path,
		"wal.sync":   c.WAL.Sync,

		"gossip.ttl":        c.Gossip.TTL,
		"gossip.interval":   c.Gossip.Interval.String(),
		"gossip.cache_size": c.Gossip.CacheSize,

		"api.listen_addr": c.API.ListenAddr,

		"log.file":  c.Log.File,
		"log.level": c.Log.Level,
	}
}
