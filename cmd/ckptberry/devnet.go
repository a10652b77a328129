package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blockberries/ckptberry/api"
	"github.com/blockberries/ckptberry/config"
	"github.com/blockberries/ckptberry/dag"
	"github.com/blockberries/ckptberry/engine"
	"github.com/blockberries/ckptberry/ledger"
	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/node"
	"github.com/blockberries/ckptberry/privval"
	"github.com/blockberries/ckptberry/store"
	"github.com/blockberries/ckptberry/types"
	"github.com/blockberries/ckptberry/wal"
)

type devnetOptions struct {
	validators int
	height     uint64
	stake      uint64
	step       time.Duration
	tick       time.Duration
	dir        string
	apiAddr    string
}

func newDevnetCmd(flags *rootFlags) *cobra.Command {
	opts := &devnetOptions{}
	cmd := &cobra.Command{
		Use:   "devnet",
		Short: "Run in-process validators until a checkpoint height",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.load(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if opts.validators < 1 {
				return fmt.Errorf("need at least one validator")
			}
			if opts.dir == "" {
				dir, err := os.MkdirTemp("", "ckptberry-devnet-*")
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)
				opts.dir = dir
			}
			net, err := newDevnet(cfg, opts)
			if err != nil {
				return err
			}
			if err := net.run(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reached height %d\n", net.height())
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.validators, "validators", 3, "number of validators")
	f.Uint64Var(&opts.height, "height", 1, "stop at this checkpoint height")
	f.Uint64Var(&opts.stake, "stake", 50, "genesis value per validator")
	f.DurationVar(&opts.step, "step", time.Second, "simulated time per tick")
	f.DurationVar(&opts.tick, "tick", 10*time.Millisecond, "wall time per tick")
	f.StringVar(&opts.dir, "dir", "", "data directory (default a removed temp dir)")
	f.StringVar(&opts.apiAddr, "api", "", "serve the first validator's API on this address")
	return cmd
}

// devnet is a set of validators on one hub, driven by a simulated clock,
// with every key spending one wallet per height.
type devnet struct {
	cfg  *config.Config
	ec   *engine.Config
	opts *devnetOptions
	hub  *node.Hub
	keys []ed25519.PrivateKey
	dbs  []*store.LevelStore

	reg     *prometheus.Registry
	metrics *engine.Metrics

	funded uint64
	log    *zap.Logger
}

func newDevnet(cfg *config.Config, opts *devnetOptions) (*devnet, error) {
	ec, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	n := &devnet{
		cfg:  cfg,
		ec:   ec,
		opts: opts,
		hub:  node.NewHub(),
		log:  logger.Named("devnet"),
	}
	n.reg, n.metrics = newRegistry()

	doc := &node.GenesisDoc{Seed: types.GenesisSeed}
	for i := 0; i < opts.validators; i++ {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		n.keys = append(n.keys, priv)
		doc.Wallets = append(doc.Wallets, node.GenesisWallet{
			Owner: types.PublicKeyOf(priv),
			Value: types.NewAmount(opts.stake),
		})
	}
	genesis, err := doc.Genesis()
	if err != nil {
		return nil, err
	}

	for i, priv := range n.keys {
		home := filepath.Join(opts.dir, fmt.Sprintf("validator%d", i))
		if err := n.addValidator(home, genesis, priv); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *devnet) addValidator(home string, genesis *types.Genesis, priv ed25519.PrivateKey) error {
	pv, err := privval.NewFilePVFromKey(priv,
		filepath.Join(home, "priv_validator_key.json"),
		filepath.Join(home, "priv_validator_state.json"))
	if err != nil {
		return err
	}
	db := store.NewMemLevelStore()
	n.dbs = append(n.dbs, db)
	svc, err := ledger.NewBackedService(db, genesis)
	if err != nil {
		return err
	}
	tree := dag.New()
	if _, err := tree.Add(genesis); err != nil {
		return err
	}
	agent, err := node.NewAgent(tree, svc, pv)
	if err != nil {
		return err
	}
	w, err := wal.NewFileWAL(filepath.Join(home, "wal"))
	if err != nil {
		return err
	}
	var opts []engine.Option
	if len(n.dbs) == 1 {
		opts = append(opts, engine.WithMetrics(n.metrics))
	}
	_, err = n.hub.AddValidator(n.ec, n.cfg.GossipConfig(), agent, w, opts...)
	return err
}

// height is the lowest accepted height across validators.
func (n *devnet) height() uint64 {
	var low uint64
	for i, v := range n.hub.Validators() {
		if h := v.Agent.Service().Height(); i == 0 || h < low {
			low = h
		}
	}
	return low
}

// fund publishes one round of transfers spending the wallets accepted at
// the current height.
func (n *devnet) fund() error {
	svc := n.hub.Validators()[0].Agent.Service()
	nodes, err := transfers(svc, n.keys, n.ec.Fees)
	if err != nil {
		return err
	}
	if err := n.hub.Publish(nodes...); err != nil {
		return err
	}
	n.funded = svc.Height()
	n.log.Info("transfers published", zap.Uint64("height", n.funded), zap.Int("nodes", len(nodes)))
	return nil
}

func (n *devnet) run(ctx context.Context) error {
	defer func() {
		for _, db := range n.dbs {
			_ = db.Close()
		}
	}()

	now := time.Now()
	if err := n.hub.Start(now); err != nil {
		return err
	}
	defer n.hub.Stop()
	if err := n.fund(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if n.opts.apiAddr != "" {
		srv := api.NewServer(n.hub.Validators()[0].Engine, n.dbs[0], n.reg)
		g.Go(func() error { return srv.ListenAndServe(ctx, n.opts.apiAddr) })
	}
	g.Go(func() error {
		defer cancel()
		return n.drive(ctx, now)
	})
	return g.Wait()
}

// drive ticks the hub on the simulated clock until the target height.
func (n *devnet) drive(ctx context.Context, now time.Time) error {
	ticker := time.NewTicker(n.opts.tick)
	defer ticker.Stop()
	for n.height() < n.opts.height {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		now = now.Add(n.opts.step)
		if err := n.hub.Tick(now); err != nil {
			return err
		}
		if h := n.height(); h > n.funded && h < n.opts.height {
			if err := n.fund(); err != nil {
				return err
			}
		}
	}
	return nil
}
