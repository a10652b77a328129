package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blockberries/ckptberry/api"
	"github.com/blockberries/ckptberry/config"
	"github.com/blockberries/ckptberry/dag"
	"github.com/blockberries/ckptberry/engine"
	"github.com/blockberries/ckptberry/evidence"
	"github.com/blockberries/ckptberry/ledger"
	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/node"
	"github.com/blockberries/ckptberry/privval"
	"github.com/blockberries/ckptberry/store"
	"github.com/blockberries/ckptberry/types"
	"github.com/blockberries/ckptberry/wal"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a validator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, v, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if err := v.BindPFlag("api.listen_addr", cmd.Flags().Lookup("api")); err != nil {
				return err
			}
			cfg.API.ListenAddr = v.GetString("api.listen_addr")
			defer logger.Sync()
			return runValidator(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("api", "", "HTTP listen address, overrides api.listen_addr")
	return cmd
}

func newRegistry() (*prometheus.Registry, *engine.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, engine.NewMetrics(reg)
}

// loadTree rebuilds the DAG from genesis and the stored checkpoint chain.
func loadTree(genesis *types.Genesis, db *store.LevelStore, height uint64) (*dag.Tree, error) {
	tree := dag.New()
	if _, err := tree.Add(genesis); err != nil {
		return nil, err
	}
	for h := uint64(1); h <= height; h++ {
		ckpt, err := db.Extract(h)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %d: %w", h, err)
		}
		if _, err := tree.Add(ckpt); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func runValidator(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("main")

	doc, err := node.LoadGenesisDoc(genesisPath(cfg.Node.Home))
	if err != nil {
		return err
	}
	genesis, err := doc.Genesis()
	if err != nil {
		return err
	}
	pv, err := privval.NewFilePV(cfg.Node.KeyFile, cfg.Node.StateFile)
	if err != nil {
		return err
	}
	ec, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	db, err := store.NewLevelStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	svc, err := ledger.NewBackedService(db, genesis)
	if err != nil {
		return err
	}
	tree, err := loadTree(genesis, db, svc.Height())
	if err != nil {
		return err
	}
	agent, err := node.NewAgent(tree, svc, pv)
	if err != nil {
		return err
	}
	w, err := wal.NewFileWAL(cfg.WAL.Path)
	if err != nil {
		return err
	}

	reg, metrics := newRegistry()
	hub := node.NewHub()
	val, err := hub.AddValidator(ec, cfg.GossipConfig(), agent, w,
		engine.WithMetrics(metrics),
		engine.WithEvidencePool(evidence.NewPool(evidence.DefaultConfig())))
	if err != nil {
		return err
	}
	if err := hub.Start(time.Now()); err != nil {
		return err
	}
	defer func() {
		if err := hub.Stop(); err != nil {
			log.Error("stop failed", zap.Error(err))
		}
	}()
	log.Info("validator running",
		zap.Stringer("key", pv.PubKey()),
		zap.Uint64("height", svc.Height()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(ctx, cfg.Node.TickInterval)
	})
	if cfg.API.ListenAddr != "" {
		srv := api.NewServer(val.Engine, db, reg)
		g.Go(func() error {
			return srv.ListenAndServe(ctx, cfg.API.ListenAddr)
		})
	}
	return g.Wait()
}
