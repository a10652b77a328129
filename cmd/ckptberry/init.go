package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blockberries/ckptberry/config"
	"github.com/blockberries/ckptberry/node"
	"github.com/blockberries/ckptberry/privval"
	"github.com/blockberries/ckptberry/types"
)

func newInitCmd(flags *rootFlags) *cobra.Command {
	var (
		stake     string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config, a validator key and a single-validator genesis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default(flags.home)
			path := config.DefaultPath(flags.home)
			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("config %s already exists", path)
			}
			value, err := types.ParseAmount(stake)
			if err != nil {
				return err
			}
			if err := cfg.WriteFile(path); err != nil {
				return err
			}
			pv, err := privval.GenerateFilePV(cfg.Node.KeyFile, cfg.Node.StateFile)
			if err != nil {
				return err
			}
			doc := &node.GenesisDoc{
				Seed:    types.GenesisSeed,
				Wallets: []node.GenesisWallet{{Owner: pv.PubKey(), Value: value}},
			}
			if err := doc.SaveAs(genesisPath(flags.home)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\nvalidator %s\n", flags.home, pv.PubKey())
			return nil
		},
	}
	cmd.Flags().StringVar(&stake, "stake", "100", "genesis value of the validator wallet")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing config and key")
	return cmd
}
