package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blockberries/ckptberry/config"
	"github.com/blockberries/ckptberry/logger"
)

// Version is set at build time.
var Version = "0.1.0-dev"

const genesisFile = "genesis.json"

type rootFlags struct {
	home       string
	configFile string
	logLevel   string
}

func defaultHome() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".ckptberry")
	}
	return ".ckptberry"
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "ckptberry",
		Short:         "Checkpoint consensus validator for a DAG ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.home, "home", defaultHome(), "validator home directory")
	pf.StringVar(&flags.configFile, "config", "", "config file (default <home>/config/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level override")

	cmd.AddCommand(
		newInitCmd(flags),
		newRunCmd(flags),
		newDevnetCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

// load reads the config of flags.home. The default config file is optional.
func (f *rootFlags) load(cmd *cobra.Command) (*config.Config, *viper.Viper, error) {
	v := config.NewViper(f.home)
	if err := v.BindPFlag("log.level", cmd.Flags().Lookup("log-level")); err != nil {
		return nil, nil, err
	}
	file := f.configFile
	if file == "" {
		if _, err := os.Stat(config.DefaultPath(f.home)); err == nil {
			file = config.DefaultPath(f.home)
		}
	}
	cfg, err := config.Load(v, file)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Init(cfg.Log.File, cfg.Log.Level); err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func genesisPath(home string) string {
	return filepath.Join(home, "config", genesisFile)
}
