package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/repairdispatch/app/plugins"
	"github.com/kilianp07/repairdispatch/config"
	"github.com/kilianp07/repairdispatch/infra/logger"
	"github.com/kilianp07/repairdispatch/infra/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load orders and masters from a YAML or JSON fixture",
	Args:  cobra.ExactArgs(1),
	RunE:  seedStore,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func seedStore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Backend == "memory" {
		logger.New("seed").Warnf("store backend is memory, seeded records are lost on exit")
	}
	st, err := plugins.NewStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	res, err := seed.Import(context.Background(), st, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d orders and %d masters\n", res.Orders, res.Workers)
	return nil
}
