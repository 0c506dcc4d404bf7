package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/repairdispatch/app"
	"github.com/kilianp07/repairdispatch/config"
	"github.com/kilianp07/repairdispatch/core/events"
	"github.com/kilianp07/repairdispatch/infra/logger"
)

var dispatchTimeout time.Duration

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <order-id>",
	Short: "Run the escalation of one order and print its events",
	Args:  cobra.ExactArgs(1),
	RunE:  dispatchOrder,
}

func init() {
	dispatchCmd.Flags().DurationVar(&dispatchTimeout, "timeout", 10*time.Minute, "give up waiting after this duration")
	rootCmd.AddCommand(dispatchCmd)
}

func dispatchOrder(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// The admin API is not needed for a one-shot run.
	cfg.HTTP.Addr = ""
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("dispatch-command").Errorf("service close: %v", err)
		}
	}()

	orderID := args[0]
	sub := svc.Bus.Subscribe()
	defer svc.Bus.Unsubscribe(sub)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	if err := svc.StartOrderAssignment(ctx, orderID); err != nil {
		return fmt.Errorf("start order %s: %w", orderID, err)
	}

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("order %s: %w", orderID, ctx.Err())
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if ev.Order() != orderID {
				continue
			}
			fmt.Fprintf(out, "%s %-20s master=%s assignment=%s\n",
				ev.Time().Format(time.RFC3339), ev.Kind(), events.MasterOf(ev), events.AssignmentOf(ev))
			if ev.Kind().Terminal() {
				return nil
			}
		}
	}
}
