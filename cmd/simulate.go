package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/repairdispatch/config"
	coremqtt "github.com/kilianp07/repairdispatch/core/mqtt"
	"github.com/kilianp07/repairdispatch/infra/logger"
	"github.com/kilianp07/repairdispatch/infra/mqtt"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Answer offers on behalf of repair masters over MQTT",
	RunE:  simulateMasters,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}

func simulateMasters(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	mqttCfg := cfg.MQTT
	mqttCfg.SetDefaults()
	mqttCfg.ClientID += "-simulator"
	if mqttCfg.Broker == "" {
		return fmt.Errorf("mqtt broker is not configured")
	}
	client, err := mqtt.NewPahoClient(mqttCfg)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer client.Disconnect()

	logg := logger.New("simulator")
	strategy := mqtt.NewRandomStrategy(cfg.Simulator.AcceptRate, cfg.Simulator.RejectRate, cfg.Simulator.Seed)
	sim := mqtt.NewSimulator(client, strategy, cfg.Simulator.Delay(), mqttCfg.QoSFor(coremqtt.QoSResponse), logg)
	logg.Infof("simulating masters (accept=%.2f reject=%.2f delay=%s)",
		cfg.Simulator.AcceptRate, cfg.Simulator.RejectRate, cfg.Simulator.Delay())
	return sim.Run(ctx, client)
}
