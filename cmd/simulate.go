package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/tasmota-bridge/config"
	"github.com/kilianp07/tasmota-bridge/infra/logger"
	"github.com/kilianp07/tasmota-bridge/infra/mqtt"
	"github.com/kilianp07/tasmota-bridge/simulator"
)

var simulateOpts struct {
	count        int
	interval     time.Duration
	models       []string
	tempUnit     string
	removeOnExit bool
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated Tasmota sensor devices against the configured broker",
	RunE:  runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVarP(&simulateOpts.count, "count", "n", 1, "number of devices")
	f.DurationVar(&simulateOpts.interval, "interval", 10*time.Second, "telemetry period")
	f.StringSliceVar(&simulateOpts.models, "model", nil, fmt.Sprintf("device models %v, default all", simulator.Models()))
	f.StringVar(&simulateOpts.tempUnit, "temp-unit", "C", "temperature unit announced by the devices")
	f.BoolVar(&simulateOpts.removeOnExit, "remove-on-exit", false, "clear the discovery messages on exit")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	devs, err := simulator.GenerateFleet(simulator.FleetConfig{
		Size:     simulateOpts.count,
		Models:   simulateOpts.models,
		TempUnit: simulateOpts.tempUnit,
	})
	if err != nil {
		return err
	}
	log := logger.New("simulator")
	var wg sync.WaitGroup
	for _, d := range devs {
		wg.Add(1)
		go func(d *simulator.Device) {
			defer wg.Done()
			if err := simulateDevice(ctx, cfg, d, log); err != nil {
				log.Errorf("%s: %v", d.MAC, err)
			}
		}(d)
	}
	wg.Wait()
	return nil
}

// simulateDevice gives each device its own connection so the broker
// publishes the device's last will when it drops.
func simulateDevice(ctx context.Context, cfg *config.Config, d *simulator.Device, log logger.Logger) error {
	dc := d.Config()
	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = "sim-" + d.MAC
	mqttCfg.LWTTopic = dc.WillTopic()
	mqttCfg.LWTPayload = dc.OfflinePayload
	mqttCfg.LWTQoS = 1
	mqttCfg.LWTRetain = true
	cli, err := mqtt.NewPahoClient(mqttCfg)
	if err != nil {
		return err
	}
	defer cli.Disconnect()
	if err := cli.Connect(); err != nil {
		return err
	}
	if err := d.Run(ctx, cli, cfg.Discovery.Prefix, simulateOpts.interval, log); err != nil {
		return err
	}
	if simulateOpts.removeOnExit {
		return d.Remove(cli, cfg.Discovery.Prefix)
	}
	return nil
}
