package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/tasmota-bridge/config"
	"github.com/kilianp07/tasmota-bridge/core/bridge"
	"github.com/kilianp07/tasmota-bridge/core/events"
	"github.com/kilianp07/tasmota-bridge/core/registry"
	"github.com/kilianp07/tasmota-bridge/core/state"
	"github.com/kilianp07/tasmota-bridge/infra/logger"
	"github.com/kilianp07/tasmota-bridge/infra/mqtt"
	"github.com/kilianp07/tasmota-bridge/internal/eventbus"
)

var (
	discoverTimeout time.Duration
	discoverOutput  string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List the Tasmota devices and sensors announced on the broker",
	RunE:  runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVarP(&discoverTimeout, "timeout", "t", 3*time.Second, "time to collect retained discovery messages")
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "yaml", "output format: yaml or json")
	rootCmd.AddCommand(discoverCmd)
}

// discoveredDevice is one device of the discover output.
type discoveredDevice struct {
	MAC      string             `json:"mac" yaml:"mac"`
	Name     string             `json:"name" yaml:"name"`
	Model    string             `json:"model" yaml:"model"`
	IP       string             `json:"ip" yaml:"ip"`
	Topic    string             `json:"topic" yaml:"topic"`
	Entities []discoveredEntity `json:"entities" yaml:"entities"`
}

type discoveredEntity struct {
	EntityID string `json:"entity_id" yaml:"entity_id"`
	State    string `json:"state" yaml:"state"`
	Unit     string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

func runDiscover(cmd *cobra.Command, args []string) error {
	if discoverOutput != "yaml" && discoverOutput != "json" {
		return fmt.Errorf("unsupported output %q", discoverOutput)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = mqtt.NewClientID()
	mqttCfg.LWTTopic = ""
	client, err := mqtt.NewPahoClient(mqttCfg)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer client.Disconnect()

	bus := eventbus.NewTyped[events.Event]()
	defer bus.Close()
	b := bridge.New(cfg.Discovery, client, registry.New(), state.NewMemoryStore(), bus, logger.NopLogger{})
	client.SetObserver(b)
	if err := b.Start(); err != nil {
		return err
	}
	if err := client.Connect(); err != nil {
		return err
	}
	select {
	case <-cmd.Context().Done():
	case <-time.After(discoverTimeout):
	}
	return writeDiscovered(cmd.OutOrStdout(), collect(b), discoverOutput)
}

func collect(b *bridge.Bridge) []discoveredDevice {
	devs := b.Devices()
	out := make([]discoveredDevice, 0, len(devs))
	for _, d := range devs {
		dd := discoveredDevice{MAC: d.MAC, Entities: []discoveredEntity{}}
		if c := d.Config; c != nil {
			dd.Name = c.Name()
			dd.Model = c.Model
			dd.IP = c.IP
			dd.Topic = c.Topic
		}
		for _, st := range b.States(d.MAC) {
			unit, _ := st.Attributes["unit_of_measurement"].(string)
			dd.Entities = append(dd.Entities, discoveredEntity{EntityID: st.EntityID, State: st.State, Unit: unit})
		}
		out = append(out, dd)
	}
	return out
}

func writeDiscovered(w io.Writer, devs []discoveredDevice, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(devs)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(devs); err != nil {
		return err
	}
	return enc.Close()
}
