// Package statepub mirrors entity states back onto MQTT so that other
// consumers can read the decoded sensor values without understanding the
// Tasmota payloads.
package statepub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kilianp07/tasmota-bridge/core/events"
	"github.com/kilianp07/tasmota-bridge/core/logger"
	coremqtt "github.com/kilianp07/tasmota-bridge/core/mqtt"
	"github.com/kilianp07/tasmota-bridge/internal/eventbus"
)

// DefaultPrefix is the topic root used when none is configured.
const DefaultPrefix = "tasmota_bridge"

// Config controls the state publisher.
type Config struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix"`
	QoS     byte   `json:"qos"`
}

func (c *Config) SetDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
}

func (c Config) Validate() error {
	if c.QoS > 2 {
		return fmt.Errorf("invalid publish qos %d", c.QoS)
	}
	return nil
}

// StateTopic carries the rendered state of an entity.
func (c Config) StateTopic(entityID string) string {
	return c.Prefix + "/" + entityID + "/state"
}

// AttributesTopic carries the entity attributes as JSON.
func (c Config) AttributesTopic(entityID string) string {
	return c.Prefix + "/" + entityID + "/attributes"
}

// Publisher republishes state events as retained messages.
type Publisher struct {
	cfg Config
	cli coremqtt.Client
	log logger.Logger
}

func New(cfg Config, cli coremqtt.Client, log logger.Logger) *Publisher {
	cfg.SetDefaults()
	return &Publisher{cfg: cfg, cli: cli, log: log}
}

// Run consumes bus events until ctx is canceled or the bus is closed.
func (p *Publisher) Run(ctx context.Context, bus *eventbus.TypedBus[events.Event]) {
	sub := bus.SubscribeQueued()
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := p.Handle(ev); err != nil {
				p.log.Warnf("republish %s: %v", ev.EventName(), err)
			}
		}
	}
}

// Handle publishes one event. Removed entities and the old id of a renamed
// entity get their retained topics cleared.
func (p *Publisher) Handle(ev events.Event) error {
	switch e := ev.(type) {
	case events.StateChanged:
		attrs, err := json.Marshal(e.Attributes)
		if err != nil {
			return err
		}
		if err := p.cli.Publish(p.cfg.StateTopic(e.EntityID), p.cfg.QoS, true, []byte(e.NewState)); err != nil {
			return err
		}
		return p.cli.Publish(p.cfg.AttributesTopic(e.EntityID), p.cfg.QoS, true, attrs)
	case events.DiscoveryChanged:
		switch {
		case e.Action == events.ActionRemoved && e.EntityID != "":
			return p.clear(e.EntityID)
		case e.Action == events.ActionRenamed && e.PreviousEntityID != "":
			return p.clear(e.PreviousEntityID)
		}
	}
	return nil
}

func (p *Publisher) clear(entityID string) error {
	if err := p.cli.Publish(p.cfg.StateTopic(entityID), p.cfg.QoS, true, nil); err != nil {
		return err
	}
	return p.cli.Publish(p.cfg.AttributesTopic(entityID), p.cfg.QoS, true, nil)
}
