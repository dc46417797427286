package mqtttest

import (
	"sync"

	coremqtt "github.com/kilianp07/tasmota-bridge/core/mqtt"
)

type delivery struct {
	handler coremqtt.MessageHandler
	topic   string
	payload []byte
}

type brokerSub struct {
	client  *BrokerClient
	filter  string
	handler coremqtt.MessageHandler
}

// Broker is an in-memory MQTT broker. Retained messages are replayed on
// subscribe and every handler runs on a single delivery goroutine, in
// publish order, so handlers may publish without deadlocking.
type Broker struct {
	mu       sync.Mutex
	cond     *sync.Cond
	retained map[string][]byte
	subs     []brokerSub
	queue    []delivery
	busy     bool
	closed   bool
}

func NewBroker() *Broker {
	b := &Broker{retained: map[string][]byte{}}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Client returns a new client attached to the broker.
func (b *Broker) Client() *BrokerClient { return &BrokerClient{b: b} }

// Retained returns the retained payload of topic.
func (b *Broker) Retained(topic string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[topic]
	return string(p), ok
}

// Idle reports whether every queued message has been handled.
func (b *Broker) Idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) == 0 && !b.busy
}

// Close stops the delivery goroutine. Queued messages are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.queue = nil
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *Broker) run() {
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if b.closed {
			b.mu.Unlock()
			return
		}
		d := b.queue[0]
		b.queue = b.queue[1:]
		b.busy = true
		b.mu.Unlock()

		d.handler(d.topic, d.payload)

		b.mu.Lock()
		b.busy = false
		b.mu.Unlock()
	}
}

// enqueue must be called with b.mu held.
func (b *Broker) enqueue(h coremqtt.MessageHandler, topic string, payload []byte) {
	b.queue = append(b.queue, delivery{handler: h, topic: topic, payload: payload})
	b.cond.Signal()
}

func (b *Broker) publish(topic string, retained bool, payload []byte) {
	payload = append([]byte(nil), payload...)
	b.mu.Lock()
	defer b.mu.Unlock()
	if retained {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = payload
		}
	}
	for _, s := range b.subs {
		if Match(s.filter, topic) {
			b.enqueue(s.handler, topic, payload)
		}
	}
}

func (b *Broker) subscribe(c *BrokerClient, filter string, h coremqtt.MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(c, filter)
	b.subs = append(b.subs, brokerSub{client: c, filter: filter, handler: h})
	for topic, p := range b.retained {
		if Match(filter, topic) {
			b.enqueue(h, topic, p)
		}
	}
}

func (b *Broker) unsubscribe(c *BrokerClient, filters ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range filters {
		b.removeLocked(c, f)
	}
}

func (b *Broker) removeLocked(c *BrokerClient, filter string) {
	kept := b.subs[:0]
	for _, s := range b.subs {
		if s.client != c || s.filter != filter {
			kept = append(kept, s)
		}
	}
	b.subs = kept
}

// BrokerClient implements coremqtt.Client on a Broker.
type BrokerClient struct {
	b *Broker
}

func (c *BrokerClient) Subscribe(topic string, _ byte, h coremqtt.MessageHandler) error {
	c.b.subscribe(c, topic, h)
	return nil
}

func (c *BrokerClient) Unsubscribe(topics ...string) error {
	c.b.unsubscribe(c, topics...)
	return nil
}

func (c *BrokerClient) Publish(topic string, _ byte, retained bool, payload []byte) error {
	c.b.publish(topic, retained, payload)
	return nil
}
