// Package mqtttest provides an in-memory MQTT client for tests.
package mqtttest

import (
	"sort"
	"strings"
	"sync"

	coremqtt "github.com/kilianp07/tasmota-bridge/core/mqtt"
)

// Message is a publish recorded by FakeClient.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// FakeClient records subscriptions and publishes. Fire delivers a message
// synchronously to every matching handler.
type FakeClient struct {
	mu        sync.Mutex
	handlers  map[string]coremqtt.MessageHandler
	published []Message

	// SubscribeErr and PublishErr are returned when set.
	SubscribeErr error
	PublishErr   error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{handlers: map[string]coremqtt.MessageHandler{}}
}

func (f *FakeClient) Subscribe(topic string, _ byte, h coremqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeErr != nil {
		return f.SubscribeErr
	}
	f.handlers[topic] = h
	return nil
}

func (f *FakeClient) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.handlers, t)
	}
	return nil
}

func (f *FakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.published = append(f.published, Message{Topic: topic, QoS: qos, Retained: retained, Payload: append([]byte(nil), payload...)})
	return nil
}

// Fire delivers payload on topic.
func (f *FakeClient) Fire(topic string, payload string) {
	f.mu.Lock()
	var hs []coremqtt.MessageHandler
	for filter, h := range f.handlers {
		if Match(filter, topic) {
			hs = append(hs, h)
		}
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(topic, []byte(payload))
	}
}

// Subscriptions returns the subscribed filters in sorted order.
func (f *FakeClient) Subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]string, 0, len(f.handlers))
	for t := range f.handlers {
		res = append(res, t)
	}
	sort.Strings(res)
	return res
}

// Published returns the recorded publishes.
func (f *FakeClient) Published() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.published...)
}

// ResetPublished clears the recorded publishes.
func (f *FakeClient) ResetPublished() {
	f.mu.Lock()
	f.published = nil
	f.mu.Unlock()
}

// Match reports whether topic matches an MQTT subscription filter.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, part := range fs {
		if part == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if part != "+" && part != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
