package mqtt

// MessageHandler receives the topic and payload of an inbound message.
type MessageHandler func(topic string, payload []byte)

// Client is the subset of an MQTT client the bridge depends on.
type Client interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topics ...string) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// ConnectionObserver is notified about broker connection changes.
type ConnectionObserver interface {
	Connected()
	ConnectionLost(err error)
}
