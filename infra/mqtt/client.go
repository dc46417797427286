package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/tasmota-bridge/core/monitoring"
	coremqtt "github.com/kilianp07/tasmota-bridge/core/mqtt"
	"github.com/kilianp07/tasmota-bridge/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string      `json:"broker"`
	ClientID   string      `json:"client_id"`
	Username   string      `json:"username"`
	Password   string      `json:"password"`
	UseTLS     bool        `json:"use_tls"`
	ClientCert string      `json:"client_cert"`
	ClientKey  string      `json:"client_key"`
	CABundle   string      `json:"ca_bundle"`
	AuthMethod string      `json:"auth_method"`
	LWTTopic   string      `json:"lwt_topic"`
	LWTPayload string      `json:"lwt_payload"`
	LWTQoS     byte        `json:"lwt_qos"`
	LWTRetain  bool        `json:"lwt_retain"`
	KeepAlive  int         `json:"keep_alive_s"`
	MaxRetries int         `json:"max_retries"`
	BackoffMS  int         `json:"backoff_ms"`
	TLSConfig  *tls.Config `json:"-"`
}

// ClientIDPrefix prefixes generated client ids.
const ClientIDPrefix = "tasmota-bridge-"

// SetDefaults fills the broker, a unique client id and retry settings.
func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = "tcp://localhost:1883"
	}
	if c.ClientID == "" {
		c.ClientID = NewClientID()
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks the connection settings.
func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.New("mqtt broker is required")
	}
	if c.LWTQoS > 2 {
		return fmt.Errorf("invalid lwt_qos %d", c.LWTQoS)
	}
	switch c.AuthMethod {
	case "", "none", "username_password", "certificate", "both":
	default:
		return fmt.Errorf("unknown auth_method %q", c.AuthMethod)
	}
	return nil
}

// NewClientID returns a client id unique to this process.
func NewClientID() string {
	return ClientIDPrefix + uuid.NewString()[:8]
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

type subscription struct {
	qos     byte
	handler coremqtt.MessageHandler
}

// PahoClient implements coremqtt.Client on Eclipse Paho. Subscriptions are
// remembered and restored every time the connection comes up.
type PahoClient struct {
	cli        pahoClient
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration

	mu       sync.Mutex
	subs     map[string]subscription
	observer coremqtt.ConnectionObserver
	dispatch *dispatcher
}

// dispatcher runs message handlers one at a time in arrival order on its own
// goroutine. The paho router only enqueues, so a handler may subscribe and
// wait for the acknowledgement.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) push(f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, f)
	d.cond.Signal()
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		f := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()
		f()
	}
}

// stop lets the queued handlers finish and ends the goroutine.
func (d *dispatcher) stop() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient prepares a client. Call Connect to reach the broker.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	pc := &PahoClient{
		logger:     logger.New("mqtt_client"),
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		subs:       make(map[string]subscription),
		dispatch:   newDispatcher(),
	}
	opts.OnConnect = pc.onConnect
	opts.OnConnectionLost = pc.onConnectionLost
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		pc.logger.Warnf("reconnecting to MQTT broker")
	}
	pc.cli = newMQTTClient(opts)
	return pc, nil
}

// SetObserver registers the connection observer.
func (p *PahoClient) SetObserver(o coremqtt.ConnectionObserver) {
	p.mu.Lock()
	p.observer = o
	p.mu.Unlock()
}

// Connect blocks until the first connection attempt completes.
func (p *PahoClient) Connect() error {
	if token := p.cli.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// NewClientOptions builds mqtt client options from Config. Messages are
// routed in order; PahoClient hands them to its dispatcher.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second)
	}
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (p *PahoClient) onConnect(c paho.Client) {
	p.mu.Lock()
	subs := make(map[string]subscription, len(p.subs))
	for t, s := range p.subs {
		subs[t] = s
	}
	obs := p.observer
	p.mu.Unlock()

	p.logger.Infof("MQTT connected, restoring %d subscriptions", len(subs))
	for topic, s := range subs {
		if token := c.Subscribe(topic, s.qos, p.wrap(s.handler)); token.Wait() && token.Error() != nil {
			p.logger.Errorf("subscribe %s: %v", topic, token.Error())
		}
	}
	if obs != nil {
		obs.Connected()
	}
}

func (p *PahoClient) onConnectionLost(_ paho.Client, err error) {
	p.logger.Errorf("connection lost: %v", err)
	p.mu.Lock()
	obs := p.observer
	p.mu.Unlock()
	if obs != nil {
		obs.ConnectionLost(err)
	}
}

// wrap adapts a handler to paho. Messages are queued on the dispatcher and a
// panicking handler does not take down the client.
func (p *PahoClient) wrap(h coremqtt.MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		topic, payload := m.Topic(), m.Payload()
		p.dispatch.push(func() {
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("handler panic on %s: %v", topic, r)
					p.logger.Errorf("%v", err)
					monitoring.CaptureException(err, map[string]string{"module": "mqtt", "topic": topic})
				}
			}()
			h(topic, payload)
		})
	}
}

// Subscribe registers handler for topic. When disconnected the subscription
// is made on the next connection.
func (p *PahoClient) Subscribe(topic string, qos byte, handler coremqtt.MessageHandler) error {
	p.mu.Lock()
	p.subs[topic] = subscription{qos: qos, handler: handler}
	p.mu.Unlock()
	if !p.cli.IsConnected() {
		return nil
	}
	if token := p.cli.Subscribe(topic, qos, p.wrap(handler)); token.Wait() && token.Error() != nil {
		p.mu.Lock()
		delete(p.subs, topic)
		p.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	p.logger.Debugf("subscribed %s", topic)
	return nil
}

// Unsubscribe forgets the given topics.
func (p *PahoClient) Unsubscribe(topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	p.mu.Lock()
	for _, t := range topics {
		delete(p.subs, t)
	}
	p.mu.Unlock()
	if !p.cli.IsConnected() {
		return nil
	}
	if token := p.cli.Unsubscribe(topics...); token.Wait() && token.Error() != nil {
		return fmt.Errorf("unsubscribe: %w", token.Error())
	}
	return nil
}

// Publish sends payload, retrying with exponential backoff.
func (p *PahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.cli.IsConnected() {
		return fmt.Errorf("publish %s: %w", topic, coremqtt.ErrNotConnected)
	}
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, retained, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		p.logger.Errorf("publish attempt %d on %s failed: %v", attempt+1, topic, publishErr)
		if attempt < p.maxRetries {
			time.Sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	monitoring.CaptureException(publishErr, map[string]string{"module": "mqtt", "topic": topic})
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Subscriptions returns the number of remembered subscriptions.
func (p *PahoClient) Subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Disconnect gracefully closes the MQTT connection. Handlers already queued
// still run.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
	p.dispatch.stop()
}
