// Package publish forwards scanner notifications to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-panscan/internal/log"
	"github.com/teslashibe/go-panscan/pkg/scanner"
	"github.com/teslashibe/go-panscan/pkg/tracking"
)

var (
	ErrNotConnected   = errors.New("publish: mqtt not connected")
	ErrPublishTimeout = errors.New("publish: timeout")
)

// Config describes the broker and topic layout.
type Config struct {
	Broker         string        `yaml:"broker"` // host:port or a full URL
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	QueueSize      int           `yaml:"queue_size"`
}

// DefaultConfig returns a local broker configuration.
func DefaultConfig() Config {
	return Config{
		Broker:         "localhost:1883",
		ClientID:       "panscan",
		TopicPrefix:    "panscan",
		QoS:            1,
		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 2 * time.Second,
		QueueSize:      256,
	}
}

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// EventPayload is the body published for tracking events.
type EventPayload struct {
	Session string             `json:"session"`
	Kind    tracking.EventKind `json:"kind"`
	Event   tracking.Event     `json:"event"`
}

// Publisher implements scanner.Notifier. Notifications are queued and sent
// by Run so the control loop never waits on the broker.
type Publisher struct {
	cfg    Config
	client Client
	logger *slog.Logger
	queue  chan message

	mu        sync.RWMutex
	published map[string]uint64

	errors  atomic.Uint64
	dropped atomic.Uint64
}

// New wraps an already connected client.
func New(client Client, cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = def.TopicPrefix
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Publisher{
		cfg:       cfg,
		client:    client,
		logger:    log.Component("mqtt").With("prefix", cfg.TopicPrefix),
		queue:     make(chan message, cfg.QueueSize),
		published: make(map[string]uint64),
	}
}

// Connect dials the broker with auto-reconnect and returns a publisher.
func Connect(cfg Config) (*Publisher, error) {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	logger := log.Component("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, reconnecting", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return New(client, cfg), nil
}

func brokerURL(broker string) string {
	for _, scheme := range []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"} {
		if len(broker) >= len(scheme) && broker[:len(scheme)] == scheme {
			return broker
		}
	}
	return "tcp://" + broker
}

// ModeTopic is where mode changes are published, retained.
func (p *Publisher) ModeTopic() string {
	return p.cfg.TopicPrefix + "/mode"
}

// EventTopic is where events of kind are published.
func (p *Publisher) EventTopic(kind tracking.EventKind) string {
	return p.cfg.TopicPrefix + "/events/" + string(kind)
}

// ModeChanged implements scanner.Notifier.
func (p *Publisher) ModeChanged(c scanner.ModeChange) {
	p.enqueue(p.ModeTopic(), true, c)
}

// TrackingEvent implements scanner.Notifier.
func (p *Publisher) TrackingEvent(session string, e tracking.Event) {
	p.enqueue(p.EventTopic(e.Kind()), false, EventPayload{Session: session, Kind: e.Kind(), Event: e})
}

func (p *Publisher) enqueue(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.errors.Add(1)
		p.logger.Warn("mqtt payload encode failed", "topic", topic, "error", err)
		return
	}
	select {
	case p.queue <- message{topic: topic, retained: retained, payload: payload}:
	default:
		if p.dropped.Add(1)%100 == 1 {
			p.logger.Warn("mqtt queue full, dropping messages", "dropped", p.dropped.Load())
		}
	}
}

// Run sends queued messages until ctx is done, then flushes what is left.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case m := <-p.queue:
			p.send(m)
		case <-ctx.Done():
			for {
				select {
				case m := <-p.queue:
					p.send(m)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) send(m message) {
	if err := p.publish(m); err != nil {
		p.errors.Add(1)
		p.logger.Warn("mqtt publish failed", "topic", m.topic, "error", err)
		return
	}
	p.mu.Lock()
	p.published[m.topic]++
	p.mu.Unlock()
	p.logger.Debug("mqtt published", "topic", m.topic, "size", len(m.payload))
}

func (p *Publisher) publish(m message) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	token := p.client.Publish(m.topic, p.cfg.QoS, m.retained, m.payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info("mqtt disconnected")
	}
	return nil
}

// Stats counts publish outcomes.
type Stats struct {
	Published map[string]uint64
	Errors    uint64
	Dropped   uint64
}

// Stats returns a copy of the counters.
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}
	return Stats{Published: published, Errors: p.errors.Load(), Dropped: p.dropped.Load()}
}
