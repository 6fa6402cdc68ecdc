package emitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"anpr-stream/internal/domain/anpr"
)

var ErrNotConnected = errors.New("mqtt not connected")

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

type Options struct {
	// Broker is host:port or a full tcp://, ssl:// or ws:// URL.
	Broker   string
	ClientID string
	// Topic is the prefix; detections go to <Topic>/detections.
	Topic    string
	Username string
	Password string
	QoS      byte
}

type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// MQTTEmitter publishes stored detections to an MQTT broker.
type MQTTEmitter struct {
	opts   Options
	client mqtt.Client
	log    zerolog.Logger

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

func NewMQTTEmitter(opts Options, log zerolog.Logger) *MQTTEmitter {
	return &MQTTEmitter{
		opts:      opts,
		log:       log.With().Str("component", "mqtt").Logger(),
		published: make(map[string]uint64),
	}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect dials the broker; the client reconnects on its own afterwards.
func (e *MQTTEmitter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.opts.Broker))
	opts.SetClientID(e.opts.ClientID)
	if e.opts.Username != "" {
		opts.SetUsername(e.opts.Username)
		opts.SetPassword(e.opts.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.log.Info().Str("broker", e.opts.Broker).Str("client_id", e.opts.ClientID).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.log.Warn().Err(err).Str("broker", e.opts.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	e.client = mqtt.NewClient(opts)

	token := e.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

func (e *MQTTEmitter) DetectionTopic() string {
	return strings.TrimRight(e.opts.Topic, "/") + "/detections"
}

func (e *MQTTEmitter) PublishDetection(event anpr.DetectionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal detection event: %w", err)
	}
	return e.publish(e.DetectionTopic(), payload)
}

func (e *MQTTEmitter) publish(topic string, payload []byte) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	token := e.client.Publish(topic, e.opts.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.log.Debug().Str("topic", topic).Int("size", len(payload)).Msg("event published")
	return nil
}

func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.log.Info().Msg("mqtt disconnected")
	}
	e.setConnected(false)
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
