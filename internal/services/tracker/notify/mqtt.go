package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/etle/vtrack/internal/platform/timeouts"
)

// Publisher is the subset of the MQTT client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// MQTTConfig addresses the broker that mirrors the feed.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
}

// MQTTSink mirrors events to an MQTT topic from a background goroutine.
// Events that arrive while the queue is full are dropped.
type MQTTSink struct {
	client Publisher
	topic  string
	queue  chan Event
	logf   func(string, ...any)
}

// NewMQTTSink wraps an already connected publisher.
func NewMQTTSink(client Publisher, topic string, logf func(string, ...any)) *MQTTSink {
	if logf == nil {
		logf = log.Printf
	}
	return &MQTTSink{client: client, topic: topic, queue: make(chan Event, 64), logf: logf}
}

// DialMQTT connects to the broker and returns the sink plus a disconnect func.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTTSink, func(), error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, err)
	}
	return NewMQTTSink(client, cfg.Topic, nil), func() { client.Disconnect(250) }, nil
}

// Forward queues e without blocking.
func (s *MQTTSink) Forward(e Event) {
	select {
	case s.queue <- e:
	default:
		s.logf("mqtt queue full, dropping event kind=%s", e.Kind)
	}
}

// Run publishes queued events until ctx ends.
func (s *MQTTSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-s.queue:
			s.publish(e)
		}
	}
}

func (s *MQTTSink) publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logf("encode mqtt event kind=%s: %v", e.Kind, err)
		return
	}
	token := s.client.Publish(s.topic, 0, false, payload)
	if !token.WaitTimeout(timeouts.MQTTPublish) {
		s.logf("mqtt publish timed out topic=%s", s.topic)
		return
	}
	if err := token.Error(); err != nil {
		s.logf("mqtt publish topic=%s: %v", s.topic, err)
	}
}
