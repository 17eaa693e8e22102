package mqtt

import (
	"context"
	"fmt"
	"log/slog"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is one inbound publish.
type Message struct {
	Topic   string
	Payload []byte
}

// Session is a single broker connection.
type Session interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Subscribe(topic string) error
	Publish(topic string, payload []byte, retained bool) error
	Disconnect()
	// Inbound delivers messages received on subscribed topics.
	Inbound() <-chan Message
}

// PahoSession implements Session on paho.mqtt.golang. Message callbacks run
// on paho goroutines and only enqueue; the device loop drains Inbound.
type PahoSession struct {
	client  pahomqtt.Client
	cfg     SessionConfig
	inbound chan Message
	logger  *slog.Logger
}

// NewPahoSession creates an unconnected session.
func NewPahoSession(cfg SessionConfig, logger *slog.Logger) *PahoSession {
	cfg = cfg.withDefaults()
	s := &PahoSession{
		cfg:     cfg,
		inbound: make(chan Message, cfg.InboundBuffer),
		logger:  logger.With("component", "mqtt-session"),
	}
	opts := buildClientOptions(cfg).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			s.logger.Warn("MQTT connection lost", "err", err)
		})
	s.client = pahomqtt.NewClient(opts)
	return s
}

// Connect performs one connect attempt.
func (s *PahoSession) Connect(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

func (s *PahoSession) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

func (s *PahoSession) Subscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	token := s.client.Subscribe(topic, qos, s.enqueue)
	if !token.WaitTimeout(defaultAckTimeout) {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

func (s *PahoSession) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}
	token := s.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultAckTimeout) {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

func (s *PahoSession) Disconnect() {
	if s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiesce)
	}
}

func (s *PahoSession) Inbound() <-chan Message {
	return s.inbound
}

func (s *PahoSession) enqueue(_ pahomqtt.Client, msg pahomqtt.Message) {
	m := Message{Topic: msg.Topic(), Payload: append([]byte(nil), msg.Payload()...)}
	select {
	case s.inbound <- m:
	default:
		s.logger.Warn("inbound queue full, dropping message", "topic", m.Topic)
	}
}
