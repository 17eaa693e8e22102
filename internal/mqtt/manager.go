package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"gpio-go-home/internal/metrics"
)

// DefaultRetryDelay is the pause between broker connect attempts.
const DefaultRetryDelay = 5 * time.Second

// ConnectionState of the broker session.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// Transport is the network link under the broker session.
type Transport interface {
	Up(ctx context.Context) error
	Ready() bool
}

// Announcer publishes device state after a successful connect.
type Announcer interface {
	// AnnounceStatus publishes the retained status. Called before subscribing.
	AnnounceStatus()
	// Republish publishes channel state and settings. Called after subscribing.
	Republish()
}

// Handler receives inbound messages on the device loop.
type Handler func(topic string, payload []byte)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	RetryDelay time.Duration
	Metrics    *metrics.Metrics
}

// Manager owns the connection state machine. Everything except the session's
// own callbacks runs on the device loop goroutine.
type Manager struct {
	session   Session
	transport Transport
	topics    Topics
	retry     time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger

	state     ConnectionState
	announcer Announcer
	handler   Handler
	onState   func(ConnectionState)
}

// NewManager creates a disconnected manager.
func NewManager(session Session, transport Transport, topics Topics, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Manager{
		session:   session,
		transport: transport,
		topics:    topics,
		retry:     cfg.RetryDelay,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "mqtt"),
	}
}

// SetAnnouncer registers the connect-time publisher.
func (m *Manager) SetAnnouncer(a Announcer) { m.announcer = a }

// SetHandler registers the inbound message handler.
func (m *Manager) SetHandler(h Handler) { m.handler = h }

// OnStateChange registers a callback for connection state transitions.
func (m *Manager) OnStateChange(fn func(ConnectionState)) { m.onState = fn }

// State returns the current connection state.
func (m *Manager) State() ConnectionState { return m.state }

// Topics returns the device topic set.
func (m *Manager) Topics() Topics { return m.topics }

// EnsureConnected brings the transport up and connects to the broker if the
// session is not live. Connect attempts repeat with a fixed delay until one
// succeeds or ctx is done.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if m.state == Connected {
		if m.session.IsConnected() {
			return nil
		}
		m.logger.Warn("broker session lost")
		m.setState(Disconnected)
	}

	m.setState(Connecting)

	if !m.transport.Ready() {
		if err := m.transport.Up(ctx); err != nil {
			m.setState(Disconnected)
			return err
		}
	}

	attempt := 0
	op := func() error {
		attempt++
		m.metrics.ConnectAttempt()
		if !m.transport.Ready() {
			if err := m.transport.Up(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		if err := m.session.Connect(ctx); err != nil {
			return err
		}
		m.setState(Connected)
		if m.announcer != nil {
			m.announcer.AnnounceStatus()
		}
		if err := m.subscribeAll(); err != nil {
			m.session.Disconnect()
			m.setState(Connecting)
			return err
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		m.logger.Warn("broker connect failed", "attempt", attempt, "retry_in", next, "err", err)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(m.retry), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		m.setState(Disconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	m.logger.Info("MQTT connected", "attempts", attempt, "prefix", m.topics.Prefix)
	if m.announcer != nil {
		m.announcer.Republish()
	}
	return nil
}

func (m *Manager) subscribeAll() error {
	var errs []error
	for _, t := range m.topics.Subscriptions() {
		if err := m.session.Subscribe(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tick ensures the session is live, then delivers queued inbound messages
// to the handler in arrival order. Messages arriving during the drain wait
// for the next tick.
func (m *Manager) Tick(ctx context.Context) error {
	if err := m.EnsureConnected(ctx); err != nil {
		return err
	}
	in := m.session.Inbound()
	for n := len(in); n > 0; n-- {
		var msg Message
		select {
		case msg = <-in:
		default:
			return nil
		}
		m.metrics.Received(m.topics.Kind(msg.Topic))
		if m.handler == nil {
			continue
		}
		m.handler(msg.Topic, msg.Payload)
	}
	return nil
}

// Publish sends a payload at QoS 0. It fails with ErrNotConnected when there
// is no live session; nothing is queued.
func (m *Manager) Publish(topic string, payload []byte, retained bool) error {
	if m.state != Connected || !m.session.IsConnected() {
		m.logger.Debug("publish skipped, not connected", "topic", topic)
		m.metrics.Published(ErrNotConnected)
		return ErrNotConnected
	}
	err := m.session.Publish(topic, payload, retained)
	m.metrics.Published(err)
	if err != nil {
		m.logger.Warn("publish failed", "topic", topic, "err", err)
	}
	return err
}

// Close publishes the offline status and disconnects.
func (m *Manager) Close(offline []byte) {
	if m.state == Connected && m.session.IsConnected() {
		if err := m.session.Publish(m.topics.Status, offline, true); err != nil {
			m.logger.Warn("publish offline status", "err", err)
		}
	}
	m.session.Disconnect()
	m.setState(Disconnected)
	m.logger.Info("MQTT disconnected")
}

func (m *Manager) setState(s ConnectionState) {
	if m.state == s {
		return
	}
	m.logger.Debug("connection state", "from", m.state, "to", s)
	m.state = s
	m.metrics.SetConnected(s == Connected)
	if m.onState != nil {
		m.onState(s)
	}
}
