package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultKeepAlive      = 15 * time.Second
	defaultAckTimeout     = 5 * time.Second
	defaultInboundBuffer  = 64

	disconnectQuiesce = 250 // milliseconds

	// All traffic is QoS 0.
	qos byte = 0
)

// SessionConfig configures the broker session.
type SessionConfig struct {
	Host           string
	Port           int
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	// Last will, registered with every connect.
	WillTopic   string
	WillPayload []byte

	// Capacity of the inbound queue between paho and the device loop.
	InboundBuffer int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.KeepAlive <= 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = defaultInboundBuffer
	}
	return c
}

// buildClientOptions creates paho options. Reconnection is driven by the
// Manager, so paho's own retry logic is disabled.
func buildClientOptions(cfg SessionConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetKeepAlive(cfg.KeepAlive)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, string(cfg.WillPayload), qos, true)
	}
	return opts
}
