package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gpio-go-home/internal/channel"
	"gpio-go-home/internal/gpio"
)

// Environment overrides for secrets.
const (
	envMQTTPassword = "GPIO_HOME_MQTT_PASSWORD"
	envWiFiPassword = "GPIO_HOME_WIFI_PASSWORD"
)

type ChannelConfig struct {
	Pin  int    `yaml:"pin"`
	Role string `yaml:"role"` // "controllable" (default) or "read-only"
}

type Config struct {
	Device struct {
		BaseName  string        `yaml:"base_name"`
		Interface string        `yaml:"interface"` // source of the hardware address
		Tick      time.Duration `yaml:"tick"`
	} `yaml:"device"`
	WiFi struct {
		SSID      string `yaml:"ssid"`
		Password  string `yaml:"password"`
		Interface string `yaml:"interface"`
	} `yaml:"wifi"`
	MQTT struct {
		Host       string        `yaml:"host"`
		Port       int           `yaml:"port"`
		Username   string        `yaml:"username"`
		Password   string        `yaml:"password"`
		RetryDelay time.Duration `yaml:"retry_delay"`
		KeepAlive  time.Duration `yaml:"keep_alive"`
		Discovery  bool          `yaml:"discovery"`
	} `yaml:"mqtt"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	GPIO struct {
		Driver   string          `yaml:"driver"` // "chip", "serial" or "memory"
		Chip     string          `yaml:"chip"`
		Port     string          `yaml:"port"`
		Baud     int             `yaml:"baud"`
		Channels []ChannelConfig `yaml:"channels"`
	} `yaml:"gpio"`
	Status struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"status"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port must be 1-65535, got %d", c.MQTT.Port)
	}
	if c.MQTT.RetryDelay <= 0 {
		return fmt.Errorf("mqtt.retry_delay must be positive")
	}
	if len(c.GPIO.Channels) == 0 {
		return fmt.Errorf("gpio.channels must list at least one channel")
	}
	seen := make(map[int]bool)
	for _, ch := range c.GPIO.Channels {
		if ch.Pin < 0 {
			return fmt.Errorf("gpio.channels: invalid pin %d", ch.Pin)
		}
		if seen[ch.Pin] {
			return fmt.Errorf("gpio.channels: duplicate pin %d", ch.Pin)
		}
		seen[ch.Pin] = true
		if _, err := channel.ParseRole(ch.Role); err != nil {
			return fmt.Errorf("gpio.channels: pin %d: %w", ch.Pin, err)
		}
	}
	switch c.GPIO.Driver {
	case "chip", "memory":
	case "serial":
		if c.GPIO.Port == "" {
			return fmt.Errorf("gpio.port is required for the serial driver")
		}
	default:
		return fmt.Errorf("unknown gpio.driver: %q (supported: chip, serial, memory)", c.GPIO.Driver)
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.BaseName == "" {
		c.Device.BaseName = "ESP32"
	}
	if c.Device.Tick == 0 {
		c.Device.Tick = 20 * time.Millisecond
	}
	if c.Device.Interface == "" {
		c.Device.Interface = c.WiFi.Interface
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.RetryDelay == 0 {
		c.MQTT.RetryDelay = 5 * time.Second
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 15 * time.Second
	}
	if c.Store.Path == "" {
		c.Store.Path = "gpio-home.db"
	}
	if c.GPIO.Driver == "" {
		c.GPIO.Driver = "chip"
	}
	if c.GPIO.Chip == "" {
		c.GPIO.Chip = "gpiochip0"
	}
	if c.GPIO.Baud == 0 {
		c.GPIO.Baud = 115200
	}
	if c.Status.Interval == 0 {
		c.Status.Interval = 30 * time.Second
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envMQTTPassword); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv(envWiFiPassword); v != "" {
		c.WiFi.Password = v
	}
}

// channelSpecs converts the configured channel list. validate has already
// checked the roles.
func (c *Config) channelSpecs() []channel.Spec {
	specs := make([]channel.Spec, 0, len(c.GPIO.Channels))
	for _, ch := range c.GPIO.Channels {
		role, _ := channel.ParseRole(ch.Role)
		specs = append(specs, channel.Spec{Pin: ch.Pin, Role: role})
	}
	return specs
}

func openDriver(cfg *Config, logger *slog.Logger) (gpio.Driver, error) {
	switch cfg.GPIO.Driver {
	case "chip":
		logger.Info("using GPIO character device", "chip", cfg.GPIO.Chip)
		return gpio.OpenChip(cfg.GPIO.Chip)
	case "serial":
		logger.Info("using serial I/O expander", "port", cfg.GPIO.Port, "baud", cfg.GPIO.Baud)
		return gpio.OpenSerial(cfg.GPIO.Port, cfg.GPIO.Baud, logger)
	case "memory":
		logger.Warn("using in-memory GPIO driver, no hardware is driven")
		return gpio.NewMemoryDriver(), nil
	default:
		return nil, fmt.Errorf("unknown gpio driver: %q", cfg.GPIO.Driver)
	}
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
