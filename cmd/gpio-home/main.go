package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gpio-go-home/internal/channel"
	"gpio-go-home/internal/device"
	"gpio-go-home/internal/metrics"
	"gpio-go-home/internal/mqtt"
	"gpio-go-home/internal/schema"
	"gpio-go-home/internal/settings"
	"gpio-go-home/internal/status"
	"gpio-go-home/internal/store"
	"gpio-go-home/internal/wifi"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const linkInfoRefresh = 10 * time.Second

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	args := os.Args[1:]
	resetSettings := len(args) > 0 && args[0] == "reset-settings"
	if resetSettings {
		args = args[1:]
	}
	cfgPath := "config.yaml"
	if len(args) > 0 {
		cfgPath = args[0]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if resetSettings {
		if err := runResetSettings(cfg, logger); err != nil {
			logger.Error("reset settings", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
	logger.Info("goodbye")
}

func run(cfg *Config, logger *slog.Logger) error {
	logger.Info("gpio-go-home starting", "version", version)

	mac, err := wifi.HardwareAddr(cfg.Device.Interface)
	if err != nil {
		return err
	}
	deviceID := mqtt.DeviceID(cfg.Device.BaseName, mac)
	topics := mqtt.NewTopics(deviceID)
	logger.Info("device identity", "id", deviceID, "prefix", topics.Prefix)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := openDriver(cfg, logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	channels, err := channel.NewRegistry(cfg.channelSpecs(), driver, logger)
	if err != nil {
		return err
	}

	validator := schema.NewValidator()
	st := settings.New(db, channels.Pins(), validator, logger)
	if err := st.Load(); err != nil {
		if !errors.Is(err, settings.ErrCorrupt) {
			return err
		}
		// Keep running on defaults; the record is left for inspection.
		logger.Error("settings record unreadable, running on defaults", "path", db.Path(), "err", err)
	}

	met := metrics.New()
	link := wifi.NewLink(wifi.LinkConfig{
		Interface: cfg.WiFi.Interface,
		SSID:      cfg.WiFi.SSID,
		Password:  cfg.WiFi.Password,
	}, logger)

	session := mqtt.NewPahoSession(mqtt.SessionConfig{
		Host:        cfg.MQTT.Host,
		Port:        cfg.MQTT.Port,
		ClientID:    deviceID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		KeepAlive:   cfg.MQTT.KeepAlive,
		WillTopic:   topics.Status,
		WillPayload: status.Offline,
	}, logger)
	conn := mqtt.NewManager(session, link, topics, mqtt.ManagerConfig{
		RetryDelay: cfg.MQTT.RetryDelay,
		Metrics:    met,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	linkInfo := wifi.NewInfoMonitor(link.Info, linkInfoRefresh, logger)
	go linkInfo.Run(ctx)

	bus := device.NewEventBus(logger)
	dev := device.New(device.Config{
		ID:             deviceID,
		StatusInterval: cfg.Status.Interval,
		Tick:           cfg.Device.Tick,
		Discovery:      cfg.MQTT.Discovery,
	}, device.Deps{
		Conn:      conn,
		Channels:  channels,
		Settings:  st,
		Scanner:   wifi.NewScanner(cfg.WiFi.Interface, logger),
		LinkInfo:  linkInfo.Info,
		Validator: validator,
		Bus:       bus,
		Metrics:   met,
	}, logger)

	// Start the web surface (no-op when built with no_web tag).
	webSurface := initWeb(dev, bus, met, cfg, logger)
	defer webSurface.Stop()

	return dev.Run(ctx)
}

func runResetSettings(cfg *Config, logger *slog.Logger) error {
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	pins := make([]int, 0, len(cfg.GPIO.Channels))
	for _, ch := range cfg.GPIO.Channels {
		pins = append(pins, ch.Pin)
	}
	st := settings.New(db, pins, nil, logger)
	if err := st.Delete(); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return st.Load()
}
