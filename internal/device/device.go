// Package device ties the channel registry, settings, schedulers and broker
// connection into one context object driven by a single loop goroutine.
package device

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"gpio-go-home/internal/channel"
	"gpio-go-home/internal/metrics"
	"gpio-go-home/internal/mqtt"
	"gpio-go-home/internal/schema"
	"gpio-go-home/internal/settings"
	"gpio-go-home/internal/status"
	"gpio-go-home/internal/survey"
	"gpio-go-home/internal/wifi"
)

// DefaultTick is the loop period.
const DefaultTick = 20 * time.Millisecond

// Config holds device options.
type Config struct {
	ID             string
	StatusInterval time.Duration
	Tick           time.Duration
	// Discovery publishes Home Assistant discovery configs on connect. When
	// false, configs left by an earlier run are removed once.
	Discovery bool
}

// Deps are the collaborators of a Device.
type Deps struct {
	Conn      *mqtt.Manager
	Channels  *channel.Registry
	Settings  *settings.Settings
	Scanner   survey.Scanner
	// LinkInfo returns the current network name and signal. It runs on the
	// loop goroutine and must not block; see wifi.InfoMonitor.
	LinkInfo  func() wifi.Info
	Validator *schema.Validator
	Bus       *EventBus
	Metrics   *metrics.Metrics
	// Clock returns the current time; time.Now when nil.
	Clock func() time.Time
}

// Device is the owning context of all mutable device state. Every method
// except Snapshot must be called from the loop goroutine.
type Device struct {
	cfg       Config
	topics    mqtt.Topics
	conn      *mqtt.Manager
	channels  *channel.Registry
	settings  *settings.Settings
	survey    *survey.Scheduler
	status    *status.Scheduler
	validator *schema.Validator
	bus       *EventBus
	metrics   *metrics.Metrics
	clock     func() time.Time
	logger    *slog.Logger

	lastSurvey       *survey.Result
	discoveryRemoved bool
	snapshot         atomic.Pointer[Snapshot]
}

// New wires a Device and registers it with the connection manager.
func New(cfg Config, deps Deps, logger *slog.Logger) *Device {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	validator := deps.Validator
	if validator == nil {
		validator = schema.NewValidator()
	}

	d := &Device{
		cfg:       cfg,
		topics:    deps.Conn.Topics(),
		conn:      deps.Conn,
		channels:  deps.Channels,
		settings:  deps.Settings,
		validator: validator,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		clock:     clock,
		logger:    logger.With("component", "device"),
	}
	d.survey = survey.New(deps.Scanner, d.conn, d.topics.WifiScan, logger)
	d.survey.OnResult(d.surveyDone)
	d.status = status.New(d.conn, d.topics.Status, cfg.StatusInterval, clock(), deps.LinkInfo, logger)

	d.conn.SetAnnouncer(d)
	d.conn.SetHandler(d.Handle)
	d.conn.OnStateChange(func(s mqtt.ConnectionState) {
		d.emit(EventConnection, s.String())
	})
	d.refreshSnapshot()
	return d
}

// Run drives the loop until ctx is done, then publishes the offline status.
func (d *Device) Run(ctx context.Context) error {
	d.logger.Info("device loop started", "id", d.cfg.ID, "tick", d.cfg.Tick)
	ticker := time.NewTicker(d.cfg.Tick)
	defer ticker.Stop()

	for {
		d.Step(ctx)
		select {
		case <-ctx.Done():
			d.conn.Close(status.Offline)
			d.refreshSnapshot()
			d.logger.Info("device loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Step runs one loop iteration: connection tick (inbound dispatch), survey
// poll, status cadence, survey cadence, read-only channel refresh.
func (d *Device) Step(ctx context.Context) {
	if err := d.conn.Tick(ctx); err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("connection tick", "err", err)
		}
		return
	}

	now := d.clock()
	d.survey.Poll()
	if d.status.DueNow(now) {
		if r, err := d.status.Fire(now); err == nil {
			d.emit(EventStatus, r)
		}
	}
	before := d.survey.State()
	d.survey.RunCadence(now, d.settings.Device().SurveyInterval())
	if d.survey.State() != before {
		d.emit(EventSurvey, d.survey.State().String())
	}

	if d.channels.Refresh() {
		d.logger.Debug("read-only channel changed")
		d.publishChannels()
	}
}

// AnnounceStatus publishes the retained online status. Called by the
// connection manager right after connect.
func (d *Device) AnnounceStatus() {
	now := d.clock()
	if r, err := d.status.Publish(now); err == nil {
		d.emit(EventStatus, r)
	}
}

// Republish publishes channel state, settings and channel metadata.
// Called by the connection manager once subscriptions are in place.
func (d *Device) Republish() {
	d.publishChannels()
	d.publishSettings()
	d.publishGPIOConfig()
	if d.cfg.Discovery {
		d.publishDiscovery()
	} else if !d.discoveryRemoved {
		d.removeDiscovery()
	}
}

func (d *Device) publishChannels() {
	d.publish(d.topics.GPIOState, d.channels.SnapshotJSON(), false)
	d.emit(EventChannels, d.channels.Snapshot())
}

func (d *Device) publishSettings() {
	cur := d.settings.Device()
	d.publish(d.topics.Settings, mustJSON(cur), false)
	d.emit(EventSettings, cur)
}

func (d *Device) publishGPIOConfig() {
	cfgs := d.settings.GPIOConfigs()
	d.publish(d.topics.GPIOConfig, mustJSON(struct {
		GPIOConfigs []settings.GPIOConfig `json:"gpioConfigs"`
	}{cfgs}), false)
	d.emit(EventGPIOConfig, cfgs)
}

func (d *Device) publishDiscovery() {
	for _, msg := range mqtt.BuildDiscovery(d.discoveryDevice()) {
		d.publish(msg.Topic, msg.Payload, true)
	}
}

// removeDiscovery clears retained discovery configs. It is retried on the
// next connect until every removal was accepted.
func (d *Device) removeDiscovery() {
	for _, msg := range mqtt.BuildRemoveDiscovery(d.discoveryDevice()) {
		if err := d.conn.Publish(msg.Topic, msg.Payload, true); err != nil {
			return
		}
	}
	d.discoveryRemoved = true
	d.logger.Debug("stale discovery configs cleared")
}

func (d *Device) discoveryDevice() mqtt.DiscoveryDevice {
	meta := make(map[int]settings.GPIOConfig)
	for _, g := range d.settings.GPIOConfigs() {
		meta[g.PinNumber] = g
	}
	dev := mqtt.DiscoveryDevice{
		ID:     d.cfg.ID,
		Name:   d.settings.Device().DeviceName,
		Topics: d.topics,
	}
	for _, ch := range d.channels.Channels() {
		g := meta[ch.Pin]
		dev.Channels = append(dev.Channels, mqtt.DiscoveryChannel{
			Pin:      ch.Pin,
			ReadOnly: ch.Role == channel.RoleReadOnly,
			Label:    g.Label,
			Group:    string(g.Group),
		})
	}
	return dev
}

func (d *Device) publish(topic string, payload []byte, retained bool) {
	// Failures are logged by the manager; publishing is best-effort.
	_ = d.conn.Publish(topic, payload, retained)
}

func (d *Device) surveyDone(res survey.Result) {
	d.metrics.SurveyPublished()
	d.lastSurvey = &res
	d.emit(EventSurvey, res)
}

func (d *Device) emit(typ string, data any) {
	d.refreshSnapshot()
	d.bus.Emit(Event{Type: typ, Time: time.Now(), Data: data})
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
