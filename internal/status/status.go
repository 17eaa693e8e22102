// Package status publishes the periodic device heartbeat.
package status

import (
	"encoding/json"
	"log/slog"
	"time"

	"gpio-go-home/internal/wifi"
)

// DefaultInterval is the heartbeat cadence when none is configured.
const DefaultInterval = 30 * time.Second

// Publisher delivers a payload to the broker.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Report is the status payload.
type Report struct {
	Status string `json:"status"`
	WiFi   string `json:"wifi"`
	RSSI   int    `json:"rssi"`
	Uptime int64  `json:"uptime"`
}

// Offline is the last-will and shutdown payload.
var Offline = []byte(`{"status":"offline"}`)

// Scheduler decides when the heartbeat is due and publishes it.
type Scheduler struct {
	pub      Publisher
	topic    string
	interval time.Duration
	boot     time.Time
	info     func() wifi.Info
	logger   *slog.Logger

	last time.Time
}

// New creates a status scheduler. boot is the reference for uptime and the
// first cadence period; info supplies the current network name and signal
// from a cache such as wifi.InfoMonitor.
func New(pub Publisher, topic string, interval time.Duration, boot time.Time, info func() wifi.Info, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		pub:      pub,
		topic:    topic,
		interval: interval,
		boot:     boot,
		info:     info,
		logger:   logger.With("component", "status"),
		last:     boot,
	}
}

// DueNow reports whether the interval has elapsed since the last heartbeat.
func (s *Scheduler) DueNow(now time.Time) bool {
	return now.Sub(s.last) >= s.interval
}

// Fire publishes the heartbeat and restarts the cadence. It returns the
// report it built, even when the publish failed.
func (s *Scheduler) Fire(now time.Time) (Report, error) {
	s.last = now
	return s.Publish(now)
}

// Publish sends the current status retained without touching the cadence.
func (s *Scheduler) Publish(now time.Time) (Report, error) {
	r := s.Report(now)
	data, err := json.Marshal(r)
	if err != nil {
		return r, err
	}
	if err := s.pub.Publish(s.topic, data, true); err != nil {
		s.logger.Warn("publish status", "err", err)
		return r, err
	}
	s.logger.Debug("status published", "payload", string(data))
	return r, nil
}

// Report builds the current status. info is called once and must not
// block; it is expected to return a cached value.
func (s *Scheduler) Report(now time.Time) Report {
	r := Report{Status: "online", Uptime: int64(now.Sub(s.boot) / time.Second)}
	if s.info != nil {
		inf := s.info()
		r.WiFi = inf.SSID
		r.RSSI = inf.RSSI
	}
	return r
}
