package wifi

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const infoTimeout = 2 * time.Second

// InfoMonitor keeps the latest link info, refreshed on its own goroutine so
// readers never wait on nmcli.
type InfoMonitor struct {
	fetch  func(ctx context.Context) Info
	every  time.Duration
	logger *slog.Logger

	cur atomic.Pointer[Info]
}

// NewInfoMonitor creates a monitor that calls fetch every interval once Run
// is started. Link.Info is the usual fetch.
func NewInfoMonitor(fetch func(ctx context.Context) Info, every time.Duration, logger *slog.Logger) *InfoMonitor {
	return &InfoMonitor{
		fetch:  fetch,
		every:  every,
		logger: logger.With("component", "wifi-info"),
	}
}

// Info returns the last fetched value, or a zero Info before the first one.
func (m *InfoMonitor) Info() Info {
	if p := m.cur.Load(); p != nil {
		return *p
	}
	return Info{}
}

// Run refreshes immediately and then on every interval until ctx is done.
func (m *InfoMonitor) Run(ctx context.Context) {
	m.refresh(ctx)
	ticker := time.NewTicker(m.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

func (m *InfoMonitor) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()
	info := m.fetch(ctx)
	if prev := m.cur.Swap(&info); prev == nil || *prev != info {
		m.logger.Debug("link info", "ssid", info.SSID, "rssi", info.RSSI)
	}
}
