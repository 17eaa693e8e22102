package wifi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

const linkPollInterval = 500 * time.Millisecond

// LinkConfig configures transport bring-up.
type LinkConfig struct {
	Interface string
	SSID      string // empty: association is managed outside this process
	Password  string
}

// Link brings up and describes the network transport.
type Link struct {
	cfg    LinkConfig
	run    runFunc
	logger *slog.Logger

	// hasAddr reports whether the interface has a usable address.
	hasAddr func(iface string) bool
}

// NewLink creates a Link for the configured interface.
func NewLink(cfg LinkConfig, logger *slog.Logger) *Link {
	return &Link{
		cfg:     cfg,
		run:     execRun,
		logger:  logger.With("component", "wifi"),
		hasAddr: interfaceHasAddr,
	}
}

// Up associates with the configured network (if any) and blocks until the
// interface has an address or ctx is done.
func (l *Link) Up(ctx context.Context) error {
	if l.cfg.SSID != "" {
		l.logger.Info("connecting to wifi", "ssid", l.cfg.SSID, "iface", l.cfg.Interface)
		args := []string{"device", "wifi", "connect", l.cfg.SSID}
		if l.cfg.Password != "" {
			args = append(args, "password", l.cfg.Password)
		}
		if l.cfg.Interface != "" {
			args = append(args, "ifname", l.cfg.Interface)
		}
		if _, err := l.run(ctx, "nmcli", args...); err != nil {
			// Association may still complete in the background; keep waiting.
			l.logger.Warn("nmcli connect", "err", err)
		}
	}

	ticker := time.NewTicker(linkPollInterval)
	defer ticker.Stop()
	for !l.Ready() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wifi bring-up: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	l.logger.Info("network link up", "iface", l.cfg.Interface)
	return nil
}

// Ready reports whether the interface currently has an address.
func (l *Link) Ready() bool {
	return l.hasAddr(l.cfg.Interface)
}

// Info returns the associated network and its signal strength.
// Returns a zero Info when no wifi network is active.
func (l *Link) Info(ctx context.Context) Info {
	args := []string{"-t", "-f", "ACTIVE,SSID,SIGNAL", "device", "wifi", "list", "--rescan", "no"}
	if l.cfg.Interface != "" {
		args = append(args, "ifname", l.cfg.Interface)
	}
	out, err := l.run(ctx, "nmcli", args...)
	if err != nil {
		l.logger.Debug("nmcli link info", "err", err)
		return Info{}
	}
	for _, line := range strings.Split(string(out), "\n") {
		f := splitTerse(line)
		if len(f) >= 3 && f[0] == "yes" {
			return Info{SSID: f[1], RSSI: signalToRSSI(f[2])}
		}
	}
	return Info{}
}

func interfaceHasAddr(iface string) bool {
	if iface == "" {
		addrs, err := net.InterfaceAddrs()
		if err != nil {
			return false
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() {
				return true
			}
		}
		return false
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil || ifi.Flags&net.FlagUp == 0 {
		return false
	}
	addrs, err := ifi.Addrs()
	return err == nil && len(addrs) > 0
}
