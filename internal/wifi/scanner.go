package wifi

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrScanBusy is returned by Start while a scan is still running.
var ErrScanBusy = errors.New("scan already in progress")

const scanTimeout = 30 * time.Second

type scanResult struct {
	networks []Network
	err      error
}

// Scanner runs `nmcli device wifi list --rescan yes` in the background.
// Completion is observed by polling Complete; nothing blocks the caller.
type Scanner struct {
	iface  string
	run    runFunc
	logger *slog.Logger

	running bool
	done    chan scanResult
	result  *scanResult
}

// NewScanner creates a scanner for the given interface (empty = any).
func NewScanner(iface string, logger *slog.Logger) *Scanner {
	return &Scanner{
		iface:  iface,
		run:    execRun,
		logger: logger.With("component", "wifi-scan"),
	}
}

// Start launches a scan.
func (s *Scanner) Start() error {
	if s.running {
		return ErrScanBusy
	}
	s.running = true
	s.result = nil
	s.done = make(chan scanResult, 1)

	args := []string{"-t", "-f", "SSID,SIGNAL,SECURITY", "device", "wifi", "list", "--rescan", "yes"}
	if s.iface != "" {
		args = append(args, "ifname", s.iface)
	}
	done := s.done
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
		defer cancel()
		out, err := s.run(ctx, "nmcli", args...)
		if err != nil {
			done <- scanResult{err: err}
			return
		}
		done <- scanResult{networks: parseNetworks(out)}
	}()
	return nil
}

// Complete reports whether the running scan has finished. Once it has, the
// same results are returned until Release.
func (s *Scanner) Complete() (bool, []Network, error) {
	if s.result != nil {
		return true, s.result.networks, s.result.err
	}
	if !s.running {
		return false, nil, nil
	}
	select {
	case r := <-s.done:
		s.result = &r
		s.running = false
		return true, r.networks, r.err
	default:
		return false, nil, nil
	}
}

// Release drops the results of the finished scan.
func (s *Scanner) Release() {
	s.result = nil
}
