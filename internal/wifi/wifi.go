// Package wifi wraps NetworkManager (nmcli) for transport bring-up, link
// information and asynchronous network scans.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
)

// Encryption codes reported in survey results.
const (
	EncOpen = iota
	EncWEP
	EncWPAPSK
	EncWPA2PSK
	EncWPAWPA2PSK
	EncWPA2Enterprise
	EncWPA3PSK
	EncWPA2WPA3PSK
)

// Network is one entry of a survey.
type Network struct {
	SSID       string `json:"ssid"`
	RSSI       int    `json:"rssi"`
	Encryption int    `json:"encryption"`
}

// Info describes the currently associated network.
type Info struct {
	SSID string
	RSSI int
}

// runFunc executes an external command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(ee.Stderr)))
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// HardwareAddr returns the MAC address of the named interface, or of the
// first non-loopback interface that has one when iface is empty.
func HardwareAddr(iface string) (net.HardwareAddr, error) {
	if iface == "" {
		ifs, err := net.Interfaces()
		if err != nil {
			return nil, fmt.Errorf("list interfaces: %w", err)
		}
		for _, ifi := range ifs {
			if ifi.Flags&net.FlagLoopback == 0 && len(ifi.HardwareAddr) > 0 {
				return ifi.HardwareAddr, nil
			}
		}
		return nil, errors.New("no interface with a hardware address")
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", iface, err)
	}
	if len(ifi.HardwareAddr) == 0 {
		return nil, fmt.Errorf("interface %s has no hardware address", iface)
	}
	return ifi.HardwareAddr, nil
}

// splitTerse splits one line of `nmcli -t` output. Colons inside a field
// are escaped as `\:` and backslashes as `\\`.
func splitTerse(line string) []string {
	var (
		fields []string
		cur    strings.Builder
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}

// signalToRSSI converts nmcli's 0-100 signal quality to an approximate dBm.
func signalToRSSI(s string) int {
	q, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return -100
	}
	if q < 0 {
		q = 0
	}
	if q > 100 {
		q = 100
	}
	return q/2 - 100
}

// encryptionCode maps nmcli's SECURITY column to an encryption code.
func encryptionCode(security string) int {
	s := strings.ToUpper(strings.TrimSpace(security))
	switch {
	case s == "" || s == "--":
		return EncOpen
	case strings.Contains(s, "WPA3") && strings.Contains(s, "WPA2"):
		return EncWPA2WPA3PSK
	case strings.Contains(s, "WPA3"):
		return EncWPA3PSK
	case strings.Contains(s, "802.1X"):
		return EncWPA2Enterprise
	case strings.Contains(s, "WPA1") && strings.Contains(s, "WPA2"):
		return EncWPAWPA2PSK
	case strings.Contains(s, "WPA2"):
		return EncWPA2PSK
	case strings.Contains(s, "WPA"):
		return EncWPAPSK
	case strings.Contains(s, "WEP"):
		return EncWEP
	}
	return EncOpen
}

// parseNetworks parses `nmcli -t -f SSID,SIGNAL,SECURITY device wifi list`
// output, keeping the order nmcli reported.
func parseNetworks(out []byte) []Network {
	var nets []Network
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := splitTerse(line)
		if len(f) < 3 {
			continue
		}
		nets = append(nets, Network{
			SSID:       f[0],
			RSSI:       signalToRSSI(f[1]),
			Encryption: encryptionCode(f[2]),
		})
	}
	return nets
}
