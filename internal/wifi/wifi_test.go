package wifi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSplitTerse(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"home:70:WPA2", []string{"home", "70", "WPA2"}},
		{`a\:b:40:`, []string{"a:b", "40", ""}},
		{`back\\slash:10:WEP`, []string{`back\slash`, "10", "WEP"}},
	}
	for _, tt := range tests {
		got := splitTerse(tt.line)
		if len(got) != len(tt.want) {
			t.Fatalf("splitTerse(%q) = %q, want %q", tt.line, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitTerse(%q)[%d] = %q, want %q", tt.line, i, got[i], tt.want[i])
			}
		}
	}
}

func TestEncryptionCode(t *testing.T) {
	tests := []struct {
		sec  string
		want int
	}{
		{"", EncOpen},
		{"--", EncOpen},
		{"WEP", EncWEP},
		{"WPA1", EncWPAPSK},
		{"WPA2", EncWPA2PSK},
		{"WPA1 WPA2", EncWPAWPA2PSK},
		{"WPA2 802.1X", EncWPA2Enterprise},
		{"WPA3", EncWPA3PSK},
		{"WPA2 WPA3", EncWPA2WPA3PSK},
	}
	for _, tt := range tests {
		if got := encryptionCode(tt.sec); got != tt.want {
			t.Errorf("encryptionCode(%q) = %d, want %d", tt.sec, got, tt.want)
		}
	}
}

func TestSignalToRSSI(t *testing.T) {
	if got := signalToRSSI("100"); got != -50 {
		t.Errorf("signalToRSSI(100) = %d, want -50", got)
	}
	if got := signalToRSSI("0"); got != -100 {
		t.Errorf("signalToRSSI(0) = %d, want -100", got)
	}
	if got := signalToRSSI("junk"); got != -100 {
		t.Errorf("signalToRSSI(junk) = %d, want -100", got)
	}
}

func TestParseNetworksKeepsOrder(t *testing.T) {
	out := []byte("zeta:20:WPA2\nalpha:90:\n\nbroken\n")
	nets := parseNetworks(out)
	if len(nets) != 2 {
		t.Fatalf("got %d networks, want 2", len(nets))
	}
	if nets[0].SSID != "zeta" || nets[1].SSID != "alpha" {
		t.Errorf("order = %q,%q, want zeta,alpha", nets[0].SSID, nets[1].SSID)
	}
	if nets[1].Encryption != EncOpen || nets[1].RSSI != -55 {
		t.Errorf("alpha = %+v", nets[1])
	}
}

func waitComplete(t *testing.T, s *Scanner) ([]Network, error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if done, nets, err := s.Complete(); done {
			return nets, err
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("scan did not complete")
	return nil, nil
}

func TestScannerLifecycle(t *testing.T) {
	release := make(chan struct{})
	s := NewScanner("wlan0", testLogger())
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		<-release
		return []byte("net1:80:WPA2\n"), nil
	}

	if done, _, _ := s.Complete(); done {
		t.Fatal("Complete before Start reported done")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrScanBusy) {
		t.Errorf("second Start = %v, want ErrScanBusy", err)
	}
	if done, _, _ := s.Complete(); done {
		t.Fatal("Complete reported done while scan blocked")
	}

	close(release)
	nets, err := waitComplete(t, s)
	if err != nil {
		t.Fatalf("scan err: %v", err)
	}
	if len(nets) != 1 || nets[0].SSID != "net1" {
		t.Errorf("nets = %+v", nets)
	}

	// Results are sticky until Release.
	if done, again, _ := s.Complete(); !done || len(again) != 1 {
		t.Errorf("Complete after done = %v %v", done, again)
	}
	s.Release()
	if done, _, _ := s.Complete(); done {
		t.Error("Complete after Release reported done")
	}
}

func TestScannerFailure(t *testing.T) {
	s := NewScanner("", testLogger())
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("radio off")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	nets, err := waitComplete(t, s)
	if err == nil {
		t.Error("expected scan error")
	}
	if len(nets) != 0 {
		t.Errorf("nets = %+v, want none", nets)
	}
}

func TestLinkUpWaitsForAddress(t *testing.T) {
	l := NewLink(LinkConfig{Interface: "wlan0", SSID: "home", Password: "pw"}, testLogger())
	var gotArgs []string
	l.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		return nil, nil
	}
	polls := 0
	l.hasAddr = func(string) bool {
		polls++
		return polls >= 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}
	want := []string{"device", "wifi", "connect", "home", "password", "pw", "ifname", "wlan0"}
	if len(gotArgs) != len(want) {
		t.Fatalf("nmcli args = %q, want %q", gotArgs, want)
	}
	for i := range want {
		if gotArgs[i] != want[i] {
			t.Errorf("arg[%d] = %q, want %q", i, gotArgs[i], want[i])
		}
	}
}

func TestLinkUpCancelled(t *testing.T) {
	l := NewLink(LinkConfig{Interface: "wlan0"}, testLogger())
	l.hasAddr = func(string) bool { return false }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Up(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Up = %v, want context.Canceled", err)
	}
}

func TestLinkInfo(t *testing.T) {
	l := NewLink(LinkConfig{Interface: "wlan0"}, testLogger())
	l.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("no:other:30\nyes:home:60\n"), nil
	}
	info := l.Info(context.Background())
	if info.SSID != "home" || info.RSSI != -70 {
		t.Errorf("Info = %+v, want home/-70", info)
	}
}

func TestInfoMonitor(t *testing.T) {
	fetched := make(chan struct{}, 8)
	var calls atomic.Int32
	m := NewInfoMonitor(func(ctx context.Context) Info {
		n := calls.Add(1)
		defer func() { fetched <- struct{}{} }()
		return Info{SSID: "home", RSSI: -50 - int(n)}
	}, time.Hour, testLogger())

	if got := m.Info(); got != (Info{}) {
		t.Errorf("Info before Run = %+v, want zero", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case <-fetched:
	case <-time.After(time.Second):
		t.Fatal("no initial refresh")
	}
	cancel()
	<-done

	if got := m.Info(); got.SSID != "home" || got.RSSI != -51 {
		t.Errorf("Info = %+v, want home/-51", got)
	}
	// Reads are served from the cache.
	m.Info()
	m.Info()
	if n := calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}

func TestInfoMonitorFetchHasDeadline(t *testing.T) {
	var hasDeadline bool
	m := NewInfoMonitor(func(ctx context.Context) Info {
		_, hasDeadline = ctx.Deadline()
		return Info{}
	}, time.Hour, testLogger())
	m.refresh(context.Background())
	if !hasDeadline {
		t.Error("fetch context has no deadline")
	}
}
