package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"gpio-go-home/internal/gpio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSpecs() []Spec {
	return []Spec{
		{Pin: 2, Role: RoleControllable},
		{Pin: 4, Role: RoleControllable},
		{Pin: 16, Role: RoleControllable},
		{Pin: 17, Role: RoleReadOnly},
	}
}

func newTestRegistry(t *testing.T) (*Registry, *gpio.MemoryDriver) {
	t.Helper()
	drv := gpio.NewMemoryDriver()
	r, err := NewRegistry(testSpecs(), drv, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return r, drv
}

func TestParseState(t *testing.T) {
	tests := []struct {
		in     any
		want   State
		wantOK bool
	}{
		{"ON", On, true},
		{"1", On, true},
		{"HIGH", On, true},
		{"OFF", Off, true},
		{"0", Off, true},
		{"LOW", Off, true},
		{json.Number("1"), On, true},
		{json.Number("0"), Off, true},
		{float64(1), On, true},
		{"on", Off, false},
		{"TOGGLE", Off, false},
		{"2", Off, false},
		{true, Off, false},
		{nil, Off, false},
	}
	for _, tt := range tests {
		got, ok := ParseState(tt.in)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("ParseState(%#v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"", RoleControllable, false},
		{"output", RoleControllable, false},
		{"read-only", RoleReadOnly, false},
		{"input", RoleReadOnly, false},
		{"bidirectional", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewRegistryValidation(t *testing.T) {
	if _, err := NewRegistry(nil, gpio.NewMemoryDriver(), testLogger()); err == nil {
		t.Error("expected error for empty table")
	}
	dup := []Spec{{Pin: 2}, {Pin: 2}}
	if _, err := NewRegistry(dup, gpio.NewMemoryDriver(), testLogger()); err == nil {
		t.Error("expected error for duplicate pins")
	}
}

func TestSetChangesOnlyTarget(t *testing.T) {
	r, drv := newTestRegistry(t)
	before := r.Channels()

	if err := r.Set("4", On); err != nil {
		t.Fatal(err)
	}

	after := r.Channels()
	for i := range after {
		want := before[i].State
		if after[i].Pin == 4 {
			want = On
		}
		if after[i].State != want {
			t.Errorf("pin %d state = %v, want %v", after[i].Pin, after[i].State, want)
		}
	}
	if v, _ := drv.Read(4); !v {
		t.Error("driver pin 4 not driven high")
	}
}

func TestSetRejects(t *testing.T) {
	r, drv := newTestRegistry(t)

	if err := r.Set("99", On); !errors.Is(err, ErrUnknown) {
		t.Errorf("unknown err = %v, want ErrUnknown", err)
	}
	if err := r.Set("abc", On); !errors.Is(err, ErrUnknown) {
		t.Errorf("non-numeric err = %v, want ErrUnknown", err)
	}
	if err := r.Set("17", On); !errors.Is(err, ErrReadOnly) {
		t.Errorf("read-only err = %v, want ErrReadOnly", err)
	}
	if ch, _ := r.Lookup("17"); ch.State != Off {
		t.Error("read-only channel mutated by Set")
	}
	if drv.Writes() != 0 {
		t.Errorf("driver writes = %d, want 0", drv.Writes())
	}
}

func TestRefreshReadOnly(t *testing.T) {
	r, drv := newTestRegistry(t)

	if r.Refresh() {
		t.Error("refresh reported change with no input change")
	}
	drv.SetInput(17, true)
	if !r.Refresh() {
		t.Error("refresh did not report input change")
	}
	if ch, _ := r.Lookup("17"); ch.State != On {
		t.Errorf("pin 17 = %v, want ON", ch.State)
	}
}

func TestSnapshot(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Set("2", On); err != nil {
		t.Fatal(err)
	}

	var got map[string]int
	if err := json.Unmarshal(r.SnapshotJSON(), &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]int{"2": 1, "4": 0, "16": 0, "17": 0}
	if len(got) != len(want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("snapshot[%s] = %d, want %d", k, got[k], v)
		}
	}
}

func TestPins(t *testing.T) {
	r, _ := newTestRegistry(t)
	pins := r.Pins()
	want := []int{2, 4, 16, 17}
	for i := range want {
		if pins[i] != want[i] {
			t.Errorf("pins[%d] = %d, want %d", i, pins[i], want[i])
		}
	}
}

// flakyDriver fails reads while fail is set.
type flakyDriver struct {
	*gpio.MemoryDriver
	fail bool
}

func (f *flakyDriver) Read(pin int) (bool, error) {
	if f.fail {
		return false, errors.New("no reply")
	}
	return f.MemoryDriver.Read(pin)
}

func TestRefreshReadErrors(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	drv := &flakyDriver{MemoryDriver: gpio.NewMemoryDriver()}
	r, err := NewRegistry(testSpecs(), drv, logger)
	if err != nil {
		t.Fatal(err)
	}
	drv.SetInput(17, true)
	if !r.Refresh() {
		t.Fatal("no change after input went high")
	}

	drv.fail = true
	for i := 0; i < 5; i++ {
		if r.Refresh() {
			t.Error("failed read reported a change")
		}
	}
	if ch, _ := r.Lookup("17"); ch.State != On {
		t.Errorf("pin 17 = %v, want previous state ON", ch.State)
	}
	if n := strings.Count(logs.String(), `msg="read pin"`); n != 1 {
		t.Errorf("read failure logged %d times, want 1", n)
	}

	drv.fail = false
	r.Refresh()
	if !strings.Contains(logs.String(), "read pin recovered") {
		t.Error("recovery not logged")
	}
}
