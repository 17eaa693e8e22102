package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gpio-go-home/internal/schema"
	"gpio-go-home/internal/store"
)

var testPins = []int{2, 4, 16, 17}

// memStore is an in-memory store.Store that counts writes.
type memStore struct {
	data    []byte
	puts    int
	putErr  error
	deleted bool
}

func (m *memStore) GetRecord() ([]byte, error) {
	if m.data == nil {
		return nil, fmt.Errorf("settings record: %w", store.ErrNotFound)
	}
	return append([]byte(nil), m.data...), nil
}

func (m *memStore) PutRecord(data []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *memStore) DeleteRecord() error {
	if m.data == nil {
		return store.ErrNotFound
	}
	m.data = nil
	m.deleted = true
	return nil
}

func (m *memStore) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSettings(st store.Store) *Settings {
	return New(st, testPins, schema.NewValidator(), testLogger())
}

func decodeObject(t *testing.T, payload string) map[string]any {
	t.Helper()
	v, err := schema.Decode([]byte(payload))
	if err != nil {
		t.Fatalf("decode %s: %v", payload, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("payload %s is not an object", payload)
	}
	return obj
}

func TestLoadMissingCreatesDefaults(t *testing.T) {
	st := &memStore{}
	s := newTestSettings(st)

	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	if got := s.Device(); got != Defaults() {
		t.Errorf("device = %+v, want %+v", got, Defaults())
	}
	if s.Device().WifiScanInterval != 60000 {
		t.Errorf("interval = %d, want 60000", s.Device().WifiScanInterval)
	}
	if s.Device().DeviceName != "ESP32-Dashboard" {
		t.Errorf("name = %q, want %q", s.Device().DeviceName, "ESP32-Dashboard")
	}
	if st.puts != 1 {
		t.Fatalf("puts = %d, want 1", st.puts)
	}

	var rec record
	if err := json.Unmarshal(st.data, &rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.GPIOConfigs) != len(testPins) {
		t.Errorf("gpioConfigs = %d, want %d", len(rec.GPIOConfigs), len(testPins))
	}
}

func TestLoadCorruptKeepsDefaultsAndFile(t *testing.T) {
	bad := []byte(`{"wifiScanInterval": 9000, "deviceName": `)
	st := &memStore{data: append([]byte(nil), bad...)}
	s := newTestSettings(st)

	err := s.Load()
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
	if got := s.Device(); got != Defaults() {
		t.Errorf("device = %+v, want defaults", got)
	}
	if st.puts != 0 {
		t.Errorf("puts = %d, corrupt record must not be rewritten", st.puts)
	}
	if st.deleted || string(st.data) != string(bad) {
		t.Errorf("record changed to %q", st.data)
	}
}

func TestLoadCorruptAfterModifiedResetsToDefaults(t *testing.T) {
	st := &memStore{}
	s := newTestSettings(st)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	s.ApplyDevice(decodeObject(t, `{"wifiScanInterval": 7000}`))

	st.data = []byte(`garbage`)
	if err := s.Load(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
	if s.Device().WifiScanInterval != DefaultSurveyInterval {
		t.Errorf("interval = %d, want default", s.Device().WifiScanInterval)
	}
}

func TestLoadPartialRecord(t *testing.T) {
	st := &memStore{data: []byte(`{"deviceName":"garage","gpioConfigs":[{"pinNumber":4,"group":"pump","label":"Well"},{"pinNumber":99,"group":"lamp","label":"x"}]}`)}
	s := newTestSettings(st)

	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if s.Device().DeviceName != "garage" {
		t.Errorf("name = %q, want %q", s.Device().DeviceName, "garage")
	}
	if s.Device().WifiScanInterval != DefaultSurveyInterval {
		t.Errorf("interval = %d, want default", s.Device().WifiScanInterval)
	}
	cfgs := s.GPIOConfigs()
	if cfgs[1].Group != GroupPump || cfgs[1].Label != "Well" {
		t.Errorf("pin 4 config = %+v", cfgs[1])
	}
	if cfgs[0].Group != GroupNone {
		t.Errorf("pin 2 group = %q, want none", cfgs[0].Group)
	}
}

func TestLoadOutOfRangeIntervalUsesDefault(t *testing.T) {
	st := &memStore{data: []byte(`{"wifiScanInterval":1000}`)}
	s := newTestSettings(st)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if s.Device().WifiScanInterval != DefaultSurveyInterval {
		t.Errorf("interval = %d, want %d", s.Device().WifiScanInterval, DefaultSurveyInterval)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tests := []struct {
		interval int64
		name     string
	}{
		{5001, "a"},
		{60000, "ESP32-Dashboard"},
		{3600000, "Küche / Pumpe \"2\""},
		{10000, ""},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.interval), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.db")
			bs, err := store.NewBoltStore(path)
			if err != nil {
				t.Fatal(err)
			}
			s := newTestSettings(bs)
			s.device = DeviceSettings{WifiScanInterval: tt.interval, DeviceName: tt.name}
			s.gpio[2].Group = GroupLamp
			s.gpio[2].Label = "Porch"
			if err := s.Save(); err != nil {
				t.Fatal(err)
			}
			bs.Close()

			bs, err = store.NewBoltStore(path)
			if err != nil {
				t.Fatal(err)
			}
			defer bs.Close()
			fresh := newTestSettings(bs)
			if err := fresh.Load(); err != nil {
				t.Fatal(err)
			}
			if fresh.Device() != s.Device() {
				t.Errorf("device = %+v, want %+v", fresh.Device(), s.Device())
			}
			if got := fresh.GPIOConfigs()[2]; got != s.GPIOConfigs()[2] {
				t.Errorf("gpio[2] = %+v, want %+v", got, s.GPIOConfigs()[2])
			}
		})
	}
}

func TestSaveFailureSurfaced(t *testing.T) {
	st := &memStore{putErr: errors.New("medium rejected write")}
	s := newTestSettings(st)
	if err := s.Save(); err == nil {
		t.Fatal("expected save error")
	}
}

func TestDeleteThenLoadRecreatesDefaults(t *testing.T) {
	st := &memStore{data: []byte(`{"wifiScanInterval":9000,"deviceName":"x"}`)}
	s := newTestSettings(st)
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if s.Device() != Defaults() {
		t.Errorf("device = %+v, want defaults", s.Device())
	}
	if st.data == nil {
		t.Error("defaults were not persisted after delete")
	}
	if err := st.DeleteRecord(); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("delete of missing record err = %v, want ErrNotFound", err)
	}
}

func TestApplyDevice(t *testing.T) {
	tests := []struct {
		name         string
		payload      string
		wantChanged  bool
		wantInterval int64
		wantName     string
		wantErrs     int
	}{
		{"below threshold", `{"wifiScanInterval": 3000}`, false, 60000, "ESP32-Dashboard", 1},
		{"at threshold", `{"wifiScanInterval": 5000}`, false, 60000, "ESP32-Dashboard", 1},
		{"valid interval", `{"wifiScanInterval": 15000}`, true, 15000, "ESP32-Dashboard", 0},
		{"same interval", `{"wifiScanInterval": 60000}`, false, 60000, "ESP32-Dashboard", 1},
		{"string interval", `{"wifiScanInterval": "15000"}`, false, 60000, "ESP32-Dashboard", 1},
		{"name only", `{"deviceName": "garden"}`, true, 60000, "garden", 0},
		{"bad interval good name", `{"wifiScanInterval": 10, "deviceName": "garden"}`, true, 60000, "garden", 1},
		{"empty name", `{"deviceName": ""}`, true, 60000, "", 0},
		{"long name", `{"deviceName": "` + strings.Repeat("x", 40) + `"}`, true, 60000, strings.Repeat("x", 40), 0},
		{"numeric name", `{"deviceName": 7}`, false, 60000, "ESP32-Dashboard", 1},
		{"integral float interval", `{"wifiScanInterval": 6000.0}`, true, 6000, "ESP32-Dashboard", 0},
		{"fractional interval", `{"wifiScanInterval": 6000.5}`, false, 60000, "ESP32-Dashboard", 1},
		{"unknown field only", `{"color": "red"}`, false, 60000, "ESP32-Dashboard", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSettings(&memStore{})
			changed, errs := s.ApplyDevice(decodeObject(t, tt.payload))
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if len(errs) != tt.wantErrs {
				t.Errorf("errs = %v, want %d", errs, tt.wantErrs)
			}
			if s.Device().WifiScanInterval != tt.wantInterval {
				t.Errorf("interval = %d, want %d", s.Device().WifiScanInterval, tt.wantInterval)
			}
			if s.Device().DeviceName != tt.wantName {
				t.Errorf("name = %q, want %q", s.Device().DeviceName, tt.wantName)
			}
			for _, err := range errs {
				var fe *FieldError
				if !errors.As(err, &fe) {
					t.Errorf("err %v is not a *FieldError", err)
				}
			}
		})
	}
}

func TestApplyGPIO(t *testing.T) {
	s := newTestSettings(&memStore{})

	changed, errs := s.ApplyGPIO(decodeObject(t, `{"4":{"group":"lamp","label":"Porch"},"99":{"group":"pump"},"16":{"group":"heater","label":"ok"}}`))
	if !changed {
		t.Error("changed = false, want true")
	}
	if len(errs) != 2 {
		t.Errorf("errs = %v, want 2 (unknown pin, bad group)", errs)
	}
	cfgs := s.GPIOConfigs()
	if cfgs[1] != (GPIOConfig{PinNumber: 4, Group: GroupLamp, Label: "Porch"}) {
		t.Errorf("pin 4 = %+v", cfgs[1])
	}
	if cfgs[2].Group != GroupNone || cfgs[2].Label != "ok" {
		t.Errorf("pin 16 = %+v, want group none label ok", cfgs[2])
	}

	changed, _ = s.ApplyGPIO(decodeObject(t, `{"4":{"group":"lamp","label":"Porch"}}`))
	if changed {
		t.Error("identical update reported as change")
	}
}

func TestGPIOConfigsReturnsCopy(t *testing.T) {
	s := newTestSettings(&memStore{})
	cfgs := s.GPIOConfigs()
	cfgs[0].Label = "mutated"
	if s.GPIOConfigs()[0].Label != "" {
		t.Error("GPIOConfigs exposed internal slice")
	}
}

func TestLongLabelsRoundTrip(t *testing.T) {
	st := &memStore{}
	s := newTestSettings(st)
	name := strings.Repeat("n", 80)
	label := strings.Repeat("l", 80)

	if changed, errs := s.ApplyDevice(map[string]any{"deviceName": name}); !changed || len(errs) != 0 {
		t.Fatalf("ApplyDevice changed=%v errs=%v", changed, errs)
	}
	if changed, errs := s.ApplyGPIO(decodeObject(t, `{"4":{"label":"`+label+`"}}`)); !changed || len(errs) != 0 {
		t.Fatalf("ApplyGPIO changed=%v errs=%v", changed, errs)
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	fresh := newTestSettings(st)
	if err := fresh.Load(); err != nil {
		t.Fatal(err)
	}
	if fresh.Device().DeviceName != name {
		t.Errorf("name = %q, want %d chars", fresh.Device().DeviceName, len(name))
	}
	for _, g := range fresh.GPIOConfigs() {
		if g.PinNumber == 4 && g.Label != label {
			t.Errorf("label = %q, want %d chars", g.Label, len(label))
		}
	}
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{json.Number("6000"), 6000, false},
		{json.Number("6000.0"), 6000, false},
		{json.Number("6e3"), 6000, false},
		{json.Number("6000.5"), 0, true},
		{float64(7000), 7000, false},
		{7000.25, 0, true},
		{"6000", 0, true},
	}
	for _, tt := range tests {
		got, err := toInt64(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("toInt64(%#v) = %d, %v; want %d, err %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
