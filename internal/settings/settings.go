// Package settings owns the device-tunable parameters and per-channel
// metadata, and their persisted record.
//
// The in-memory values held by Settings are the single writable projection
// of the record. They are mutated only through validated updates and are
// persisted as a whole on Save.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"gpio-go-home/internal/schema"
	"gpio-go-home/internal/store"
)

// Field schemas for settings-set and gpio config updates.
var (
	schemaInterval = json.RawMessage(fmt.Sprintf(`{"type":"integer","exclusiveMinimum":%d}`, MinSurveyInterval))
	schemaName     = json.RawMessage(`{"type":"string"}`)
	schemaGroup    = json.RawMessage(`{"enum":["lamp","pump","none"]}`)
	schemaLabel    = json.RawMessage(`{"type":"string"}`)
)

// Settings is the durable settings store.
type Settings struct {
	store     store.Store
	validator *schema.Validator
	logger    *slog.Logger

	device DeviceSettings
	gpio   []GPIOConfig
}

// New creates a Settings with defaults for the given channel pins.
// Call Load to adopt the persisted record.
func New(st store.Store, pins []int, validator *schema.Validator, logger *slog.Logger) *Settings {
	if validator == nil {
		validator = schema.NewValidator()
	}
	s := &Settings{
		store:     st,
		validator: validator,
		logger:    logger.With("component", "settings"),
		device:    Defaults(),
		gpio:      make([]GPIOConfig, len(pins)),
	}
	for i, pin := range pins {
		s.gpio[i] = GPIOConfig{PinNumber: pin, Group: GroupNone}
	}
	return s
}

// Device returns the current device settings.
func (s *Settings) Device() DeviceSettings {
	return s.device
}

// GPIOConfigs returns a copy of the per-channel metadata in channel order.
func (s *Settings) GPIOConfigs() []GPIOConfig {
	out := make([]GPIOConfig, len(s.gpio))
	copy(out, s.gpio)
	return out
}

// Load reads the persisted record.
//
// If no record exists the defaults are kept and immediately saved. If the
// record cannot be parsed, ErrCorrupt is returned, the in-memory values stay
// at their defaults and the stored record is left untouched.
func (s *Settings) Load() error {
	s.resetDefaults()

	data, err := s.store.GetRecord()
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("no settings record, saving defaults")
		return s.Save()
	}
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Error("parse settings record", "err", err)
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if rec.WifiScanInterval != nil {
		if *rec.WifiScanInterval > MinSurveyInterval {
			s.device.WifiScanInterval = *rec.WifiScanInterval
		} else {
			s.logger.Warn("persisted wifiScanInterval out of range, using default",
				"value", *rec.WifiScanInterval, "default", DefaultSurveyInterval)
		}
	}
	if rec.DeviceName != nil {
		s.device.DeviceName = *rec.DeviceName
	}
	for _, g := range rec.GPIOConfigs {
		i := s.gpioIndex(g.PinNumber)
		if i < 0 {
			s.logger.Debug("ignoring metadata for unconfigured pin", "pin", g.PinNumber)
			continue
		}
		if isGroup(g.Group) {
			s.gpio[i].Group = g.Group
		}
		s.gpio[i].Label = g.Label
	}

	s.logger.Info("settings loaded",
		"wifiScanInterval", s.device.WifiScanInterval,
		"deviceName", s.device.DeviceName)
	for _, g := range s.gpio {
		s.logger.Info("gpio metadata", "pin", g.PinNumber, "group", g.Group, "label", g.Label)
	}
	return nil
}

// Save writes the full current settings and channel metadata as one record.
func (s *Settings) Save() error {
	interval := s.device.WifiScanInterval
	name := s.device.DeviceName
	data, err := json.Marshal(record{
		WifiScanInterval: &interval,
		DeviceName:       &name,
		GPIOConfigs:      s.GPIOConfigs(),
	})
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.store.PutRecord(data); err != nil {
		s.logger.Error("save settings", "err", err)
		return fmt.Errorf("save settings: %w", err)
	}
	s.logger.Info("settings saved", "bytes", len(data))
	return nil
}

// Delete removes the persisted record. The next Load recreates defaults.
func (s *Settings) Delete() error {
	if err := s.store.DeleteRecord(); err != nil {
		s.logger.Error("delete settings", "err", err)
		return fmt.Errorf("delete settings: %w", err)
	}
	s.logger.Info("settings record deleted")
	return nil
}

// ApplyDevice applies a decoded settings-set object. Each recognized field
// is validated on its own; a rejected field does not stop the others.
// Unknown fields are ignored. It reports whether anything changed; the
// caller is responsible for publishing and saving.
func (s *Settings) ApplyDevice(fields map[string]any) (bool, []error) {
	var (
		changed bool
		errs    []error
	)

	if raw, ok := fields["wifiScanInterval"]; ok {
		if err := s.validator.Validate(schemaInterval, raw); err != nil {
			errs = append(errs, invalidField("wifiScanInterval", raw, err))
		} else if v, err := toInt64(raw); err != nil {
			errs = append(errs, invalidField("wifiScanInterval", raw, err))
		} else if v == s.device.WifiScanInterval {
			errs = append(errs, &FieldError{Field: "wifiScanInterval", Value: v, Err: ErrUnchanged})
		} else {
			s.device.WifiScanInterval = v
			changed = true
		}
	}

	if raw, ok := fields["deviceName"]; ok {
		if err := s.validator.Validate(schemaName, raw); err != nil {
			errs = append(errs, invalidField("deviceName", raw, err))
		} else if v, _ := raw.(string); v == s.device.DeviceName {
			errs = append(errs, &FieldError{Field: "deviceName", Value: v, Err: ErrUnchanged})
		} else {
			s.device.DeviceName = v
			changed = true
		}
	}

	for k := range fields {
		if k != "wifiScanInterval" && k != "deviceName" {
			s.logger.Debug("ignoring unknown setting", "field", k)
		}
	}
	return changed, errs
}

// ApplyGPIO applies a decoded gpio config update of the form
// {"<pin>": {"group": "...", "label": "..."}}.
func (s *Settings) ApplyGPIO(fields map[string]any) (bool, []error) {
	var (
		changed bool
		errs    []error
	)
	for key, raw := range fields {
		pin, err := strconv.Atoi(key)
		i := -1
		if err == nil {
			i = s.gpioIndex(pin)
		}
		if i < 0 {
			errs = append(errs, invalidField("pin", key, errors.New("unknown pin")))
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			errs = append(errs, invalidField(key, raw, errors.New("expected object")))
			continue
		}

		if g, ok := obj["group"]; ok {
			if err := s.validator.Validate(schemaGroup, g); err != nil {
				errs = append(errs, invalidField(key+".group", g, err))
			} else if grp := Group(g.(string)); grp != s.gpio[i].Group {
				s.gpio[i].Group = grp
				changed = true
			}
		}
		if l, ok := obj["label"]; ok {
			if err := s.validator.Validate(schemaLabel, l); err != nil {
				errs = append(errs, invalidField(key+".label", l, err))
			} else if label := l.(string); label != s.gpio[i].Label {
				s.gpio[i].Label = label
				changed = true
			}
		}
	}
	return changed, errs
}

func (s *Settings) resetDefaults() {
	s.device = Defaults()
	for i := range s.gpio {
		s.gpio[i].Group = GroupNone
		s.gpio[i].Label = ""
	}
}

func (s *Settings) gpioIndex(pin int) int {
	for i, g := range s.gpio {
		if g.PinNumber == pin {
			return i
		}
	}
	return -1
}

func isGroup(g Group) bool {
	switch g {
	case GroupLamp, GroupPump, GroupNone:
		return true
	}
	return false
}

// toInt64 accepts integral numbers in any JSON spelling, so 6000.0 is 6000.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return integral(f)
	case float64:
		return integral(n)
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func integral(f float64) (int64, error) {
	if f != math.Trunc(f) || f >= 1<<63 || f < -(1<<63) {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	return int64(f), nil
}
