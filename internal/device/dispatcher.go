package device

import (
	"errors"
	"sort"

	"gpio-go-home/internal/channel"
	"gpio-go-home/internal/mqtt"
	"gpio-go-home/internal/settings"
)

// Handle routes one inbound message by exact topic match. It runs on the
// loop goroutine during the connection tick.
func (d *Device) Handle(topic string, payload []byte) {
	switch topic {
	case d.topics.GPIOSet:
		d.handleGPIOSet(payload)
	case d.topics.StatusGet:
		d.AnnounceStatus()
	case d.topics.WifiGet:
		if d.survey.RequestSurvey() {
			d.emit(EventSurvey, d.survey.State().String())
		}
	case d.topics.GPIOGet:
		d.publishChannels()
	case d.topics.SettingsGet:
		d.publishSettings()
	case d.topics.SettingsSet:
		d.handleSettingsSet(payload)
	case d.topics.GPIOConfigSet:
		d.handleGPIOConfigSet(payload)
	default:
		d.logger.Warn("message on unhandled topic", "topic", topic)
	}
}

func (d *Device) handleGPIOSet(payload []byte) {
	cmd, err := mqtt.DecodeObject(d.validator, payload)
	if err != nil {
		d.logger.Warn("gpio/set rejected", "err", err)
		return
	}

	for _, id := range sortedKeys(cmd) {
		state, ok := channel.ParseState(cmd[id])
		if !ok {
			d.logger.Warn("unrecognized state token", "channel", id, "token", cmd[id])
			continue
		}
		if err := d.channels.Set(id, state); err != nil {
			switch {
			case errors.Is(err, channel.ErrUnknown):
				d.logger.Warn("unknown channel", "channel", id)
			case errors.Is(err, channel.ErrReadOnly):
				d.logger.Warn("channel is read-only", "channel", id)
			default:
				d.logger.Error("set channel", "channel", id, "err", err)
			}
		}
	}
	d.publishChannels()
}

func (d *Device) handleSettingsSet(payload []byte) {
	fields, err := mqtt.DecodeObject(d.validator, payload)
	if err != nil {
		d.logger.Warn("settings/set rejected", "err", err)
		return
	}

	changed, errs := d.settings.ApplyDevice(fields)
	logFieldErrors(d, "settings/set", errs)
	if !changed {
		return
	}
	d.publishSettings()
	d.save()
}

func (d *Device) handleGPIOConfigSet(payload []byte) {
	fields, err := mqtt.DecodeGPIOConfig(d.validator, payload)
	if err != nil {
		d.logger.Warn("gpio/config/set rejected", "err", err)
		return
	}

	changed, errs := d.settings.ApplyGPIO(fields)
	logFieldErrors(d, "gpio/config/set", errs)
	if !changed {
		return
	}
	d.publishGPIOConfig()
	d.save()
	if d.cfg.Discovery {
		d.publishDiscovery()
	}
}

func (d *Device) save() {
	err := d.settings.Save()
	d.metrics.SettingsSaved(err)
	if err != nil {
		// In-memory settings stay authoritative until the next successful save.
		d.logger.Error("persist settings", "err", err)
	}
}

func logFieldErrors(d *Device, route string, errs []error) {
	for _, err := range errs {
		var fe *settings.FieldError
		if errors.As(err, &fe) && errors.Is(fe, settings.ErrUnchanged) {
			d.logger.Debug("field unchanged", "route", route, "field", fe.Field)
			continue
		}
		d.logger.Warn("field rejected", "route", route, "err", err)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
