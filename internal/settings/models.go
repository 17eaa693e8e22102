package settings

import "time"

// Defaults and limits for device settings.
const (
	// MinSurveyInterval is the exclusive lower bound for wifiScanInterval (ms).
	MinSurveyInterval     = 5000
	DefaultSurveyInterval = 60000
	DefaultDeviceName     = "ESP32-Dashboard"
)

// DeviceSettings holds the runtime-tunable device parameters.
type DeviceSettings struct {
	WifiScanInterval int64  `json:"wifiScanInterval"`
	DeviceName       string `json:"deviceName"`
}

// SurveyInterval returns WifiScanInterval as a duration.
func (d DeviceSettings) SurveyInterval() time.Duration {
	return time.Duration(d.WifiScanInterval) * time.Millisecond
}

// Defaults returns the settings used when no record has been persisted.
func Defaults() DeviceSettings {
	return DeviceSettings{
		WifiScanInterval: DefaultSurveyInterval,
		DeviceName:       DefaultDeviceName,
	}
}

// Group classifies what is attached to a channel.
type Group string

const (
	GroupLamp Group = "lamp"
	GroupPump Group = "pump"
	GroupNone Group = "none"
)

// GPIOConfig is the persisted per-channel metadata.
type GPIOConfig struct {
	PinNumber int    `json:"pinNumber"`
	Group     Group  `json:"group"`
	Label     string `json:"label"`
}

// record is the on-disk layout: settings and channel metadata in one value.
type record struct {
	WifiScanInterval *int64       `json:"wifiScanInterval,omitempty"`
	DeviceName       *string      `json:"deviceName,omitempty"`
	GPIOConfigs      []GPIOConfig `json:"gpioConfigs"`
}
