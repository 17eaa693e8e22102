package mqtt

import (
	"encoding/hex"
	"net"
	"strings"
)

// DeviceID builds the device identity from the base name and the hardware
// address: "<base>-<MAC>" with uppercase hex and no separators.
func DeviceID(base string, mac net.HardwareAddr) string {
	return base + "-" + strings.ToUpper(hex.EncodeToString(mac))
}

// Topics is the fixed topic set of one device. Computed once at startup.
type Topics struct {
	Prefix string

	Status        string // pub, retained
	StatusGet     string // sub
	WifiScan      string // pub
	WifiGet       string // sub
	GPIOState     string // pub
	GPIOSet       string // sub
	GPIOGet       string // sub
	Settings      string // pub
	SettingsGet   string // sub
	SettingsSet   string // sub
	GPIOConfig    string // pub
	GPIOConfigSet string // sub
}

// NewTopics derives the topic set under esp32/<deviceID>/.
func NewTopics(deviceID string) Topics {
	p := "esp32/" + deviceID + "/"
	return Topics{
		Prefix:        p,
		Status:        p + "status",
		StatusGet:     p + "status/get",
		WifiScan:      p + "wifi/scan",
		WifiGet:       p + "wifi/get",
		GPIOState:     p + "gpio/state",
		GPIOSet:       p + "gpio/set",
		GPIOGet:       p + "gpio/get",
		Settings:      p + "settings",
		SettingsGet:   p + "settings/get",
		SettingsSet:   p + "settings/set",
		GPIOConfig:    p + "gpio/config",
		GPIOConfigSet: p + "gpio/config/set",
	}
}

// Subscriptions returns every topic the device subscribes to.
func (t Topics) Subscriptions() []string {
	return []string{
		t.StatusGet,
		t.WifiGet,
		t.GPIOSet,
		t.GPIOGet,
		t.SettingsGet,
		t.SettingsSet,
		t.GPIOConfigSet,
	}
}

// Kind returns the topic relative to the device prefix ("gpio/set"), or ""
// for topics outside it. Used for metrics labels and logging.
func (t Topics) Kind(topic string) string {
	if !strings.HasPrefix(topic, t.Prefix) {
		return ""
	}
	return strings.TrimPrefix(topic, t.Prefix)
}
