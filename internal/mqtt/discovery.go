package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// DiscoveryPrefix is the Home Assistant discovery root.
const DiscoveryPrefix = "homeassistant"

// DiscoveryMsg is a Home Assistant MQTT discovery payload.
type DiscoveryMsg struct {
	Topic   string // e.g. "homeassistant/switch/<node>/gpio_4/config"
	Payload []byte // JSON, empty means delete
}

// DiscoveryChannel describes one channel for discovery.
type DiscoveryChannel struct {
	Pin      int
	ReadOnly bool
	Label    string
	Group    string
}

// DiscoveryDevice describes the device for discovery.
type DiscoveryDevice struct {
	ID       string
	Name     string
	Topics   Topics
	Channels []DiscoveryChannel
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                 string   `json:"name"`
	UniqueID             string   `json:"unique_id"`
	StateTopic           string   `json:"state_topic"`
	CommandTopic         string   `json:"command_topic,omitempty"`
	CommandTemplate      string   `json:"command_template,omitempty"`
	AvailabilityTopic    string   `json:"availability_topic"`
	AvailabilityTemplate string   `json:"availability_template,omitempty"`
	PayloadAvailable     string   `json:"payload_available,omitempty"`
	PayloadNotAvailable  string   `json:"payload_not_available,omitempty"`
	ValueTemplate        string   `json:"value_template,omitempty"`
	UnitOfMeasurement    string   `json:"unit_of_measurement,omitempty"`
	DeviceClass          string   `json:"device_class,omitempty"`
	StateClass           string   `json:"state_class,omitempty"`
	EntityCategory       string   `json:"entity_category,omitempty"`
	Icon                 string   `json:"icon,omitempty"`
	PayloadOn            string   `json:"payload_on,omitempty"`
	PayloadOff           string   `json:"payload_off,omitempty"`
	StateOn              string   `json:"state_on,omitempty"`
	StateOff             string   `json:"state_off,omitempty"`
	Device               haDevice `json:"device"`
}

// BuildDiscovery generates HA discovery messages: a switch per controllable
// channel, a binary sensor per read-only channel and a signal sensor.
func BuildDiscovery(dev DiscoveryDevice) []DiscoveryMsg {
	nodeID := "gpio_" + dev.ID
	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "gpio-go-home",
		Model:        "GPIO bridge",
		Name:         dev.Name,
	}
	avail := availability{
		topic:    dev.Topics.Status,
		template: "{{ value_json.status }}",
	}

	msgs := make([]DiscoveryMsg, 0, len(dev.Channels)+1)
	for _, ch := range dev.Channels {
		if ch.ReadOnly {
			msgs = append(msgs, buildBinarySensor(nodeID, haDev, avail, dev.Topics, ch))
		} else {
			msgs = append(msgs, buildSwitch(nodeID, haDev, avail, dev.Topics, ch))
		}
	}
	msgs = append(msgs, buildSignalSensor(nodeID, haDev, avail, dev.Topics))
	return msgs
}

// BuildRemoveDiscovery generates empty retained messages that remove every
// entity BuildDiscovery could have created for these channels.
func BuildRemoveDiscovery(dev DiscoveryDevice) []DiscoveryMsg {
	nodeID := "gpio_" + dev.ID
	msgs := make([]DiscoveryMsg, 0, 2*len(dev.Channels)+1)
	for _, ch := range dev.Channels {
		obj := channelObjectID(ch.Pin)
		for _, comp := range []string{"switch", "binary_sensor"} {
			msgs = append(msgs, DiscoveryMsg{Topic: discoveryTopic(comp, nodeID, obj)})
		}
	}
	msgs = append(msgs, DiscoveryMsg{Topic: discoveryTopic("sensor", nodeID, "rssi")})
	return msgs
}

type availability struct {
	topic    string
	template string
}

func (a availability) apply(p *haDiscovery) {
	p.AvailabilityTopic = a.topic
	p.AvailabilityTemplate = a.template
	p.PayloadAvailable = "online"
	p.PayloadNotAvailable = "offline"
}

func discoveryTopic(component, nodeID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", DiscoveryPrefix, component, nodeID, objectID)
}

func channelObjectID(pin int) string {
	return "gpio_" + strconv.Itoa(pin)
}

func channelName(ch DiscoveryChannel) string {
	if ch.Label != "" {
		return ch.Label
	}
	return "GPIO " + strconv.Itoa(ch.Pin)
}

func groupIcon(group string) string {
	switch group {
	case "lamp":
		return "mdi:lightbulb"
	case "pump":
		return "mdi:pump"
	}
	return ""
}

func stateTemplate(pin int) string {
	return fmt.Sprintf("{{ value_json['%d'] }}", pin)
}

func buildSwitch(nodeID string, haDev haDevice, avail availability, t Topics, ch DiscoveryChannel) DiscoveryMsg {
	obj := channelObjectID(ch.Pin)
	payload := haDiscovery{
		Name:            channelName(ch),
		UniqueID:        nodeID + "_" + obj,
		StateTopic:      t.GPIOState,
		CommandTopic:    t.GPIOSet,
		CommandTemplate: fmt.Sprintf(`{"%d":"{{ value }}"}`, ch.Pin),
		ValueTemplate:   stateTemplate(ch.Pin),
		PayloadOn:       "ON",
		PayloadOff:      "OFF",
		StateOn:         "1",
		StateOff:        "0",
		Icon:            groupIcon(ch.Group),
		Device:          haDev,
	}
	avail.apply(&payload)
	return DiscoveryMsg{Topic: discoveryTopic("switch", nodeID, obj), Payload: mustJSON(payload)}
}

func buildBinarySensor(nodeID string, haDev haDevice, avail availability, t Topics, ch DiscoveryChannel) DiscoveryMsg {
	obj := channelObjectID(ch.Pin)
	payload := haDiscovery{
		Name:          channelName(ch),
		UniqueID:      nodeID + "_" + obj,
		StateTopic:    t.GPIOState,
		ValueTemplate: stateTemplate(ch.Pin),
		PayloadOn:     "1",
		PayloadOff:    "0",
		Icon:          groupIcon(ch.Group),
		Device:        haDev,
	}
	avail.apply(&payload)
	return DiscoveryMsg{Topic: discoveryTopic("binary_sensor", nodeID, obj), Payload: mustJSON(payload)}
}

func buildSignalSensor(nodeID string, haDev haDevice, avail availability, t Topics) DiscoveryMsg {
	payload := haDiscovery{
		Name:              "WiFi Signal",
		UniqueID:          nodeID + "_rssi",
		StateTopic:        t.Status,
		ValueTemplate:     "{{ value_json.rssi }}",
		UnitOfMeasurement: "dBm",
		DeviceClass:       "signal_strength",
		StateClass:        "measurement",
		EntityCategory:    "diagnostic",
		Device:            haDev,
	}
	avail.apply(&payload)
	return DiscoveryMsg{Topic: discoveryTopic("sensor", nodeID, "rssi"), Payload: mustJSON(payload)}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
