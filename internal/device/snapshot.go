package device

import (
	"time"

	"gpio-go-home/internal/settings"
	"gpio-go-home/internal/survey"
)

// ChannelView is the read-only view of one channel.
type ChannelView struct {
	Pin   int    `json:"pin"`
	Role  string `json:"role"`
	State int    `json:"state"`
}

// Snapshot is an immutable copy of device state for observers on other
// goroutines.
type Snapshot struct {
	DeviceID    string                  `json:"deviceId"`
	Connection  string                  `json:"connection"`
	Survey      string                  `json:"survey"`
	Channels    []ChannelView           `json:"channels"`
	Settings    settings.DeviceSettings `json:"settings"`
	GPIOConfigs []settings.GPIOConfig   `json:"gpioConfigs"`
	LastSurvey  *survey.Result          `json:"lastSurvey,omitempty"`
	UpdatedAt   time.Time               `json:"updatedAt"`
}

// Snapshot returns the latest state copy. Safe for concurrent use.
func (d *Device) Snapshot() Snapshot {
	if s := d.snapshot.Load(); s != nil {
		return *s
	}
	return Snapshot{DeviceID: d.cfg.ID}
}

func (d *Device) refreshSnapshot() {
	chans := d.channels.Channels()
	views := make([]ChannelView, len(chans))
	for i, c := range chans {
		views[i] = ChannelView{Pin: c.Pin, Role: c.Role.String(), State: int(c.State)}
	}
	s := &Snapshot{
		DeviceID:    d.cfg.ID,
		Connection:  d.conn.State().String(),
		Survey:      d.survey.State().String(),
		Channels:    views,
		Settings:    d.settings.Device(),
		GPIOConfigs: d.settings.GPIOConfigs(),
		LastSurvey:  d.lastSurvey,
		UpdatedAt:   time.Now(),
	}
	d.snapshot.Store(s)
}
