// Package channel holds the fixed table of addressable I/O channels and
// their current logical state.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"gpio-go-home/internal/gpio"
)

var (
	// ErrUnknown is returned for a channel identifier not in the table.
	ErrUnknown = errors.New("unknown channel")
	// ErrReadOnly is returned when a read-only channel is asked to change.
	ErrReadOnly = errors.New("channel is read-only")
)

// Role says whether a channel may be driven by commands.
type Role int

const (
	RoleControllable Role = iota
	RoleReadOnly
)

func (r Role) String() string {
	if r == RoleReadOnly {
		return "read-only"
	}
	return "controllable"
}

// ParseRole accepts the config spellings of a role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "", "controllable", "output":
		return RoleControllable, nil
	case "read-only", "readonly", "input":
		return RoleReadOnly, nil
	}
	return 0, fmt.Errorf("unknown channel role %q", s)
}

// State is the logical level of a channel.
type State int

const (
	Off State = 0
	On  State = 1
)

func (s State) String() string {
	if s == On {
		return "ON"
	}
	return "OFF"
}

// ParseState maps a command token to a state.
// ON, 1 and HIGH mean on; OFF, 0 and LOW mean off. Numbers are accepted in
// their decimal form. Anything else is unrecognized.
func ParseState(v any) (State, bool) {
	var tok string
	switch t := v.(type) {
	case string:
		tok = t
	case json.Number:
		tok = t.String()
	case float64:
		tok = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return Off, false
	}
	switch tok {
	case "ON", "1", "HIGH":
		return On, true
	case "OFF", "0", "LOW":
		return Off, true
	}
	return Off, false
}

// Channel is one addressable digital I/O line.
type Channel struct {
	Index int
	Pin   int
	Role  Role
	State State
}

// ID returns the identifier used in payload keys.
func (c Channel) ID() string {
	return strconv.Itoa(c.Pin)
}

// Spec describes a channel in the build-time table.
type Spec struct {
	Pin  int
	Role Role
}

// Registry is the ordered channel table.
//
// Controllable channel state is written only through Set; read-only channel
// state only through Refresh.
type Registry struct {
	channels []Channel
	driver   gpio.Driver
	logger   *slog.Logger

	failing map[int]bool // pins whose last read failed
}

// NewRegistry builds the table and configures each line on the driver.
// Controllable channels start off.
func NewRegistry(specs []Spec, driver gpio.Driver, logger *slog.Logger) (*Registry, error) {
	if len(specs) == 0 {
		return nil, errors.New("channel table is empty")
	}
	r := &Registry{
		channels: make([]Channel, len(specs)),
		driver:   driver,
		logger:   logger.With("component", "channels"),
		failing:  make(map[int]bool),
	}
	seen := make(map[int]bool, len(specs))
	for i, sp := range specs {
		if seen[sp.Pin] {
			return nil, fmt.Errorf("duplicate channel pin %d", sp.Pin)
		}
		seen[sp.Pin] = true
		r.channels[i] = Channel{Index: i, Pin: sp.Pin, Role: sp.Role, State: Off}

		if sp.Role == RoleReadOnly {
			if err := driver.SetupInput(sp.Pin); err != nil {
				return nil, fmt.Errorf("setup input %d: %w", sp.Pin, err)
			}
			continue
		}
		if err := driver.SetupOutput(sp.Pin, false); err != nil {
			return nil, fmt.Errorf("setup output %d: %w", sp.Pin, err)
		}
	}
	r.Refresh()
	return r, nil
}

// Channels returns a copy of the table in order.
func (r *Registry) Channels() []Channel {
	out := make([]Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// Pins returns the hardware ids in table order.
func (r *Registry) Pins() []int {
	pins := make([]int, len(r.channels))
	for i, c := range r.channels {
		pins[i] = c.Pin
	}
	return pins
}

// Lookup finds a channel by its payload identifier.
func (r *Registry) Lookup(id string) (Channel, bool) {
	i := r.index(id)
	if i < 0 {
		return Channel{}, false
	}
	return r.channels[i], true
}

// Set drives a controllable channel and records its new state.
func (r *Registry) Set(id string, state State) error {
	i := r.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	ch := &r.channels[i]
	if ch.Role == RoleReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, id)
	}
	if err := r.driver.Write(ch.Pin, state == On); err != nil {
		return fmt.Errorf("write pin %d: %w", ch.Pin, err)
	}
	ch.State = state
	r.logger.Info("channel set", "pin", ch.Pin, "state", state.String())
	return nil
}

// Refresh reads every read-only channel from the driver and reports
// whether any state changed. Read errors keep the previous state and are
// logged once per failure streak.
func (r *Registry) Refresh() bool {
	changed := false
	for i := range r.channels {
		ch := &r.channels[i]
		if ch.Role != RoleReadOnly {
			continue
		}
		high, err := r.driver.Read(ch.Pin)
		if err != nil {
			if !r.failing[ch.Pin] {
				r.failing[ch.Pin] = true
				r.logger.Warn("read pin", "pin", ch.Pin, "err", err)
			}
			continue
		}
		if r.failing[ch.Pin] {
			delete(r.failing, ch.Pin)
			r.logger.Info("read pin recovered", "pin", ch.Pin)
		}
		st := Off
		if high {
			st = On
		}
		if st != ch.State {
			ch.State = st
			changed = true
		}
	}
	return changed
}

// Snapshot returns the flat {"<id>": 0|1} mapping of every channel.
func (r *Registry) Snapshot() map[string]int {
	snap := make(map[string]int, len(r.channels))
	for _, c := range r.channels {
		snap[c.ID()] = int(c.State)
	}
	return snap
}

// SnapshotJSON encodes Snapshot.
func (r *Registry) SnapshotJSON() []byte {
	data, err := json.Marshal(r.Snapshot())
	if err != nil {
		return []byte("{}")
	}
	return data
}

func (r *Registry) index(id string) int {
	pin, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil {
		return -1
	}
	for i, c := range r.channels {
		if c.Pin == pin {
			return i
		}
	}
	return -1
}
