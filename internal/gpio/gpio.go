// Package gpio provides pin drivers for the channel table: Linux GPIO
// character devices, a serial-attached I/O expander, and an in-memory
// driver for development and tests.
package gpio

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotConfigured is returned when a pin is used before SetupOutput/SetupInput.
var ErrNotConfigured = errors.New("pin not configured")

// Driver drives and reads digital lines.
type Driver interface {
	SetupOutput(pin int, high bool) error
	SetupInput(pin int) error
	Write(pin int, high bool) error
	Read(pin int) (bool, error)
	Close() error
}

// MemoryDriver keeps pin levels in memory.
type MemoryDriver struct {
	mu      sync.Mutex
	levels  map[int]bool
	outputs map[int]bool
	writes  int
}

// NewMemoryDriver creates an empty in-memory driver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		levels:  make(map[int]bool),
		outputs: make(map[int]bool),
	}
}

func (m *MemoryDriver) SetupOutput(pin int, high bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = high
	m.outputs[pin] = true
	return nil
}

func (m *MemoryDriver) SetupInput(pin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.levels[pin]; !ok {
		m.levels[pin] = false
	}
	m.outputs[pin] = false
	return nil
}

func (m *MemoryDriver) Write(pin int, high bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	isOut, ok := m.outputs[pin]
	if !ok {
		return fmt.Errorf("pin %d: %w", pin, ErrNotConfigured)
	}
	if !isOut {
		return fmt.Errorf("pin %d is an input", pin)
	}
	m.levels[pin] = high
	m.writes++
	return nil
}

func (m *MemoryDriver) Read(pin int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outputs[pin]; !ok {
		return false, fmt.Errorf("pin %d: %w", pin, ErrNotConfigured)
	}
	return m.levels[pin], nil
}

// SetInput simulates an external level change on an input pin.
func (m *MemoryDriver) SetInput(pin int, high bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = high
}

// Writes returns the number of successful Write calls.
func (m *MemoryDriver) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryDriver) Close() error { return nil }
