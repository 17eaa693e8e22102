package gpio

import (
	"errors"
	"fmt"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"
)

const consumerName = "gpio-home"

// ChipDriver drives lines of a Linux GPIO character device (e.g. gpiochip0).
type ChipDriver struct {
	mu    sync.Mutex
	chip  *gpiod.Chip
	lines map[int]*gpiod.Line
}

// OpenChip opens the named GPIO chip.
func OpenChip(name string) (*ChipDriver, error) {
	chip, err := gpiod.NewChip(name, gpiod.WithConsumer(consumerName))
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", name, err)
	}
	return &ChipDriver{chip: chip, lines: make(map[int]*gpiod.Line)}, nil
}

func (d *ChipDriver) SetupOutput(pin int, high bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.releaseLocked(pin); err != nil {
		return err
	}
	line, err := d.chip.RequestLine(pin, gpiod.AsOutput(level(high)))
	if err != nil {
		return fmt.Errorf("request output pin %d: %w", pin, err)
	}
	d.lines[pin] = line
	return nil
}

func (d *ChipDriver) SetupInput(pin int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.releaseLocked(pin); err != nil {
		return err
	}
	line, err := d.chip.RequestLine(pin, gpiod.AsInput)
	if err != nil {
		return fmt.Errorf("request input pin %d: %w", pin, err)
	}
	d.lines[pin] = line
	return nil
}

func (d *ChipDriver) Write(pin int, high bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	line, ok := d.lines[pin]
	if !ok {
		return fmt.Errorf("pin %d: %w", pin, ErrNotConfigured)
	}
	return line.SetValue(level(high))
}

func (d *ChipDriver) Read(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	line, ok := d.lines[pin]
	if !ok {
		return false, fmt.Errorf("pin %d: %w", pin, ErrNotConfigured)
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return v != 0, nil
}

func (d *ChipDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for pin, line := range d.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", pin, err))
		}
	}
	d.lines = make(map[int]*gpiod.Line)
	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		d.chip = nil
	}
	return errors.Join(errs...)
}

func (d *ChipDriver) releaseLocked(pin int) error {
	line, ok := d.lines[pin]
	if !ok {
		return nil
	}
	delete(d.lines, pin)
	if err := line.Close(); err != nil {
		return fmt.Errorf("release pin %d: %w", pin, err)
	}
	return nil
}

func level(high bool) int {
	if high {
		return 1
	}
	return 0
}
