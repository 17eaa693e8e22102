package gpio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// serialReplyTimeout bounds one request/reply exchange.
	serialReplyTimeout = 250 * time.Millisecond
	// serialHoldoff is how long commands fail fast after an unanswered one.
	serialHoldoff = 5 * time.Second
)

// ErrNoReply is returned when the expander does not answer in time.
var ErrNoReply = errors.New("serial gpio: no reply")

// inputResetter is implemented by serial.Port.
type inputResetter interface {
	ResetInputBuffer() error
}

// SerialDriver talks to an I/O expander over a serial line using a
// line-oriented ASCII protocol:
//
//	M <pin> O <0|1>   configure output with initial level   -> OK
//	M <pin> I         configure input                       -> OK
//	W <pin> <0|1>     drive output                          -> OK
//	R <pin>           read level                            -> V <0|1>
//
// Any command may instead be answered with "ERR <reason>".
//
// The port's read timeout makes Read return (0, nil) when the line is idle;
// that is treated as no reply. After an unanswered command the driver fails
// fast for serialHoldoff so a dead expander cannot stall the caller.
type SerialDriver struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	pending []byte
	now     func() time.Time
	holdoff time.Time
	logger  *slog.Logger
}

// OpenSerial opens portName at baudRate (8N1).
func OpenSerial(portName string, baudRate int, logger *slog.Logger) (*SerialDriver, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serial gpio: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(serialReplyTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial gpio: set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		logger.Warn("serial gpio: reset input buffer", "err", err)
	}
	return newSerialDriver(port, logger), nil
}

func newSerialDriver(port io.ReadWriteCloser, logger *slog.Logger) *SerialDriver {
	return &SerialDriver{
		port:   port,
		now:    time.Now,
		logger: logger.With("component", "serial-gpio"),
	}
}

func (d *SerialDriver) SetupOutput(pin int, high bool) error {
	_, err := d.command(fmt.Sprintf("M %d O %d", pin, level(high)))
	return err
}

func (d *SerialDriver) SetupInput(pin int) error {
	_, err := d.command(fmt.Sprintf("M %d I", pin))
	return err
}

func (d *SerialDriver) Write(pin int, high bool) error {
	_, err := d.command(fmt.Sprintf("W %d %d", pin, level(high)))
	return err
}

func (d *SerialDriver) Read(pin int) (bool, error) {
	reply, err := d.command(fmt.Sprintf("R %d", pin))
	if err != nil {
		return false, err
	}
	fields := strings.Fields(reply)
	if len(fields) != 2 || fields[0] != "V" {
		return false, fmt.Errorf("serial gpio: unexpected reply %q", reply)
	}
	v, err := strconv.Atoi(fields[1])
	if err != nil {
		return false, fmt.Errorf("serial gpio: bad level %q", fields[1])
	}
	return v != 0, nil
}

func (d *SerialDriver) Close() error {
	return d.port.Close()
}

// command writes one request line and returns the reply line.
func (d *SerialDriver) command(req string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.now().Before(d.holdoff) {
		return "", fmt.Errorf("%w to %q (expander unresponsive)", ErrNoReply, req)
	}
	if _, err := io.WriteString(d.port, req+"\n"); err != nil {
		return "", fmt.Errorf("serial gpio: write %q: %w", req, err)
	}
	line, err := d.readLine(d.now().Add(serialReplyTimeout))
	if errors.Is(err, ErrNoReply) {
		d.holdoff = d.now().Add(serialHoldoff)
		d.discardInput()
		d.logger.Warn("expander did not answer, backing off", "req", req, "holdoff", serialHoldoff)
		return "", fmt.Errorf("%w to %q", ErrNoReply, req)
	}
	if err != nil {
		return "", fmt.Errorf("serial gpio: read reply to %q: %w", req, err)
	}
	reply := strings.TrimSpace(line)
	d.logger.Debug("serial exchange", "req", req, "reply", reply)

	if strings.HasPrefix(reply, "ERR") {
		return "", fmt.Errorf("serial gpio: %q rejected: %s", req, strings.TrimSpace(strings.TrimPrefix(reply, "ERR")))
	}
	return reply, nil
}

// readLine returns the next newline-terminated line. A zero-byte read is
// the port's read timeout expiring.
func (d *SerialDriver) readLine(deadline time.Time) (string, error) {
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(d.pending, '\n'); i >= 0 {
			line := string(d.pending[:i])
			d.pending = d.pending[i+1:]
			return line, nil
		}
		if !d.now().Before(deadline) {
			return "", ErrNoReply
		}
		n, err := d.port.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", ErrNoReply
		}
		d.pending = append(d.pending, buf[:n]...)
	}
}

// discardInput drops partial and late replies so they are not matched to
// the next request.
func (d *SerialDriver) discardInput() {
	d.pending = nil
	if r, ok := d.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			d.logger.Warn("serial gpio: reset input buffer", "err", err)
		}
	}
}
