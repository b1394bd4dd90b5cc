package adapter

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaudRate is the rate of the Bluetooth serial profile on P-Touch Cube models
const DefaultBaudRate = 9600

// SerialAdapter talks to a printer over a serial port, typically a
// Bluetooth SPP link
type SerialAdapter struct {
	path        string
	baud        int
	port        serial.Port
	pollTimeout time.Duration
	timeout     time.Duration
	isOpen      bool
	mu          sync.Mutex
	logger      *log.Logger
}

// NewSerialAdapter creates an adapter for the port at path
func NewSerialAdapter(path string, baud int) *SerialAdapter {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return &SerialAdapter{
		path:        path,
		baud:        baud,
		pollTimeout: DefaultPollTimeout,
		timeout:     serial.NoTimeout,
		logger:      log.New(os.Stdout, "[SERIAL] ", log.LstdFlags|log.Lmsgprefix),
	}
}

// SetLogger replaces the adapter logger
func (a *SerialAdapter) SetLogger(logger *log.Logger) {
	a.logger = logger
}

// SetPollTimeout sets how long TryRead waits for data
func (a *SerialAdapter) SetPollTimeout(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pollTimeout = d
}

// FindSerialPort returns the name of the first USB serial port whose
// vendor and product match
func FindSerialPort(vid uint16, pids []uint16) (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	for _, port := range ports {
		if !port.IsUSB || !matchesHexID(port.VID, vid) {
			continue
		}
		for _, pid := range pids {
			if matchesHexID(port.PID, pid) {
				return port.Name, nil
			}
		}
	}

	return "", fmt.Errorf("%w: no serial port for vendor %04x", ErrNotFound, vid)
}

func matchesHexID(s string, id uint16) bool {
	return strings.EqualFold(s, fmt.Sprintf("%04x", id))
}

// Open opens the serial port, 8N1 with DTR raised
func (a *SerialAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return errors.New("device already open")
	}

	port, err := serial.Open(a.path, &serial.Mode{
		BaudRate: a.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", a.path, err)
	}

	if err := port.SetDTR(true); err != nil {
		a.logger.Printf("Could not raise DTR on %s: %v", a.path, err)
	}

	a.port = port
	a.timeout = serial.NoTimeout
	a.isOpen = true
	a.logger.Printf("Opened %s at %d baud", a.path, a.baud)

	return nil
}

// Write sends data to the printer
func (a *SerialAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	n, err := a.port.Write(data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

// Read blocks until at least one byte arrives
func (a *SerialAdapter) Read(buf []byte) (int, error) {
	return a.read(buf, serial.NoTimeout)
}

// TryRead waits at most the poll timeout
func (a *SerialAdapter) TryRead(buf []byte) (int, error) {
	n, err := a.read(buf, a.pollTimeout)
	if n == 0 && err == nil {
		return 0, ErrWouldBlock
	}
	return n, err
}

func (a *SerialAdapter) read(buf []byte, timeout time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	if timeout != a.timeout {
		if err := a.port.SetReadTimeout(timeout); err != nil {
			return 0, fmt.Errorf("failed to set read timeout: %w", err)
		}
		a.timeout = timeout
	}

	n, err := a.port.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read failed: %w", err)
	}
	if n == 0 && timeout == serial.NoTimeout {
		// A blocking read only comes back empty when the port went away
		return 0, io.EOF
	}
	return n, nil
}

// Close closes the serial port
func (a *SerialAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return nil
	}

	a.isOpen = false
	if err := a.port.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

// IsOpen returns whether the port is open
func (a *SerialAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

var _ Adapter = (*SerialAdapter)(nil)
