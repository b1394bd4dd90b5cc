//go:build linux

package adapter

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Locations of the usbmisc class in sysfs and of its device nodes
var (
	sysfsUsbmisc = "/sys/class/usbmisc"
	devUSB       = "/dev/usb"
)

// DeviceNodeAdapter talks to a printer through a usblp character device
// such as /dev/usb/lp0. The node is opened non-blocking, so writes may
// return EAGAIN and are retried by WriteFull.
type DeviceNodeAdapter struct {
	path   string
	fd     int
	isOpen bool
	mu     sync.Mutex
	logger *log.Logger
}

// NewDeviceNodeAdapter creates an adapter for the node at path
func NewDeviceNodeAdapter(path string) *DeviceNodeAdapter {
	return &DeviceNodeAdapter{
		path:   path,
		fd:     -1,
		logger: log.New(os.Stdout, "[DEVNODE] ", log.LstdFlags|log.Lmsgprefix),
	}
}

// SetLogger replaces the adapter logger
func (a *DeviceNodeAdapter) SetLogger(logger *log.Logger) {
	a.logger = logger
}

// FindDeviceNode looks up the usbmisc node of the first USB device with the
// given vendor and one of the given products.
func FindDeviceNode(vid uint16, pids []uint16) (string, error) {
	entries, err := filepath.Glob(filepath.Join(sysfsUsbmisc, "*"))
	if err != nil {
		return "", fmt.Errorf("failed to scan %s: %w", sysfsUsbmisc, err)
	}

	for _, entry := range entries {
		iface, err := filepath.EvalSymlinks(filepath.Join(entry, "device"))
		if err != nil {
			continue
		}
		// The class device hangs off the interface, the IDs live on its parent
		usbDevice := filepath.Dir(iface)
		vendor, err := readHexAttr(usbDevice, "idVendor")
		if err != nil || vendor != vid {
			continue
		}
		product, err := readHexAttr(usbDevice, "idProduct")
		if err != nil {
			continue
		}
		for _, pid := range pids {
			if product == pid {
				return filepath.Join(devUSB, filepath.Base(entry)), nil
			}
		}
	}

	return "", fmt.Errorf("%w: no usbmisc node for vendor %04x", ErrNotFound, vid)
}

func readHexAttr(dir, name string) (uint16, error) {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("bad %s attribute: %w", name, err)
	}
	return uint16(v), nil
}

// Open opens the device node read-write and non-blocking
func (a *DeviceNodeAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return errors.New("device already open")
	}

	fd, err := unix.Open(a.path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a.path, err)
	}

	a.fd = fd
	a.isOpen = true
	a.logger.Printf("Opened %s", a.path)
	return nil
}

// Write sends data to the printer. EAGAIN is passed through untouched.
func (a *DeviceNodeAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	n, err := unix.Write(a.fd, data)
	if n < 0 {
		n = 0
	}
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

// Read waits for the node to become readable, then reads
func (a *DeviceNodeAdapter) Read(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	fds := []unix.PollFd{{Fd: int32(a.fd), Events: unix.POLLIN}}
	if _, err := unix.Poll(fds, -1); err != nil {
		return 0, fmt.Errorf("poll failed: %w", err)
	}
	return a.readLocked(buf)
}

// TryRead reads without waiting
func (a *DeviceNodeAdapter) TryRead(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	n, err := a.readLocked(buf)
	if errors.Is(err, unix.EAGAIN) {
		return 0, ErrWouldBlock
	}
	return n, err
}

func (a *DeviceNodeAdapter) readLocked(buf []byte) (int, error) {
	n, err := unix.Read(a.fd, buf)
	if err != nil {
		return 0, fmt.Errorf("read failed: %w", err)
	}
	if n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Close closes the device node
func (a *DeviceNodeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return nil
	}

	a.isOpen = false
	err := unix.Close(a.fd)
	a.fd = -1
	if err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

// IsOpen returns whether the node is open
func (a *DeviceNodeAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

var _ Adapter = (*DeviceNodeAdapter)(nil)
