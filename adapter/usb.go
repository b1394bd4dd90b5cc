package adapter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/gousb"
)

// Interface class codes
// Reference: http://www.usb.org/developers/defined_class
const (
	IfaceClassPrinter = 0x07
)

// DefaultPollTimeout bounds how long TryRead waits on the bulk IN endpoint.
// TryRead runs after every column, so it must stay short.
const DefaultPollTimeout = time.Millisecond

// USBAdapter manages USB printer communication
type USBAdapter struct {
	device      *gousb.Device
	ctx         *gousb.Context
	config      *gousb.Config
	iface       *gousb.Interface
	outEndpoint *gousb.OutEndpoint
	inEndpoint  *gousb.InEndpoint
	pollTimeout time.Duration
	pending     []byte
	packet      []byte
	isOpen      bool
	mu          sync.Mutex
	logger      *log.Logger
}

// NewUSBAdapter creates an adapter for the first device matching vid and
// one of pids. When none is attached it falls back to the first printer
// class device.
func NewUSBAdapter(vid uint16, pids []uint16) (*USBAdapter, error) {
	ctx := gousb.NewContext()

	device, err := selectDevice(
		func() (*gousb.Device, error) { return FindDevice(ctx, vid, pids) },
		func() []*gousb.Device { return FindPrinters(ctx) },
		closeDevice,
	)
	if err != nil {
		ctx.Close()
		return nil, err
	}

	return newUSBAdapter(ctx, device), nil
}

// NewUSBAdapterAuto creates adapter with auto-detection of any printer class device
func NewUSBAdapterAuto() (*USBAdapter, error) {
	ctx := gousb.NewContext()

	device, err := selectDevice(
		func() (*gousb.Device, error) {
			return nil, fmt.Errorf("%w: no USB printer class device", ErrNotFound)
		},
		func() []*gousb.Device { return FindPrinters(ctx) },
		closeDevice,
	)
	if err != nil {
		ctx.Close()
		return nil, err
	}

	return newUSBAdapter(ctx, device), nil
}

// selectDevice returns the exact match, or the first fallback candidate when
// no exact match is attached. Candidates not returned are released.
func selectDevice[D any](exact func() (D, error), fallback func() []D, release func(D)) (D, error) {
	dev, err := exact()
	if err == nil {
		return dev, nil
	}

	var zero D
	if !errors.Is(err, ErrNotFound) {
		return zero, err
	}

	candidates := fallback()
	if len(candidates) == 0 {
		return zero, err
	}
	for _, c := range candidates[1:] {
		release(c)
	}
	return candidates[0], nil
}

func closeDevice(dev *gousb.Device) {
	dev.Close()
}

func newUSBAdapter(ctx *gousb.Context, device *gousb.Device) *USBAdapter {
	return &USBAdapter{
		ctx:         ctx,
		device:      device,
		pollTimeout: DefaultPollTimeout,
		logger:      log.New(os.Stdout, "[USB] ", log.LstdFlags|log.Lmsgprefix),
	}
}

// SetLogger replaces the adapter logger
func (a *USBAdapter) SetLogger(logger *log.Logger) {
	a.logger = logger
}

// SetPollTimeout sets how long TryRead waits for a packet
func (a *USBAdapter) SetPollTimeout(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pollTimeout = d
}

// FindDevice opens the first device with the given vendor and one of the
// given products. Extra matches are closed.
func FindDevice(ctx *gousb.Context, vid uint16, pids []uint16) (*gousb.Device, error) {
	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) != vid {
			return false
		}
		for _, pid := range pids {
			if uint16(desc.Product) == pid {
				return true
			}
		}
		return false
	})
	if len(devices) == 0 {
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
		}
		return nil, fmt.Errorf("%w: vendor %04x products %04x", ErrNotFound, vid, pids)
	}

	for _, dev := range devices[1:] {
		dev.Close()
	}
	return devices[0], nil
}

// IsPrinter checks if a device is a printer
func IsPrinter(dev *gousb.Device) bool {
	if dev == nil {
		return false
	}

	cfg, err := dev.ActiveConfigNum()
	if err != nil {
		return false
	}

	cfgDesc, err := dev.Config(cfg)
	if err != nil {
		return false
	}
	defer cfgDesc.Close()

	return printerInterface(cfgDesc.Desc) >= 0
}

// FindPrinters returns all USB printer devices
func FindPrinters(ctx *gousb.Context) []*gousb.Device {
	var printers []*gousb.Device

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true // Check all devices
	})

	if err != nil && len(devices) == 0 {
		return printers
	}

	for _, dev := range devices {
		if IsPrinter(dev) {
			printers = append(printers, dev)
		} else {
			dev.Close()
		}
	}

	return printers
}

// printerInterface returns the number of the first printer class interface,
// or -1
func printerInterface(desc gousb.ConfigDesc) int {
	for _, iface := range desc.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == IfaceClassPrinter {
				return iface.Number
			}
		}
	}
	return -1
}

// Open opens the USB device and claims the printer interface
func (a *USBAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return errors.New("device already open")
	}

	if a.device == nil {
		return errors.New("device not found")
	}

	// Set auto-detach kernel driver on Linux, usblp usually owns the interface
	if runtime.GOOS == "linux" {
		if err := a.device.SetAutoDetach(true); err != nil {
			a.logger.Printf("Could not enable kernel driver auto-detach: %v", err)
		}
	}

	cfgNum, err := a.device.ActiveConfigNum()
	if err != nil {
		return fmt.Errorf("failed to get active config: %w", err)
	}

	cfg, err := a.device.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	ifaceNum := printerInterface(cfg.Desc)
	if ifaceNum < 0 {
		cfg.Close()
		return errors.New("no printer interface found")
	}

	iface, err := cfg.Interface(ifaceNum, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("failed to claim interface: %w", err)
	}

	var out *gousb.OutEndpoint
	var in *gousb.InEndpoint
	for _, epDesc := range iface.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut && out == nil {
			if ep, err := iface.OutEndpoint(epDesc.Number); err == nil {
				out = ep
			}
		}
		if epDesc.Direction == gousb.EndpointDirectionIn && in == nil {
			if ep, err := iface.InEndpoint(epDesc.Number); err == nil {
				in = ep
			}
		}
	}

	if out == nil || in == nil {
		iface.Close()
		cfg.Close()
		return errors.New("printer interface lacks bulk IN/OUT endpoints")
	}

	a.config = cfg
	a.iface = iface
	a.outEndpoint = out
	a.inEndpoint = in
	packetSize := in.Desc.MaxPacketSize
	if packetSize <= 0 {
		packetSize = 64
	}
	a.packet = make([]byte, packetSize)
	a.pending = nil
	a.isOpen = true
	a.logger.Printf("Opened %s on interface %d", a.device, ifaceNum)

	return nil
}

// Write sends data to the printer
func (a *USBAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	n, err := a.outEndpoint.Write(data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}

	return n, nil
}

// Read blocks until the printer sends a packet
func (a *USBAdapter) Read(buf []byte) (int, error) {
	return a.read(context.Background(), buf)
}

// TryRead waits at most the poll timeout for a packet
func (a *USBAdapter) TryRead(buf []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.pollTimeout)
	defer cancel()

	n, err := a.read(ctx, buf)
	if err != nil && ctx.Err() != nil {
		return n, ErrWouldBlock
	}
	if n == 0 && err == nil {
		return 0, ErrWouldBlock
	}
	return n, err
}

// read transfers whole packets so the endpoint never overflows, and keeps
// what does not fit in buf for the next call.
func (a *USBAdapter) read(ctx context.Context, buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	if len(a.pending) == 0 {
		n, err := a.inEndpoint.ReadContext(ctx, a.packet)
		if err != nil {
			return 0, fmt.Errorf("read failed: %w", err)
		}
		a.pending = a.packet[:n]
	}

	n := copy(buf, a.pending)
	a.pending = a.pending[n:]
	if n == 0 && len(buf) > 0 {
		// Zero length packet
		return 0, nil
	}
	return n, nil
}

// Close closes the USB device
func (a *USBAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error

	if a.iface != nil {
		a.iface.Close()
		a.iface = nil
	}

	if a.config != nil {
		if err := a.config.Close(); err != nil {
			errs = append(errs, err)
		}
		a.config = nil
	}

	if a.device != nil {
		if err := a.device.Close(); err != nil {
			errs = append(errs, err)
		}
		a.device = nil
	}

	if a.ctx != nil {
		if err := a.ctx.Close(); err != nil {
			errs = append(errs, err)
		}
		a.ctx = nil
	}

	a.isOpen = false

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}

	return nil
}

// IsOpen returns whether the device is open
func (a *USBAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

// GetDevice returns the underlying USB device
func (a *USBAdapter) GetDevice() *gousb.Device {
	return a.device
}

var _ Adapter = (*USBAdapter)(nil)
