//go:build !linux

package adapter

import (
	"errors"
	"fmt"
	"log"
)

var errNoDeviceNodes = errors.New("usbmisc device nodes are only available on linux")

// DeviceNodeAdapter is unavailable on this platform
type DeviceNodeAdapter struct {
	path string
}

// NewDeviceNodeAdapter creates an adapter that fails to open
func NewDeviceNodeAdapter(path string) *DeviceNodeAdapter {
	return &DeviceNodeAdapter{path: path}
}

// SetLogger is a no-op
func (a *DeviceNodeAdapter) SetLogger(logger *log.Logger) {}

// FindDeviceNode always fails
func FindDeviceNode(vid uint16, pids []uint16) (string, error) {
	return "", fmt.Errorf("%w: %w", ErrNotFound, errNoDeviceNodes)
}

func (a *DeviceNodeAdapter) Open() error                     { return errNoDeviceNodes }
func (a *DeviceNodeAdapter) Write(data []byte) (int, error)  { return 0, errNoDeviceNodes }
func (a *DeviceNodeAdapter) Read(buf []byte) (int, error)    { return 0, errNoDeviceNodes }
func (a *DeviceNodeAdapter) TryRead(buf []byte) (int, error) { return 0, errNoDeviceNodes }
func (a *DeviceNodeAdapter) Close() error                    { return nil }
func (a *DeviceNodeAdapter) IsOpen() bool                    { return false }

var _ Adapter = (*DeviceNodeAdapter)(nil)
