//go:build linux

package adapter

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeUsbmisc builds a sysfs-like tree: class/<node>/device -> interface dir
// whose parent carries idVendor and idProduct
func fakeUsbmisc(t *testing.T, node, vendor, product string) {
	t.Helper()
	root := t.TempDir()

	usbDevice := filepath.Join(root, "devices", "usb1", "1-1")
	iface := filepath.Join(usbDevice, "1-1:1.0")
	require.NoError(t, os.MkdirAll(iface, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(usbDevice, "idVendor"), []byte(vendor+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(usbDevice, "idProduct"), []byte(product+"\n"), 0o644))

	class := filepath.Join(root, "class", "usbmisc", node)
	require.NoError(t, os.MkdirAll(class, 0o755))
	require.NoError(t, os.Symlink(iface, filepath.Join(class, "device")))

	oldSysfs, oldDev := sysfsUsbmisc, devUSB
	sysfsUsbmisc = filepath.Join(root, "class", "usbmisc")
	devUSB = filepath.Join(root, "dev", "usb")
	t.Cleanup(func() {
		sysfsUsbmisc, devUSB = oldSysfs, oldDev
	})
}

func TestFindDeviceNode(t *testing.T) {
	fakeUsbmisc(t, "lp0", "04f9", "2061")

	path, err := FindDeviceNode(VendorBrother, BrotherProducts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(devUSB, "lp0"), path)
}

func TestFindDeviceNodeOtherPrinter(t *testing.T) {
	fakeUsbmisc(t, "lp0", "04b8", "0202")

	_, err := FindDeviceNode(VendorBrother, BrotherProducts)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindDeviceNodeUnknownProduct(t *testing.T) {
	fakeUsbmisc(t, "lp1", "04f9", "2062")

	_, err := FindDeviceNode(VendorBrother, BrotherProducts)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeviceNodeAdapterFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lp0")
	require.NoError(t, unix.Mkfifo(path, 0o600))

	a := NewDeviceNodeAdapter(path)
	a.SetLogger(log.New(io.Discard, "", 0))

	_, err := a.Write([]byte{0x00})
	assert.Error(t, err)

	require.NoError(t, a.Open())
	defer a.Close()
	assert.True(t, a.IsOpen())
	assert.Error(t, a.Open())

	buf := make([]byte, 8)
	_, err = a.TryRead(buf)
	assert.ErrorIs(t, err, ErrWouldBlock)

	require.NoError(t, WriteFull(a, []byte{0x1B, 0x69, 0x53}))

	n, err := a.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1B, 0x69, 0x53}, buf[:n])

	require.NoError(t, a.Close())
	assert.False(t, a.IsOpen())
	assert.NoError(t, a.Close())
}

func TestDeviceNodeAdapterMissingNode(t *testing.T) {
	a := NewDeviceNodeAdapter(filepath.Join(t.TempDir(), "missing"))
	a.SetLogger(log.New(io.Discard, "", 0))

	err := a.Open()
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.ENOENT)
}
