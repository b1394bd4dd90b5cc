package adapter

import "errors"

// Brother label printers handled by this package
const (
	VendorBrother = 0x04f9
	ProductPTH500 = 0x205e
	ProductPTE500 = 0x205f
	ProductPTP700 = 0x2061
)

// BrotherProducts lists the product IDs speaking the PT-H500/P700/E500 raster protocol
var BrotherProducts = []uint16{ProductPTH500, ProductPTE500, ProductPTP700}

// ErrNotFound is returned when no matching printer is attached
var ErrNotFound = errors.New("printer not found")

// Adapter defines the interface for printer communication adapters
type Adapter interface {
	// Open opens the connection to the printer
	Open() error

	// Write sends data to the printer
	Write(data []byte) (int, error)

	// Read blocks until data is available and reads it
	Read(buf []byte) (int, error)

	// TryRead reads only what is already available. It returns ErrWouldBlock
	// when there is nothing to read.
	TryRead(buf []byte) (int, error)

	// Close closes the connection to the printer
	Close() error

	// IsOpen returns whether the connection is open
	IsOpen() bool
}
