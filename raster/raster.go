// Package raster implements the column transfer encoding used by Brother
// P-Touch PT-H500/P700/E500 label printers.
package raster

import "fmt"

// Column geometry. Every column sent to the printer is RowBlockBytes bytes
// tall, one byte per 8 vertical dots, MSB first.
const (
	RowBlockBytes = 16
	ColumnDots    = RowBlockBytes * 8
)

// Wire bytes of the column transfer commands
const (
	EmptyColumn     byte = 0x5A
	TransferCommand byte = 0x47
	FrameHeaderSize      = 3
)

// MaxFrameSize is the worst case encoded size of one column: the frame
// header plus a one byte header for every source byte.
const MaxFrameSize = FrameHeaderSize + 2*RowBlockBytes

// EncodingError reports a column that cannot be turned into a transfer frame.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("raster encoding: %s", e.Reason)
}

// DecodeError reports a malformed transfer stream.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("raster decoding at offset %d: %s", e.Offset, e.Reason)
}
