// Package pbm reads portable bitmaps into the column-major layout the
// printer consumes.
package pbm

import (
	"fmt"

	"github.com/nixxel-company-limited/ptouch-usb-printer/raster"
)

// Bitmap is a monochrome image stored as columns of raster.RowBlockBytes
// bytes. Bit 7 of byte 0 in a column is row 0. Rows at or beyond
// raster.ColumnDots are not stored.
type Bitmap struct {
	data          []byte
	width, height int
}

// NewBitmap allocates an empty bitmap
func NewBitmap(width, height int) *Bitmap {
	return &Bitmap{
		data:   make([]byte, width*raster.RowBlockBytes),
		width:  width,
		height: height,
	}
}

func (b *Bitmap) Width() int {
	return b.width
}

// Height returns the declared height, which may exceed what a column holds.
func (b *Bitmap) Height() int {
	return b.height
}

// Data returns the whole column buffer
func (b *Bitmap) Data() []byte {
	return b.data
}

// Column returns the bytes of column x. The slice aliases the bitmap.
func (b *Bitmap) Column(x int) []byte {
	return b.data[x*raster.RowBlockBytes : (x+1)*raster.RowBlockBytes]
}

// Set blackens the pixel at (x, y). Coordinates outside the bitmap or below
// the printable column are ignored.
func (b *Bitmap) Set(x, y int) {
	if x < 0 || x >= b.width || y < 0 || y >= b.height || y >= raster.ColumnDots {
		return
	}
	b.data[x*raster.RowBlockBytes+y/8] |= 0x80 >> (y % 8)
}

// Pixel reports whether the pixel at (x, y) is black
func (b *Bitmap) Pixel(x, y int) bool {
	if x < 0 || x >= b.width || y < 0 || y >= b.height || y >= raster.ColumnDots {
		return false
	}
	return b.data[x*raster.RowBlockBytes+y/8]&(0x80>>(y%8)) != 0
}

func (b *Bitmap) String() string {
	return fmt.Sprintf("Bitmap(%d,%d)", b.width, b.height)
}
