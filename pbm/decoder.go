package pbm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// MaxDimension bounds both declared dimensions
const MaxDimension = 1 << 20

// Supported magic numbers
const (
	TypeASCII  = 1 // P1
	TypeBinary = 4 // P4
)

// FormatError reports a malformed header
type FormatError struct {
	Offset int64
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("pbm: %s at offset %d", e.Reason, e.Offset)
}

type state int

const (
	stateMagic state = iota
	stateType
	stateDimInit
	stateWidth
	stateWidthDone
	stateHeight
	stateDataASCII
	stateDataBinary
	stateFinished
)

func (s state) String() string {
	switch s {
	case stateMagic:
		return "magic"
	case stateType:
		return "type"
	case stateDimInit:
		return "dimensions"
	case stateWidth:
		return "width"
	case stateWidthDone:
		return "width done"
	case stateHeight:
		return "height"
	case stateDataASCII:
		return "ascii data"
	case stateDataBinary:
		return "binary data"
	case stateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s state) inHeader() bool {
	return s < stateDataASCII
}

// Decoder is the scanner state for one bitmap
type Decoder struct {
	r      *bufio.Reader
	offset int64

	state  state
	typ    int
	value  int
	width  int
	height int
	x, y   int
	bitmap *Bitmap
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads one bitmap. Input that ends inside the pixel data yields the
// partially filled bitmap without error; input that ends inside the header
// is a FormatError.
func Decode(r io.Reader) (*Bitmap, error) {
	return NewDecoder(r).Decode()
}

// Decode runs the scanner until the bitmap is complete or the input ends.
func (d *Decoder) Decode() (*Bitmap, error) {
	for d.state != stateFinished {
		c, err := d.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if c == '#' && d.state.inHeader() {
			if c, err = d.skipComment(); errors.Is(err, io.EOF) {
				break
			} else if err != nil {
				return nil, err
			}
		}

		if err := d.step(c); err != nil {
			return nil, err
		}
	}

	if d.state.inHeader() {
		return nil, d.fail("unexpected end of header in %s", d.state)
	}
	return d.bitmap, nil
}

func (d *Decoder) next() (byte, error) {
	c, err := d.r.ReadByte()
	if err == nil {
		d.offset++
	}
	return c, err
}

// skipComment consumes up to and including the end of line and returns the
// newline so it still terminates a pending token.
func (d *Decoder) skipComment() (byte, error) {
	for {
		c, err := d.next()
		if err != nil {
			return 0, err
		}
		if c == '\n' {
			return c, nil
		}
	}
}

func (d *Decoder) step(c byte) error {
	switch d.state {
	case stateMagic:
		return d.stepMagic(c)
	case stateType:
		return d.stepType(c)
	case stateDimInit, stateWidth, stateWidthDone, stateHeight:
		return d.stepDimension(c)
	case stateDataASCII:
		d.stepASCII(c)
		return nil
	case stateDataBinary:
		d.stepBinary(c)
		return nil
	default:
		return d.fail("unexpected byte in %s", d.state)
	}
}

func (d *Decoder) stepMagic(c byte) error {
	if c != 'P' {
		return d.fail("missing magic number")
	}
	d.state = stateType
	d.typ = 0
	return nil
}

func (d *Decoder) stepType(c byte) error {
	if isSpace(c) {
		if d.typ != TypeASCII && d.typ != TypeBinary {
			return d.fail("unsupported type P%d", d.typ)
		}
		d.state = stateDimInit
		d.value = 0
		return nil
	}
	if !isDigit(c) {
		return d.fail("invalid type character %q", c)
	}
	if d.typ = d.typ*10 + int(c-'0'); d.typ > 9 {
		return d.fail("unsupported type P%d", d.typ)
	}
	return nil
}

func (d *Decoder) stepDimension(c byte) error {
	if isSpace(c) {
		switch d.state {
		case stateWidth:
			if d.value <= 0 {
				return d.fail("width must be positive")
			}
			d.width = d.value
			d.value = 0
			d.state = stateWidthDone
		case stateHeight:
			if d.value <= 0 {
				return d.fail("height must be positive")
			}
			d.height = d.value
			d.startData()
		}
		return nil
	}

	if !isDigit(c) {
		return d.fail("invalid dimension character %q", c)
	}
	switch d.state {
	case stateDimInit:
		d.state = stateWidth
	case stateWidthDone:
		d.state = stateHeight
	}
	if d.value = d.value*10 + int(c-'0'); d.value > MaxDimension {
		return d.fail("dimension exceeds %d", MaxDimension)
	}
	return nil
}

func (d *Decoder) startData() {
	d.bitmap = NewBitmap(d.width, d.height)
	d.x, d.y = 0, 0
	if d.typ == TypeASCII {
		d.state = stateDataASCII
	} else {
		d.state = stateDataBinary
	}
}

// Only '0' and '1' advance the position, everything else separates.
func (d *Decoder) stepASCII(c byte) {
	if c != '0' && c != '1' {
		return
	}
	if c == '1' {
		d.bitmap.Set(d.x, d.y)
	}
	d.x++
	d.endOfRow()
}

// Every byte carries 8 pixels, MSB first. The padding bits of the last byte
// in a row fall outside the width and are dropped by Set.
func (d *Decoder) stepBinary(c byte) {
	for i := 0; i < 8; i++ {
		if c&(0x80>>i) != 0 {
			d.bitmap.Set(d.x+i, d.y)
		}
	}
	d.x += 8
	d.endOfRow()
}

func (d *Decoder) endOfRow() {
	if d.x < d.width {
		return
	}
	d.x = 0
	d.y++
	if d.y >= d.height {
		d.state = stateFinished
	}
}

func (d *Decoder) fail(format string, args ...any) error {
	return &FormatError{Offset: d.offset, Reason: fmt.Sprintf(format, args...)}
}

// isSpace treats every control character as a separator.
func isSpace(c byte) bool {
	return c <= ' '
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
