package raster

import (
	"encoding/binary"
	"fmt"
)

// Encoder turns columns into transfer frames. The output buffer is owned by
// the encoder and reused, so the slice returned by Encode is only valid
// until the next call.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an encoder with its buffer sized for the worst case column
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, MaxFrameSize)}
}

// Encode compresses one column. An all-zero column becomes the single
// EmptyColumn byte, anything else becomes
//
//	0x47 <len_lsb> <len_msb> <runs>
//
// where len counts the run bytes only.
func (e *Encoder) Encode(column []byte) ([]byte, error) {
	if len(column) != RowBlockBytes {
		return nil, &EncodingError{Reason: fmt.Sprintf("column is %d bytes, want %d", len(column), RowBlockBytes)}
	}

	if isBlank(column) {
		e.buf = append(e.buf[:0], EmptyColumn)
		return e.buf, nil
	}

	out := append(e.buf[:0], TransferCommand, 0, 0)
	out = PackBits(out, column)

	payload := len(out) - FrameHeaderSize
	if payload > 0xFFFF {
		return nil, &EncodingError{Reason: fmt.Sprintf("payload of %d bytes does not fit the length field", payload)}
	}
	binary.LittleEndian.PutUint16(out[1:FrameHeaderSize], uint16(payload))

	e.buf = out
	return out, nil
}

// PackBits appends the run-length encoding of src to dst. Runs never exceed
// RowBlockBytes. A run of three or more equal bytes is written as
// <1-count> <byte>; everything else as <count-1> <bytes...>.
func PackBits(dst, src []byte) []byte {
	start := 0
	for start < len(src) {
		end := start + 1
		for end < len(src) && end-start < RowBlockBytes && src[end] == src[start] {
			end++
		}

		if n := end - start; n > 2 {
			dst = append(dst, byte(1-n), src[start])
			start = end
			continue
		}

		// A pair of equal bytes stays in the literal run. The literal stops
		// in front of the next byte that starts a pair.
		for end < len(src) && end-start < RowBlockBytes && !startsPair(src, end) {
			end++
		}
		dst = append(dst, byte(end-start-1))
		dst = append(dst, src[start:end]...)
		start = end
	}
	return dst
}

// startsPair reports whether src[i] equals its successor. The last byte has
// no successor inside the column and never starts a pair.
func startsPair(src []byte, i int) bool {
	return i+1 < len(src) && src[i] == src[i+1]
}

func isBlank(column []byte) bool {
	for _, b := range column {
		if b != 0 {
			return false
		}
	}
	return true
}
