package raster

import "encoding/binary"

// UnpackBits appends the expansion of PackBits data to dst.
func UnpackBits(dst, src []byte) ([]byte, error) {
	for i := 0; i < len(src); {
		h := int8(src[i])
		i++
		if h < 0 {
			if i >= len(src) {
				return dst, &DecodeError{Offset: i, Reason: "repeat run without value"}
			}
			for n := 1 - int(h); n > 0; n-- {
				dst = append(dst, src[i])
			}
			i++
			continue
		}

		n := int(h) + 1
		if i+n > len(src) {
			return dst, &DecodeError{Offset: i, Reason: "literal run past end of payload"}
		}
		dst = append(dst, src[i:i+n]...)
		i += n
	}
	return dst, nil
}

// Decode splits a stream of column transfer frames back into columns. Each
// returned column is RowBlockBytes long.
func Decode(stream []byte) ([][]byte, error) {
	var columns [][]byte
	for i := 0; i < len(stream); {
		switch stream[i] {
		case EmptyColumn:
			columns = append(columns, make([]byte, RowBlockBytes))
			i++

		case TransferCommand:
			if i+FrameHeaderSize > len(stream) {
				return columns, &DecodeError{Offset: i, Reason: "truncated frame header"}
			}
			size := int(binary.LittleEndian.Uint16(stream[i+1 : i+FrameHeaderSize]))
			start := i + FrameHeaderSize
			if start+size > len(stream) {
				return columns, &DecodeError{Offset: i, Reason: "truncated frame payload"}
			}
			column, err := UnpackBits(make([]byte, 0, RowBlockBytes), stream[start:start+size])
			if err != nil {
				return columns, err
			}
			if len(column) != RowBlockBytes {
				return columns, &DecodeError{Offset: i, Reason: "frame does not expand to one column"}
			}
			columns = append(columns, column)
			i = start + size

		default:
			return columns, &DecodeError{Offset: i, Reason: "unexpected command byte"}
		}
	}
	return columns, nil
}
