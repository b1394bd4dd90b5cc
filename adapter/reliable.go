package adapter

import (
	"errors"
	"fmt"
	"io"
	"syscall"
)

// ErrWouldBlock is returned by TryRead when no data is pending
var ErrWouldBlock = errors.New("operation would block")

// IsRetryable reports whether an I/O error only means "try again":
// interrupted system calls and would-block conditions.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrWouldBlock) ||
		errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.EAGAIN)
}

// WriteFull writes all of data, retrying on interrupted and would-block
// errors. Any other error aborts the write.
func WriteFull(w io.Writer, data []byte) error {
	offset := 0
	for offset < len(data) {
		n, err := w.Write(data[offset:])
		if n > 0 {
			offset += n
		}
		if err != nil {
			if IsRetryable(err) {
				continue
			}
			return fmt.Errorf("short write (%d of %d bytes): %w", offset, len(data), err)
		}
	}
	return nil
}
