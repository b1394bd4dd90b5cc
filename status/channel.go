package status

import (
	"fmt"
	"log"
	"os"

	"github.com/nixxel-company-limited/ptouch-usb-printer/adapter"
)

// Channel exchanges status frames with a printer
type Channel struct {
	dev    adapter.Adapter
	logger *log.Logger
}

// NewChannel creates a status channel on dev
func NewChannel(dev adapter.Adapter) *Channel {
	logger := log.New(os.Stdout, "[STATUS] ", log.LstdFlags|log.Lmsgprefix)
	return &Channel{
		dev:    dev,
		logger: logger,
	}
}

// NewChannelWithLogger creates a status channel with a custom logger
func NewChannelWithLogger(dev adapter.Adapter, logger *log.Logger) *Channel {
	return &Channel{
		dev:    dev,
		logger: logger,
	}
}

// Query reads one status frame.
//
// A blocking query sends the status request first and waits until a whole
// frame has arrived. A non-blocking query only collects a frame the printer
// already started sending: when the first read yields nothing, whatever the
// reason, Query returns a nil frame and a nil error. Once a frame has started
// it must be completed.
func (c *Channel) Query(blocking bool) (*Frame, error) {
	if blocking {
		if err := adapter.WriteFull(c.dev, RequestCommand); err != nil {
			return nil, fmt.Errorf("status request: %w", err)
		}
	}

	var f Frame
	offset := 0
	for first := true; offset < FrameSize; first = false {
		n, err := c.read(f[offset:], blocking)
		if n > 0 {
			offset += n
		}

		if !blocking && first && n == 0 {
			if err != nil && !adapter.IsRetryable(err) {
				c.logger.Printf("Status poll: %v", err)
			}
			return nil, nil
		}

		if err != nil && !adapter.IsRetryable(err) && offset < FrameSize {
			return nil, fmt.Errorf("status read failed after %d of %d bytes: %w", offset, FrameSize, err)
		}
	}

	if !f.Valid() {
		c.logger.Printf("Unexpected status header % x", f[:4])
	}
	c.logger.Printf("Status: %s", &f)
	return &f, nil
}

func (c *Channel) read(buf []byte, blocking bool) (int, error) {
	if blocking {
		return c.dev.Read(buf)
	}
	return c.dev.TryRead(buf)
}
