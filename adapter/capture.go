package adapter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Bytes of a status frame the capture adapter fills in
const (
	captureFrameSize        = 32
	captureOffsetMediaWidth = 10
	captureOffsetMediaType  = 11
	captureOffsetStatusType = 18

	captureStatusReply     = 0x00
	captureStatusCompleted = 0x01
	captureMediaLaminated  = 0x01
)

var (
	captureStatusRequest = []byte{0x1B, 0x69, 0x53}
	capturePrintCommand  = []byte{0x1A}
)

// CaptureAdapter records the raster stream to a writer instead of a printer
// and answers status requests as a printer loaded with mediaWidth mm tape
// would. It is used for dry runs.
type CaptureAdapter struct {
	w          io.Writer
	mediaWidth int
	replies    [][]byte
	written    int64
	isOpen     bool
	mu         sync.Mutex
	logger     *log.Logger
}

// NewCaptureAdapter creates an adapter writing to w
func NewCaptureAdapter(w io.Writer, mediaWidth int) *CaptureAdapter {
	return &CaptureAdapter{
		w:          w,
		mediaWidth: mediaWidth,
		logger:     log.New(os.Stdout, "[CAPTURE] ", log.LstdFlags|log.Lmsgprefix),
	}
}

// SetLogger replaces the adapter logger
func (a *CaptureAdapter) SetLogger(logger *log.Logger) {
	a.logger = logger
}

func (a *CaptureAdapter) frame(statusType byte) []byte {
	f := make([]byte, captureFrameSize)
	copy(f, []byte{0x80, 0x20, 'B', '0'})
	f[captureOffsetMediaWidth] = byte(a.mediaWidth)
	f[captureOffsetMediaType] = captureMediaLaminated
	f[captureOffsetStatusType] = statusType
	return f
}

// Open marks the adapter open
func (a *CaptureAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return errors.New("device already open")
	}
	a.isOpen = true
	a.replies = nil
	return nil
}

// Write records data. A status request or print command queues the frame
// the printer would send back.
func (a *CaptureAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	switch {
	case bytes.Equal(data, captureStatusRequest):
		a.replies = append(a.replies, a.frame(captureStatusReply))
	case bytes.Equal(data, capturePrintCommand):
		a.replies = append(a.replies, a.frame(captureStatusCompleted))
	}

	n, err := a.w.Write(data)
	a.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}
	return n, nil
}

// Read returns queued status bytes. With nothing queued the printer would
// never answer, which is reported as io.EOF.
func (a *CaptureAdapter) Read(buf []byte) (int, error) {
	n, err := a.TryRead(buf)
	if errors.Is(err, ErrWouldBlock) {
		return 0, io.EOF
	}
	return n, err
}

// TryRead returns queued status bytes or ErrWouldBlock
func (a *CaptureAdapter) TryRead(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}
	if len(a.replies) == 0 {
		return 0, ErrWouldBlock
	}

	n := copy(buf, a.replies[0])
	if a.replies[0] = a.replies[0][n:]; len(a.replies[0]) == 0 {
		a.replies = a.replies[1:]
	}
	return n, nil
}

// Close closes the underlying writer when it is closable
func (a *CaptureAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return nil
	}
	a.isOpen = false
	a.logger.Printf("Captured %d bytes", a.written)

	if c, ok := a.w.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close failed: %w", err)
		}
	}
	return nil
}

// IsOpen returns whether the adapter is open
func (a *CaptureAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

var _ Adapter = (*CaptureAdapter)(nil)
