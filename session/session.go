// Package session drives one print job through the printer protocol.
package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/nixxel-company-limited/ptouch-usb-printer/adapter"
	"github.com/nixxel-company-limited/ptouch-usb-printer/pbm"
	"github.com/nixxel-company-limited/ptouch-usb-printer/raster"
	"github.com/nixxel-company-limited/ptouch-usb-printer/status"
)

// State is the protocol phase of a session
type State int

const (
	StateInit State = iota
	StateAwaitInitialStatus
	StateConfiguring
	StateStreaming
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAwaitInitialStatus:
		return "awaiting initial status"
	case StateConfiguring:
		return "configuring"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidMedia means the loaded tape is missing or outside the supported
// widths
var ErrInvalidMedia = errors.New("invalid media")

// DeviceError is returned when a job aborts while talking to the printer
type DeviceError struct {
	State State
	Op    string
	Err   error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s while %s: %v", e.Op, e.State, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Options tune the job parameters frame
type Options struct {
	// Margin is the feed before and after the label, in dots
	Margin int

	// AutoCut cuts the tape after the label
	AutoCut bool

	// Chain skips the final feed and cut so the next label follows on
	Chain bool

	// Verbose logs every frame sent
	Verbose bool
}

// DefaultOptions cuts after every label and feeds DefaultMargin dots
func DefaultOptions() Options {
	return Options{
		Margin:  DefaultMargin,
		AutoCut: true,
	}
}

// Session owns the printer for the length of one job. It is not reusable.
type Session struct {
	dev        adapter.Adapter
	status     *status.Channel
	encoder    *raster.Encoder
	opts       Options
	logger     *log.Logger
	state      State
	mediaWidth int
	columns    int
}

// New creates a new session on an open adapter
func New(dev adapter.Adapter, opts Options) *Session {
	logger := log.New(os.Stdout, "[SESSION] ", log.LstdFlags|log.Lmsgprefix)
	return NewWithLogger(dev, opts, logger)
}

// NewWithLogger creates a new session with a custom logger
func NewWithLogger(dev adapter.Adapter, opts Options, logger *log.Logger) *Session {
	return &Session{
		dev:     dev,
		status:  status.NewChannelWithLogger(dev, logger),
		encoder: raster.NewEncoder(),
		opts:    opts,
		logger:  logger,
		state:   StateInit,
	}
}

// State returns the current protocol phase
func (s *Session) State() State {
	return s.state
}

// MediaWidth returns the tape width reported at the start of the job
func (s *Session) MediaWidth() int {
	return s.mediaWidth
}

// Columns returns the number of columns of the job
func (s *Session) Columns() int {
	return s.columns
}

// PrintFrom decodes a bitmap from r and prints it. Nothing is sent to the
// printer when the bitmap is malformed.
func (s *Session) PrintFrom(r io.Reader) error {
	if s.state != StateInit {
		return fmt.Errorf("session already %s", s.state)
	}

	b, err := pbm.Decode(r)
	if err != nil {
		s.state = StateFailed
		return fmt.Errorf("decode bitmap: %w", err)
	}
	return s.Print(b)
}

// Print runs the whole job: reset, media check, job parameters, one frame
// per column and the final print command.
func (s *Session) Print(b *pbm.Bitmap) error {
	if s.state != StateInit {
		return fmt.Errorf("session already %s", s.state)
	}
	s.columns = b.Width()

	s.logger.Printf("Initializing printer for %s", b)
	if err := adapter.WriteFull(s.dev, initCommand()); err != nil {
		return s.fail("sending init command", err)
	}
	s.enter(StateAwaitInitialStatus)

	frame, err := s.status.Query(true)
	if err != nil {
		return s.fail("querying status", err)
	}
	width := frame.MediaWidth()
	if width < MediaWidthMin || width > MediaWidthMax {
		return s.fail("checking media", fmt.Errorf("%w: %dmm %s loaded, need %d-%dmm",
			ErrInvalidMedia, width, frame.MediaType(), MediaWidthMin, MediaWidthMax))
	}
	s.mediaWidth = width
	s.enter(StateConfiguring)

	if err := adapter.WriteFull(s.dev, rasterModeCommand()); err != nil {
		return s.fail("selecting raster mode", err)
	}
	params := jobParametersCommand(s.mediaWidth, uint32(s.columns), s.opts)
	if err := adapter.WriteFull(s.dev, params); err != nil {
		return s.fail("sending job parameters", err)
	}
	s.enter(StateStreaming)

	for x := 0; x < s.columns; x++ {
		chunk, err := s.encoder.Encode(b.Column(x))
		if err != nil {
			return s.fail(fmt.Sprintf("encoding column %d", x), err)
		}
		if s.opts.Verbose {
			s.logger.Printf("Column %d: % x", x, chunk)
		}
		if err := adapter.WriteFull(s.dev, chunk); err != nil {
			return s.fail(fmt.Sprintf("sending column %d", x), err)
		}
		s.poll()
	}
	s.enter(StateFinalizing)

	if err := adapter.WriteFull(s.dev, printCommand); err != nil {
		return s.fail("sending print command", err)
	}
	s.poll()
	if _, err := s.status.Query(true); err != nil {
		return s.fail("confirming job", err)
	}
	s.enter(StateDone)

	s.logger.Printf("Printed %d columns on %dmm tape", s.columns, s.mediaWidth)
	return nil
}

// poll picks up a status frame the printer may have sent on its own. The
// printer does not answer every column, so failures are only logged.
func (s *Session) poll() {
	if _, err := s.status.Query(false); err != nil {
		s.logger.Printf("Status poll failed: %v", err)
	}
}

func (s *Session) enter(state State) {
	if s.opts.Verbose {
		s.logger.Printf("%s -> %s", s.state, state)
	}
	s.state = state
}

func (s *Session) fail(op string, err error) error {
	failed := &DeviceError{State: s.state, Op: op, Err: err}
	s.state = StateFailed
	s.logger.Printf("Error: %v", failed)
	return failed
}
