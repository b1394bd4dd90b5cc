package session

import (
	"bytes"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/nixxel-company-limited/ptouch-usb-printer/adapter"
	"github.com/nixxel-company-limited/ptouch-usb-printer/pbm"
	"github.com/nixxel-company-limited/ptouch-usb-printer/raster"
	"github.com/nixxel-company-limited/ptouch-usb-printer/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAdapter answers every status request with a frame for mediaWidth.
// queued[n] is made readable once n writes went through; pollErr is returned
// by TryRead when nothing is pending.
type MockAdapter struct {
	open       bool
	written    bytes.Buffer
	writes     [][]byte
	pending    []byte
	mediaWidth byte
	failAfter  int
	writeErr   error
	queued     map[int][]byte
	pollErr    error
	polls      int
}

func (m *MockAdapter) Open() error {
	m.open = true
	return nil
}

func (m *MockAdapter) Write(data []byte) (int, error) {
	if m.writeErr != nil && len(m.writes) >= m.failAfter {
		return 0, m.writeErr
	}
	m.writes = append(m.writes, append([]byte(nil), data...))
	if bytes.Equal(data, status.RequestCommand) {
		m.pending = append(m.pending, statusFrame(m.mediaWidth)...)
	}
	m.pending = append(m.pending, m.queued[len(m.writes)]...)
	return m.written.Write(data)
}

func (m *MockAdapter) Read(buf []byte) (int, error) {
	if len(m.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(buf, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *MockAdapter) TryRead(buf []byte) (int, error) {
	m.polls++
	if len(m.pending) == 0 {
		if m.pollErr != nil {
			return 0, m.pollErr
		}
		return 0, adapter.ErrWouldBlock
	}
	return m.Read(buf)
}

func (m *MockAdapter) Close() error {
	m.open = false
	return nil
}

func (m *MockAdapter) IsOpen() bool {
	return m.open
}

func statusFrame(width byte) []byte {
	f := make([]byte, status.FrameSize)
	f[0], f[1], f[2], f[3] = 0x80, 0x20, 'B', '0'
	f[10] = width
	f[11] = byte(status.MediaLaminated)
	return f
}

func newTestSession(dev adapter.Adapter, opts Options) *Session {
	return NewWithLogger(dev, opts, log.New(io.Discard, "", 0))
}

func TestInitCommand(t *testing.T) {
	cmd := initCommand()
	require.Len(t, cmd, 102)
	assert.Equal(t, make([]byte, 100), cmd[:100])
	assert.Equal(t, []byte{0x1B, 0x40}, cmd[100:])
}

func TestJobParametersDefaults(t *testing.T) {
	expected := []byte{
		0x1B, 0x69, 0x7A, 0x84, 0x00, 0x0C, 0x00,
		0x2C, 0x01, 0x00, 0x00,
		0x00, 0x00,
		0x1B, 0x69, 0x4D, 0x40,
		0x00, 0x00, 0x00, 0x00,
		0x1B, 0x69, 0x4B, 0x08,
		0x1B, 0x69, 0x64, 0x20, 0x00,
		0x4D, 0x02,
	}
	assert.Equal(t, expected, jobParametersCommand(12, 300, DefaultOptions()))
}

func TestJobParametersOptions(t *testing.T) {
	cmd := jobParametersCommand(24, 0x01020304, Options{Margin: 0x0150, AutoCut: false, Chain: true})
	require.Len(t, cmd, 32)

	assert.Equal(t, byte(24), cmd[5])
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, cmd[7:11])
	assert.Equal(t, byte(0x00), cmd[16], "auto cut disabled")
	assert.Equal(t, byte(0x00), cmd[24], "chain printing enabled")
	assert.Equal(t, []byte{0x50, 0x01}, cmd[28:30])
}

func TestPrintByteStream(t *testing.T) {
	b := pbm.NewBitmap(3, 128)
	for y := 0; y < 128; y++ {
		b.Set(0, y)
	}
	b.Set(2, 5)

	dev := &MockAdapter{mediaWidth: 12}
	s := newTestSession(dev, DefaultOptions())
	require.NoError(t, s.Print(b))

	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, 12, s.MediaWidth())
	assert.Equal(t, 3, s.Columns())

	var expected bytes.Buffer
	expected.Write(initCommand())
	expected.Write(status.RequestCommand)
	expected.Write(rasterModeCommand())
	expected.Write(jobParametersCommand(12, 3, DefaultOptions()))

	enc := raster.NewEncoder()
	for x := 0; x < 3; x++ {
		chunk, err := enc.Encode(b.Column(x))
		require.NoError(t, err)
		expected.Write(chunk)
	}
	expected.Write(printCommand)
	expected.Write(status.RequestCommand)

	assert.Equal(t, expected.Bytes(), dev.written.Bytes())
}

func TestPrintColumnsRoundTrip(t *testing.T) {
	input := "P1\n4 3\n1 0 0 1\n0 0 0 1\n1 0 0 1\n"
	dev := &MockAdapter{mediaWidth: 9}
	s := newTestSession(dev, DefaultOptions())
	require.NoError(t, s.PrintFrom(strings.NewReader(input)))

	stream := dev.written.Bytes()
	header := len(initCommand()) + len(status.RequestCommand) + len(rasterModeCommand()) + 32
	trailer := len(printCommand) + len(status.RequestCommand)
	columns, err := raster.Decode(stream[header : len(stream)-trailer])
	require.NoError(t, err)
	require.Len(t, columns, 4)

	assert.Equal(t, byte(0xA0), columns[0][0])
	assert.Equal(t, make([]byte, raster.RowBlockBytes), columns[1])
	assert.Equal(t, make([]byte, raster.RowBlockBytes), columns[2])
	assert.Equal(t, byte(0xE0), columns[3][0])
}

func TestPrintEmptyBitmap(t *testing.T) {
	dev := &MockAdapter{mediaWidth: 6}
	s := newTestSession(dev, DefaultOptions())
	require.NoError(t, s.Print(pbm.NewBitmap(0, 0)))

	require.Len(t, dev.writes, 6)
	assert.Equal(t, rasterModeCommand(), dev.writes[2])
	assert.Equal(t, []byte{0, 0, 0, 0}, dev.writes[3][7:11])
	assert.Equal(t, printCommand, dev.writes[4])
}

func TestPrintInvalidMedia(t *testing.T) {
	testCases := []struct {
		name  string
		width byte
	}{
		{"no tape", 0},
		{"too narrow", 3},
		{"too wide", 25},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dev := &MockAdapter{mediaWidth: tc.width}
			s := newTestSession(dev, DefaultOptions())

			err := s.Print(pbm.NewBitmap(2, 8))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidMedia)

			var devErr *DeviceError
			require.ErrorAs(t, err, &devErr)
			assert.Equal(t, StateAwaitInitialStatus, devErr.State)
			assert.Equal(t, StateFailed, s.State())

			// init and status request only, no job data
			assert.Len(t, dev.writes, 2)
		})
	}
}

func TestPrintMediaWidthBounds(t *testing.T) {
	for _, width := range []byte{MediaWidthMin, MediaWidthMax} {
		dev := &MockAdapter{mediaWidth: width}
		s := newTestSession(dev, DefaultOptions())
		require.NoError(t, s.Print(pbm.NewBitmap(1, 1)))
		assert.Equal(t, int(width), s.MediaWidth())
	}
}

func TestPrintBadBitmapSendsNothing(t *testing.T) {
	dev := &MockAdapter{mediaWidth: 12}
	s := newTestSession(dev, DefaultOptions())

	err := s.PrintFrom(strings.NewReader("P7\n1 1\n1\n"))
	require.Error(t, err)

	var formatErr *pbm.FormatError
	assert.ErrorAs(t, err, &formatErr)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 0, dev.written.Len())
}

func TestPrintWriteFailure(t *testing.T) {
	boom := errors.New("device unplugged")
	dev := &MockAdapter{mediaWidth: 12, writeErr: boom, failAfter: 5}
	s := newTestSession(dev, DefaultOptions())

	err := s.Print(pbm.NewBitmap(4, 4))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, StateStreaming, devErr.State)
	assert.Equal(t, "sending column 1", devErr.Op)
	assert.Equal(t, StateFailed, s.State())
}

func TestPrintMissingConfirmation(t *testing.T) {
	dev := &brokenConfirmation{MockAdapter: MockAdapter{mediaWidth: 12}}
	s := newTestSession(dev, DefaultOptions())

	err := s.Print(pbm.NewBitmap(1, 1))
	require.Error(t, err)

	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, StateFinalizing, devErr.State)
	assert.ErrorIs(t, err, io.EOF)
}

// brokenConfirmation answers only the first status request
type brokenConfirmation struct {
	MockAdapter
	requests int
}

func (b *brokenConfirmation) Write(data []byte) (int, error) {
	if bytes.Equal(data, status.RequestCommand) {
		b.requests++
		if b.requests > 1 {
			return b.MockAdapter.written.Write(data)
		}
	}
	return b.MockAdapter.Write(data)
}

func TestSessionNotReusable(t *testing.T) {
	dev := &MockAdapter{mediaWidth: 12}
	s := newTestSession(dev, DefaultOptions())
	require.NoError(t, s.Print(pbm.NewBitmap(1, 1)))

	written := dev.written.Len()
	assert.Error(t, s.Print(pbm.NewBitmap(1, 1)))
	assert.Equal(t, written, dev.written.Len())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "state(42)", State(42).String())
}

// expectedStream is the byte stream of a successful job on mediaWidth tape
func expectedStream(t *testing.T, b *pbm.Bitmap, mediaWidth int) []byte {
	t.Helper()
	var expected bytes.Buffer
	expected.Write(initCommand())
	expected.Write(status.RequestCommand)
	expected.Write(rasterModeCommand())
	expected.Write(jobParametersCommand(mediaWidth, uint32(b.Width()), DefaultOptions()))

	enc := raster.NewEncoder()
	for x := 0; x < b.Width(); x++ {
		chunk, err := enc.Encode(b.Column(x))
		require.NoError(t, err)
		expected.Write(chunk)
	}
	expected.Write(printCommand)
	expected.Write(status.RequestCommand)
	return expected.Bytes()
}

func stripedBitmap() *pbm.Bitmap {
	b := pbm.NewBitmap(6, 16)
	for x := 0; x < 6; x += 2 {
		for y := 0; y < 16; y++ {
			b.Set(x, y)
		}
	}
	return b
}

func TestPrintIgnoresPollErrors(t *testing.T) {
	b := stripedBitmap()
	dev := &MockAdapter{mediaWidth: 12, pollErr: errors.New("endpoint stalled")}
	s := newTestSession(dev, DefaultOptions())

	require.NoError(t, s.Print(b))
	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, expectedStream(t, b, 12), dev.written.Bytes())
	// one poll per column and one after the print command
	assert.Equal(t, 7, dev.polls)
}

func TestPrintLogsTruncatedStatusFrame(t *testing.T) {
	b := stripedBitmap()
	// half a frame arrives after column 1, then the endpoint fails
	dev := &MockAdapter{
		mediaWidth: 12,
		pollErr:    errors.New("endpoint stalled"),
		queued:     map[int][]byte{6: statusFrame(12)[:16]},
	}
	var logs bytes.Buffer
	s := NewWithLogger(dev, DefaultOptions(), log.New(&logs, "", 0))

	require.NoError(t, s.Print(b))
	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, expectedStream(t, b, 12), dev.written.Bytes())
	assert.Contains(t, logs.String(), "Status poll failed")
	assert.Contains(t, logs.String(), "endpoint stalled")
}

func TestPrintConsumesUnsolicitedStatus(t *testing.T) {
	b := stripedBitmap()
	phase := statusFrame(12)
	phase[18] = byte(status.TypePhaseChange)

	// the printer reports a phase change after column 2
	dev := &MockAdapter{mediaWidth: 12, queued: map[int][]byte{7: phase}}
	var logs bytes.Buffer
	s := NewWithLogger(dev, DefaultOptions(), log.New(&logs, "", 0))

	require.NoError(t, s.Print(b))
	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, expectedStream(t, b, 12), dev.written.Bytes())
	assert.Empty(t, dev.pending)
	assert.Contains(t, logs.String(), status.TypePhaseChange.String())
	assert.NotContains(t, logs.String(), "Status poll failed")
}
