package adapter

import (
	"bytes"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCapture(w io.Writer, width int) *CaptureAdapter {
	a := NewCaptureAdapter(w, width)
	a.SetLogger(log.New(io.Discard, "", 0))
	return a
}

func TestCaptureAdapterRecordsStream(t *testing.T) {
	var out bytes.Buffer
	a := newTestCapture(&out, 12)

	_, err := a.Write([]byte{0x00})
	assert.Error(t, err)

	require.NoError(t, a.Open())
	assert.True(t, a.IsOpen())
	assert.Error(t, a.Open())

	require.NoError(t, WriteFull(a, []byte{0x1B, 0x40}))
	require.NoError(t, WriteFull(a, []byte{0x5A, 0x5A}))
	assert.Equal(t, []byte{0x1B, 0x40, 0x5A, 0x5A}, out.Bytes())

	_, err = a.TryRead(make([]byte, 32))
	assert.ErrorIs(t, err, ErrWouldBlock)
	_, err = a.Read(make([]byte, 32))
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, a.Close())
	assert.False(t, a.IsOpen())
	assert.NoError(t, a.Close())
}

func TestCaptureAdapterAnswersStatusRequest(t *testing.T) {
	a := newTestCapture(io.Discard, 18)
	require.NoError(t, a.Open())
	defer a.Close()

	require.NoError(t, WriteFull(a, []byte{0x1B, 0x69, 0x53}))

	first := make([]byte, 20)
	n, err := a.Read(first)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	rest := make([]byte, 32)
	n, err = a.Read(rest)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	frame := append(first, rest[:n]...)
	assert.Equal(t, byte(0x80), frame[0])
	assert.Equal(t, byte(18), frame[captureOffsetMediaWidth])
	assert.Equal(t, byte(captureStatusReply), frame[captureOffsetStatusType])

	_, err = a.TryRead(rest)
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestCaptureAdapterQueuesCompletion(t *testing.T) {
	a := newTestCapture(io.Discard, 12)
	require.NoError(t, a.Open())
	defer a.Close()

	require.NoError(t, WriteFull(a, []byte{0x1A}))
	require.NoError(t, WriteFull(a, []byte{0x1B, 0x69, 0x53}))

	frame := make([]byte, 32)
	_, err := a.TryRead(frame)
	require.NoError(t, err)
	assert.Equal(t, byte(captureStatusCompleted), frame[captureOffsetStatusType])

	_, err = a.Read(frame)
	require.NoError(t, err)
	assert.Equal(t, byte(captureStatusReply), frame[captureOffsetStatusType])
}

type closeRecorder struct {
	bytes.Buffer
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestCaptureAdapterClosesWriter(t *testing.T) {
	w := &closeRecorder{}
	a := newTestCapture(w, 12)
	require.NoError(t, a.Open())

	require.NoError(t, a.Close())
	assert.True(t, w.closed)
}
