package session

import "encoding/binary"

// Physical tape widths the printer accepts, in millimetres
const (
	MediaWidthMin = 4
	MediaWidthMax = 24
)

// DefaultMargin is the feed before and after the label, in dots
const DefaultMargin = 32

// Zero bytes in front of the reset command. A printer left mid-frame by an
// aborted job reads them as payload until it is back in sync.
const syncPreambleSize = 100

const (
	esc = 0x1B

	// Print information flags: printer recovery always on, media width valid
	flagRecovery   = 0x80
	flagMediaWidth = 0x04

	modeAutoCut  = 0x40
	modeNoChain  = 0x08
	compressTIFF = 0x02
)

var printCommand = []byte{0x1A}

func initCommand() []byte {
	cmd := make([]byte, syncPreambleSize+2)
	cmd[syncPreambleSize] = esc
	cmd[syncPreambleSize+1] = 0x40
	return cmd
}

func rasterModeCommand() []byte {
	return []byte{esc, 0x69, 0x61, 0x01}
}

// jobParametersCommand builds the 32 byte frame carrying the print
// information, the various mode settings, margin and compression.
func jobParametersCommand(mediaWidth int, columns uint32, opts Options) []byte {
	cmd := make([]byte, 32)

	// Print information: ESC i z
	copy(cmd[0:], []byte{esc, 0x69, 0x7A, flagRecovery | flagMediaWidth})
	cmd[4] = 0 // media type, not validated
	cmd[5] = byte(mediaWidth)
	cmd[6] = 0 // media length, continuous tape
	binary.LittleEndian.PutUint32(cmd[7:11], columns)
	cmd[11] = 0 // starting page
	cmd[12] = 0

	// Various mode: ESC i M
	var mode byte
	if opts.AutoCut {
		mode |= modeAutoCut
	}
	copy(cmd[13:], []byte{esc, 0x69, 0x4D, mode})

	// 17-20 stay zero, this model ignores the page-per-cut command

	// Advanced mode: ESC i K
	var advanced byte
	if !opts.Chain {
		advanced |= modeNoChain
	}
	copy(cmd[21:], []byte{esc, 0x69, 0x4B, advanced})

	// Margin: ESC i d
	copy(cmd[25:], []byte{esc, 0x69, 0x64, 0, 0})
	binary.LittleEndian.PutUint16(cmd[28:30], uint16(opts.Margin))

	// Compression: M
	copy(cmd[30:], []byte{0x4D, compressTIFF})

	return cmd
}
