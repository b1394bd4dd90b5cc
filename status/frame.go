// Package status queries and decodes the 32 byte status frames of
// P-Touch label printers.
package status

import (
	"fmt"
	"strings"
)

// FrameSize is the fixed length of every status frame
const FrameSize = 32

// RequestCommand asks the printer for a status frame (ESC i S)
var RequestCommand = []byte{0x1B, 0x69, 0x53}

// Byte offsets inside a frame
const (
	offsetPrintHead     = 0
	offsetSize          = 1
	offsetBattery       = 6
	offsetExtendedError = 7
	offsetErrorInfo1    = 8
	offsetErrorInfo2    = 9
	offsetMediaWidth    = 10
	offsetMediaType     = 11
	offsetStatusType    = 18
	offsetPhaseType     = 19
	offsetNotification  = 22
)

// Type says why the printer sent a frame
type Type byte

const (
	TypeReply Type = iota
	TypePrintingCompleted
	TypeError
	TypeIFModeFinished
	TypePowerOff
	TypeNotification
	TypePhaseChange
)

var typeNames = []string{
	"reply to status request",
	"printing completed",
	"error occurred",
	"IF mode finished",
	"power off",
	"notification",
	"phase change",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type 0x%02x", byte(t))
}

// Battery is the power source level
type Battery byte

var batteryNames = []string{
	"full",
	"half",
	"low",
	"change batteries",
	"AC adapter in use",
}

func (b Battery) String() string {
	if int(b) < len(batteryNames) {
		return batteryNames[b]
	}
	return fmt.Sprintf("battery 0x%02x", byte(b))
}

// MediaType identifies the loaded cartridge
type MediaType byte

const (
	MediaNone         MediaType = 0x00
	MediaLaminated    MediaType = 0x01
	MediaNonLaminated MediaType = 0x03
	MediaHeatShrink   MediaType = 0x11
	MediaIncompatible MediaType = 0xFF
)

func (m MediaType) String() string {
	switch m {
	case MediaNone:
		return "no media"
	case MediaLaminated:
		return "laminated tape"
	case MediaNonLaminated:
		return "non-laminated tape"
	case MediaHeatShrink:
		return "heat-shrink tube"
	case MediaIncompatible:
		return "incompatible tape"
	default:
		return fmt.Sprintf("media 0x%02x", byte(m))
	}
}

var errorInfo1Names = []string{
	"no media",
	"end of media",
	"cutter jam",
	"weak batteries",
	"printer in use",
	"",
	"high-voltage adapter",
	"fan motor error",
}

var errorInfo2Names = []string{
	"replace media",
	"expansion buffer full",
	"communication error",
	"communication buffer full",
	"cover open",
	"overheating",
	"black marking not detected",
	"system error",
}

// Frame is one status response
type Frame [FrameSize]byte

// MediaWidth returns the tape width in millimetres
func (f *Frame) MediaWidth() int {
	return int(f[offsetMediaWidth])
}

func (f *Frame) MediaType() MediaType {
	return MediaType(f[offsetMediaType])
}

func (f *Frame) Battery() Battery {
	return Battery(f[offsetBattery])
}

func (f *Frame) Type() Type {
	return Type(f[offsetStatusType])
}

func (f *Frame) Phase() byte {
	return f[offsetPhaseType]
}

func (f *Frame) Notification() byte {
	return f[offsetNotification]
}

func (f *Frame) ExtendedError() byte {
	return f[offsetExtendedError]
}

// Valid reports whether the fixed header bytes look like a status frame
func (f *Frame) Valid() bool {
	return f[offsetPrintHead] == 0x80 && f[offsetSize] == FrameSize
}

// Errors lists the error flags set in both error information bytes
func (f *Frame) Errors() []string {
	var errs []string
	for i, name := range errorInfo1Names {
		if name != "" && f[offsetErrorInfo1]&(1<<i) != 0 {
			errs = append(errs, name)
		}
	}
	for i, name := range errorInfo2Names {
		if f[offsetErrorInfo2]&(1<<i) != 0 {
			errs = append(errs, name)
		}
	}
	return errs
}

func (f *Frame) String() string {
	s := fmt.Sprintf("%s, %dmm %s, battery %s", f.Type(), f.MediaWidth(), f.MediaType(), f.Battery())
	if errs := f.Errors(); len(errs) > 0 {
		s += ", errors: " + strings.Join(errs, ", ")
	}
	return s
}
