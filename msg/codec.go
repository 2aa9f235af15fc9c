package msg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FrameSize is the size of an encoded message without its sender.
const FrameSize = 12

// ErrShortFrame is returned when decoding fewer bytes than a message needs.
var ErrShortFrame = errors.New("short frame")

// Encode writes the slot, action and resource of m as three little-endian
// 32-bit integers, in that order.
func Encode(m Msg) []byte {
	buf := make([]byte, FrameSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(int32(m.Slot)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(m.Action))
	binary.LittleEndian.PutUint32(buf[8:], uint32(int32(m.Resource)))

	return buf
}

// Decode parses a frame written by Encode. Frames with an action outside the
// protocol are rejected with ErrUnknownAction.
func Decode(buf []byte) (Msg, error) {
	if len(buf) < FrameSize {
		return Msg{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(buf))
	}

	m := Msg{
		Slot:     int(int32(binary.LittleEndian.Uint32(buf[0:]))),
		Action:   Action(int32(binary.LittleEndian.Uint32(buf[4:]))),
		Resource: int(int32(binary.LittleEndian.Uint32(buf[8:]))),
	}

	if !m.Action.Valid() {
		return m, fmt.Errorf("%w: %d", ErrUnknownAction, int32(m.Action))
	}

	return m, nil
}

// Marshal encodes the frame followed by a length-prefixed sender.
func Marshal(m Msg) []byte {
	if len(m.Sender) > math.MaxUint16 {
		panic("sender too long")
	}

	buf := Encode(m)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Sender)))
	buf = append(buf, m.Sender...)

	return buf
}

// Unmarshal parses bytes written by Marshal.
func Unmarshal(buf []byte) (Msg, error) {
	m, err := Decode(buf)
	if err != nil {
		return m, err
	}

	rest := buf[FrameSize:]
	if len(rest) < 2 {
		return m, fmt.Errorf("%w: missing sender length", ErrShortFrame)
	}

	n := int(binary.LittleEndian.Uint16(rest))
	rest = rest[2:]

	if len(rest) < n {
		return m, fmt.Errorf("%w: sender needs %d bytes, got %d",
			ErrShortFrame, n, len(rest))
	}

	m.Sender = string(rest[:n])

	return m, nil
}

// A FrameReceiver accepts messages in their wire form, as written by Marshal.
type FrameReceiver interface {
	SendFrame(frame []byte) error
}

// A FrameSender is a Sender that marshals each message before handing it
// over.
type FrameSender struct {
	To FrameReceiver
}

// Send marshals m and passes the frame on.
func (s FrameSender) Send(m Msg) error {
	return s.To.SendFrame(Marshal(m))
}
