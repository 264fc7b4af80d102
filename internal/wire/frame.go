// Package wire implements the fixed-layout frame format that peers
// exchange over the datagram transport.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType classifies a Frame for the Receiver's reassembly state
// machine.
type MessageType uint32

const (
	Single MessageType = iota
	Start
	Chunk
	End
)

func (t MessageType) String() string {
	switch t {
	case Single:
		return "SINGLE"
	case Start:
		return "START"
	case Chunk:
		return "CHUNK"
	case End:
		return "END"
	default:
		return fmt.Sprintf("MessageType(%d)", uint32(t))
	}
}

const (
	// MaxMemoryName is the width, in bytes, of the region-name field.
	MaxMemoryName = 64
	// MaxChunkPayload is the largest number of payload bytes a single
	// frame may carry.
	MaxChunkPayload = 1024

	nameOff      = 0
	msgTypeOff   = nameOff + MaxMemoryName
	updateIDOff  = msgTypeOff + 4
	offsetOff    = updateIDOff + 8
	sizeOff      = offsetOff + 8
	timestampOff = sizeOff + 8
	dataOff      = timestampOff + 4

	// Size is the fixed size, in bytes, of a wire frame.
	Size = dataOff + MaxChunkPayload
)

// ProbeRegion is the reserved region name used for connectivity probes;
// applying a frame addressed to it is always a silent no-op.
const ProbeRegion = "TEST"

// ErrShortFrame is returned by Decode when a buffer is smaller than
// the fixed frame Size.
var ErrShortFrame = errors.New("wire: short frame")

// ErrNameTooLong is returned by Encode when a region name does not fit
// in the name field.
var ErrNameTooLong = errors.New("wire: region name exceeds MaxMemoryName")

// Frame is the in-memory representation of one wire frame. Data holds
// only the meaningful Size bytes; the remainder of the wire payload
// field is zero-padding.
type Frame struct {
	MemoryName string
	MsgType    MessageType
	UpdateID   uint64
	Offset     uint64
	Size       uint64
	Timestamp  uint32
	Data       []byte
}

// Encode serializes f into a fixed-Size, little-endian byte buffer
// suitable for a single datagram.
func Encode(f Frame) ([]byte, error) {
	if len(f.MemoryName) >= MaxMemoryName {
		return nil, ErrNameTooLong
	}
	if f.Size > MaxChunkPayload {
		return nil, fmt.Errorf("wire: frame size %d exceeds MaxChunkPayload", f.Size)
	}

	buf := make([]byte, Size)
	copy(buf[nameOff:nameOff+MaxMemoryName], f.MemoryName)
	binary.LittleEndian.PutUint32(buf[msgTypeOff:], uint32(f.MsgType))
	binary.LittleEndian.PutUint64(buf[updateIDOff:], f.UpdateID)
	binary.LittleEndian.PutUint64(buf[offsetOff:], f.Offset)
	binary.LittleEndian.PutUint64(buf[sizeOff:], f.Size)
	binary.LittleEndian.PutUint32(buf[timestampOff:], f.Timestamp)
	copy(buf[dataOff:dataOff+int(f.Size)], f.Data)
	return buf, nil
}

// Decode parses a fixed-Size byte buffer into a Frame. Buffers shorter
// than Size are rejected outright, matching spec.md's "shorter reads
// are discarded" rule.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < Size {
		return Frame{}, ErrShortFrame
	}

	name := buf[nameOff : nameOff+MaxMemoryName]
	nul := len(name)
	for i, b := range name {
		if b == 0 {
			nul = i
			break
		}
	}

	f := Frame{
		MemoryName: string(name[:nul]),
		MsgType:    MessageType(binary.LittleEndian.Uint32(buf[msgTypeOff:])),
		UpdateID:   binary.LittleEndian.Uint64(buf[updateIDOff:]),
		Offset:     binary.LittleEndian.Uint64(buf[offsetOff:]),
		Size:       binary.LittleEndian.Uint64(buf[sizeOff:]),
		Timestamp:  binary.LittleEndian.Uint32(buf[timestampOff:]),
	}
	if f.Size > MaxChunkPayload {
		return Frame{}, fmt.Errorf("wire: decoded size %d exceeds MaxChunkPayload", f.Size)
	}
	f.Data = make([]byte, f.Size)
	copy(f.Data, buf[dataOff:dataOff+int(f.Size)])
	return f, nil
}
