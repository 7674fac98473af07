package atem

import (
	"encoding/binary"
	"errors"
)

// Packet flags, carried in the top five bits of the first header byte.
const (
	FlagAckRequest    = 0x01
	FlagHello         = 0x02
	FlagRetransmit    = 0x04
	FlagRetransmitReq = 0x08
	FlagAckReply      = 0x10
)

const (
	headerSize        = 12
	commandHeaderSize = 8

	// helloSession is the client-chosen session id for the handshake.
	helloSession = 0x53AB
)

var errShortPacket = errors.New("atem: short packet")

// Header is the fixed 12-byte packet header.
type Header struct {
	Flags    uint8
	Length   uint16
	Session  uint16
	AckID    uint16
	PacketID uint16
}

// Command is one named command block inside a packet payload.
type Command struct {
	Name string
	Data []byte
}

// DecodeHeader reads the packet header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, errShortPacket
	}
	word := binary.BigEndian.Uint16(b[0:2])
	return Header{
		Flags:    uint8(word >> 11),
		Length:   word & 0x07FF,
		Session:  binary.BigEndian.Uint16(b[2:4]),
		AckID:    binary.BigEndian.Uint16(b[4:6]),
		PacketID: binary.BigEndian.Uint16(b[10:12]),
	}, nil
}

// Encode builds a packet from h and payload. Length is computed.
func (h Header) Encode(payload []byte) []byte {
	n := headerSize + len(payload)
	b := make([]byte, n)
	binary.BigEndian.PutUint16(b[0:2], uint16(h.Flags)<<11|uint16(n)&0x07FF)
	binary.BigEndian.PutUint16(b[2:4], h.Session)
	binary.BigEndian.PutUint16(b[4:6], h.AckID)
	binary.BigEndian.PutUint16(b[10:12], h.PacketID)
	copy(b[headerSize:], payload)
	return b
}

// HelloPacket is the handshake the client opens a session with.
func HelloPacket() []byte {
	return Header{Flags: FlagHello, Session: helloSession}.Encode([]byte{0x01, 0, 0, 0, 0, 0, 0, 0})
}

// AckPacket acknowledges packetID.
func AckPacket(session, packetID uint16) []byte {
	return Header{Flags: FlagAckReply, Session: session, AckID: packetID}.Encode(nil)
}

// EncodeCommands builds a payload from command blocks.
func EncodeCommands(cmds ...Command) []byte {
	var out []byte
	for _, c := range cmds {
		block := make([]byte, commandHeaderSize+len(c.Data))
		binary.BigEndian.PutUint16(block[0:2], uint16(len(block)))
		copy(block[4:8], c.Name)
		copy(block[8:], c.Data)
		out = append(out, block...)
	}
	return out
}

// DecodeCommands splits a payload into command blocks. A truncated trailing
// block is dropped.
func DecodeCommands(payload []byte) []Command {
	var out []Command
	for len(payload) >= commandHeaderSize {
		n := int(binary.BigEndian.Uint16(payload[0:2]))
		if n < commandHeaderSize || n > len(payload) {
			break
		}
		out = append(out, Command{
			Name: string(payload[4:8]),
			Data: payload[8:n],
		})
		payload = payload[n:]
	}
	return out
}

// TallyState is the program/preview state of one input.
type TallyState struct {
	Program bool
	Preview bool
}

// decodeTally reads a TlIn block: a count followed by one flag byte per
// input (bit 0 program, bit 1 preview).
func decodeTally(data []byte) ([]TallyState, bool) {
	if len(data) < 2 {
		return nil, false
	}
	n := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+n {
		return nil, false
	}
	out := make([]TallyState, n)
	for i := range n {
		f := data[2+i]
		out[i] = TallyState{Program: f&0x01 != 0, Preview: f&0x02 != 0}
	}
	return out, true
}

// decodeSource reads the ME index and source of a PrgI/PrvI block.
func decodeSource(data []byte) (me int, source int, ok bool) {
	if len(data) < 4 {
		return 0, 0, false
	}
	return int(data[0]), int(binary.BigEndian.Uint16(data[2:4])), true
}
