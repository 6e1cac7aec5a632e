// Package rcon implements the binary remote-console protocol the game
// server exposes for administrative commands: length-prefixed
// little-endian frames over TCP with a password handshake.
package rcon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Packet type identifiers. The auth response and command request share
// the numeric value 2 on the wire; direction disambiguates them.
const (
	packetCommandResponse int32 = 0
	packetAuthResponse    int32 = 2
	packetCommandRequest  int32 = 2
	packetAuthRequest     int32 = 3
)

// maxPayload bounds the command/response body. Oversized frames are
// rejected rather than buffered.
const maxPayload = 4096

// packetOverhead is the framed size beyond the payload: request id,
// packet type, and the two trailing NUL bytes. The 4-byte length prefix
// counts everything after itself.
const packetOverhead = 4 + 4 + 2

// ErrMalformedPacket is returned when an inbound frame violates the
// protocol (bad length, missing terminators).
var ErrMalformedPacket = errors.New("malformed console packet")

// packet is one decoded protocol frame.
type packet struct {
	id      int32
	typ     int32
	payload string
}

// writePacket frames and writes one packet: a little-endian length
// prefix excluding itself, the request id, the packet type, the payload
// bytes, and two NUL terminators.
func writePacket(w io.Writer, p packet) error {
	if len(p.payload) > maxPayload {
		return fmt.Errorf("payload of %d bytes exceeds %d: %w", len(p.payload), maxPayload, ErrMalformedPacket)
	}

	size := packetOverhead + len(p.payload)
	buf := make([]byte, 4+size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.id))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.typ))
	copy(buf[12:], p.payload)
	// The last two bytes stay zero: payload terminator plus the empty
	// second string the protocol carries.

	_, err := w.Write(buf)
	return err
}

// readPacket reads and decodes one framed packet.
//
// Postcondition: Returns the decoded packet, or ErrMalformedPacket for
// protocol violations, or the underlying read error.
func readPacket(r io.Reader) (packet, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return packet{}, err
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size < packetOverhead || size > packetOverhead+maxPayload {
		return packet{}, fmt.Errorf("frame length %d: %w", size, ErrMalformedPacket)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return packet{}, err
	}
	if body[size-2] != 0 || body[size-1] != 0 {
		return packet{}, fmt.Errorf("missing terminators: %w", ErrMalformedPacket)
	}

	return packet{
		id:      int32(binary.LittleEndian.Uint32(body[0:4])),
		typ:     int32(binary.LittleEndian.Uint32(body[4:8])),
		payload: string(body[8 : size-2]),
	}, nil
}
