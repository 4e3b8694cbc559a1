package probe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	maxVarIntBytes = 5

	packetIDHandshake     = 0x00
	packetIDStatusRequest = 0x00
	packetIDStatusReply   = 0x00

	nextStateStatus = 1
)

// errMalformed marks responses that do not follow the expected grammar.
var errMalformed = errors.New("malformed response")

func appendVarInt(b []byte, v int32) []byte {
	u := uint32(v)
	for u&^0x7F != 0 {
		b = append(b, byte(u&0x7F|0x80))
		u >>= 7
	}
	return append(b, byte(u))
}

func readVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < maxVarIntBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, fmt.Errorf("%w: varint longer than %d bytes", errMalformed, maxVarIntBytes)
}

func appendString(b []byte, s string) []byte {
	b = appendVarInt(b, int32(len(s)))
	return append(b, s...)
}

// frame prefixes body with its VarInt length.
func frame(body []byte) []byte {
	out := appendVarInt(make([]byte, 0, len(body)+maxVarIntBytes), int32(len(body)))
	return append(out, body...)
}

// handshakePacket builds the framed handshake followed by the framed status request.
func handshakePacket(protocolVersion int32, host string, port uint16) []byte {
	body := []byte{packetIDHandshake}
	body = appendVarInt(body, protocolVersion)
	body = appendString(body, host)
	body = binary.BigEndian.AppendUint16(body, port)
	body = appendVarInt(body, nextStateStatus)

	out := frame(body)
	return append(out, frame([]byte{packetIDStatusRequest})...)
}

// readPacket reads one length-prefixed packet, refusing bodies over maxLen.
func readPacket(r interface {
	io.Reader
	io.ByteReader
}, maxLen int) ([]byte, error) {
	length, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if length <= 0 || int(length) > maxLen {
		return nil, fmt.Errorf("%w: packet length %d outside 1..%d", errMalformed, length, maxLen)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// parseStatusReply extracts the JSON payload from a status reply packet body.
func parseStatusReply(body []byte) ([]byte, error) {
	r := bytes.NewReader(body)
	id, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: missing packet id", errMalformed)
	}
	if id != packetIDStatusReply {
		return nil, fmt.Errorf("%w: unexpected packet id 0x%02x", errMalformed, id)
	}
	n, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("%w: missing payload length", errMalformed)
	}
	if n < 0 || int(n) > r.Len() {
		return nil, fmt.Errorf("%w: payload length %d exceeds packet", errMalformed, n)
	}
	payload := make([]byte, n)
	_, _ = r.Read(payload)
	return payload, nil
}
