package cluster

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	frameHeaderLen  = NodeIDLen + 1 + 4
	maxFramePayload = 64 << 20
)

// writeFrame writes one message to the connection with the format:
// - 40 bytes: sender node id
// - 1 byte: message type
// - 4 bytes: payload length (uint32, big endian)
// - N bytes: payload
func writeFrame(conn net.Conn, sender string, msgType uint8, payload []byte) error {
	header := make([]byte, frameHeaderLen)
	copy(header[:NodeIDLen], sender)
	header[NodeIDLen] = msgType
	binary.BigEndian.PutUint32(header[NodeIDLen+1:], uint32(len(payload)))

	b := net.Buffers{header, payload}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads one message from r. The payload is always freshly allocated since it is
// handed to another goroutine.
func readFrame(r io.Reader, header []byte) (Message, error) {
	if len(header) < frameHeaderLen {
		header = make([]byte, frameHeaderLen)
	}
	if _, err := io.ReadFull(r, header[:frameHeaderLen]); err != nil {
		return Message{}, err
	}

	sender := string(header[:NodeIDLen])
	msgType := header[NodeIDLen]
	contentLength := binary.BigEndian.Uint32(header[NodeIDLen+1 : frameHeaderLen])
	if contentLength > maxFramePayload {
		return Message{}, fmt.Errorf("frame payload of %d bytes exceeds limit", contentLength)
	}

	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, err
	}
	return Message{Sender: sender, Type: msgType, Payload: payload}, nil
}
