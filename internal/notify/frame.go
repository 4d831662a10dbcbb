// Package notify implements C7, the notification pipeline: a per-client
// framed datagram channel delivering task lifecycle and progress events.
//
// No teacher file grounds this directly — the teacher delivers progress
// through Wails' in-process event bus, which has no wire format at all.
// The framing here is purpose-built to the spec's own byte layout; it is
// built on net.Conn/net.Pipe rather than gorilla/websocket (present
// elsewhere in the example pack) because websocket framing carries its own
// message-boundary and handshake semantics that don't match a fixed
// magic+id+type+size header the receiver must ack by echoing the size back.
// github.com/google/uuid gives each subscriber a stable handle, the same
// library the teacher already uses for download identifiers elsewhere.
package notify

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic is the fixed frame header constant (§4.7/§6.3).
const Magic uint32 = 0x43434646

// MaxBodySize bounds a single frame's body; larger payloads are chunked by
// message id by the caller.
const MaxBodySize = 4096

// MsgType distinguishes the two wire message kinds.
type MsgType int16

const (
	MsgHTTPResponse MsgType = 0
	MsgNotifyData   MsgType = 1
)

// Frame is one little-endian datagram: magic, msg_id, msg_type, body_size,
// body.
type Frame struct {
	MsgID int32
	Type  MsgType
	Body  []byte
}

var ErrBodyTooLarge = errors.New("notify: body exceeds max frame size")

// WriteFrame serializes and writes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Body) > MaxBodySize {
		return ErrBodyTooLarge
	}
	header := make([]byte, 4+4+2+2)
	binary.LittleEndian.PutUint32(header[0:4], Magic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(f.MsgID))
	binary.LittleEndian.PutUint16(header[8:10], uint16(f.Type))
	binary.LittleEndian.PutUint16(header[10:12], uint16(len(f.Body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(f.Body) > 0 {
		if _, err := w.Write(f.Body); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads and validates one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, 4+4+2+2)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != Magic {
		return Frame{}, fmt.Errorf("notify: bad magic %#x", magic)
	}
	msgID := int32(binary.LittleEndian.Uint32(header[4:8]))
	msgType := MsgType(binary.LittleEndian.Uint16(header[8:10]))
	bodySize := binary.LittleEndian.Uint16(header[10:12])

	body := make([]byte, bodySize)
	if bodySize > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, err
		}
	}
	return Frame{MsgID: msgID, Type: msgType, Body: body}, nil
}

// WriteAck echoes the frame's body size back to the sender as a u32, per
// §4.7's "after recv, the receiver echoes [size:u32] as an ack".
func WriteAck(w io.Writer, size int) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(size))
	_, err := w.Write(buf)
	return err
}

// ReadAck reads a size-echo ack.
func ReadAck(r io.Reader) (int, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(buf)), nil
}
