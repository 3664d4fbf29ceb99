package peer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

// maxFrameSize bounds a single envelope on the wire.
const maxFrameSize = 64 << 20

var errFrameTooLarge = errors.New("frame exceeds size limit")

// Conn abstracts the two peer transports behind frame semantics: TCP
// with a length prefix, and WebSocket binary messages.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(b []byte) error
	Close() error
	RemoteAddr() string
}

// tcpConn frames envelopes with a 4-byte big-endian length prefix.
type tcpConn struct {
	c net.Conn
}

func newTCPConn(c net.Conn) *tcpConn { return &tcpConn{c: c} }

func (t *tcpConn) ReadFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(t.c, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", errFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.c, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *tcpConn) WriteFrame(b []byte) error {
	if len(b) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", errFrameTooLarge, len(b))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := t.c.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := t.c.Write(b)
	return err
}

func (t *tcpConn) Close() error       { return t.c.Close() }
func (t *tcpConn) RemoteAddr() string { return t.c.RemoteAddr().String() }

// wsConn carries each envelope as one binary WebSocket message.
type wsConn struct {
	c *websocket.Conn
}

func newWSConn(c *websocket.Conn) *wsConn {
	c.SetReadLimit(maxFrameSize)
	return &wsConn{c: c}
}

func (w *wsConn) ReadFrame() ([]byte, error) {
	for {
		kind, buf, err := w.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		return buf, nil
	}
}

func (w *wsConn) WriteFrame(b []byte) error {
	return w.c.WriteMessage(websocket.BinaryMessage, b)
}

func (w *wsConn) Close() error       { return w.c.Close() }
func (w *wsConn) RemoteAddr() string { return w.c.RemoteAddr().String() }
