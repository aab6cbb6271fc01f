// Package transport carries the line protocol over TCP or WebSocket and gives
// both sides a plain net.Conn.
package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// WebSocketConn adapts a WebSocket connection to net.Conn. Each Write is sent
// as one text message without its trailing newline; each received message
// reads back as one line, with the newline restored when the peer left it
// out.
type WebSocketConn struct {
	*websocket.Conn

	readLock  sync.Mutex
	buf       bytes.Buffer
	writeLock sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ net.Conn = (*WebSocketConn)(nil)

// NewWebSocketConn wraps ws.
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{Conn: ws}
}

func (conn *WebSocketConn) Read(p []byte) (int, error) {
	conn.readLock.Lock()
	defer conn.readLock.Unlock()

	for conn.buf.Len() == 0 {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			return 0, mapCloseError(err)
		}
		if len(message) == 0 {
			continue
		}
		conn.buf.Write(message)
		if message[len(message)-1] != '\n' {
			conn.buf.WriteByte('\n')
		}
	}
	return conn.buf.Read(p)
}

func (conn *WebSocketConn) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	message := bytes.TrimSuffix(p, []byte{'\n'})

	conn.writeLock.Lock()
	defer conn.writeLock.Unlock()
	if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
		return 0, mapCloseError(err)
	}
	return len(p), nil
}

// Close sends a normal-closure frame and closes the socket. Later calls
// return the first result.
func (conn *WebSocketConn) Close() error {
	conn.closeOnce.Do(func() {
		frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.Conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(closeGracePeriod))
		conn.closeErr = conn.Conn.Close()
	})
	return conn.closeErr
}

func (conn *WebSocketConn) SetDeadline(t time.Time) error {
	if err := conn.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return conn.Conn.SetWriteDeadline(t)
}

func mapCloseError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, websocket.ErrCloseSent) {
		return io.EOF
	}
	return err
}
