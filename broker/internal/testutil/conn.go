// Package testutil holds in-memory fakes for broker tests.
package testutil

import (
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Conn is an in-memory net.Conn. Reads drain queued input and then report
// io.EOF; writes are recorded and can be made to fail.
type Conn struct {
	lock      sync.Mutex
	readQueue [][]byte
	written   bytes.Buffer
	writeErr  error
	closed    bool
	remote    net.Addr
	local     net.Addr
}

// NewConn returns a Conn reporting remote and local as its peer addresses.
func NewConn(remote, local string) *Conn {
	return &Conn{remote: tcpAddr(remote), local: tcpAddr(local)}
}

func tcpAddr(addr string) net.Addr {
	resolved, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
	}
	return resolved
}

// Feed queues input for Read.
func (connection *Conn) Feed(input string) {
	connection.lock.Lock()
	connection.readQueue = append(connection.readQueue, []byte(input))
	connection.lock.Unlock()
}

// FailWrites makes every later Write return err.
func (connection *Conn) FailWrites(err error) {
	connection.lock.Lock()
	connection.writeErr = err
	connection.lock.Unlock()
}

// Lines returns the complete lines written so far, without newlines.
func (connection *Conn) Lines() []string {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	text := strings.TrimSuffix(connection.written.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// Closed reports whether Close was called.
func (connection *Conn) Closed() bool {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return connection.closed
}

func (connection *Conn) Read(buffer []byte) (int, error) {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	if connection.closed {
		return 0, net.ErrClosed
	}
	if len(connection.readQueue) == 0 {
		return 0, io.EOF
	}
	frame := connection.readQueue[0]
	n := copy(buffer, frame)
	if n == len(frame) {
		connection.readQueue = connection.readQueue[1:]
	} else {
		connection.readQueue[0] = frame[n:]
	}
	return n, nil
}

func (connection *Conn) Write(buffer []byte) (int, error) {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	if connection.closed {
		return 0, net.ErrClosed
	}
	if connection.writeErr != nil {
		return 0, connection.writeErr
	}
	return connection.written.Write(buffer)
}

func (connection *Conn) Close() error {
	connection.lock.Lock()
	connection.closed = true
	connection.lock.Unlock()
	return nil
}

func (connection *Conn) LocalAddr() net.Addr {
	return connection.local
}

func (connection *Conn) RemoteAddr() net.Addr {
	return connection.remote
}

func (connection *Conn) SetDeadline(time.Time) error {
	return nil
}

func (connection *Conn) SetReadDeadline(time.Time) error {
	return nil
}

func (connection *Conn) SetWriteDeadline(time.Time) error {
	return nil
}
