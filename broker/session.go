package broker

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one accepted transport session. Its ID is the connection handle
// used as the key in both registries; it is assigned at accept time and never
// reused.
//
// Replies from the session's own handler and fan-out writes from other
// handlers share the connection, so every write goes through WriteLine, which
// serializes writes and bounds each one with the write deadline.
type Session struct {
	id           uuid.UUID
	conn         net.Conn
	writeTimeout time.Duration
	acceptedAt   time.Time

	remoteIP   string
	remotePort int
	localPort  int

	writeLock   sync.Mutex
	closeOnce   sync.Once
	closeErr    error
	releaseOnce sync.Once
}

func newSession(conn net.Conn, writeTimeout time.Duration) *Session {
	session := &Session{
		id:           uuid.New(),
		conn:         conn,
		writeTimeout: writeTimeout,
		acceptedAt:   time.Now(),
	}
	session.remoteIP, session.remotePort = splitAddr(conn.RemoteAddr())
	_, session.localPort = splitAddr(conn.LocalAddr())
	return session
}

func splitAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String(), tcpAddr.Port
	}

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	portNumber, _ := strconv.Atoi(port)
	return host, portNumber
}

// ID returns the session's connection handle.
func (session *Session) ID() uuid.UUID {
	return session.id
}

// RemoteIP returns the peer IP address.
func (session *Session) RemoteIP() string {
	return session.remoteIP
}

// RemotePort returns the peer port.
func (session *Session) RemotePort() int {
	return session.remotePort
}

// LocalPort returns the server port the session was accepted on.
func (session *Session) LocalPort() int {
	return session.localPort
}

// WriteLine writes line followed by "\n" as a single write.
func (session *Session) WriteLine(line string) error {
	frame := make([]byte, 0, len(line)+1)
	frame = append(frame, line...)
	frame = append(frame, '\n')

	session.writeLock.Lock()
	defer session.writeLock.Unlock()

	if session.writeTimeout > 0 {
		if err := session.conn.SetWriteDeadline(time.Now().Add(session.writeTimeout)); err != nil {
			return fmt.Errorf("topicbus: set write deadline: %w", err)
		}
	}
	if _, err := session.conn.Write(frame); err != nil {
		return fmt.Errorf("topicbus: write to %s: %w", session.id, err)
	}
	return nil
}

// Close closes the underlying connection. It is safe to call more than once
// and from any goroutine.
func (session *Session) Close() error {
	session.closeOnce.Do(func() {
		session.closeErr = session.conn.Close()
	})
	return session.closeErr
}
