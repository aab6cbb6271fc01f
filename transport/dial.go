package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
)

// ErrUnsupportedScheme is returned by Dial for URIs that are neither tcp nor
// ws/wss.
var ErrUnsupportedScheme = errors.New("transport: unsupported scheme")

// Dial connects to uri, which is one of tcp://host:port, ws://host:port/path
// or wss://host:port/path.
func Dial(ctx context.Context, uri string) (net.Conn, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("transport: parse %q: %w", uri, err)
	}

	switch parsed.Scheme {
	case "tcp":
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", parsed.Host)
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", parsed.Host, err)
		}
		return conn, nil
	case "ws", "wss":
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", uri, err)
		}
		return NewWebSocketConn(ws), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
}

// Port returns the port number of uri, or 0 when it has none.
func Port(uri string) int {
	parsed, err := url.Parse(uri)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		return 0
	}
	return port
}

// URI builds the dial URI for host and port. An empty wsPath selects TCP.
func URI(host string, port int, wsPath string) string {
	hostPort := net.JoinHostPort(host, strconv.Itoa(port))
	if wsPath == "" {
		return "tcp://" + hostPort
	}
	if wsPath[0] != '/' {
		wsPath = "/" + wsPath
	}
	return "ws://" + hostPort + wsPath
}
