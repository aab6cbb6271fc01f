// Package client is a topicbus client: a connection to one broker whose
// incoming server lines are copied verbatim to an output writer.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Thejuampi/topicbus/protocol"
	"github.com/Thejuampi/topicbus/transport"
)

const (
	defaultDialTimeout = 5 * time.Second
	disconnectWait     = time.Second
	receiveLineLimit   = 64 * 1024
)

var (
	// ErrNotConnected is returned by commands issued without a connection.
	ErrNotConnected = errors.New("client: not connected")

	// ErrAlreadyConnected is returned by Connect on a connected client.
	ErrAlreadyConnected = errors.New("client: already connected")
)

// Option configures a Client.
type Option func(*Client)

// WithPID overrides the process id announced in CONNECT.
func WithPID(pid int) Option {
	return func(client *Client) {
		client.pid = pid
	}
}

// WithDialTimeout bounds each dial attempt.
func WithDialTimeout(timeout time.Duration) Option {
	return func(client *Client) {
		client.dialTimeout = timeout
	}
}

// WithRetry retries failed dials with exponential backoff for up to
// maxElapsed. By default a failed dial is not retried.
func WithRetry(maxElapsed time.Duration) Option {
	return func(client *Client) {
		client.retryElapsed = maxElapsed
	}
}

// connection is one live broker connection and its receive goroutine.
type connection struct {
	conn      net.Conn
	writeLock sync.Mutex
	done      chan struct{}
	manual    bool
}

// Client talks to one broker at a time.
type Client struct {
	output       *syncWriter
	pid          int
	dialTimeout  time.Duration
	retryElapsed time.Duration

	lock    sync.Mutex
	current *connection
}

// New returns a disconnected client writing server lines and status messages
// to output.
func New(output io.Writer, options ...Option) *Client {
	client := &Client{
		output:      &syncWriter{writer: output},
		pid:         os.Getpid(),
		dialTimeout: defaultDialTimeout,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// Output returns the writer the client prints to. Writes through it are
// serialized with the receive goroutine.
func (client *Client) Output() io.Writer {
	return client.output
}

// Connected reports whether the client holds a connection.
func (client *Client) Connected() bool {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.current != nil
}

// Connect dials uri, registers as name and starts copying server lines to the
// output. uri is tcp://host:port or ws://host:port/path.
func (client *Client) Connect(ctx context.Context, uri, name string) error {
	client.lock.Lock()
	defer client.lock.Unlock()
	if client.current != nil {
		return ErrAlreadyConnected
	}

	host, port := describe(uri)
	conn, err := client.dial(ctx, uri)
	if err != nil {
		client.output.printf("[CONNECT] (failed) [%s (%d) %s %s] (%v)\n", name, client.pid, host, port, err)
		return err
	}

	current := &connection{conn: conn, done: make(chan struct{})}
	if err := current.send(protocol.FormatConnect(transport.Port(uri), name, client.pid)); err != nil {
		_ = conn.Close()
		client.output.printf("[CONNECT] (failed) [%s (%d) %s %s] (%v)\n", name, client.pid, host, port, err)
		return err
	}
	client.current = current
	client.output.printf("[CONNECT] (success) [%s (%d) %s %s]\n", name, client.pid, host, port)

	go client.receive(current)
	return nil
}

func describe(uri string) (host, port string) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return uri, ""
	}
	return parsed.Hostname(), parsed.Port()
}

func (client *Client) dial(ctx context.Context, uri string) (net.Conn, error) {
	operation := func() (net.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, client.dialTimeout)
		defer cancel()
		conn, err := transport.Dial(dialCtx, uri)
		if errors.Is(err, transport.ErrUnsupportedScheme) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	}

	if client.retryElapsed <= 0 {
		return backoff.Retry(ctx, operation, backoff.WithMaxTries(1))
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	return backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(client.retryElapsed))
}

func (client *Client) receive(current *connection) {
	defer close(current.done)

	reader := protocol.NewLineReader(current.conn, receiveLineLimit)
	for {
		line, err := reader.ReadLine()
		if errors.Is(err, protocol.ErrLineTooLong) {
			continue
		}
		if err != nil {
			break
		}
		client.output.printf("%s\n", line)
	}

	client.lock.Lock()
	manual := current.manual
	if client.current == current {
		client.current = nil
	}
	client.lock.Unlock()

	_ = current.conn.Close()
	if !manual {
		client.output.printf("[DISCONNECT] Server closed the connection.\n")
	}
}

func (current *connection) send(line string) error {
	current.writeLock.Lock()
	defer current.writeLock.Unlock()
	if _, err := io.WriteString(current.conn, line+"\n"); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

func (client *Client) send(line string) error {
	client.lock.Lock()
	current := client.current
	client.lock.Unlock()
	if current == nil {
		return ErrNotConnected
	}
	return current.send(line)
}

// Subscribe sends SUBSCRIBE for topic.
func (client *Client) Subscribe(topic string) error {
	return client.send(protocol.FormatSubscribe(topic))
}

// Unsubscribe sends UNSUBSCRIBE for topic.
func (client *Client) Unsubscribe(topic string) error {
	return client.send(protocol.FormatUnsubscribe(topic))
}

// Publish sends PUBLISH for topic with data as the payload.
func (client *Client) Publish(topic, data string) error {
	return client.send(protocol.FormatPublish(topic, data))
}

// Disconnect sends DISCONNECT, waits briefly for the broker's reply to be
// printed, then closes the connection.
func (client *Client) Disconnect() error {
	client.lock.Lock()
	current := client.current
	if current == nil {
		client.lock.Unlock()
		return ErrNotConnected
	}
	current.manual = true
	client.current = nil
	client.lock.Unlock()

	sendErr := current.send(protocol.FormatDisconnect())
	if sendErr == nil {
		timer := time.NewTimer(disconnectWait)
		select {
		case <-current.done:
		case <-timer.C:
		}
		timer.Stop()
	}
	_ = current.conn.Close()
	<-current.done

	client.output.printf("[DISCONNECT] Client manually disconnected.\n")
	return sendErr
}

// Close disconnects if connected. It is safe to call on a disconnected
// client.
func (client *Client) Close() error {
	err := client.Disconnect()
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

type syncWriter struct {
	lock   sync.Mutex
	writer io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.writer.Write(p)
}

func (w *syncWriter) printf(format string, args ...any) {
	w.lock.Lock()
	defer w.lock.Unlock()
	_, _ = fmt.Fprintf(w.writer, format, args...)
}
