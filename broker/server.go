package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = time.Second
)

// Server accepts connections and runs one handler goroutine per session. The
// client and topic registries are owned by the server and shared by every
// handler through its Dispatcher.
type Server struct {
	config     Config
	logger     *zap.Logger
	clients    *ClientRegistry
	topics     *TopicRegistry
	dispatcher *Dispatcher
	events     eventLog
	stats      *Stats
	startedAt  time.Time

	lock     sync.Mutex
	sessions map[uuid.UUID]*Session
	closed   bool
	handlers sync.WaitGroup
}

// NewServer returns a server for config. A nil logger discards all output.
func NewServer(config Config, logger *zap.Logger) *Server {
	config = config.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var topicOptions []TopicOption
	if config.EvictEmptyTopics {
		topicOptions = append(topicOptions, WithEmptyTopicEviction())
	}

	clients := NewClientRegistry()
	topics := NewTopicRegistry(topicOptions...)
	stats := new(Stats)
	return &Server{
		config:     config,
		logger:     logger,
		clients:    clients,
		topics:     topics,
		dispatcher: NewDispatcher(clients, topics, stats, logger),
		events:     eventLog{logger: logger, clients: clients},
		stats:      stats,
		startedAt:  time.Now(),
		sessions:   make(map[uuid.UUID]*Session),
	}
}

// Clients returns the server's client registry.
func (server *Server) Clients() *ClientRegistry {
	return server.clients
}

// Topics returns the server's topic registry.
func (server *Server) Topics() *TopicRegistry {
	return server.topics
}

// Stats returns the server's counters.
func (server *Server) Stats() *Stats {
	return server.stats
}

// ListenAndServe listens on the configured TCP address and serves until ctx
// is done.
func (server *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", server.config.Addr)
	if err != nil {
		return fmt.Errorf("topicbus: listen %s: %w", server.config.Addr, err)
	}
	return server.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done, then closes every
// live session and waits for their handlers before returning nil. Accept
// errors are retried with a capped backoff. If the listener is closed while
// ctx is still live, Serve shuts down the same way and returns ErrServerClosed.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()

	server.logger.Info("listening", zap.String("addr", listener.Addr().String()))

	var retry time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				server.shutdown()
				return nil
			}
			if isClosedError(err) {
				server.shutdown()
				return ErrServerClosed
			}
			retry = nextRetry(retry)
			server.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("retry", retry))
			select {
			case <-time.After(retry):
				continue
			case <-ctx.Done():
				server.shutdown()
				return nil
			}
		}
		retry = 0

		tuneTCP(conn, server.config.KeepAlive)
		session, ok := server.track(conn)
		if !ok {
			_ = conn.Close()
			continue
		}
		go server.handle(session)
	}
}

func nextRetry(current time.Duration) time.Duration {
	if current == 0 {
		return acceptRetryMin
	}
	return min(current*2, acceptRetryMax)
}

func tuneTCP(conn net.Conn, keepAlive time.Duration) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcpConn.SetNoDelay(true)
	if keepAlive > 0 {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(keepAlive)
	}
}

// ServeConn runs a session over an already established connection and
// returns when it ends. Transports other than raw TCP use it.
func (server *Server) ServeConn(conn net.Conn) {
	session, ok := server.track(conn)
	if !ok {
		_ = conn.Close()
		return
	}
	server.handle(session)
}

func (server *Server) track(conn net.Conn) (*Session, bool) {
	session := newSession(conn, server.config.WriteTimeout)

	server.lock.Lock()
	defer server.lock.Unlock()
	if server.closed {
		return nil, false
	}
	server.sessions[session.ID()] = session
	server.handlers.Add(1)
	server.stats.connectionsAccepted.Add(1)
	server.stats.connectionsCurrent.Add(1)

	server.logger.Debug("accepted",
		zap.Stringer("conn_id", session.ID()),
		zap.String("remote", conn.RemoteAddr().String()),
	)
	return session, true
}

// release detaches session from both registries and closes it. It runs once
// per session no matter how many paths reach it.
func (server *Server) release(session *Session) {
	session.releaseOnce.Do(func() {
		server.dispatcher.detach(session)
		_ = session.Close()

		server.lock.Lock()
		delete(server.sessions, session.ID())
		server.lock.Unlock()

		server.stats.connectionsCurrent.Add(-1)
		server.handlers.Done()
	})
}

func (server *Server) shutdown() {
	server.lock.Lock()
	server.closed = true
	sessions := make([]*Session, 0, len(server.sessions))
	for _, session := range server.sessions {
		sessions = append(sessions, session)
	}
	server.lock.Unlock()

	for _, session := range sessions {
		_ = session.Close()
	}
	server.handlers.Wait()
	server.logger.Info("stopped", zap.Uint64("connections_accepted", server.stats.connectionsAccepted.Load()))
}
