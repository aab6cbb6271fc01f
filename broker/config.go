package broker

import (
	"net"
	"strconv"
	"time"

	"github.com/Thejuampi/topicbus/protocol"
)

// Defaults applied by DefaultConfig and to zero Config fields.
const (
	DefaultPort          = 1999
	DefaultWriteTimeout  = 10 * time.Second
	DefaultKeepAlive     = 30 * time.Second
	DefaultWebSocketPath = "/ws"
	DefaultMaxLineLength = protocol.DefaultMaxLineLength
)

// Config holds the broker settings.
type Config struct {
	// Addr is the TCP listen address used by ListenAndServe.
	Addr string

	// WriteTimeout bounds every socket write, including fan-out writes made
	// while the topic registry is locked. Zero selects DefaultWriteTimeout; a
	// negative value disables the deadline.
	WriteTimeout time.Duration

	// MaxLineLength bounds one command line. Longer lines are rejected with
	// an error reply and the connection stays open.
	MaxLineLength int

	// KeepAlive is the TCP keep-alive period for accepted sockets. A negative
	// value disables keep-alive.
	KeepAlive time.Duration

	// EvictEmptyTopics removes a topic from the registry once its last
	// subscriber leaves.
	EvictEmptyTopics bool
}

// DefaultConfig returns the configuration for a broker listening on
// DefaultPort on all interfaces.
func DefaultConfig() Config {
	return Config{
		Addr:          net.JoinHostPort("", strconv.Itoa(DefaultPort)),
		WriteTimeout:  DefaultWriteTimeout,
		MaxLineLength: DefaultMaxLineLength,
		KeepAlive:     DefaultKeepAlive,
	}
}

func (config Config) withDefaults() Config {
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = DefaultMaxLineLength
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = DefaultKeepAlive
	}
	return config
}
