package broker

import (
	"errors"
	"io"
	"net"
	"strings"
)

// ErrServerClosed is returned by Serve when its listener was closed while the
// serving context was still live.
var ErrServerClosed = errors.New("topicbus: server closed")

// Outcome is the result of a registry operation. Expected rejections are
// outcomes, not errors.
type Outcome int

const (
	OutcomeOK                Outcome = iota // request applied
	OutcomeAlreadySubscribed                // session was already on the topic
	OutcomeNotSubscribed                    // session was not on the topic
	OutcomeInvalidTopic                     // topic failed sanitization
	OutcomeInvalidPayload                   // payload failed sanitization
	OutcomeNoSubscribers                    // topic has no subscribers
)

func (outcome Outcome) String() string {
	switch outcome {
	case OutcomeOK:
		return "OK"
	case OutcomeAlreadySubscribed:
		return "AlreadySubscribed"
	case OutcomeNotSubscribed:
		return "NotSubscribed"
	case OutcomeInvalidTopic:
		return "InvalidTopic"
	case OutcomeInvalidPayload:
		return "InvalidPayload"
	case OutcomeNoSubscribers:
		return "NoSubscribers"
	default:
		return "UnknownOutcome"
	}
}

// isClosedError reports whether err only says that the connection is gone.
func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
