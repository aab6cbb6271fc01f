// Package protocol defines the newline-delimited text protocol spoken between
// topicbus clients and the broker.
//
// Every command is one line: a keyword, a run of blanks, and an argument
// string. Server lines start with one of the reply prefixes below.
package protocol

import (
	"errors"
	"strconv"
	"strings"
)

// Command keywords sent by clients.
const (
	KeywordConnect     = "CONNECT"
	KeywordDisconnect  = "DISCONNECT"
	KeywordSubscribe   = "SUBSCRIBE"
	KeywordUnsubscribe = "UNSUBSCRIBE"
	KeywordPublish     = "PUBLISH"
)

// Prefixes of lines sent by the server.
const (
	InfoPrefix     = "[SERVER]"
	ErrorPrefix    = "[SERVER_ERROR]"
	DeliveryPrefix = "[Message]"
)

// ErrMalformedConnect is returned by ParseConnect when the arguments are not
// exactly "<port> <name> <pid>" with integer port and pid.
var ErrMalformedConnect = errors.New("protocol: malformed CONNECT, want <port> <name> <pid>")

// Command is one parsed client line.
type Command struct {
	Keyword string
	Args    string
}

// ConnectArgs holds the arguments of a CONNECT command.
type ConnectArgs struct {
	Port int
	Name string
	PID  int
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t'
}

// cut splits s at its first run of blanks. Leading blanks of s are skipped;
// found reports whether a separator was present.
func cut(s string) (head, rest string, found bool) {
	start := 0
	for start < len(s) && isBlank(s[start]) {
		start++
	}
	end := start
	for end < len(s) && !isBlank(s[end]) {
		end++
	}
	if end == len(s) {
		return s[start:], "", false
	}
	rest = s[end:]
	for len(rest) > 0 && isBlank(rest[0]) {
		rest = rest[1:]
	}
	return s[start:end], rest, true
}

// ParseLine splits a command line into its keyword and argument string. The
// keyword ends at the first run of blanks; the arguments are everything after
// that run. Keywords are case-sensitive.
func ParseLine(line string) Command {
	keyword, args, _ := cut(line)
	return Command{Keyword: keyword, Args: args}
}

// ParseConnect parses the arguments of a CONNECT command.
func ParseConnect(args string) (ConnectArgs, error) {
	fields := strings.Fields(args)
	if len(fields) != 3 {
		return ConnectArgs{}, ErrMalformedConnect
	}

	port, err := strconv.Atoi(fields[0])
	if err != nil {
		return ConnectArgs{}, ErrMalformedConnect
	}
	pid, err := strconv.Atoi(fields[2])
	if err != nil {
		return ConnectArgs{}, ErrMalformedConnect
	}

	return ConnectArgs{Port: port, Name: fields[1], PID: pid}, nil
}

// SplitPublish splits PUBLISH arguments into the topic token and the payload.
// The payload keeps its internal whitespace. ok is false when there is no
// separator after the topic.
func SplitPublish(args string) (topic, payload string, ok bool) {
	topic, payload, ok = cut(args)
	if !ok || topic == "" {
		return "", "", false
	}
	return topic, payload, true
}

// Info formats an informational server reply.
func Info(text string) string {
	return InfoPrefix + " " + text
}

// Error formats a server reply for a rejected request.
func Error(text string) string {
	return ErrorPrefix + " " + text
}

// Delivery formats the line fanned out to topic subscribers.
func Delivery(topic, payload string) string {
	return DeliveryPrefix + " Topic: " + topic + " Data: " + payload
}

// FormatConnect builds a CONNECT command line.
func FormatConnect(port int, name string, pid int) string {
	return KeywordConnect + " " + strconv.Itoa(port) + " " + name + " " + strconv.Itoa(pid)
}

// FormatDisconnect builds a DISCONNECT command line.
func FormatDisconnect() string {
	return KeywordDisconnect
}

// FormatSubscribe builds a SUBSCRIBE command line.
func FormatSubscribe(topic string) string {
	return KeywordSubscribe + " " + topic
}

// FormatUnsubscribe builds an UNSUBSCRIBE command line.
func FormatUnsubscribe(topic string) string {
	return KeywordUnsubscribe + " " + topic
}

// FormatPublish builds a PUBLISH command line.
func FormatPublish(topic, payload string) string {
	return KeywordPublish + " " + topic + " " + payload
}
