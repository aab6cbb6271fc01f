package broker

import "strings"

// Topic and payload limits, in bytes after trimming.
const (
	MaxTopicLength   = 64
	MaxMessageLength = 1024
)

// User-facing rejection texts.
const (
	invalidTopicText   = "Invalid topic. Only letters (A-Z, a-z), numbers (0-9), and max length of 64 are allowed."
	invalidMessageText = "Invalid message. Only printable ASCII characters (0x20-0x7E) and max length of 1024 are allowed."
)

func trimBlanks(raw string) string {
	return strings.Trim(raw, " \t")
}

func isAlphanumeric(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// SanitizeTopic trims blanks around raw and returns the topic name, or false
// when the result is empty, longer than MaxTopicLength or not ASCII
// alphanumeric. Case is preserved.
func SanitizeTopic(raw string) (string, bool) {
	topic := trimBlanks(raw)
	if topic == "" || len(topic) > MaxTopicLength {
		return "", false
	}
	for i := 0; i < len(topic); i++ {
		if !isAlphanumeric(topic[i]) {
			return "", false
		}
	}
	return topic, true
}

// SanitizeMessage trims blanks around raw and returns the payload, or false
// when the result is empty, longer than MaxMessageLength or contains a byte
// outside printable ASCII [0x20, 0x7E].
func SanitizeMessage(raw string) (string, bool) {
	message := trimBlanks(raw)
	if message == "" || len(message) > MaxMessageLength {
		return "", false
	}
	for i := 0; i < len(message); i++ {
		if message[i] < 0x20 || message[i] > 0x7E {
			return "", false
		}
	}
	return message, true
}
