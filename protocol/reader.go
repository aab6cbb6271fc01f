package protocol

import (
	"bufio"
	"errors"
	"io"
)

// DefaultMaxLineLength bounds a single command line, excluding its line ending.
const DefaultMaxLineLength = 4096

// ErrLineTooLong is returned by ReadLine after discarding a line longer than
// the reader's limit. The reader stays usable.
var ErrLineTooLong = errors.New("protocol: line too long")

// LineReader frames a byte stream into newline-terminated lines. A single
// socket read may carry a partial line or several lines; LineReader buffers
// across reads so every returned line is complete.
type LineReader struct {
	reader *bufio.Reader
	limit  int
}

// NewLineReader returns a LineReader over r. A limit <= 0 selects
// DefaultMaxLineLength.
func NewLineReader(r io.Reader, limit int) *LineReader {
	if limit <= 0 {
		limit = DefaultMaxLineLength
	}
	size := limit + 2
	if size < 512 {
		size = 512
	}
	return &LineReader{reader: bufio.NewReaderSize(r, size), limit: limit}
}

// ReadLine returns the next line without its "\n" or "\r\n" ending. A final
// unterminated line before EOF is returned as a line; the following call
// returns io.EOF.
func (lr *LineReader) ReadLine() (string, error) {
	var line []byte
	var overflow bool

	for {
		chunk, err := lr.reader.ReadSlice('\n')
		if !overflow {
			line = append(line, chunk...)
			if len(trimLineEnding(line)) > lr.limit {
				overflow = true
				line = nil
			}
		}

		switch {
		case err == nil:
			if overflow {
				return "", ErrLineTooLong
			}
			return string(trimLineEnding(line)), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && !overflow && len(line) > 0:
			return string(trimLineEnding(line)), nil
		default:
			return "", err
		}
	}
}

func trimLineEnding(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
