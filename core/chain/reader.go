package chain

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

var errLineTooLong = errors.New("line exceeds maximum length")

type rawLine struct {
	number int
	text   []byte
}

// lineReader yields newline-terminated lines with a bounded length and lets
// the verifier look past the current line without losing the next one.
type lineReader struct {
	reader   *bufio.Reader
	maxBytes int
	lineNo   int

	pending    *rawLine
	pendingErr error
}

func newLineReader(input io.Reader, maxBytes int) *lineReader {
	return &lineReader{reader: bufio.NewReaderSize(input, 64<<10), maxBytes: maxBytes}
}

func (reader *lineReader) next() (rawLine, error) {
	if reader.pending != nil {
		line := *reader.pending
		reader.pending = nil
		return line, nil
	}
	if reader.pendingErr != nil {
		err := reader.pendingErr
		reader.pendingErr = nil
		return rawLine{}, err
	}
	return reader.read()
}

// hasMoreContent reports whether a non-blank line follows. Blank lines read
// while looking are dropped; the first non-blank line (or failure) is kept
// for the next call to next.
func (reader *lineReader) hasMoreContent() bool {
	for {
		line, err := reader.read()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil {
			reader.pendingErr = err
			return true
		}
		if len(bytes.TrimSpace(line.text)) == 0 {
			continue
		}
		reader.pending = &line
		return true
	}
}

func (reader *lineReader) read() (rawLine, error) {
	var buffer []byte
	for {
		chunk, err := reader.reader.ReadSlice('\n')
		buffer = append(buffer, chunk...)
		// Allow room for a trailing CRLF before declaring the line too long.
		if len(buffer) > reader.maxBytes+2 {
			reader.lineNo++
			return rawLine{number: reader.lineNo}, errLineTooLong
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(buffer) == 0 {
				return rawLine{}, io.EOF
			}
			break
		}
		return rawLine{number: reader.lineNo + 1}, err
	}
	reader.lineNo++
	text := bytes.TrimSuffix(buffer, []byte("\n"))
	text = bytes.TrimSuffix(text, []byte("\r"))
	if len(text) > reader.maxBytes {
		return rawLine{number: reader.lineNo}, errLineTooLong
	}
	return rawLine{number: reader.lineNo, text: text}, nil
}
