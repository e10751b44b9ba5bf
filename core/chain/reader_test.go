package chain

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLineReaderLookaheadKeepsNextLine(t *testing.T) {
	reader := newLineReader(strings.NewReader("a\n\n  \nb\r\nc"), 16)
	first, err := reader.next()
	if err != nil || string(first.text) != "a" || first.number != 1 {
		t.Fatalf("unexpected first line %q %d %v", first.text, first.number, err)
	}
	if !reader.hasMoreContent() {
		t.Fatalf("expected more content")
	}
	second, err := reader.next()
	if err != nil || string(second.text) != "b" || second.number != 4 {
		t.Fatalf("unexpected second line %q %d %v", second.text, second.number, err)
	}
	third, err := reader.next()
	if err != nil || string(third.text) != "c" || third.number != 5 {
		t.Fatalf("unexpected third line %q %d %v", third.text, third.number, err)
	}
	if reader.hasMoreContent() {
		t.Fatalf("expected end of content")
	}
	if _, err := reader.next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestLineReaderRejectsLongLines(t *testing.T) {
	reader := newLineReader(strings.NewReader(strings.Repeat("z", 40)+"\nok\n"), 8)
	if _, err := reader.next(); !errors.Is(err, errLineTooLong) {
		t.Fatalf("expected errLineTooLong, got %v", err)
	}
	if reader.lineNo != 1 {
		t.Fatalf("expected line number 1, got %d", reader.lineNo)
	}
}

func TestLineReaderDefersLongLineFoundByLookahead(t *testing.T) {
	reader := newLineReader(strings.NewReader("a\n"+strings.Repeat("z", 40)+"\n"), 8)
	if _, err := reader.next(); err != nil {
		t.Fatalf("first line: %v", err)
	}
	if !reader.hasMoreContent() {
		t.Fatalf("a long line still counts as content")
	}
	if _, err := reader.next(); !errors.Is(err, errLineTooLong) {
		t.Fatalf("expected deferred errLineTooLong, got %v", err)
	}
}
