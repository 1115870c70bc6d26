// Package io turns raw transport reads into SMTP protocol units: CRLF
// terminated command lines and the end-of-data marker of a message body.
package io

import "bytes"

var crlf = []byte("\r\n")

// Line is one CRLF-terminated line taken from the input, without its CRLF.
type Line struct {
	Text string
	// TooLong is set when the line exceeded the limit. Text is empty then;
	// the bytes were discarded as they arrived.
	TooLong bool
}

// Splitter buffers raw reads and hands out complete lines. Bytes after the
// last CRLF stay buffered until the next Write completes them.
type Splitter struct {
	max     int
	buf     []byte
	discard bool
}

// NewSplitter returns a Splitter enforcing max bytes per line, CRLF
// excluded. A max of zero or less disables the limit.
func NewSplitter(max int) *Splitter {
	return &Splitter{max: max}
}

// Write appends a raw chunk read from the transport.
func (s *Splitter) Write(chunk []byte) {
	s.buf = append(s.buf, chunk...)
}

// Next returns the next complete line. It returns false when no complete
// line is buffered.
func (s *Splitter) Next() (Line, bool) {
	i := bytes.Index(s.buf, crlf)
	if i < 0 {
		// Drop the head of an overlong partial line so memory stays bounded,
		// keeping a trailing CR that may pair with the next chunk's LF.
		if s.max > 0 && len(s.buf) > s.max {
			s.discard = true
			keep := 0
			if s.buf[len(s.buf)-1] == '\r' {
				keep = 1
			}
			s.buf = append(s.buf[:0], s.buf[len(s.buf)-keep:]...)
		}
		return Line{}, false
	}

	text := s.buf[:i]
	tooLong := s.discard || (s.max > 0 && len(text) > s.max)
	line := Line{TooLong: tooLong}
	if !tooLong {
		line.Text = string(text)
	}

	s.buf = s.buf[i+2:]
	s.discard = false
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return line, true
}

// Buffered reports whether any bytes are waiting, complete line or not.
func (s *Splitter) Buffered() bool {
	return len(s.buf) > 0
}

// Drain removes and returns everything buffered. Used when the stream stops
// carrying commands, e.g. once DATA has been accepted.
func (s *Splitter) Drain() []byte {
	b := s.buf
	s.buf = nil
	s.discard = false
	return b
}

// Reset discards everything buffered. After a transport swap, bytes read
// from the old transport must never reach the parser.
func (s *Splitter) Reset() {
	s.buf = nil
	s.discard = false
}

// Terminator is the end-of-data marker.
var Terminator = []byte("\r\n.\r\n")

const windowChunks = 5

// TerminatorWindow detects the end-of-data marker in a body that may arrive
// split across any number of reads. It keeps at most the last five bytes of
// each of the last five chunks, which always contains the true last five
// bytes of the stream.
type TerminatorWindow struct {
	tails   [][]byte
	joined  []byte
	scratch []byte
}

// NewTerminatorWindow returns a window primed for a body that starts right
// after the DATA command line.
func NewTerminatorWindow() *TerminatorWindow {
	w := &TerminatorWindow{}
	w.Reset()
	return w
}

// Reset primes the window with the CRLF that ended the DATA command, so an
// empty body (".\r\n" alone) terminates as well.
func (w *TerminatorWindow) Reset() {
	w.tails = w.tails[:0]
	w.tails = append(w.tails, []byte("\r\n"))
}

// Push records a chunk and reports whether the stream now ends with the
// terminator.
func (w *TerminatorWindow) Push(chunk []byte) bool {
	if len(chunk) == 0 {
		return false
	}
	tail := chunk
	if len(tail) > len(Terminator) {
		tail = tail[len(tail)-len(Terminator):]
	}
	w.tails = append(w.tails, bytes.Clone(tail))
	if len(w.tails) > windowChunks {
		w.tails = w.tails[len(w.tails)-windowChunks:]
	}
	return bytes.HasSuffix(w.join(), Terminator)
}

// Scan finds the terminator anywhere in chunk, including one that started
// in earlier chunks. It returns the length of the chunk prefix that ends
// with the terminator, or -1 if the body goes on. Only that prefix is
// recorded; the bytes after it are not body.
func (w *TerminatorWindow) Scan(chunk []byte) int {
	if len(chunk) == 0 {
		return -1
	}
	prefix := w.join()
	if keep := len(Terminator) - 1; len(prefix) > keep {
		prefix = prefix[len(prefix)-keep:]
	}
	w.scratch = append(append(w.scratch[:0], prefix...), chunk...)

	idx := bytes.Index(w.scratch, Terminator)
	if idx < 0 {
		w.Push(chunk)
		return -1
	}
	n := idx + len(Terminator) - len(prefix)
	w.Push(chunk[:n])
	return n
}

func (w *TerminatorWindow) join() []byte {
	w.joined = w.joined[:0]
	for _, t := range w.tails {
		w.joined = append(w.joined, t...)
	}
	return w.joined
}
