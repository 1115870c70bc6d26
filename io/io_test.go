package io

import (
	"strings"
	"testing"
)

func collect(s *Splitter) []Line {
	var lines []Line
	for {
		line, ok := s.Next()
		if !ok {
			return lines
		}
		lines = append(lines, line)
	}
}

func TestSplitter(t *testing.T) {
	tests := []struct {
		name     string
		max      int
		chunks   []string
		expected []Line
		rest     bool
	}{
		{
			name:     "single command",
			chunks:   []string{"EHLO client\r\n"},
			expected: []Line{{Text: "EHLO client"}},
		},
		{
			name:   "pipelined batch",
			chunks: []string{"EHLO a\r\nMAIL FROM:<x@y>\r\nQUIT\r\n"},
			expected: []Line{
				{Text: "EHLO a"},
				{Text: "MAIL FROM:<x@y>"},
				{Text: "QUIT"},
			},
		},
		{
			name:     "line split across reads",
			chunks:   []string{"NO", "OP\r", "\n"},
			expected: []Line{{Text: "NOOP"}},
		},
		{
			name:     "partial line stays buffered",
			chunks:   []string{"RSET\r\nNOO"},
			expected: []Line{{Text: "RSET"}},
			rest:     true,
		},
		{
			name:     "empty line",
			chunks:   []string{"\r\n"},
			expected: []Line{{Text: ""}},
		},
		{
			name:     "bare LF is not a terminator",
			chunks:   []string{"NOOP\nRSET\r\n"},
			expected: []Line{{Text: "NOOP\nRSET"}},
		},
		{
			name:     "line at the limit",
			max:      4,
			chunks:   []string{"NOOP\r\n"},
			expected: []Line{{Text: "NOOP"}},
		},
		{
			name:     "line over the limit in one read",
			max:      4,
			chunks:   []string{"NOOPS\r\nRSET\r\n"},
			expected: []Line{{TooLong: true}, {Text: "RSET"}},
		},
		{
			name:     "line over the limit across reads",
			max:      4,
			chunks:   []string{"AAAAAA", "AAAAAA\r", "\nQUIT\r\n"},
			expected: []Line{{TooLong: true}, {Text: "QUIT"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSplitter(tt.max)
			var got []Line
			for _, chunk := range tt.chunks {
				s.Write([]byte(chunk))
				got = append(got, collect(s)...)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("got %d lines %+v, want %d %+v", len(got), got, len(tt.expected), tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("line %d = %+v, want %+v", i, got[i], tt.expected[i])
				}
			}
			if s.Buffered() != tt.rest {
				t.Errorf("Buffered() = %v, want %v", s.Buffered(), tt.rest)
			}
		})
	}
}

func TestSplitterDrain(t *testing.T) {
	s := NewSplitter(0)
	s.Write([]byte("DATA\r\nSubject: hi\r\n\r\nbody"))

	line, ok := s.Next()
	if !ok || line.Text != "DATA" {
		t.Fatalf("Next() = %+v, %v; want DATA", line, ok)
	}
	rest := s.Drain()
	if string(rest) != "Subject: hi\r\n\r\nbody" {
		t.Errorf("Drain() = %q", rest)
	}
	if s.Buffered() {
		t.Error("expected nothing buffered after Drain")
	}
}

func TestSplitterReset(t *testing.T) {
	s := NewSplitter(0)
	s.Write([]byte("STARTTLS\r\nEHLO injected\r\n"))

	if line, _ := s.Next(); line.Text != "STARTTLS" {
		t.Fatalf("Next() = %q, want STARTTLS", line.Text)
	}
	s.Reset()
	if _, ok := s.Next(); ok {
		t.Error("plaintext buffered before the reset must not be returned")
	}
}

// terminatorPosition feeds payload in chunks of size n and returns how many
// bytes had been pushed when the window first matched, or -1.
func terminatorPosition(payload string, n int) int {
	w := NewTerminatorWindow()
	fed := 0
	for len(payload) > 0 {
		size := min(n, len(payload))
		fed += size
		if w.Push([]byte(payload[:size])) {
			return fed
		}
		payload = payload[size:]
	}
	return -1
}

func TestTerminatorWindowPartitions(t *testing.T) {
	payloads := []string{
		"Subject: test\r\n\r\nHello world\r\n.\r\n",
		"Subject: dots\r\n\r\n..leading dot\r\n. \r\nstill body\r\n.\r\n",
		strings.Repeat("0123456789", 100) + "\r\n.\r\n",
		".\r\n",
	}

	for _, payload := range payloads {
		want := terminatorPosition(payload, len(payload))
		if want != len(payload) {
			t.Fatalf("whole payload %q: terminator at %d, want %d", payload, want, len(payload))
		}
		for _, n := range []int{1, 2, 3, 5, 7, len(payload)} {
			if got := terminatorPosition(payload, n); got != want {
				t.Errorf("payload %q chunk size %d: terminator at %d, want %d", payload, n, got, want)
			}
		}
	}
}

func TestTerminatorWindowNoFalsePositive(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
	}{
		{name: "dot not at line start", chunks: []string{"hello.\r\n", "world\r\n"}},
		{name: "stuffed dot", chunks: []string{"line\r\n..\r\n"}},
		{name: "terminator mid chunk", chunks: []string{"a\r\n.\r\nb"}},
		{name: "other char in place of dot", chunks: []string{"a\r\n", "x", "\r\n"}},
		{name: "empty chunks", chunks: []string{"", "", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewTerminatorWindow()
			for _, chunk := range tt.chunks {
				if w.Push([]byte(chunk)) {
					t.Fatalf("unexpected terminator after %q", chunk)
				}
			}
		})
	}
}

func TestTerminatorWindowSplitAcrossLongChunks(t *testing.T) {
	w := NewTerminatorWindow()
	chunks := []string{
		strings.Repeat("x", 4096) + "\r",
		"\n",
		".",
		"\r",
		"\n",
	}
	for i, chunk := range chunks {
		matched := w.Push([]byte(chunk))
		if matched != (i == len(chunks)-1) {
			t.Errorf("chunk %d: matched = %v", i, matched)
		}
	}
}

func TestTerminatorWindowScan(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []int
	}{
		{"whole chunk", []string{"body\r\n.\r\n"}, []int{9}},
		{"commands after marker", []string{"body\r\n.\r\nQUIT\r\n"}, []int{9}},
		{"empty body", []string{".\r\nQUIT\r\n"}, []int{3}},
		{"marker split", []string{"body\r\n", ".\r", "\nRSET\r\n"}, []int{-1, -1, 1}},
		{"dot stuffed", []string{"a\r\n..\r\nb\r\n.\r\n"}, []int{13}},
		{"no marker", []string{"a\r\n. \r\n", "b\r\n"}, []int{-1, -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewTerminatorWindow()
			for i, chunk := range tt.chunks {
				if got := w.Scan([]byte(chunk)); got != tt.want[i] {
					t.Errorf("chunk %d: Scan() = %d, want %d", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestTerminatorWindowScanRecordsPrefixOnly(t *testing.T) {
	w := NewTerminatorWindow()
	if n := w.Scan([]byte("x\r\n.\r\nMAIL")); n != 6 {
		t.Fatalf("Scan() = %d, want 6", n)
	}
	// The window saw the stream up to the marker, not the command after it.
	if tail := string(w.join()); !strings.HasSuffix(tail, "\r\n.\r\n") {
		t.Errorf("window tail = %q", tail)
	}
}

func FuzzTerminatorWindow(f *testing.F) {
	f.Add("body\r\n.\r\n", uint8(1))
	f.Add("a\r\n.\r\nb\r\n.\r\n", uint8(3))
	f.Add(".\r\n", uint8(2))

	f.Fuzz(func(t *testing.T, payload string, size uint8) {
		n := int(size%16) + 1
		w := NewTerminatorWindow()
		stream := "\r\n"
		for len(payload) > 0 {
			step := min(n, len(payload))
			stream += payload[:step]
			got := w.Push([]byte(payload[:step]))
			want := strings.HasSuffix(stream, "\r\n.\r\n")
			if got != want {
				t.Fatalf("after %q: Push() = %v, want %v", stream, got, want)
			}
			payload = payload[step:]
		}
	})
}

func FuzzTerminatorWindowScan(f *testing.F) {
	f.Add("body\r\n.\r\nQUIT\r\n", uint8(4))
	f.Add(".\r\n", uint8(1))

	f.Fuzz(func(t *testing.T, payload string, size uint8) {
		n := int(size%16) + 1
		want := strings.Index("\r\n"+payload, "\r\n.\r\n")
		if want >= 0 {
			want += len("\r\n.\r\n") - len("\r\n")
		}

		w := NewTerminatorWindow()
		consumed := 0
		for consumed < len(payload) {
			step := min(n, len(payload)-consumed)
			got := w.Scan([]byte(payload[consumed : consumed+step]))
			if got >= 0 {
				if consumed+got != want {
					t.Fatalf("%q: marker ends at %d, want %d", payload, consumed+got, want)
				}
				return
			}
			consumed += step
		}
		if want >= 0 {
			t.Fatalf("%q: marker ending at %d not found", payload, want)
		}
	})
}
