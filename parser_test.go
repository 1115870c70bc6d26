package unmta

import (
	"slices"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line     string
		verb     Verb
		argument string
		params   []string
	}{
		{"EHLO client.example.com", VerbEhlo, "client.example.com", []string{"client.example.com"}},
		{"ehlo client.example.com", VerbEhlo, "client.example.com", []string{"client.example.com"}},
		{"HELO", VerbHelo, "", nil},
		{"MAIL FROM:<a@b.com>", VerbMailFrom, "<a@b.com>", []string{"<a@b.com>"}},
		{"mail from: <a@b.com>  SIZE=100\tBODY=8BITMIME", VerbMailFrom, "<a@b.com>  SIZE=100\tBODY=8BITMIME", []string{"<a@b.com>", "SIZE=100", "BODY=8BITMIME"}},
		{"RCPT TO:<c@d.com>", VerbRcptTo, "<c@d.com>", []string{"<c@d.com>"}},
		{"STARTTLS", VerbStartTLS, "", nil},
		{"AUTH PLAIN AGFAYg==", VerbAuth, "PLAIN AGFAYg==", []string{"PLAIN", "AGFAYg=="}},
		{"DATA", VerbData, "", nil},
		{"QUIT", VerbQuit, "", nil},
		{"RSET", VerbRset, "", nil},
		{"HELP mail", VerbHelp, "mail", []string{"mail"}},
		{"NOOP", VerbNoop, "", nil},
		{"VRFY postmaster", VerbVrfy, "postmaster", []string{"postmaster"}},
		{"MAIL <a@b.com>", VerbNone, "", nil},
		{"EXPN list", VerbNone, "", nil},
		{"", VerbNone, "", nil},
		{"   ", VerbNone, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd := ParseCommand(tt.line)
			if cmd.Raw != tt.line {
				t.Errorf("Raw = %q, want %q", cmd.Raw, tt.line)
			}
			if cmd.Verb != tt.verb {
				t.Errorf("Verb = %q, want %q", cmd.Verb, tt.verb)
			}
			if cmd.Argument != tt.argument {
				t.Errorf("Argument = %q, want %q", cmd.Argument, tt.argument)
			}
			if !slices.Equal(cmd.Params, tt.params) {
				t.Errorf("Params = %q, want %q", cmd.Params, tt.params)
			}
			if cmd.Known() != (tt.verb != VerbNone) {
				t.Errorf("Known() = %v", cmd.Known())
			}
		})
	}
}

func TestCommandName(t *testing.T) {
	if got := ParseCommand("MAIL FROM:<a@b.com>").Name(); got != "MAIL FROM" {
		t.Errorf("Name() = %q, want MAIL FROM", got)
	}
	if got := ParseCommand("XYZZY").Name(); got != "UNKNOWN" {
		t.Errorf("Name() = %q, want UNKNOWN", got)
	}
}

func TestPipelineSafe(t *testing.T) {
	safe := []string{"EHLO x", "MAIL FROM:<a@b.com>", "RCPT TO:<a@b.com>", "DATA", "QUIT", "RSET", "HELP", "NOOP", "VRFY x", "BOGUS"}
	unsafe := []string{"HELO x", "STARTTLS", "AUTH LOGIN"}

	for _, line := range safe {
		if !ParseCommand(line).PipelineSafe() {
			t.Errorf("%q should be pipeline safe", line)
		}
	}
	for _, line := range unsafe {
		if ParseCommand(line).PipelineSafe() {
			t.Errorf("%q should not be pipeline safe", line)
		}
	}
}

func TestSplitCommands(t *testing.T) {
	cmds := SplitCommands([]byte("EHLO a\r\nMAIL FROM:<x@y>\r\nQUIT\r\nNOO"))
	if len(cmds) != 3 {
		t.Fatalf("got %d commands, want 3", len(cmds))
	}
	want := []Verb{VerbEhlo, VerbMailFrom, VerbQuit}
	for i, cmd := range cmds {
		if cmd.Verb != want[i] {
			t.Errorf("command %d verb = %q, want %q", i, cmd.Verb, want[i])
		}
	}

	if cmds := SplitCommands([]byte("no terminator")); len(cmds) != 0 {
		t.Errorf("expected no commands, got %v", cmds)
	}
}

func FuzzParseCommand(f *testing.F) {
	seeds := []string{
		"EHLO example.com",
		"MAIL FROM:<test@example.com> SIZE=100",
		"RCPT TO:<user@example.com>",
		"AUTH PLAIN AGFAYg==",
		"",
		" ",
		"MAIL FROM:",
		"\x00\xff",
		strings.Repeat("A", 1000),
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, line string) {
		cmd := ParseCommand(line)
		if cmd.Raw != line {
			t.Fatalf("Raw = %q, want %q", cmd.Raw, line)
		}
		if !cmd.Known() && (cmd.Argument != "" || cmd.Params != nil) {
			t.Fatalf("unknown command with argument: %+v", cmd)
		}
		if cmd.Known() && !strings.EqualFold(line[:len(cmd.Verb)], string(cmd.Verb)) {
			t.Fatalf("verb %q is not a prefix of %q", cmd.Verb, line)
		}
		if strings.TrimSpace(cmd.Argument) != cmd.Argument {
			t.Fatalf("argument not trimmed: %q", cmd.Argument)
		}
	})
}
