package unmta

import (
	"strings"

	unmtaio "github.com/synqronlabs/unmta/io"
)

// Verb is a supported SMTP command verb. MAIL and RCPT carry their colon
// suffix because the verb table is matched by prefix.
type Verb string

const (
	VerbNone     Verb = ""
	VerbHelo     Verb = "HELO"
	VerbEhlo     Verb = "EHLO"
	VerbStartTLS Verb = "STARTTLS"
	VerbAuth     Verb = "AUTH"
	VerbMailFrom Verb = "MAIL FROM:"
	VerbRcptTo   Verb = "RCPT TO:"
	VerbData     Verb = "DATA"
	VerbQuit     Verb = "QUIT"
	VerbRset     Verb = "RSET"
	VerbHelp     Verb = "HELP"
	VerbNoop     Verb = "NOOP"
	VerbVrfy     Verb = "VRFY"
)

// verbTable is matched in order; the first prefix hit wins.
var verbTable = []Verb{
	VerbHelo,
	VerbEhlo,
	VerbStartTLS,
	VerbAuth,
	VerbMailFrom,
	VerbRcptTo,
	VerbData,
	VerbQuit,
	VerbRset,
	VerbHelp,
	VerbNoop,
	VerbVrfy,
}

// pipelineSafe lists the verbs that may appear after the first command of a
// pipelined batch (RFC 2920). Unrecognized commands are also allowed.
var pipelineSafe = map[Verb]bool{
	VerbEhlo:     true,
	VerbMailFrom: true,
	VerbRcptTo:   true,
	VerbData:     true,
	VerbQuit:     true,
	VerbRset:     true,
	VerbHelp:     true,
	VerbNoop:     true,
	VerbVrfy:     true,
}

// Command is one parsed protocol line.
type Command struct {
	// Raw is the line as received, without CRLF.
	Raw string
	// Verb is the matched verb, VerbNone when nothing matched.
	Verb Verb
	// Argument is the trimmed remainder after the verb.
	Argument string
	// Params is Argument split on runs of whitespace.
	Params []string
}

// Known reports whether the command matched a verb.
func (c Command) Known() bool {
	return c.Verb != VerbNone
}

// PipelineSafe reports whether the command may follow another command in the
// same pipelined batch.
func (c Command) PipelineSafe() bool {
	return !c.Known() || pipelineSafe[c.Verb]
}

// Name returns the verb without the colon, e.g. "MAIL FROM", or "UNKNOWN".
// Used for logs and metric labels.
func (c Command) Name() string {
	if !c.Known() {
		return "UNKNOWN"
	}
	return strings.TrimSuffix(string(c.Verb), ":")
}

// ParseCommand parses a single line. Verbs are matched case-insensitively
// by prefix against the verb table.
func ParseCommand(line string) Command {
	cmd := Command{Raw: line}
	for _, verb := range verbTable {
		if len(line) >= len(verb) && strings.EqualFold(line[:len(verb)], string(verb)) {
			cmd.Verb = verb
			cmd.Argument = strings.TrimSpace(line[len(verb):])
			break
		}
	}
	if cmd.Argument != "" {
		cmd.Params = strings.Fields(cmd.Argument)
	}
	return cmd
}

// SplitCommands parses every complete CRLF-terminated line in chunk. Bytes
// after the last CRLF are ignored.
func SplitCommands(chunk []byte) []Command {
	splitter := unmtaio.NewSplitter(0)
	splitter.Write(chunk)

	var cmds []Command
	for {
		line, ok := splitter.Next()
		if !ok {
			return cmds
		}
		cmds = append(cmds, ParseCommand(line.Text))
	}
}
