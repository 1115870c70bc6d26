package unmta

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/synqronlabs/unmta/address"
	"github.com/synqronlabs/unmta/response"
)

// Engine replies outside the per-event catalogs.
var (
	badSequence     = response.Raw(response.CodeBadSequence, "5.5.1 Bad sequence of commands")
	syntaxError     = response.Raw(response.CodeSyntaxError, "5.5.4 Syntax error in parameters or arguments")
	invalidAddress  = response.Raw(response.CodeSyntaxError, "5.1.7 Invalid address")
	heloParamsError = response.Raw(response.CodeParamsNotRecognized, "5.5.4 Parameters not supported after HELO, use EHLO")
)

func (c *connection) handleHelo(cmd Command) {
	if cmd.Argument == "" {
		c.reply(response.Helo.Must(response.FlavorReject, response.CodeSyntaxError, ""))
		return
	}

	// A second greeting past the envelope start forgets the session.
	if phase := c.session.Phase(); phase != PhaseConnection && phase != PhaseHelo {
		c.logger.Debug("greeting resets session", slog.String("phase", phase.String()))
		c.session.restart()
	}

	greeting := GreetingHelo
	if cmd.Verb == VerbEhlo {
		greeting = GreetingEhlo
	}
	prev := c.session.greetingState()
	c.session.greet(greeting, cmd.Params[0])

	verdict := c.plugins().helo(c.ctx, c.env(), cmd)
	refused := !verdict.IsZero() && !verdict.IsAccept()
	if refused {
		c.session.ungreet(prev)
	}
	accept := response.Helo.Must(response.FlavorAccept, response.CodeOK,
		fmt.Sprintf("{domain} Hello %s, pleased to meet you", cmd.Argument))

	if greeting == GreetingHelo || refused {
		c.reply(orDefault(verdict, accept))
		return
	}

	r := orDefault(verdict, accept)
	lines := append([]string{r.Text(c.server.config.Hostname)}, c.extensions()...)
	c.replyMultiline(r.Code(), lines)
}

// extensions returns the EHLO keywords in their fixed order.
func (c *connection) extensions() []string {
	cfg := c.server.config
	secure := c.session.isSecure

	lines := []string{"PIPELINING", "ENHANCEDSTATUSCODES"}
	if cfg.EnableAuth && (!cfg.AuthRequireTLS || secure) {
		lines = append(lines, "AUTH LOGIN PLAIN")
	}
	if cfg.EnableStartTLS && !secure {
		lines = append(lines, "STARTTLS")
	}
	lines = append(lines, fmt.Sprintf("SIZE %d", cfg.MaxMessageSize))
	return lines
}

// heloParamsRejected reports whether a MAIL/RCPT argument carries
// parameters the client may only use after EHLO.
func (c *connection) heloParamsRejected(cmd Command) bool {
	return c.session.greeting == GreetingHelo && len(cmd.Params) > 1
}

func (c *connection) handleMail(cmd Command) {
	phase := c.session.Phase()
	// Post-data is accepted as well: RFC 5321 lets a client start the next
	// transaction right after the previous DATA without an RSET.
	if phase != PhaseHelo && phase != PhaseAuth && phase != PhasePostData {
		c.reply(badSequence)
		return
	}
	if cmd.Argument == "" {
		c.reply(syntaxError)
		return
	}
	if c.heloParamsRejected(cmd) {
		c.reply(heloParamsError)
		return
	}

	from, err := address.Check(cmd.Argument, true)
	if err != nil {
		c.logger.Debug("invalid sender", slog.String("argument", cmd.Argument), slog.Any("error", err))
		c.reply(invalidAddress)
		return
	}

	// A new transaction after a completed one starts from a clean envelope.
	if phase == PhasePostData {
		c.session.reset(PhaseHelo)
		phase = PhaseHelo
	}
	c.session.setSender(from)

	verdict := orDefault(c.plugins().mailFrom(c.ctx, c.env(), from), response.MailFrom.Accept())
	if !verdict.IsAccept() {
		c.session.dropSender(phase)
	}
	c.reply(verdict)
}

func (c *connection) handleRcpt(cmd Command) {
	phase := c.session.Phase()
	if phase != PhaseSender && phase != PhaseRecipient {
		c.reply(badSequence)
		return
	}
	if cmd.Argument == "" {
		c.reply(syntaxError)
		return
	}
	if c.heloParamsRejected(cmd) {
		c.reply(heloParamsError)
		return
	}

	to, err := address.Check(cmd.Argument, false)
	if err != nil {
		c.logger.Debug("invalid recipient", slog.String("argument", cmd.Argument), slog.Any("error", err))
		c.reply(invalidAddress)
		return
	}

	c.session.addRecipient(to)

	// No plugin accepting means the recipient is refused.
	verdict := orDefault(c.plugins().rcptTo(c.ctx, c.env(), to), response.RcptTo.Reject())
	if !verdict.IsAccept() {
		c.session.dropLastRecipient()
	}
	c.reply(verdict)
}

func (c *connection) handleData(cmd Command) {
	if c.session.Phase() != PhaseRecipient {
		c.reply(badSequence)
		return
	}
	if cmd.Argument != "" {
		c.reply(syntaxError)
		return
	}

	c.session.startData()
	c.window.Reset()

	r := orDefault(c.plugins().dataStart(c.ctx, c.env()), response.DataStart.Accept())
	if !r.IsAccept() {
		c.session.abortData()
	}
	c.reply(r)
}

// handleBody feeds body bytes to the plugins and the terminator window. It
// returns what followed the end-of-data marker in chunk, which is commands.
func (c *connection) handleBody(chunk []byte) []byte {
	n := c.window.Scan(chunk)
	var rest []byte
	if n >= 0 {
		chunk, rest = chunk[:n], chunk[n:]
	}
	c.session.addDataSize(len(chunk))
	metricDataBytes.Add(float64(len(chunk)))

	env := c.env()
	c.plugins().dataBytes(c.ctx, env, chunk)
	if n < 0 {
		return nil
	}

	c.plugins().dataStreamEnd(c.ctx, env)
	c.session.endData()

	r := orDefault(c.plugins().dataEnd(c.ctx, c.env()), response.DataEnd.Accept())
	metricMessages.WithLabelValues(r.Flavor().String()).Inc()
	c.logger.Info("message received",
		slog.Int64("session_bytes", c.session.dataSize),
		slog.Int("recipients", len(c.session.recipients)),
		slog.Int("code", int(r.Code())),
	)
	c.reply(r)
	return rest
}

func (c *connection) handleQuit() {
	c.reply(orDefault(c.plugins().quit(c.ctx, c.env()), response.Quit.Accept()))
	c.closing = true
}

func (c *connection) handleRset() {
	verdict := c.plugins().rset(c.ctx, c.env())
	if c.session.Phase() != PhaseConnection && (verdict.IsZero() || verdict.IsAccept()) {
		c.session.reset(PhaseHelo)
	}
	c.reply(orDefault(verdict, response.Rset.Accept()))
}

func (c *connection) handleHelp(cmd Command) {
	c.reply(orDefault(c.plugins().help(c.ctx, c.env(), cmd), response.Help.Accept()))
}

func (c *connection) handleNoop() {
	c.reply(orDefault(c.plugins().noop(c.ctx, c.env()), response.Noop.Accept()))
}

func (c *connection) handleVrfy(cmd Command) {
	c.reply(orDefault(c.plugins().vrfy(c.ctx, c.env(), cmd), response.Vrfy.Accept()))
}

func (c *connection) handleUnknown(cmd Command) {
	verb, _, _ := strings.Cut(cmd.Raw, " ")
	c.logger.Debug("unknown command", slog.String("verb", verb))
	c.reply(orDefault(c.plugins().unknown(c.ctx, c.env(), cmd), response.Unknown.Reject()))
}

func orDefault(verdict, fallback response.Response) response.Response {
	if verdict.IsZero() {
		return fallback
	}
	return verdict
}
