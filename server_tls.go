package unmta

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/synqronlabs/unmta/response"
)

var (
	tlsAlreadyActive = response.Raw(response.CodeBadSequence, "5.5.1 TLS already active")
	tlsNoParams      = response.Raw(response.CodeSyntaxError, "5.5.4 Syntax error, no parameters allowed")
	tlsReady         = response.Raw(response.CodeServiceReady, "2.0.0 Ready to start TLS")
)

// handleStartTLS upgrades the transport in place (RFC 3207). Plaintext
// buffered behind the command is discarded and the session starts over.
func (c *connection) handleStartTLS(cmd Command) {
	cfg := c.server.config
	if !cfg.EnableStartTLS || cfg.TLSConfig == nil {
		c.handleUnknown(cmd)
		return
	}
	if c.session.Phase() != PhaseHelo || c.session.greeting != GreetingEhlo {
		c.reply(badSequence)
		return
	}
	if cmd.Argument != "" {
		c.reply(tlsNoParams)
		return
	}
	if c.session.isSecure {
		c.reply(tlsAlreadyActive)
		return
	}

	c.reply(tlsReady)
	if c.closing {
		return
	}

	// Nothing read before the handshake may reach the parser afterwards.
	c.splitter.Reset()

	plain := c.transport()
	tlsConn := tls.Server(plain, cfg.TLSConfig)

	ctx, cancel := context.WithTimeout(c.ctx, cfg.IdleTimeout)
	defer cancel()
	_ = plain.SetDeadline(time.Now().Add(cfg.IdleTimeout))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		c.logger.Warn("TLS handshake failed", slog.Any("error", err))
		c.closing = true
		return
	}
	_ = plain.SetDeadline(time.Time{})

	c.swapTransport(tlsConn)
	c.session.secure()

	state := tlsConn.ConnectionState()
	c.logger.Info("TLS established",
		slog.String("version", tls.VersionName(state.Version)),
		slog.String("cipher", tls.CipherSuiteName(state.CipherSuite)),
	)
}
