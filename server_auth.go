package unmta

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/synqronlabs/unmta/response"
	"github.com/synqronlabs/unmta/sasl"
)

var (
	authCancelled   = response.Raw(response.CodeSyntaxError, "5.0.0 Authentication cancelled")
	authBadResponse = response.Raw(response.CodeSyntaxError, "5.5.2 Cannot decode response")
	authUnknownMech = response.Raw(response.CodeParameterNotImpl, "5.5.4 Unrecognized authentication type")
	authNeedsEhlo   = response.Raw(response.CodeBadSequence, "5.5.1 Authentication requires EHLO")
	authAlreadyDone = response.Raw(response.CodeBadSequence, "5.5.1 Already authenticated")
	authNeedsTLS    = response.Raw(response.CodeAuthRequired, "5.7.0 Authentication requires a secure connection")
	authSyntaxError = response.Raw(response.CodeSyntaxError, "5.5.4 Syntax error in parameters or arguments")
)

// handleAuth processes the AUTH command. PLAIN completes within the command;
// LOGIN switches the session into its challenge sub-state.
func (c *connection) handleAuth(cmd Command) {
	if !c.server.config.EnableAuth {
		c.handleUnknown(cmd)
		return
	}
	if phase := c.session.Phase(); phase != PhaseHelo && phase != PhaseAuth {
		c.reply(badSequence)
		return
	}
	if c.session.greeting != GreetingEhlo {
		c.reply(authNeedsEhlo)
		return
	}
	if c.session.isAuthenticated {
		c.reply(authAlreadyDone)
		return
	}
	if c.server.config.AuthRequireTLS && !c.session.isSecure {
		c.reply(authNeedsTLS)
		return
	}
	if len(cmd.Params) == 0 {
		c.reply(authSyntaxError)
		return
	}

	mechanism := strings.ToUpper(cmd.Params[0])
	switch {
	case mechanism == sasl.MechanismLogin && len(cmd.Params) != 1,
		mechanism == sasl.MechanismPlain && len(cmd.Params) != 2:
		c.reply(authSyntaxError)
		return
	case mechanism != sasl.MechanismLogin && mechanism != sasl.MechanismPlain:
		c.reply(authUnknownMech)
		return
	}

	c.session.setPhase(PhaseAuth)

	if mechanism == sasl.MechanismPlain {
		creds, err := sasl.DecodePlain(cmd.Params[1])
		if err != nil {
			c.failAuth(err)
			return
		}
		c.finishAuth(creds)
		return
	}

	c.session.auth = authAwaitUsername
	c.reply(response.Raw(response.CodeAuthContinue, sasl.LoginChallengeUsername))
}

// handleAuthLine consumes one AUTH LOGIN answer. It is never parsed as a
// command.
func (c *connection) handleAuthLine(line string) {
	value, err := sasl.DecodeLoginResponse(line)
	if err != nil {
		c.failAuth(err)
		return
	}

	switch c.session.auth {
	case authAwaitUsername:
		c.session.authUser = value
		c.session.auth = authAwaitPassword
		c.reply(response.Raw(response.CodeAuthContinue, sasl.LoginChallengePassword))
	case authAwaitPassword:
		c.finishAuth(sasl.LoginCredentials(c.session.authUser, value))
	}
}

// endAuth leaves the AUTH sub-dialogue and returns to the helo phase.
func (c *connection) endAuth() {
	c.session.auth = authIdle
	c.session.authUser = ""
	c.session.setPhase(PhaseHelo)
}

func (c *connection) failAuth(err error) {
	c.endAuth()
	c.logger.Debug("authentication aborted", slog.Any("error", err))
	if errors.Is(err, sasl.ErrAuthenticationCancelled) {
		c.reply(authCancelled)
		return
	}
	if errors.Is(err, sasl.ErrEmptyResponse) || errors.Is(err, sasl.ErrInvalidFormat) {
		c.reply(authSyntaxError)
		return
	}
	c.reply(authBadResponse)
}

// finishAuth asks the plugins. Only an accepting verdict authenticates.
func (c *connection) finishAuth(creds *sasl.Credentials) {
	c.endAuth()

	verdict := c.plugins().auth(c.ctx, c.env(), creds)
	if verdict.IsAccept() {
		c.session.authenticate(creds.Identity())
		c.logger.Info("client authenticated",
			slog.String("mechanism", creds.Mechanism),
			slog.String("identity", creds.Identity()),
		)
	} else {
		c.logger.Info("authentication failed",
			slog.String("mechanism", creds.Mechanism),
			slog.String("identity", creds.AuthenticationID),
		)
	}
	c.reply(orDefault(verdict, response.Auth.Reject()))
}
