// Package authfile is a policy unit that verifies AUTH credentials against
// bcrypt password hashes from the configuration.
package authfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/synqronlabs/unmta"
	"github.com/synqronlabs/unmta/response"
	"github.com/synqronlabs/unmta/sasl"
)

// KeyUser is the session data key holding the authenticated user.
const KeyUser = "user"

// Plugin implements unmta.AuthHook.
type Plugin struct {
	users map[string][]byte
	// dummy is compared against for unknown users so both paths cost the
	// same.
	dummy []byte
}

var _ unmta.AuthHook = (*Plugin)(nil)

// New takes a map of user name to bcrypt hash.
func New(users map[string]string) (*Plugin, error) {
	p := &Plugin{users: make(map[string][]byte, len(users))}
	for user, hash := range users {
		if user == "" {
			return nil, errors.New("authfile: empty user name")
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("authfile: user %q: %w", user, err)
		}
		p.users[user] = []byte(hash)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("unmta"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("authfile: %w", err)
	}
	p.dummy = dummy
	return p, nil
}

func (p *Plugin) Name() string { return "authfile" }

// OnAuth accepts known users with a matching password. Acting as another
// identity (a PLAIN authzid different from the user) is refused.
func (p *Plugin) OnAuth(ctx context.Context, s *unmta.SessionView, creds *sasl.Credentials) (response.Response, error) {
	logger := s.Logger().With(slog.String("user", creds.AuthenticationID))

	if creds.AuthorizationID != "" && creds.AuthorizationID != creds.AuthenticationID {
		logger.Info("authorization identity refused", slog.String("authzid", creds.AuthorizationID))
		return response.Auth.Reject(), nil
	}

	hash, ok := p.users[creds.AuthenticationID]
	if !ok {
		hash = p.dummy
	}
	err := bcrypt.CompareHashAndPassword(hash, []byte(creds.Password))
	if !ok || err != nil {
		logger.Info("invalid credentials")
		return response.Auth.Reject(), nil
	}

	s.Set(KeyUser, creds.AuthenticationID)
	return response.Auth.Accept(), nil
}
