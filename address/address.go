// Package address turns the argument of MAIL FROM and RCPT TO into a
// normalized envelope address. The mailbox grammar itself is the RFC 5321
// parser of github.com/mjl-/mox/smtp.
package address

import (
	"errors"
	"fmt"
	"strings"

	moxsmtp "github.com/mjl-/mox/smtp"

	"github.com/synqronlabs/unmta/utils"
)

var (
	ErrMissingPath  = errors.New("address: missing path")
	ErrUnbalanced   = errors.New("address: unbalanced angle brackets")
	ErrEmptyDomain  = errors.New("address: empty domain")
	ErrNullPathOnly = errors.New("address: null path not allowed here")

	// ErrNonASCIILocal is returned for UTF-8 local parts, which need the
	// SMTPUTF8 extension the server does not offer.
	ErrNonASCIILocal = errors.New("address: non-ASCII local part")
)

// Address is a normalized envelope address. The zero value is the result of a
// failed parse and must not be used; check IsValid.
type Address struct {
	// Local is the decoded local part, without quoting.
	Local string
	// Domain is the lowercased ASCII (IDNA) form of the domain.
	Domain string
	// Null is set for the null reverse-path "<>" of MAIL FROM.
	Null bool
}

// IsValid reports whether the parse succeeded.
func (a Address) IsValid() bool {
	return a.Null || (a.Local != "" && a.Domain != "")
}

// String returns local@domain, with the local part quoted where the
// grammar requires it. The null path and invalid addresses are empty.
func (a Address) String() string {
	if a.Null || !a.IsValid() {
		return ""
	}
	return moxsmtp.Localpart(a.Local).String() + "@" + a.Domain
}

// Path returns the address in angle brackets, as it appears on the wire.
func (a Address) Path() string {
	return "<" + a.String() + ">"
}

// Parse parses a forward-path (RCPT TO argument). Failures yield the zero
// Address.
func Parse(argument string) Address {
	a, _ := parse(argument, false)
	return a
}

// ParseReversePath parses a reverse-path (MAIL FROM argument), which may
// also be the null path "<>". Failures yield the zero Address.
func ParseReversePath(argument string) Address {
	a, _ := parse(argument, true)
	return a
}

// Check parses like Parse or ParseReversePath and returns the reason a
// parse failed.
func Check(argument string, reversePath bool) (Address, error) {
	return parse(argument, reversePath)
}

func parse(argument string, allowNull bool) (Address, error) {
	path, err := extractPath(argument)
	if err != nil {
		return Address{}, err
	}
	if path == "" {
		if allowNull {
			return Address{Null: true}, nil
		}
		return Address{}, ErrNullPathOnly
	}

	parsed, err := moxsmtp.ParseAddress(path)
	if err != nil {
		return Address{}, fmt.Errorf("address: %w", err)
	}
	if parsed.Domain.ASCII == "" {
		return Address{}, ErrEmptyDomain
	}
	if utils.ContainsNonASCII(string(parsed.Localpart)) {
		return Address{}, ErrNonASCIILocal
	}

	return Address{
		Local:  string(parsed.Localpart),
		Domain: parsed.Domain.ASCII,
	}, nil
}

// extractPath returns the mailbox of the first token of the argument, with
// angle brackets and any source route removed. "<>" yields "".
func extractPath(argument string) (string, error) {
	fields := strings.Fields(argument)
	if len(fields) == 0 {
		return "", ErrMissingPath
	}
	path := fields[0]

	open := strings.HasPrefix(path, "<")
	closed := strings.HasSuffix(path, ">")
	if open != closed {
		return "", ErrUnbalanced
	}
	if open {
		path = path[1 : len(path)-1]
		if path == "" {
			return "", nil
		}
	}

	// RFC 5321 4.1.2: A-d-l source routes must be accepted and ignored.
	if strings.HasPrefix(path, "@") {
		_, rest, found := strings.Cut(path, ":")
		if !found {
			return "", ErrMissingPath
		}
		path = rest
	}
	return path, nil
}
