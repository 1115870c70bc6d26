// Package sasl decodes the client side of the SASL exchanges offered by the
// AUTH command (RFC 4954): PLAIN (RFC 4616) and the legacy LOGIN mechanism.
package sasl

import (
	"encoding/base64"
	"errors"
	"strings"
)

var (
	// ErrAuthenticationCancelled is returned when the client sends "*" to cancel authentication.
	ErrAuthenticationCancelled = errors.New("authentication cancelled")

	// ErrInvalidFormat is returned when the authentication data format is invalid.
	ErrInvalidFormat = errors.New("invalid authentication format")

	// ErrInvalidBase64 is returned when base64 decoding fails.
	ErrInvalidBase64 = errors.New("invalid base64 encoding")

	// ErrEmptyResponse is returned when the client answers a challenge with an empty line.
	ErrEmptyResponse = errors.New("empty authentication response")
)

// Mechanism names as they appear in the AUTH command and the EHLO keyword.
const (
	MechanismPlain = "PLAIN"
	MechanismLogin = "LOGIN"
)

// Credentials represents authentication credentials from a SASL exchange.
type Credentials struct {
	Mechanism        string
	AuthorizationID  string // Identity to act as (authzid)
	AuthenticationID string // Identity being authenticated (authcid)
	Password         string
}

// Identity returns the effective identity for authorization.
func (c *Credentials) Identity() string {
	if c.AuthorizationID != "" {
		return c.AuthorizationID
	}
	return c.AuthenticationID
}

// decode accepts both padded and unpadded base64, clients differ.
func decode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidBase64
	}
	return b, nil
}
