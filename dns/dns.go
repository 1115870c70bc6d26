// Package dns resolves the names the server's policy units ask about:
// reverse (PTR) lookups of connecting clients and the forward lookups that
// confirm them.
package dns

import (
	"context"
	"errors"
	"net"
)

var (
	ErrDNSNotFound = errors.New("dns: no records found")
	ErrDNSTimeout  = errors.New("dns: query timed out")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSRefused  = errors.New("dns: query refused")
)

// Result holds the records of a lookup. Authentic is set when every answer
// was DNSSEC-validated by the upstream resolver.
type Result[T any] struct {
	Records   []T
	Authentic bool
}

// Resolver is the lookup surface used by the policy units.
type Resolver interface {
	LookupAddr(ctx context.Context, ip net.IP) (Result[string], error)
	LookupIP(ctx context.Context, name string) (Result[net.IP], error)
}

// IsNotFound reports whether err means the name has no records.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsTimeout reports whether err is a query timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout)
}

// IsServFail reports whether err is a SERVFAIL answer.
func IsServFail(err error) bool {
	return errors.Is(err, ErrDNSServFail)
}

// IsTemporary reports whether retrying later may give a different answer.
func IsTemporary(err error) bool {
	return IsTimeout(err) || IsServFail(err)
}
