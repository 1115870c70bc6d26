package dns

import (
	"context"
	"net"
	"slices"
	"strings"
	"sync/atomic"
)

// MockResolver is a Resolver used for testing. PTR is keyed by the IP in
// its string form; A and AAAA by the name without trailing dot.
type MockResolver struct {
	PTR  map[string][]string
	A    map[string][]string
	AAAA map[string][]string

	// Fail contains lookups that return SERVFAIL, in the form "type key",
	// e.g. "ptr 192.0.2.1" or "a mail.example.com".
	Fail []string

	// AllAuthentic sets Authentic in every response.
	AllAuthentic bool

	// Queries counts the lookups made, for cache tests.
	Queries atomic.Int64
}

var _ Resolver = (*MockResolver)(nil)

func (r *MockResolver) failing(kind, key string) bool {
	return slices.Contains(r.Fail, kind+" "+key)
}

// LookupAddr performs a reverse DNS lookup.
func (r *MockResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	r.Queries.Add(1)
	result := Result[string]{Authentic: r.AllAuthentic}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	key := ip.String()
	if r.failing("ptr", key) {
		return result, ErrDNSServFail
	}
	records := r.PTR[key]
	if len(records) == 0 {
		return result, ErrDNSNotFound
	}
	result.Records = slices.Clone(records)
	return result, nil
}

// LookupIP returns A and AAAA records for the given name.
func (r *MockResolver) LookupIP(ctx context.Context, name string) (Result[net.IP], error) {
	r.Queries.Add(1)
	result := Result[net.IP]{Authentic: r.AllAuthentic}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	key := strings.TrimSuffix(name, ".")
	if r.failing("a", key) || r.failing("aaaa", key) {
		return result, ErrDNSServFail
	}
	for _, ip := range r.A[key] {
		result.Records = append(result.Records, net.ParseIP(ip))
	}
	for _, ip := range r.AAAA[key] {
		result.Records = append(result.Records, net.ParseIP(ip))
	}
	if len(result.Records) == 0 {
		return result, ErrDNSNotFound
	}
	return result, nil
}
