// Package rdns is a policy unit that checks the reverse DNS of connecting
// clients: a PTR name must exist and resolve back to the client IP
// (forward-confirmed reverse DNS, RFC 8601 "iprev").
package rdns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/synqronlabs/unmta"
	"github.com/synqronlabs/unmta/dns"
	"github.com/synqronlabs/unmta/response"
	"github.com/synqronlabs/unmta/utils"
)

var metricLookup = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "unmta_rdns_lookup_duration_seconds",
		Help:    "Reverse DNS checks by status, cache hits excluded.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10},
	},
	[]string{"status"},
)

// Status is the result of a check.
type Status string

const (
	StatusPass      Status = "pass"      // The PTR name resolves back to the IP.
	StatusFail      Status = "fail"      // PTR names exist, none resolves back.
	StatusTemperror Status = "temperror" // DNS trouble, try again later.
	StatusPermerror Status = "permerror" // No PTR record.
)

// Session data keys set on connect.
const (
	KeyStatus = "status"
	KeyName   = "name"
)

// Result is what a check found out about an IP.
type Result struct {
	Status Status
	// Name is the first PTR name that resolves back to the IP.
	Name string
	// Names are all PTR names, confirmed or not.
	Names []string
}

// Config configures the plugin.
type Config struct {
	Resolver dns.Resolver
	// RequirePTR rejects clients whose check did not pass. Temporary DNS
	// errors are answered with a 421.
	RequirePTR bool
	// TTL bounds how long a result is cached. Default 10 minutes.
	TTL time.Duration
}

// Plugin implements unmta.ConnectHook.
type Plugin struct {
	resolver   dns.Resolver
	requirePTR bool
	ttl        time.Duration
	cache      *ristretto.Cache
}

var (
	_ unmta.ConnectHook    = (*Plugin)(nil)
	_ unmta.ServerStopHook = (*Plugin)(nil)
)

// New returns the plugin with its result cache.
func New(config Config) (*Plugin, error) {
	if config.Resolver == nil {
		return nil, errors.New("rdns: resolver required")
	}
	if config.TTL == 0 {
		config.TTL = 10 * time.Minute
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,     // number of keys to track frequency of (100k).
		MaxCost:     1 << 14, // one unit per cached IP.
		BufferItems: 64,      // number of keys per Get buffer.
	})
	if err != nil {
		return nil, fmt.Errorf("rdns: cache: %w", err)
	}

	return &Plugin{
		resolver:   config.Resolver,
		requirePTR: config.RequirePTR,
		ttl:        config.TTL,
		cache:      cache,
	}, nil
}

func (p *Plugin) Name() string { return "rdns" }

// OnConnect checks the client and records the result in the session.
func (p *Plugin) OnConnect(ctx context.Context, s *unmta.SessionView) (response.Response, error) {
	ip, err := utils.GetIPFromAddr(s.RemoteAddr)
	if err != nil {
		return response.Response{}, err
	}

	result, err := p.Check(ctx, ip)
	s.Set(KeyStatus, result.Status)
	s.Set(KeyName, result.Name)
	s.Logger().Debug("reverse dns checked",
		slog.String("ip", ip.String()),
		slog.String("status", string(result.Status)),
		slog.String("name", result.Name),
		slog.Any("error", err),
	)

	if !p.requirePTR {
		return response.Response{}, nil
	}
	switch result.Status {
	case StatusPass:
		return response.Response{}, nil
	case StatusTemperror:
		return response.Connect.Defer(), nil
	default:
		return response.Connect.New(response.FlavorReject, response.CodeMailboxNotFound,
			fmt.Sprintf("5.7.25 Client host %s rejected: reverse DNS does not match", ip))
	}
}

// Check looks up ip, answering from the cache when possible. Temporary
// errors are not cached.
func (p *Plugin) Check(ctx context.Context, ip net.IP) (Result, error) {
	key := ip.String()
	if v, ok := p.cache.Get(key); ok {
		return v.(Result), nil
	}

	start := time.Now()
	result, err := Lookup(ctx, p.resolver, ip)
	metricLookup.WithLabelValues(string(result.Status)).Observe(time.Since(start).Seconds())

	if result.Status != StatusTemperror {
		p.cache.SetWithTTL(key, result, 1, p.ttl)
	}
	return result, err
}

// OnServerStop releases the cache.
func (p *Plugin) OnServerStop(ctx context.Context) error {
	p.cache.Close()
	return nil
}

// Lookup resolves the PTR names of ip and forward-resolves them until one
// leads back to ip.
func Lookup(ctx context.Context, resolver dns.Resolver, ip net.IP) (Result, error) {
	rev, err := resolver.LookupAddr(ctx, ip)
	if dns.IsNotFound(err) {
		return Result{Status: StatusPermerror}, nil
	} else if err != nil {
		return Result{Status: StatusTemperror}, fmt.Errorf("rdns: reverse lookup: %w", err)
	}

	result := Result{Status: StatusFail, Names: rev.Records}
	var lastErr error
	for _, name := range rev.Records {
		fwd, err := resolver.LookupIP(ctx, name)
		for _, fwdIP := range fwd.Records {
			if ip.Equal(fwdIP) {
				result.Status = StatusPass
				result.Name = name
				return result, nil
			}
		}
		if err != nil && !dns.IsNotFound(err) {
			lastErr = err
		}
	}
	if lastErr != nil {
		result.Status = StatusTemperror
		return result, fmt.Errorf("rdns: forward lookup: %w", lastErr)
	}
	return result, nil
}
