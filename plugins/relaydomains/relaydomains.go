// Package relaydomains is a policy unit that accepts recipients in the
// domains this server receives mail for. Recipients elsewhere get no
// verdict, which the engine answers with a rejection.
package relaydomains

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/synqronlabs/unmta"
	"github.com/synqronlabs/unmta/address"
	"github.com/synqronlabs/unmta/response"
)

// Config configures the plugin.
type Config struct {
	Domains []string
	// Subdomains also accepts any name below a configured domain, up to
	// the public suffix.
	Subdomains bool
}

// Plugin implements unmta.RcptToHook.
type Plugin struct {
	domains    map[string]struct{}
	subdomains bool
}

var _ unmta.RcptToHook = (*Plugin)(nil)

// New validates the domain list. With Subdomains set, a public suffix such
// as "co.uk" is refused since it would accept a whole registry.
func New(config Config) (*Plugin, error) {
	p := &Plugin{
		domains:    make(map[string]struct{}, len(config.Domains)),
		subdomains: config.Subdomains,
	}
	for _, d := range config.Domains {
		d = normalize(d)
		if d == "" {
			return nil, fmt.Errorf("relaydomains: empty domain")
		}
		if suffix, _ := publicsuffix.PublicSuffix(d); config.Subdomains && suffix == d {
			return nil, fmt.Errorf("relaydomains: %q is a public suffix", d)
		}
		p.domains[d] = struct{}{}
	}
	return p, nil
}

func normalize(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

func (p *Plugin) Name() string { return "relaydomains" }

// OnRcptTo accepts recipients in a configured domain.
func (p *Plugin) OnRcptTo(ctx context.Context, s *unmta.SessionView, to address.Address) (response.Response, error) {
	if p.Accepts(to.Domain) {
		return response.RcptTo.Accept(), nil
	}
	s.Logger().Debug("recipient domain not handled", slog.String("domain", to.Domain))
	return response.Response{}, nil
}

// Accepts reports whether mail for domain is received here.
func (p *Plugin) Accepts(domain string) bool {
	d := normalize(domain)
	if _, ok := p.domains[d]; ok {
		return true
	}
	if !p.subdomains {
		return false
	}

	suffix, _ := publicsuffix.PublicSuffix(d)
	for {
		i := strings.IndexByte(d, '.')
		if i < 0 {
			return false
		}
		d = d[i+1:]
		if d == suffix {
			return false
		}
		if _, ok := p.domains[d]; ok {
			return true
		}
	}
}
