package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	mdns "github.com/miekg/dns"
)

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		isNotFound bool
		isTimeout  bool
		isServFail bool
		isTemp     bool
	}{
		{
			name:       "not found error",
			err:        ErrDNSNotFound,
			isNotFound: true,
		},
		{
			name:      "timeout error",
			err:       ErrDNSTimeout,
			isTimeout: true,
			isTemp:    true,
		},
		{
			name:       "server failure",
			err:        ErrDNSServFail,
			isServFail: true,
			isTemp:     true,
		},
		{
			name:       "wrapped not found",
			err:        fmt.Errorf("lookup: %w", ErrDNSNotFound),
			isNotFound: true,
		},
		{
			name: "unrelated error with same text",
			err:  errors.New("wrapper: " + ErrDNSNotFound.Error()),
		},
		{
			name: "nil error",
			err:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.isNotFound {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.isNotFound)
			}
			if got := IsTimeout(tt.err); got != tt.isTimeout {
				t.Errorf("IsTimeout() = %v, want %v", got, tt.isTimeout)
			}
			if got := IsServFail(tt.err); got != tt.isServFail {
				t.Errorf("IsServFail() = %v, want %v", got, tt.isServFail)
			}
			if got := IsTemporary(tt.err); got != tt.isTemp {
				t.Errorf("IsTemporary() = %v, want %v", got, tt.isTemp)
			}
		})
	}
}

func TestNewResolverDefaults(t *testing.T) {
	r := NewResolver(ResolverConfig{Nameservers: []string{"192.0.2.53", "192.0.2.54:5353"}})

	if r.config.Timeout == 0 {
		t.Error("expected default timeout to be set")
	}
	if r.config.Retries == 0 {
		t.Error("expected default retries to be set")
	}
	want := []string{"192.0.2.53:53", "192.0.2.54:5353"}
	for i, s := range r.Config().Nameservers {
		if s != want[i] {
			t.Errorf("nameserver %d = %q, want %q", i, s, want[i])
		}
	}
}

// startDNSServer serves PTR and A answers from a local UDP listener.
func startDNSServer(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	mux := mdns.NewServeMux()
	mux.HandleFunc("2.0.0.192.in-addr.arpa.", func(w mdns.ResponseWriter, req *mdns.Msg) {
		m := new(mdns.Msg)
		m.SetReply(req)
		m.Answer = append(m.Answer, &mdns.PTR{
			Hdr: mdns.RR_Header{Name: req.Question[0].Name, Rrtype: mdns.TypePTR, Class: mdns.ClassINET, Ttl: 60},
			Ptr: "mail.example.com.",
		})
		w.WriteMsg(m)
	})
	mux.HandleFunc("mail.example.com.", func(w mdns.ResponseWriter, req *mdns.Msg) {
		m := new(mdns.Msg)
		m.SetReply(req)
		if req.Question[0].Qtype == mdns.TypeA {
			m.Answer = append(m.Answer, &mdns.A{
				Hdr: mdns.RR_Header{Name: req.Question[0].Name, Rrtype: mdns.TypeA, Class: mdns.ClassINET, Ttl: 60},
				A:   net.ParseIP("192.0.2.1"),
			})
		}
		w.WriteMsg(m)
	})
	mux.HandleFunc(".", func(w mdns.ResponseWriter, req *mdns.Msg) {
		m := new(mdns.Msg)
		m.SetRcode(req, mdns.RcodeNameError)
		w.WriteMsg(m)
	})

	server := &mdns.Server{PacketConn: pc, Handler: mux}
	go server.ActivateAndServe()
	t.Cleanup(func() { server.Shutdown() })
	return pc.LocalAddr().String()
}

func TestDNSResolverLookups(t *testing.T) {
	addr := startDNSServer(t)
	r := NewResolver(ResolverConfig{Nameservers: []string{addr}, Retries: 1})
	ctx := context.Background()

	names, err := r.LookupAddr(ctx, net.ParseIP("192.0.2.1"))
	if err != nil {
		t.Fatalf("LookupAddr: %v", err)
	}
	if len(names.Records) != 1 || names.Records[0] != "mail.example.com" {
		t.Errorf("PTR records = %v", names.Records)
	}

	ips, err := r.LookupIP(ctx, "mail.example.com")
	if err != nil {
		t.Fatalf("LookupIP: %v", err)
	}
	if len(ips.Records) != 1 || !ips.Records[0].Equal(net.ParseIP("192.0.2.1")) {
		t.Errorf("IP records = %v", ips.Records)
	}

	if _, err := r.LookupAddr(ctx, net.ParseIP("198.51.100.7")); !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := r.LookupAddr(ctx, nil); err == nil {
		t.Error("expected an error for a nil IP")
	}
}

func TestMockResolver(t *testing.T) {
	r := &MockResolver{
		PTR:  map[string][]string{"192.0.2.1": {"mail.example.com"}},
		A:    map[string][]string{"mail.example.com": {"192.0.2.1"}},
		Fail: []string{"ptr 192.0.2.99"},
	}
	ctx := context.Background()

	names, err := r.LookupAddr(ctx, net.ParseIP("192.0.2.1"))
	if err != nil || names.Records[0] != "mail.example.com" {
		t.Errorf("LookupAddr = %v, %v", names, err)
	}
	if _, err := r.LookupAddr(ctx, net.ParseIP("192.0.2.99")); !IsServFail(err) {
		t.Errorf("expected SERVFAIL, got %v", err)
	}
	if _, err := r.LookupAddr(ctx, net.ParseIP("192.0.2.2")); !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if ips, err := r.LookupIP(ctx, "mail.example.com."); err != nil || len(ips.Records) != 1 {
		t.Errorf("LookupIP = %v, %v", ips, err)
	}
	if got := r.Queries.Load(); got != 4 {
		t.Errorf("Queries = %d, want 4", got)
	}
}
