package main

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/synqronlabs/unmta/config"
)

func TestHashPassword(t *testing.T) {
	var out bytes.Buffer
	if err := hashPassword(strings.NewReader("s3cret\n"), &out); err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Errorf("hash does not match: %v", err)
	}

	if err := hashPassword(strings.NewReader("\n"), &out); err == nil {
		t.Error("expected an error for an empty password")
	}
}

func TestPluginsOrder(t *testing.T) {
	var hash bytes.Buffer
	if err := hashPassword(strings.NewReader("pw"), &hash); err != nil {
		t.Fatal(err)
	}

	conf := "Auth:\n\tEnable: true\n\tRequireTLS: false\n\tUsers:\n\t\talice: " + strings.TrimSpace(hash.String()) + "\n" +
		"Plugins:\n\tRDNS:\n\t\tEnable: true\n\t\tNameservers:\n\t\t\t- 127.0.0.1:53\n" +
		"\tRelayDomains:\n\t\tDomains:\n\t\t\t- example.com\n" +
		"\tSpool:\n\t\tDir: " + t.TempDir() + "\n"
	c, err := config.Parse(strings.NewReader(conf))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	m, err := plugins(c)
	if err != nil {
		t.Fatalf("plugins: %v", err)
	}
	var names []string
	for _, p := range m.Plugins() {
		names = append(names, p.Name())
	}
	if got := strings.Join(names, ","); got != "rdns,relaydomains,authfile,spool" {
		t.Errorf("plugins = %s", got)
	}
}

func TestPluginsNone(t *testing.T) {
	c, err := config.Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m, err := plugins(c)
	if err != nil {
		t.Fatalf("plugins: %v", err)
	}
	if len(m.Plugins()) != 0 {
		t.Errorf("expected no plugins, got %d", len(m.Plugins()))
	}
}
