// Package config loads the daemon configuration file. The file is in sconf
// format: indented with tabs, one key per line, comments on their own line.
// Describe writes an annotated example.
package config

import (
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mjl-/sconf"
	"github.com/pkg/errors"

	"github.com/synqronlabs/unmta"
)

const (
	DefaultListen              = "localhost"
	DefaultPort                = 2525
	DefaultInactivityTimeout   = 300 * time.Second
	DefaultGracefulStopTimeout = 300 * time.Second
	DefaultMaxLineLength       = 4096
	DefaultLogLevel            = "info"
)

type Config struct {
	SMTP    SMTP    `sconf:"optional" sconf-doc:"Listener and protocol settings."`
	Auth    Auth    `sconf:"optional" sconf-doc:"SMTP AUTH (PLAIN and LOGIN)."`
	TLS     TLS     `sconf:"optional" sconf-doc:"Certificate for STARTTLS."`
	Log     Log     `sconf:"optional"`
	Metrics Metrics `sconf:"optional"`
	Plugins Plugins `sconf:"optional" sconf-doc:"Policy units, consulted in the order rdns, relaydomains, authfile, spool."`
}

type SMTP struct {
	Listen              string        `sconf:"optional" sconf-doc:"IP or host name to listen on. Default: localhost."`
	Port                int           `sconf:"optional" sconf-doc:"Default: 2525."`
	Hostname            string        `sconf:"optional" sconf-doc:"Name announced in the greeting and replies. Default: the system host name."`
	InactivityTimeout   time.Duration `sconf:"optional" sconf-doc:"A session without input for this long is closed with a 421. Default: 300s."`
	GracefulStopTimeout time.Duration `sconf:"optional" sconf-doc:"How long to wait for sessions to end on shutdown before closing them. Default: 300s."`
	MaxLineLength       int           `sconf:"optional" sconf-doc:"Longest command line accepted, in bytes. Default: 4096."`
	MaxConnections      int           `sconf:"optional" sconf-doc:"Concurrent sessions allowed, 0 for no limit."`
	MaxMessageSize      int64         `sconf:"optional" sconf-doc:"Advertised in the SIZE extension. Not enforced."`
}

type Auth struct {
	Enable     bool              `sconf:"optional"`
	RequireTLS *bool             `sconf:"optional" sconf-doc:"Only offer and accept AUTH after STARTTLS. Default: true."`
	Users      map[string]string `sconf:"optional" sconf-doc:"User names with their bcrypt password hash, as printed by \"unmta hashpassword\"."`
}

func (a Auth) requireTLS() bool {
	return a.RequireTLS == nil || *a.RequireTLS
}

type TLS struct {
	EnableStartTLS bool   `sconf:"optional"`
	Key            string `sconf:"optional" sconf-doc:"PEM private key file. Relative paths are relative to the config file."`
	Cert           string `sconf:"optional" sconf-doc:"PEM certificate chain file."`
}

type Log struct {
	Level string `sconf:"optional" sconf-doc:"One of error, warn, info, debug, smtp. The smtp level logs the protocol transcript, AUTH exchanges masked. Default: info."`
	File  string `sconf:"optional" sconf-doc:"Log to this file, rotated by size, instead of stdout."`
}

type Metrics struct {
	Listen string `sconf:"optional" sconf-doc:"Address for the Prometheus /metrics endpoint, e.g. localhost:8025. Empty disables it."`
}

type Plugins struct {
	RDNS         RDNS         `sconf:"optional" sconf-doc:"Reverse DNS lookup of connecting clients."`
	RelayDomains RelayDomains `sconf:"optional" sconf-doc:"Domains recipients are accepted for. Without it every RCPT TO is refused."`
	Spool        Spool        `sconf:"optional" sconf-doc:"Store received messages in a directory."`
}

type RDNS struct {
	Enable      bool          `sconf:"optional"`
	RequirePTR  bool          `sconf:"optional" sconf-doc:"Reject clients whose address has no forward-confirmed PTR record."`
	Nameservers []string      `sconf:"optional" sconf-doc:"Default: the system resolvers."`
	CacheTTL    time.Duration `sconf:"optional" sconf-doc:"How long lookup results are cached. Default: 10m."`
}

type RelayDomains struct {
	Domains    []string `sconf:"optional"`
	Subdomains bool     `sconf:"optional" sconf-doc:"Also accept names below the listed domains."`
}

type Spool struct {
	Dir string `sconf:"optional" sconf-doc:"Empty disables spooling. Relative paths are relative to the config file."`
}

// Load reads, completes and checks the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "config %s", path)
	}
	c.resolvePaths(filepath.Dir(path))
	return c, nil
}

// Parse reads a configuration, applies defaults and validates it.
func Parse(r io.Reader) (*Config, error) {
	c := &Config{}
	if err := sconf.Parse(r, c); err != nil {
		return nil, errors.Wrap(err, "parse")
	}
	if err := c.setDefaults(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Describe writes an example configuration with documentation.
func Describe(w io.Writer) error {
	c := Default()
	c.SMTP.Hostname = "mail.example.com"
	c.Auth.Users = map[string]string{"alice": "$2a$10$..."}
	c.TLS.Key = "key.pem"
	c.TLS.Cert = "cert.pem"
	c.Plugins.RDNS.Nameservers = []string{"127.0.0.1:53"}
	c.Plugins.RelayDomains.Domains = []string{"example.com"}
	c.Plugins.Spool.Dir = "spool"
	return sconf.Describe(w, c)
}

// Default returns a configuration with every default filled in, except
// the host name.
func Default() *Config {
	requireTLS := true
	return &Config{
		SMTP: SMTP{
			Listen:              DefaultListen,
			Port:                DefaultPort,
			InactivityTimeout:   DefaultInactivityTimeout,
			GracefulStopTimeout: DefaultGracefulStopTimeout,
			MaxLineLength:       DefaultMaxLineLength,
		},
		Auth: Auth{RequireTLS: &requireTLS},
		Log:  Log{Level: DefaultLogLevel},
		Plugins: Plugins{
			RDNS: RDNS{CacheTTL: 10 * time.Minute},
		},
	}
}

func (c *Config) setDefaults() error {
	d := Default()
	if c.SMTP.Listen == "" {
		c.SMTP.Listen = d.SMTP.Listen
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = d.SMTP.Port
	}
	if c.SMTP.InactivityTimeout == 0 {
		c.SMTP.InactivityTimeout = d.SMTP.InactivityTimeout
	}
	if c.SMTP.GracefulStopTimeout == 0 {
		c.SMTP.GracefulStopTimeout = d.SMTP.GracefulStopTimeout
	}
	if c.SMTP.MaxLineLength == 0 {
		c.SMTP.MaxLineLength = d.SMTP.MaxLineLength
	}
	if c.SMTP.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return errors.Wrap(err, "hostname")
		}
		c.SMTP.Hostname = hostname
	}
	c.SMTP.Hostname = strings.ToLower(strings.TrimSuffix(c.SMTP.Hostname, "."))
	if c.Auth.RequireTLS == nil {
		c.Auth.RequireTLS = d.Auth.RequireTLS
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Plugins.RDNS.CacheTTL == 0 {
		c.Plugins.RDNS.CacheTTL = d.Plugins.RDNS.CacheTTL
	}
	return nil
}

// Validate checks values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return errors.Errorf("SMTP.Port %d out of range", c.SMTP.Port)
	}
	if c.SMTP.InactivityTimeout < 0 || c.SMTP.GracefulStopTimeout < 0 {
		return errors.New("SMTP timeouts must not be negative")
	}
	if c.SMTP.MaxLineLength < 512 {
		// RFC 5321 4.5.3.1.4: 512 octets including CRLF.
		return errors.Errorf("SMTP.MaxLineLength %d below 512", c.SMTP.MaxLineLength)
	}
	if c.SMTP.MaxConnections < 0 || c.SMTP.MaxMessageSize < 0 {
		return errors.New("SMTP limits must not be negative")
	}
	switch c.Log.Level {
	case "error", "warn", "info", "debug", "smtp":
	default:
		return errors.Errorf("Log.Level %q unknown", c.Log.Level)
	}
	if c.TLS.EnableStartTLS && (c.TLS.Key == "" || c.TLS.Cert == "") {
		return errors.New("TLS.EnableStartTLS requires TLS.Key and TLS.Cert")
	}
	if c.Auth.Enable && len(c.Auth.Users) == 0 {
		return errors.New("Auth.Enable requires Auth.Users")
	}
	if c.Auth.Enable && c.Auth.requireTLS() && !c.TLS.EnableStartTLS {
		return errors.New("Auth.RequireTLS without TLS.EnableStartTLS would never offer AUTH")
	}
	return nil
}

func (c *Config) resolvePaths(dir string) {
	abs := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	abs(&c.TLS.Key)
	abs(&c.TLS.Cert)
	abs(&c.Log.File)
	abs(&c.Plugins.Spool.Dir)
}

// Addr returns the SMTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.SMTP.Listen, strconv.Itoa(c.SMTP.Port))
}

// ServerConfig converts the configuration to the library's server
// configuration. It loads the TLS key pair when STARTTLS is enabled.
func (c *Config) ServerConfig(logger *slog.Logger, plugins *unmta.Manager) (unmta.ServerConfig, error) {
	sc := unmta.DefaultServerConfig()
	sc.Hostname = c.SMTP.Hostname
	sc.Addr = c.Addr()
	sc.IdleTimeout = c.SMTP.InactivityTimeout
	sc.MaxLineLength = c.SMTP.MaxLineLength
	sc.MaxConnections = c.SMTP.MaxConnections
	sc.MaxMessageSize = c.SMTP.MaxMessageSize
	sc.EnableAuth = c.Auth.Enable
	sc.AuthRequireTLS = c.Auth.requireTLS()
	if logger != nil {
		sc.Logger = logger
	}
	sc.Plugins = plugins

	if c.TLS.EnableStartTLS {
		cert, err := tls.LoadX509KeyPair(c.TLS.Cert, c.TLS.Key)
		if err != nil {
			return unmta.ServerConfig{}, errors.Wrap(err, "load TLS key pair")
		}
		sc.EnableStartTLS = true
		sc.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	return sc, nil
}
