package unmta

import (
	"crypto/tls"
	"log/slog"
	"time"
)

// ServerConfig contains configuration options for the SMTP server. The
// server treats it as validated input; NewServer only fills in defaults.
type ServerConfig struct {
	// Hostname is announced in the greeting and replaces {domain} in replies.
	Hostname string
	// Addr is the listen address for ListenAndServe, e.g. "localhost:2525".
	Addr string

	EnableStartTLS bool
	TLSConfig      *tls.Config

	EnableAuth bool
	// AuthRequireTLS hides AUTH from EHLO and refuses it until STARTTLS.
	AuthRequireTLS bool

	// IdleTimeout bounds the gap between two reads.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxLineLength is the command line limit in bytes, CRLF excluded.
	MaxLineLength int
	// MaxConnections is the limit of concurrent sessions (0 = unlimited).
	MaxConnections int
	// MaxMessageSize is advertised as SIZE; it is not enforced here.
	MaxMessageSize int64

	Logger  *slog.Logger
	Plugins *Manager
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           "localhost:2525",
		AuthRequireTLS: true,
		IdleTimeout:    5 * time.Minute,
		WriteTimeout:   time.Minute,
		MaxLineLength:  4096,
		Logger:         slog.Default(),
	}
}
