// Command unmta runs the SMTP server with the policy units enabled in its
// configuration file.
//
//	unmta [-config unmta.conf] [serve]
//	unmta describe
//	unmta hashpassword < password
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/synqronlabs/unmta"
	"github.com/synqronlabs/unmta/config"
	"github.com/synqronlabs/unmta/dns"
	"github.com/synqronlabs/unmta/plugins/authfile"
	"github.com/synqronlabs/unmta/plugins/rdns"
	"github.com/synqronlabs/unmta/plugins/relaydomains"
	"github.com/synqronlabs/unmta/plugins/spool"
)

func main() {
	configPath := flag.String("config", "unmta.conf", "path to the configuration file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] [serve | describe | hashpassword]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	var err error
	switch flag.Arg(0) {
	case "", "serve":
		err = serve(*configPath)
	case "describe":
		err = config.Describe(os.Stdout)
	case "hashpassword":
		err = hashPassword(os.Stdin, os.Stdout)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// hashPassword reads a password line and prints its bcrypt hash for the
// Auth.Users section.
func hashPassword(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(hash))
	return err
}

// newLogger logs text to stdout, or to a size-rotated file when one is
// configured.
func newLogger(c config.Log) *slog.Logger {
	var out io.Writer = os.Stdout
	if c.File != "" {
		out = &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:       unmta.ParseLevel(c.Level),
		ReplaceAttr: unmta.ReplaceLevelAttr,
	}))
}

// plugins builds the policy units in their fixed order.
func plugins(c *config.Config) (*unmta.Manager, error) {
	m := unmta.NewManager()

	if c.Plugins.RDNS.Enable {
		p, err := rdns.New(rdns.Config{
			Resolver:   dns.NewResolver(dns.ResolverConfig{Nameservers: c.Plugins.RDNS.Nameservers}),
			RequirePTR: c.Plugins.RDNS.RequirePTR,
			TTL:        c.Plugins.RDNS.CacheTTL,
		})
		if err != nil {
			return nil, err
		}
		m.Register(p)
	}

	if len(c.Plugins.RelayDomains.Domains) > 0 {
		p, err := relaydomains.New(relaydomains.Config{
			Domains:    c.Plugins.RelayDomains.Domains,
			Subdomains: c.Plugins.RelayDomains.Subdomains,
		})
		if err != nil {
			return nil, err
		}
		m.Register(p)
	}

	if c.Auth.Enable {
		p, err := authfile.New(c.Auth.Users)
		if err != nil {
			return nil, err
		}
		m.Register(p)
	}

	if c.Plugins.Spool.Dir != "" {
		p, err := spool.New(spool.Config{Dir: c.Plugins.Spool.Dir})
		if err != nil {
			return nil, err
		}
		m.Register(p)
	}
	return m, nil
}

func serve(configPath string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(c.Log)
	slog.SetDefault(logger)

	m, err := plugins(c)
	if err != nil {
		return err
	}
	serverConfig, err := c.ServerConfig(logger, m)
	if err != nil {
		return err
	}
	server, err := unmta.NewServer(serverConfig)
	if err != nil {
		return err
	}

	if c.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: c.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", slog.Any("error", err))
			}
		}()
		defer metricsServer.Close()
		logger.Info("serving metrics", slog.String("addr", c.Metrics.Listen))
	}

	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()

	var plugNames []string
	for _, p := range m.Plugins() {
		plugNames = append(plugNames, p.Name())
	}
	logger.Info("plugins loaded", slog.Any("plugins", plugNames))

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		if errors.Is(err, unmta.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigc:
		logger.Info("shutting down", slog.String("signal", sig.String()), slog.Duration("timeout", c.SMTP.GracefulStopTimeout))
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.SMTP.GracefulStopTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("sessions did not end in time, closed them", slog.Any("error", err))
	}
	logger.Info("unmta stopped")
	return nil
}
