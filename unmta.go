// Unmta is an SMTP server library whose every protocol decision is made by
// plugins.
//
// # Server
//
// Create a server, register plugins and serve:
//
//	relay, err := relaydomains.New(relaydomains.Config{Domains: []string{"example.com"}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	queue, err := spool.New(spool.Config{Dir: "/var/spool/unmta"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	plugins := unmta.NewManager(relay, queue)
//
//	server, err := unmta.NewServer(unmta.ServerConfig{
//	    Hostname:    "mx.example.com",
//	    Addr:        ":25",
//	    IdleTimeout: 5 * time.Minute,
//	    Logger:      logger,
//	    Plugins:     plugins,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := server.ListenAndServe(); err != unmta.ErrServerClosed {
//	    log.Fatal(err)
//	}
//
// # Plugins
//
// A plugin is any type with a Name method. It takes part in an event by
// implementing that event's hook interface:
//
//	type localOnly struct{}
//
//	func (localOnly) Name() string { return "local-only" }
//
//	func (localOnly) OnRcptTo(ctx context.Context, s *unmta.SessionView, to address.Address) (response.Response, error) {
//	    if to.Domain == "example.com" {
//	        return response.RcptTo.Accept(), nil
//	    }
//	    return response.Response{}, nil
//	}
//
// For each event the plugins are asked in registration order and the first
// non-zero verdict is sent. Without a verdict the event's default applies:
// accept for most events, reject for RCPT TO and AUTH.
//
// Verdicts are built from the event catalogs in package response, which
// only accept codes defined for the event:
//
//	r, err := response.MailFrom.New(response.FlavorReject, 554, "5.7.1 Sender blocked")
//
// # Extensions
//
// Advertised in EHLO, in this order:
//   - PIPELINING (RFC 2920)
//   - ENHANCEDSTATUSCODES (RFC 2034)
//   - AUTH LOGIN PLAIN (RFC 4954) - when EnableAuth is set and TLS is active or not required
//   - STARTTLS (RFC 3207) - when EnableStartTLS is set, until TLS is active
//   - SIZE (RFC 1870)
package unmta
