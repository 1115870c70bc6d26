package unmta

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	unmtaio "github.com/synqronlabs/unmta/io"
	"github.com/synqronlabs/unmta/response"
	"github.com/synqronlabs/unmta/utils"
)

// readBufferSize is the size of a single transport read. One read is one
// pipelining batch, or one body chunk in data mode.
const readBufferSize = 32 * 1024

// Server is an SMTP server that handles concurrent connections.
type Server struct {
	config ServerConfig

	listenerMu sync.Mutex
	listener   net.Listener

	// sessions maps session id to its *connection.
	sessions  sync.Map
	nextID    atomic.Uint64
	connCount atomic.Int64

	shared SharedStore

	// shutdown coordination
	ctx        context.Context
	cancel     context.CancelFunc
	shutdownWg sync.WaitGroup
	closed     atomic.Bool
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewServer creates a new SMTP server with the given configuration.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Hostname == "" {
		return nil, ErrHostnameRequired
	}
	if config.EnableStartTLS && config.TLSConfig == nil {
		return nil, ErrTLSConfigMissing
	}

	// Apply defaults
	if config.Addr == "" {
		config.Addr = "localhost:2525"
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = time.Minute
	}
	if config.MaxLineLength == 0 {
		config.MaxLineLength = 4096
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Plugins == nil {
		config.Plugins = NewManager()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// ListenAndServe starts the SMTP server on the configured address.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("smtp: failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on the listener and handles them. Server start
// hooks run once, before the first Accept.
func (s *Server) Serve(listener net.Listener) error {
	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()

	s.startOnce.Do(func() {
		s.config.Plugins.serverStart(s.ctx, s.config.Logger)
	})

	s.config.Logger.Info("SMTP server started",
		slog.String("addr", listener.Addr().String()),
		slog.String("hostname", s.config.Hostname),
		slog.Int("plugins", len(s.config.Plugins.Plugins())),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.config.Logger.Error("accept error", slog.Any("error", err))
			continue
		}

		// Check connection limit
		if s.config.MaxConnections > 0 && s.connCount.Load() >= int64(s.config.MaxConnections) {
			s.config.Logger.Warn("connection limit reached",
				slog.String("remote", conn.RemoteAddr().String()),
			)
			metricConnection.WithLabelValues("limit").Inc()
			s.refuse(conn)
			continue
		}

		metricConnection.WithLabelValues("accepted").Inc()
		s.connCount.Add(1)
		s.shutdownWg.Add(1)
		go s.handleConnection(conn)
	}
}

// refuse answers a connection over the limit with 421 and closes it.
func (s *Server) refuse(conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	r := response.Connect.Must(response.FlavorDefer, response.CodeServiceUnavailable, "4.3.2 {domain} Too many connections, try again later")
	_, _ = io.WriteString(conn, r.Line(s.config.Hostname)+"\r\n")
	_ = conn.Close()
}

// Shutdown gracefully shuts down the server. Live sessions get a 421 and
// are closed; Shutdown then waits for their goroutines until ctx is done.
// Server stop hooks run once, after the sessions ended.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	s.cancel()
	s.closeListener()

	// Send 421 response to all connected clients
	s.sendShutdownResponse()

	// Wait for connections to finish with context timeout
	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		// Force close remaining connections
		s.eachConnection(func(c *connection) {
			c.closeTransport()
		})
		err = ctx.Err()
	}

	s.stopHooks(ctx)
	return err
}

// Close immediately closes the server and all connections.
func (s *Server) Close() error {
	s.closed.Store(true)
	s.cancel()
	s.closeListener()

	// Send 421 response to all connected clients before closing
	s.sendShutdownResponse()
	s.stopHooks(context.Background())
	return nil
}

func (s *Server) stopHooks(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.config.Plugins.serverStop(ctx, s.config.Logger)
		s.config.Logger.Info("SMTP server stopped")
	})
}

func (s *Server) closeListener() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// sendShutdownResponse sends a 421 response to all connected clients and closes them.
// Per RFC 5321, servers should send 421 before closing connections.
func (s *Server) sendShutdownResponse() {
	s.eachConnection(func(c *connection) {
		r := response.Raw(response.CodeServiceUnavailable, "4.3.0 {domain} Service shutting down")
		c.writeAsync(r)
		// Close the connection to unblock any pending reads
		c.closeTransport()
	})
}

func (s *Server) eachConnection(fn func(c *connection)) {
	s.sessions.Range(func(_, v any) bool {
		fn(v.(*connection))
		return true
	})
}

// Addr returns the listener address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Session returns a snapshot of a live session. Plugin data is readable
// through Namespace; the view is not bound to any plugin.
func (s *Server) Session(id uint64) (*SessionView, bool) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	c := v.(*connection)
	return c.session.view("", c.logger, &s.shared), true
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return int(s.connCount.Load())
}

// Shared returns the server-wide store handed to plugins.
func (s *Server) Shared() *SharedStore {
	return &s.shared
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(netConn net.Conn) {
	defer s.shutdownWg.Done()

	id := s.nextID.Add(1)
	traceID := utils.NewTraceID()

	logger := s.config.Logger.With(
		slog.Uint64("session", id),
		slog.String("trace_id", traceID),
		slog.String("remote", netConn.RemoteAddr().String()),
	)

	ctx, cancel := context.WithCancel(s.ctx)
	c := &connection{
		server:   s,
		ctx:      ctx,
		cancel:   cancel,
		netConn:  netConn,
		writer:   bufio.NewWriter(netConn),
		session:  newSession(id, traceID, netConn.RemoteAddr()),
		logger:   logger,
		splitter: unmtaio.NewSplitter(s.config.MaxLineLength),
		window:   unmtaio.NewTerminatorWindow(),
	}
	if _, ok := netConn.(*tls.Conn); ok {
		c.session.isSecure = true
	}

	// Track connection
	s.sessions.Store(id, c)
	metricSessions.Inc()

	defer func() {
		s.config.Plugins.close(context.WithoutCancel(ctx), c.env())
		s.sessions.Delete(id)
		s.connCount.Add(-1)
		metricSessions.Dec()
		c.closeTransport()
		cancel()

		logger.Info("client disconnected",
			slog.Duration("duration", time.Since(c.session.startTime)),
			slog.Int("transactions", c.session.transactions),
			slog.Int64("data_size", c.session.dataSize),
		)
	}()

	logger.Info("client connected")

	verdict := s.config.Plugins.connect(ctx, c.env())
	if verdict.IsZero() {
		verdict = response.Connect.Must(response.FlavorAccept, response.CodeServiceReady,
			fmt.Sprintf("{domain} ESMTP ready [%s]", traceID))
	}
	c.reply(verdict)
	if !verdict.IsAccept() {
		logger.Info("connection refused by plugin", slog.Int("code", int(verdict.Code())))
		return
	}

	c.serve()
}

// connection is the engine side of one session: the transport, the input
// buffers and the Session it owns.
type connection struct {
	server *Server
	ctx    context.Context
	cancel context.CancelFunc

	// writeMu guards the transport swap and writes; shutdown writes from
	// another goroutine.
	writeMu sync.Mutex
	netConn net.Conn
	writer  *bufio.Writer
	closed  bool

	session  *Session
	logger   *slog.Logger
	splitter *unmtaio.Splitter
	window   *unmtaio.TerminatorWindow

	// closing is set once the connection must end after the current reply.
	closing  bool
	lastCode response.Code
}

func (c *connection) env() hookEnv {
	return hookEnv{session: c.session, logger: c.logger, shared: &c.server.shared}
}

func (c *connection) plugins() *Manager {
	return c.server.config.Plugins
}

// serve reads raw chunks until the connection ends.
func (c *connection) serve() {
	buf := make([]byte, readBufferSize)
	for !c.closing {
		conn := c.transport()
		if err := conn.SetReadDeadline(time.Now().Add(c.server.config.IdleTimeout)); err != nil {
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			c.handleChunk(buf[:n])
			if c.closing {
				return
			}
		}
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				c.logger.Info("closing session", slog.Any("error", ErrIdleTimeout), slog.Duration("timeout", c.server.config.IdleTimeout))
				c.reply(response.Raw(response.CodeServiceUnavailable, "4.4.2 Connection timed out due to inactivity"))
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				c.logger.Debug("client closed connection")
			default:
				c.logger.Warn("read error", slog.Any("error", err))
			}
			return
		}
	}
}

// handleChunk dispatches one read. In data mode the chunk is body up to the
// end-of-data marker; everything else is split into lines, each handled in
// order until one ends the connection.
func (c *connection) handleChunk(chunk []byte) {
	index := 0
	for len(chunk) > 0 && !c.closing {
		if c.session.isDataMode {
			chunk = c.handleBody(chunk)
			// Commands pipelined behind the body continue the same batch.
			index = 1
			continue
		}

		c.splitter.Write(chunk)
		chunk = nil
		index = c.handleLines(index)

		// Whatever followed an accepted DATA in this read is body.
		if c.session.isDataMode {
			chunk = c.splitter.Drain()
		}
	}
}

// handleLines handles buffered lines, the first at batch position index,
// until the buffer runs out, the connection is closing or a DATA command
// switched to the body. It returns the position of the next line.
func (c *connection) handleLines(index int) int {
	for ; !c.closing; index++ {
		line, ok := c.splitter.Next()
		if !ok {
			return index
		}
		if line.TooLong {
			c.logger.Debug("line too long", slog.Any("error", ErrLineTooLong))
			c.reply(response.Raw(response.CodeCommandUnrecognized, "5.5.2 Line too long"))
			continue
		}

		if c.session.auth != authIdle {
			logSMTP(c.logger, ">", "*****")
			c.handleAuthLine(line.Text)
			continue
		}

		cmd := ParseCommand(line.Text)
		logSMTP(c.logger, ">", maskCommand(cmd))

		if index > 0 && !cmd.PipelineSafe() {
			c.reply(badSequence)
			continue
		}

		c.handleCommand(cmd)
		if c.session.isDataMode {
			return index + 1
		}
	}
	return index
}

// maskCommand hides AUTH PLAIN credentials from protocol logs.
func maskCommand(cmd Command) string {
	if cmd.Verb == VerbAuth && len(cmd.Params) > 1 {
		return "AUTH " + cmd.Params[0] + " *****"
	}
	return cmd.Raw
}

func (c *connection) handleCommand(cmd Command) {
	start := time.Now()
	c.lastCode = 0

	switch cmd.Verb {
	case VerbHelo, VerbEhlo:
		c.handleHelo(cmd)
	case VerbStartTLS:
		c.handleStartTLS(cmd)
	case VerbAuth:
		c.handleAuth(cmd)
	case VerbMailFrom:
		c.handleMail(cmd)
	case VerbRcptTo:
		c.handleRcpt(cmd)
	case VerbData:
		c.handleData(cmd)
	case VerbQuit:
		c.handleQuit()
	case VerbRset:
		c.handleRset()
	case VerbHelp:
		c.handleHelp(cmd)
	case VerbNoop:
		c.handleNoop()
	case VerbVrfy:
		c.handleVrfy(cmd)
	default:
		c.handleUnknown(cmd)
	}

	observeCommand(cmd.Name(), int(c.lastCode), time.Since(start).Seconds())
}

// transport returns the current transport, plain or TLS.
func (c *connection) transport() net.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.netConn
}

// reply writes a single-line response. A 421 always ends the connection.
func (c *connection) reply(r response.Response) {
	c.writeLines(r.Code(), []string{r.Text(c.server.config.Hostname)})
}

// replyMultiline writes "code-line" for all but the last line.
func (c *connection) replyMultiline(code response.Code, lines []string) {
	c.writeLines(code, lines)
}

func (c *connection) writeLines(code response.Code, lines []string) {
	c.lastCode = code
	if code == response.CodeServiceUnavailable {
		c.closing = true
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		c.closing = true
		return
	}

	if err := c.netConn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
		c.closing = true
		return
	}
	for i, line := range lines {
		sep := " "
		if i < len(lines)-1 {
			sep = "-"
		}
		formatted := fmt.Sprintf("%d%s%s", code, sep, line)
		logSMTP(c.logger, "<", formatted)
		if _, err := c.writer.WriteString(formatted + "\r\n"); err != nil {
			c.logger.Debug("write error", slog.Any("error", err))
			c.closing = true
			return
		}
	}
	if err := c.writer.Flush(); err != nil {
		c.logger.Debug("write error", slog.Any("error", err))
		c.closing = true
	}
}

// writeAsync writes a reply from outside the connection goroutine. It does
// not touch the connection's own state.
func (c *connection) writeAsync(r response.Response) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	// Set a short write deadline to avoid blocking shutdown
	_ = c.netConn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	line := r.Line(c.server.config.Hostname)
	logSMTP(c.logger, "<", line)
	_, _ = c.writer.WriteString(line + "\r\n")
	_ = c.writer.Flush()
}

func (c *connection) closeTransport() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.writer.Flush()
	_ = c.netConn.Close()
}

// swapTransport replaces the transport after a TLS handshake. The old
// writer has been flushed by the 220 reply.
func (c *connection) swapTransport(conn net.Conn) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.netConn = conn
	c.writer = bufio.NewWriter(conn)
}
