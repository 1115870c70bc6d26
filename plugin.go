package unmta

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/synqronlabs/unmta/address"
	"github.com/synqronlabs/unmta/response"
	"github.com/synqronlabs/unmta/sasl"
)

// Plugin is a policy unit. A plugin implements any subset of the hook
// interfaces below; the manager checks for each one at dispatch time.
//
// Verdict hooks return the zero response.Response for "no verdict". A
// non-zero response must come from the catalog of the hook's own event,
// e.g. response.RcptTo for OnRcptTo. A hook that returns an error, panics or
// answers with another event's response is logged and treated as having
// given no verdict.
type Plugin interface {
	// Name identifies the plugin in logs and metrics and names its
	// namespace in the session's plugin data.
	Name() string
}

// ConnectHook supplies the banner of a new connection. A refusal closes it.
type ConnectHook interface {
	OnConnect(ctx context.Context, s *SessionView) (response.Response, error)
}

// HeloHook is called for HELO and EHLO. cmd.Verb tells which one.
type HeloHook interface {
	OnHelo(ctx context.Context, s *SessionView, cmd Command) (response.Response, error)
}

// AuthHook is called once the client has sent complete credentials. Only an
// accepting verdict authenticates the session; without one the client gets
// a 535.
type AuthHook interface {
	OnAuth(ctx context.Context, s *SessionView, creds *sasl.Credentials) (response.Response, error)
}

// MailFromHook is called for a parsed MAIL FROM reverse-path.
type MailFromHook interface {
	OnMailFrom(ctx context.Context, s *SessionView, from address.Address) (response.Response, error)
}

// RcptToHook is called for each parsed recipient. A recipient nobody
// accepts is rejected.
type RcptToHook interface {
	OnRcptTo(ctx context.Context, s *SessionView, to address.Address) (response.Response, error)
}

// DataStartHook is called for DATA once the transaction has recipients.
type DataStartHook interface {
	OnDataStart(ctx context.Context, s *SessionView) (response.Response, error)
}

// DataBytesHook receives every body chunk as read from the transport, the
// terminator included. The chunk must not be retained after the call.
type DataBytesHook interface {
	OnDataBytes(ctx context.Context, s *SessionView, chunk []byte)
}

// DataStreamEndHook is notified when the end-of-data marker was seen,
// before the DataEnd verdict is asked for.
type DataStreamEndHook interface {
	OnDataStreamEnd(ctx context.Context, s *SessionView)
}

// DataEndHook decides the fate of a received message.
type DataEndHook interface {
	OnDataEnd(ctx context.Context, s *SessionView) (response.Response, error)
}

// QuitHook may replace the closing 221 reply.
type QuitHook interface {
	OnQuit(ctx context.Context, s *SessionView) (response.Response, error)
}

// RsetHook may veto the reset with a defer or reject verdict.
type RsetHook interface {
	OnRset(ctx context.Context, s *SessionView) (response.Response, error)
}

// HelpHook answers HELP.
type HelpHook interface {
	OnHelp(ctx context.Context, s *SessionView, cmd Command) (response.Response, error)
}

// NoopHook answers NOOP.
type NoopHook interface {
	OnNoop(ctx context.Context, s *SessionView) (response.Response, error)
}

// VrfyHook gets the raw command; VRFY arguments are not always addresses.
type VrfyHook interface {
	OnVrfy(ctx context.Context, s *SessionView, cmd Command) (response.Response, error)
}

// UnknownHook is called for verbs the server does not implement.
type UnknownHook interface {
	OnUnknown(ctx context.Context, s *SessionView, cmd Command) (response.Response, error)
}

// CloseHook is called for every plugin when the connection ends.
type CloseHook interface {
	OnClose(ctx context.Context, s *SessionView)
}

// ServerStartHook runs when the server starts listening.
type ServerStartHook interface {
	OnServerStart(ctx context.Context) error
}

// ServerStopHook runs when the server shuts down.
type ServerStopHook interface {
	OnServerStop(ctx context.Context) error
}

// Manager runs hooks over plugins in registration order.
type Manager struct {
	plugins []Plugin
}

// NewManager returns a manager for plugins, in that order.
func NewManager(plugins ...Plugin) *Manager {
	m := &Manager{}
	m.Register(plugins...)
	return m
}

// Register appends plugins. It must not be called once the server serves.
func (m *Manager) Register(plugins ...Plugin) {
	m.plugins = append(m.plugins, plugins...)
}

// Plugins returns the registered plugins.
func (m *Manager) Plugins() []Plugin {
	return m.plugins
}

// hookEnv carries what a view needs besides the session itself.
type hookEnv struct {
	session *Session
	logger  *slog.Logger
	shared  *SharedStore
}

func (e hookEnv) view(p Plugin) *SessionView {
	return e.session.view(p.Name(), e.logger.With(slog.String("plugin", p.Name())), e.shared)
}

func (e hookEnv) lazyView(p Plugin) func() *SessionView {
	return func() *SessionView { return e.view(p) }
}

// hookFunc calls one plugin's hook. ok is false when the plugin does not
// implement it. view builds the plugin's session view; it is only called
// once the plugin is known to implement the hook.
type hookFunc func(p Plugin, view func() *SessionView) (r response.Response, ok bool, err error)

// verdict asks plugins in order and returns the first usable verdict, or
// the zero response.
func (m *Manager) verdict(env hookEnv, event response.Event, call hookFunc) response.Response {
	if m == nil {
		return response.Response{}
	}
	for _, p := range m.plugins {
		r, ok := m.call(env, event, p, call)
		if ok && !r.IsZero() {
			return r
		}
	}
	return response.Response{}
}

func (m *Manager) call(env hookEnv, event response.Event, p Plugin, call hookFunc) (r response.Response, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			m.failure(env, event, p, "panic", fmt.Errorf("panic: %v", rec))
			r, ok = response.Response{}, false
		}
	}()

	r, ok, err := call(p, env.lazyView(p))
	if !ok {
		return response.Response{}, false
	}
	if err != nil {
		m.failure(env, event, p, "error", err)
		return response.Response{}, false
	}
	if !r.IsZero() && r.Event() != event {
		m.failure(env, event, p, "event", fmt.Errorf("verdict for %s: %s", r.Event(), r))
		return response.Response{}, false
	}
	return r, true
}

// notify calls every plugin. Return values and failures do not stop the
// iteration.
func (m *Manager) notify(env hookEnv, event string, call func(p Plugin, view func() *SessionView) bool) {
	if m == nil {
		return
	}
	for _, p := range m.plugins {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					m.failureLabel(env.logger, event, p, "panic", fmt.Errorf("panic: %v", rec))
				}
			}()
			call(p, env.lazyView(p))
		}()
	}
}

func (m *Manager) failure(env hookEnv, event response.Event, p Plugin, kind string, err error) {
	m.failureLabel(env.logger, event.String(), p, kind, err)
}

func (m *Manager) failureLabel(logger *slog.Logger, event string, p Plugin, kind string, err error) {
	metricHookFailures.WithLabelValues(p.Name(), event, kind).Inc()
	logger.Error("plugin hook failed, ignoring its verdict",
		slog.String("plugin", p.Name()),
		slog.String("event", event),
		slog.String("kind", kind),
		slog.Any("error", err),
	)
}

func (m *Manager) connect(ctx context.Context, env hookEnv) response.Response {
	return m.verdict(env, response.EventConnect, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(ConnectHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnConnect(ctx, view())
		return r, true, err
	})
}

func (m *Manager) helo(ctx context.Context, env hookEnv, cmd Command) response.Response {
	return m.verdict(env, response.EventHelo, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(HeloHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnHelo(ctx, view(), cmd)
		return r, true, err
	})
}

func (m *Manager) auth(ctx context.Context, env hookEnv, creds *sasl.Credentials) response.Response {
	return m.verdict(env, response.EventAuth, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(AuthHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnAuth(ctx, view(), creds)
		return r, true, err
	})
}

func (m *Manager) mailFrom(ctx context.Context, env hookEnv, from address.Address) response.Response {
	return m.verdict(env, response.EventMailFrom, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(MailFromHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnMailFrom(ctx, view(), from)
		return r, true, err
	})
}

func (m *Manager) rcptTo(ctx context.Context, env hookEnv, to address.Address) response.Response {
	return m.verdict(env, response.EventRcptTo, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(RcptToHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnRcptTo(ctx, view(), to)
		return r, true, err
	})
}

func (m *Manager) dataStart(ctx context.Context, env hookEnv) response.Response {
	return m.verdict(env, response.EventDataStart, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(DataStartHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnDataStart(ctx, view())
		return r, true, err
	})
}

func (m *Manager) dataBytes(ctx context.Context, env hookEnv, chunk []byte) {
	m.notify(env, "data_bytes", func(p Plugin, view func() *SessionView) bool {
		h, ok := p.(DataBytesHook)
		if ok {
			h.OnDataBytes(ctx, view(), chunk)
		}
		return ok
	})
}

func (m *Manager) dataStreamEnd(ctx context.Context, env hookEnv) {
	m.notify(env, "data_stream_end", func(p Plugin, view func() *SessionView) bool {
		h, ok := p.(DataStreamEndHook)
		if ok {
			h.OnDataStreamEnd(ctx, view())
		}
		return ok
	})
}

func (m *Manager) dataEnd(ctx context.Context, env hookEnv) response.Response {
	return m.verdict(env, response.EventDataEnd, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(DataEndHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnDataEnd(ctx, view())
		return r, true, err
	})
}

func (m *Manager) quit(ctx context.Context, env hookEnv) response.Response {
	return m.verdict(env, response.EventQuit, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(QuitHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnQuit(ctx, view())
		return r, true, err
	})
}

func (m *Manager) rset(ctx context.Context, env hookEnv) response.Response {
	return m.verdict(env, response.EventRset, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(RsetHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnRset(ctx, view())
		return r, true, err
	})
}

func (m *Manager) help(ctx context.Context, env hookEnv, cmd Command) response.Response {
	return m.verdict(env, response.EventHelp, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(HelpHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnHelp(ctx, view(), cmd)
		return r, true, err
	})
}

func (m *Manager) noop(ctx context.Context, env hookEnv) response.Response {
	return m.verdict(env, response.EventNoop, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(NoopHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnNoop(ctx, view())
		return r, true, err
	})
}

func (m *Manager) vrfy(ctx context.Context, env hookEnv, cmd Command) response.Response {
	return m.verdict(env, response.EventVrfy, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(VrfyHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnVrfy(ctx, view(), cmd)
		return r, true, err
	})
}

func (m *Manager) unknown(ctx context.Context, env hookEnv, cmd Command) response.Response {
	return m.verdict(env, response.EventUnknown, func(p Plugin, view func() *SessionView) (response.Response, bool, error) {
		h, ok := p.(UnknownHook)
		if !ok {
			return response.Response{}, false, nil
		}
		r, err := h.OnUnknown(ctx, view(), cmd)
		return r, true, err
	})
}

func (m *Manager) close(ctx context.Context, env hookEnv) {
	m.notify(env, "close", func(p Plugin, view func() *SessionView) bool {
		h, ok := p.(CloseHook)
		if ok {
			h.OnClose(ctx, view())
		}
		return ok
	})
}

// serverStart runs every start hook. Errors are logged; they do not stop
// the server.
func (m *Manager) serverStart(ctx context.Context, logger *slog.Logger) {
	if m == nil {
		return
	}
	for _, p := range m.plugins {
		h, ok := p.(ServerStartHook)
		if !ok {
			continue
		}
		if err := safeLifecycle(func() error { return h.OnServerStart(ctx) }); err != nil {
			m.failureLabel(logger, "server_start", p, "error", err)
		}
	}
}

func (m *Manager) serverStop(ctx context.Context, logger *slog.Logger) {
	if m == nil {
		return
	}
	for _, p := range m.plugins {
		h, ok := p.(ServerStopHook)
		if !ok {
			continue
		}
		if err := safeLifecycle(func() error { return h.OnServerStop(ctx) }); err != nil {
			m.failureLabel(logger, "server_stop", p, "error", err)
		}
	}
}

func safeLifecycle(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}
