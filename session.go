package unmta

import (
	"log/slog"
	"maps"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/synqronlabs/unmta/address"
)

// Phase is the position of a session in the SMTP dialogue.
type Phase int

const (
	// PhaseConnection is the state after connect, before any accepted greeting.
	PhaseConnection Phase = iota
	// PhaseHelo follows an accepted HELO or EHLO.
	PhaseHelo
	// PhaseAuth is entered by a valid AUTH command and left when the exchange ends.
	PhaseAuth
	// PhaseSender follows a parsed MAIL FROM.
	PhaseSender
	// PhaseRecipient follows at least one parsed RCPT TO.
	PhaseRecipient
	// PhaseData is the message body transfer.
	PhaseData
	// PhasePostData follows the end-of-data marker.
	PhasePostData
)

func (p Phase) String() string {
	switch p {
	case PhaseConnection:
		return "connection"
	case PhaseHelo:
		return "helo"
	case PhaseAuth:
		return "auth"
	case PhaseSender:
		return "sender"
	case PhaseRecipient:
		return "recipient"
	case PhaseData:
		return "data"
	case PhasePostData:
		return "postdata"
	default:
		return "unknown"
	}
}

// Greeting is the greeting verb the client used.
type Greeting int

const (
	// GreetingNone means the client has not greeted yet.
	GreetingNone Greeting = iota
	// GreetingHelo is a plain HELO greeting.
	GreetingHelo
	// GreetingEhlo is an extended greeting, which enables ESMTP extensions.
	GreetingEhlo
)

func (g Greeting) String() string {
	switch g {
	case GreetingHelo:
		return "HELO"
	case GreetingEhlo:
		return "EHLO"
	default:
		return ""
	}
}

// authStep is the AUTH LOGIN sub-state. While it is not authIdle the next
// line is an answer to a challenge, not a command.
type authStep int

const (
	authIdle authStep = iota
	authAwaitUsername
	authAwaitPassword
)

// PluginData is a key/value store with one namespace per plugin.
type PluginData struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]any
}

func newPluginData() *PluginData {
	return &PluginData{namespaces: make(map[string]map[string]any)}
}

func (d *PluginData) get(namespace, key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.namespaces[namespace][key]
	return v, ok
}

func (d *PluginData) set(namespace, key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns, ok := d.namespaces[namespace]
	if !ok {
		ns = make(map[string]any)
		d.namespaces[namespace] = ns
	}
	ns[key] = value
}

func (d *PluginData) delete(namespace, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.namespaces[namespace], key)
}

// snapshot returns a copy of one namespace, nil if it holds nothing.
func (d *PluginData) snapshot(namespace string) map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ns := d.namespaces[namespace]
	if len(ns) == 0 {
		return nil
	}
	return maps.Clone(ns)
}

// Session is the state of one accepted connection. It is mutated only by
// the goroutine serving that connection; the lock exists so the server can
// hand out snapshots to other goroutines.
type Session struct {
	mu sync.RWMutex

	id         uint64
	traceID    string
	startTime  time.Time
	remoteAddr net.Addr

	phase           Phase
	greeting        Greeting
	clientHostname  string
	isSecure        bool
	isAuthenticated bool
	authIdentity    string
	isDataMode      bool

	sender     *address.Address
	recipients []address.Address

	auth     authStep
	authUser string

	transactions int
	dataSize     int64

	pluginData *PluginData
}

func newSession(id uint64, traceID string, remote net.Addr) *Session {
	return &Session{
		id:         id,
		traceID:    traceID,
		startTime:  time.Now(),
		remoteAddr: remote,
		pluginData: newPluginData(),
	}
}

// ID returns the server-wide session id.
func (s *Session) ID() uint64 {
	return s.id
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *Session) greet(g Greeting, hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseHelo
	s.greeting = g
	s.clientHostname = hostname
}

// greetingState is the part of the session greet overwrites.
type greetingState struct {
	phase    Phase
	greeting Greeting
	hostname string
}

func (s *Session) greetingState() greetingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return greetingState{phase: s.phase, greeting: s.greeting, hostname: s.clientHostname}
}

// ungreet undoes greet for a refused HELO or EHLO.
func (s *Session) ungreet(prev greetingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = prev.phase
	s.greeting = prev.greeting
	s.clientHostname = prev.hostname
}

func (s *Session) setSender(a address.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = &a
	s.phase = PhaseSender
}

func (s *Session) addRecipient(a address.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients = append(s.recipients, a)
	s.phase = PhaseRecipient
}

// dropSender undoes setSender for a refused sender, returning to phase.
func (s *Session) dropSender(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = nil
	s.phase = phase
}

// dropLastRecipient undoes addRecipient for a refused recipient.
func (s *Session) dropLastRecipient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recipients) > 0 {
		s.recipients = s.recipients[:len(s.recipients)-1]
	}
	if len(s.recipients) == 0 {
		s.phase = PhaseSender
	}
}

func (s *Session) startData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseData
	s.isDataMode = true
}

// abortData leaves data mode when DATA was not accepted.
func (s *Session) abortData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isDataMode = false
	s.phase = PhaseRecipient
}

func (s *Session) addDataSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataSize += int64(n)
}

func (s *Session) endData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isDataMode = false
	s.phase = PhasePostData
	s.transactions++
}

func (s *Session) authenticate(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isAuthenticated = true
	s.authIdentity = identity
}

// reset clears the envelope and returns the session to phase. The id, the
// start time, the remote address, the greeting and the TLS and auth flags
// survive; everything a second greeting must forget is handled by restart.
func (s *Session) reset(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.isDataMode = false
	s.sender = nil
	s.recipients = nil
	s.auth = authIdle
	s.authUser = ""
}

// restart clears the session for a second HELO/EHLO. Only the identity of
// the connection, the transport security and the auth flag are kept.
func (s *Session) restart() {
	s.reset(PhaseConnection)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.greeting = GreetingNone
	s.clientHostname = ""
	s.pluginData = newPluginData()
}

// secure resets the session after a completed TLS handshake. RFC 3207
// requires discarding everything learned over the plaintext channel,
// including authentication.
func (s *Session) secure() {
	s.restart()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isSecure = true
	s.isAuthenticated = false
	s.authIdentity = ""
}

// SessionView is the read-mostly view of a session handed to a plugin for
// one hook call. Its fields are a snapshot; the only writable state is the
// calling plugin's own namespace.
type SessionView struct {
	ID              uint64
	TraceID         string
	StartTime       time.Time
	RemoteAddr      net.Addr
	Phase           Phase
	Greeting        Greeting
	ClientHostname  string
	IsSecure        bool
	IsAuthenticated bool
	AuthIdentity    string
	IsDataMode      bool

	// Sender is nil until MAIL FROM was parsed.
	Sender       *address.Address
	Recipients   []address.Address
	Transactions int
	DataSize     int64

	namespace string
	data      *PluginData
	logger    *slog.Logger
	shared    *SharedStore
}

// view snapshots the session for the named plugin.
func (s *Session) view(namespace string, logger *slog.Logger, shared *SharedStore) *SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := &SessionView{
		ID:              s.id,
		TraceID:         s.traceID,
		StartTime:       s.startTime,
		RemoteAddr:      s.remoteAddr,
		Phase:           s.phase,
		Greeting:        s.greeting,
		ClientHostname:  s.clientHostname,
		IsSecure:        s.isSecure,
		IsAuthenticated: s.isAuthenticated,
		AuthIdentity:    s.authIdentity,
		IsDataMode:      s.isDataMode,
		Recipients:      slices.Clone(s.recipients),
		Transactions:    s.transactions,
		DataSize:        s.dataSize,
		namespace:       namespace,
		data:            s.pluginData,
		logger:          logger,
		shared:          shared,
	}
	if s.sender != nil {
		sender := *s.sender
		v.Sender = &sender
	}
	return v
}

// Get returns a value from the plugin's own namespace.
func (v *SessionView) Get(key string) (any, bool) {
	if v.data == nil {
		return nil, false
	}
	return v.data.get(v.namespace, key)
}

// Set stores a value in the plugin's own namespace. The value lives as long
// as the session, or until a second greeting or STARTTLS.
func (v *SessionView) Set(key string, value any) {
	if v.data == nil || v.namespace == "" {
		return
	}
	v.data.set(v.namespace, key, value)
}

// Delete removes a key from the plugin's own namespace.
func (v *SessionView) Delete(key string) {
	if v.data == nil || v.namespace == "" {
		return
	}
	v.data.delete(v.namespace, key)
}

// Namespace returns a copy of the named plugin's data.
func (v *SessionView) Namespace(name string) map[string]any {
	if v.data == nil {
		return nil
	}
	return v.data.snapshot(name)
}

// Logger returns a logger tagged with the session and the plugin name.
func (v *SessionView) Logger() *slog.Logger {
	if v.logger == nil {
		return slog.Default()
	}
	return v.logger
}

// Shared returns the server-wide store.
func (v *SessionView) Shared() *SharedStore {
	return v.shared
}
