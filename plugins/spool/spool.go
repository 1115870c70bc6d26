// Package spool is a policy unit that stores accepted messages in a
// directory. Each message is written to <id>.eml with its envelope in
// <id>.env, encoded as MessagePack.
package spool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/synqronlabs/unmta"
	"github.com/synqronlabs/unmta/response"
)

// KeyID is the session data key holding the id of the message being
// spooled.
const KeyID = "id"

const (
	extMessage  = ".eml"
	extEnvelope = ".env"
	extTemp     = ".tmp"
)

type Config struct {
	// Dir is created if missing.
	Dir string
}

// Plugin implements the data hooks. Files of a transaction that never
// reaches DataEnd are removed on RSET, on the next DATA and on close.
type Plugin struct {
	dir string

	mu      sync.Mutex
	pending map[uint64]*transaction
}

var (
	_ unmta.DataStartHook     = (*Plugin)(nil)
	_ unmta.DataBytesHook     = (*Plugin)(nil)
	_ unmta.DataStreamEndHook = (*Plugin)(nil)
	_ unmta.DataEndHook       = (*Plugin)(nil)
	_ unmta.RsetHook          = (*Plugin)(nil)
	_ unmta.CloseHook         = (*Plugin)(nil)
)

func New(config Config) (*Plugin, error) {
	if config.Dir == "" {
		return nil, errors.New("spool: directory is required")
	}
	if err := os.MkdirAll(config.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	return &Plugin{dir: config.Dir, pending: make(map[uint64]*transaction)}, nil
}

func (p *Plugin) Name() string { return "spool" }

// transaction is one message being received.
type transaction struct {
	id       string
	received time.Time
	file     *os.File
	body     *unstuffer
	err      error
}

func (p *Plugin) path(id, ext string) string {
	return filepath.Join(p.dir, id+ext)
}

func (p *Plugin) take(session uint64) *transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := p.pending[session]
	delete(p.pending, session)
	return tx
}

func (p *Plugin) get(session uint64) *transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending[session]
}

// discard closes and removes the temporary file of an unfinished
// transaction.
func (p *Plugin) discard(s *unmta.SessionView) {
	tx := p.take(s.ID)
	if tx == nil {
		return
	}
	tx.file.Close()
	if err := os.Remove(tx.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.Logger().Warn("removing spool file failed", slog.Any("error", err))
	}
	s.Delete(KeyID)
}

// OnDataStart opens the message file. It gives no verdict unless the file
// cannot be created.
func (p *Plugin) OnDataStart(ctx context.Context, s *unmta.SessionView) (response.Response, error) {
	p.discard(s)

	id := uuid.NewString()
	file, err := os.OpenFile(p.path(id, extMessage+extTemp), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		s.Logger().Error("creating spool file failed", slog.Any("error", err))
		return response.DataStart.Defer(), nil
	}

	p.mu.Lock()
	p.pending[s.ID] = &transaction{
		id:       id,
		received: time.Now(),
		file:     file,
		body:     newUnstuffer(file),
	}
	p.mu.Unlock()

	s.Set(KeyID, id)
	return response.Response{}, nil
}

func (p *Plugin) OnDataBytes(ctx context.Context, s *unmta.SessionView, chunk []byte) {
	tx := p.get(s.ID)
	if tx == nil || tx.err != nil {
		return
	}
	if _, err := tx.body.Write(chunk); err != nil {
		tx.err = err
	}
}

// OnDataStreamEnd cuts the end-of-data marker. After unstuffing only the
// CRLF of the lone dot line is left of it.
func (p *Plugin) OnDataStreamEnd(ctx context.Context, s *unmta.SessionView) {
	tx := p.get(s.ID)
	if tx == nil || tx.err != nil {
		return
	}
	if n := tx.body.Written(); n >= 2 {
		tx.err = tx.file.Truncate(n - 2)
	}
}

// OnDataEnd commits the message and answers with its queue id. A message
// that could not be stored completely is deferred.
func (p *Plugin) OnDataEnd(ctx context.Context, s *unmta.SessionView) (response.Response, error) {
	tx := p.take(s.ID)
	if tx == nil {
		return response.Response{}, nil
	}
	s.Delete(KeyID)
	logger := s.Logger().With(slog.String("queue_id", tx.id))

	if err := p.commit(s, tx); err != nil {
		logger.Error("spooling message failed", slog.Any("error", err))
		os.Remove(p.path(tx.id, extMessage+extTemp))
		os.Remove(p.path(tx.id, extMessage))
		os.Remove(p.path(tx.id, extEnvelope))
		return response.DataEnd.Defer(), nil
	}

	logger.Info("message spooled", slog.Int64("size", max(tx.body.Written()-2, 0)))
	return response.DataEnd.Must(response.FlavorAccept, response.CodeOK, "2.0.0 OK: queued as "+tx.id), nil
}

func (p *Plugin) commit(s *unmta.SessionView, tx *transaction) error {
	if tx.err != nil {
		tx.file.Close()
		return tx.err
	}
	if err := tx.file.Sync(); err != nil {
		tx.file.Close()
		return err
	}
	if err := tx.file.Close(); err != nil {
		return err
	}

	env := envelopeOf(s, tx)
	data, err := env.MarshalMsg(nil)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.path(tx.id, extEnvelope), data, 0o640); err != nil {
		return err
	}
	return os.Rename(tx.file.Name(), p.path(tx.id, extMessage))
}

func envelopeOf(s *unmta.SessionView, tx *transaction) *Envelope {
	env := &Envelope{
		ID:           tx.id,
		TraceID:      s.TraceID,
		Received:     tx.received,
		Helo:         s.ClientHostname,
		Secure:       s.IsSecure,
		AuthIdentity: s.AuthIdentity,
		Size:         max(tx.body.Written()-2, 0),
	}
	if s.RemoteAddr != nil {
		env.RemoteAddr = s.RemoteAddr.String()
	}
	if s.Sender != nil {
		env.Sender = s.Sender.String()
	}
	for _, rcpt := range s.Recipients {
		env.Recipients = append(env.Recipients, rcpt.String())
	}
	return env
}

func (p *Plugin) OnRset(ctx context.Context, s *unmta.SessionView) (response.Response, error) {
	p.discard(s)
	return response.Response{}, nil
}

func (p *Plugin) OnClose(ctx context.Context, s *unmta.SessionView) {
	p.discard(s)
}

// ReadEnvelope loads the envelope of a spooled message.
func (p *Plugin) ReadEnvelope(id string) (*Envelope, error) {
	data, err := os.ReadFile(p.path(id, extEnvelope))
	if err != nil {
		return nil, err
	}
	env := &Envelope{}
	if _, err := env.UnmarshalMsg(data); err != nil {
		return nil, fmt.Errorf("spool: envelope %s: %w", id, err)
	}
	return env, nil
}

// unstuffer removes the leading dot of every line of a DATA body.
type unstuffer struct {
	w       io.Writer
	bol     bool
	written int64
	buf     []byte
}

func newUnstuffer(w io.Writer) *unstuffer {
	return &unstuffer{w: w, bol: true}
}

// Write returns len(p) on success even though fewer bytes reach the
// underlying writer.
func (u *unstuffer) Write(p []byte) (int, error) {
	u.buf = u.buf[:0]
	for _, c := range p {
		if u.bol && c == '.' {
			u.bol = false
			continue
		}
		u.buf = append(u.buf, c)
		u.bol = c == '\n'
	}
	n, err := u.w.Write(u.buf)
	u.written += int64(n)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Written returns the number of unstuffed bytes written.
func (u *unstuffer) Written() int64 {
	return u.written
}
