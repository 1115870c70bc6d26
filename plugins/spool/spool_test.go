package spool

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/synqronlabs/unmta"
	"github.com/synqronlabs/unmta/plugins/relaydomains"
)

func startServer(t *testing.T) (*Plugin, string) {
	t.Helper()
	p, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	relay, err := relaydomains.New(relaydomains.Config{Domains: []string{"example.com"}})
	if err != nil {
		t.Fatalf("relaydomains: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server, err := unmta.NewServer(unmta.ServerConfig{
		Hostname: "test.example.com",
		Plugins:  unmta.NewManager(relay, p),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go server.Serve(listener)
	t.Cleanup(func() { server.Close() })
	return p, listener.Addr().String()
}

// spooled returns the ids of the committed messages.
func spooled(t *testing.T, p *Plugin) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(p.dir, "*"+extMessage))
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), extMessage))
	}
	return ids
}

func temporaries(t *testing.T, p *Plugin) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(p.dir, "*"+extTemp))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestSpoolMessage(t *testing.T) {
	p, addr := startServer(t)

	body := "Subject: Hello\r\n\r\n.leading dot\r\n..two dots\r\nbye\r\n"
	err := smtp.SendMail(addr, nil, "sender@example.org",
		[]string{"one@example.com", "two@example.com"}, strings.NewReader(body))
	if err != nil {
		t.Fatalf("SendMail: %v", err)
	}

	ids := spooled(t, p)
	if len(ids) != 1 {
		t.Fatalf("expected one spooled message, got %v", ids)
	}
	data, err := os.ReadFile(p.path(ids[0], extMessage))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != body {
		t.Errorf("stored body %q, want %q", data, body)
	}

	env, err := p.ReadEnvelope(ids[0])
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if env.ID != ids[0] || env.Sender != "sender@example.org" {
		t.Errorf("unexpected envelope %+v", env)
	}
	if len(env.Recipients) != 2 || env.Recipients[0] != "one@example.com" || env.Recipients[1] != "two@example.com" {
		t.Errorf("unexpected recipients %v", env.Recipients)
	}
	if env.Size != int64(len(body)) {
		t.Errorf("size %d, want %d", env.Size, len(body))
	}
	if env.TraceID == "" || env.Received.IsZero() || !strings.HasPrefix(env.RemoteAddr, "127.0.0.1:") {
		t.Errorf("connection details missing: %+v", env)
	}
	if len(temporaries(t, p)) != 0 {
		t.Error("temporary files left behind")
	}
}

func dialog(t *testing.T, addr string, lines ...string) []string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReader(conn)

	read := func() string {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return strings.TrimRight(line, "\r\n")
	}

	var replies []string
	read()
	for _, line := range lines {
		conn.Write([]byte(line + "\r\n"))
		reply := read()
		for len(reply) >= 4 && reply[3] == '-' {
			reply = read()
		}
		replies = append(replies, reply)
	}
	return replies
}

func TestQueueIDInReply(t *testing.T) {
	p, addr := startServer(t)

	replies := dialog(t, addr,
		"EHLO client.example.org",
		"MAIL FROM:<>",
		"RCPT TO:<postmaster@example.com>",
		"DATA",
		"Subject: bounce\r\n\r\nbody\r\n.",
		"QUIT",
	)
	ids := spooled(t, p)
	if len(ids) != 1 {
		t.Fatalf("expected one spooled message, got %v", ids)
	}
	if want := "250 2.0.0 OK: queued as " + ids[0]; replies[4] != want {
		t.Errorf("got %q, want %q", replies[4], want)
	}

	env, err := p.ReadEnvelope(ids[0])
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if env.Sender != "" || env.Helo != "client.example.org" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestCloseDiscardsPartialMessage(t *testing.T) {
	p, addr := startServer(t)

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReader(conn)
	reader.ReadString('\n')

	for _, line := range []string{"HELO c", "MAIL FROM:<a@example.org>", "RCPT TO:<b@example.com>", "DATA"} {
		conn.Write([]byte(line + "\r\n"))
		reader.ReadString('\n')
	}
	conn.Write([]byte("partial body\r\n"))

	deadline := time.Now().Add(2 * time.Second)
	for len(temporaries(t, p)) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(temporaries(t, p)) != 1 {
		t.Fatal("expected a temporary file while receiving")
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for len(temporaries(t, p)) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if tmp := temporaries(t, p); len(tmp) != 0 {
		t.Errorf("temporary files left after close: %v", tmp)
	}
	if ids := spooled(t, p); len(ids) != 0 {
		t.Errorf("nothing should be spooled, got %v", ids)
	}
}

func TestUnstuffer(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{"plain", []string{"a\r\nb\r\n"}, "a\r\nb\r\n"},
		{"leading dots", []string{"..a\r\n.b\r\n"}, ".a\r\nb\r\n"},
		{"dot mid line", []string{"a.b\r\n"}, "a.b\r\n"},
		{"dot after chunk boundary", []string{"a\r\n", ".", ".b\r\n"}, "a\r\n.b\r\n"},
		{"terminator", []string{"a\r\n.\r\n"}, "a\r\n\r\n"},
		{"empty body", []string{".\r\n"}, "\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			u := newUnstuffer(&buf)
			for _, chunk := range tt.chunks {
				n, err := u.Write([]byte(chunk))
				if err != nil || n != len(chunk) {
					t.Fatalf("Write(%q) = %d, %v", chunk, n, err)
				}
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
			if u.Written() != int64(len(tt.want)) {
				t.Errorf("Written() = %d, want %d", u.Written(), len(tt.want))
			}
		})
	}
}

func TestEnvelopeEncoding(t *testing.T) {
	env := &Envelope{
		ID:           "0b8f",
		TraceID:      "01J",
		Received:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		RemoteAddr:   "192.0.2.1:4000",
		Helo:         "mx.example.org",
		Secure:       true,
		AuthIdentity: "alice",
		Sender:       "alice@example.org",
		Recipients:   []string{"bob@example.com"},
		Size:         42,
	}
	data, err := env.MarshalMsg(nil)
	if err != nil {
		t.Fatalf("MarshalMsg: %v", err)
	}
	if len(data) > env.Msgsize() {
		t.Errorf("encoded %d bytes, Msgsize() = %d", len(data), env.Msgsize())
	}

	var got Envelope
	rest, err := got.UnmarshalMsg(data)
	if err != nil {
		t.Fatalf("UnmarshalMsg: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("%d trailing bytes", len(rest))
	}
	if !got.Received.Equal(env.Received) {
		t.Errorf("received %v, want %v", got.Received, env.Received)
	}
	got.Received = env.Received
	if got.ID != env.ID || got.Sender != env.Sender || got.Size != env.Size || !got.Secure || got.Recipients[0] != "bob@example.com" {
		t.Errorf("got %+v, want %+v", got, *env)
	}

	if _, err := got.UnmarshalMsg(data[:len(data)-3]); err == nil {
		t.Error("expected an error for truncated input")
	}
}

func TestRsetDiscardsPendingFile(t *testing.T) {
	p, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	view := &unmta.SessionView{ID: 7}

	if r, err := p.OnDataStart(t.Context(), view); err != nil || !r.IsZero() {
		t.Fatalf("OnDataStart = %v, %v", r, err)
	}
	p.OnDataBytes(t.Context(), view, []byte("half a message"))
	if len(temporaries(t, p)) != 1 {
		t.Fatal("expected a temporary file")
	}

	if r, err := p.OnRset(t.Context(), view); err != nil || !r.IsZero() {
		t.Fatalf("OnRset = %v, %v", r, err)
	}
	if tmp := temporaries(t, p); len(tmp) != 0 {
		t.Errorf("temporary files left: %v", tmp)
	}
	if r, _ := p.OnDataEnd(t.Context(), view); !r.IsZero() {
		t.Errorf("DataEnd without a transaction gave %v", r)
	}
}
