package fxwsock

import (
	"bytes"
	"context"
	"testing"
)

// pipeTransport joins two chains back to back in memory. Writes complete
// synchronously and delivery to the peer goes through a FIFO queue, so writes
// issued from inside completion handlers still reach the peer in the order
// they were issued.
type pipeTransport struct {
	upstream Filter
	peer     *pipeTransport
	queue    [][]byte
	pending  bytes.Buffer
	flushing bool
	closed   bool
}

func (t *pipeTransport) connected() {
	t.upstream.OnConnect(t)
}

func (t *pipeTransport) Write(data *bytes.Buffer, handler CompletionHandler) {
	if t.closed {
		if handler != nil {
			handler.Failed(errTransportClosed)
		}
		return
	}
	t.queue = append(t.queue, append([]byte(nil), data.Next(data.Len())...))
	if handler != nil {
		handler.Completed(data)
	}
	t.flush()
}

func (t *pipeTransport) flush() {
	if t.flushing {
		return
	}
	t.flushing = true
	defer func() { t.flushing = false }()
	for len(t.queue) > 0 {
		out := t.queue[0]
		t.queue = t.queue[1:]
		t.peer.deliver(out)
	}
}

func (t *pipeTransport) deliver(data []byte) {
	if t.closed {
		return
	}
	t.pending.Write(data)
	t.upstream.OnRead(t, &t.pending)
}

func (t *pipeTransport) Close() {
	if t.closed {
		return
	}
	t.flush()
	t.closed = true
	if p := t.peer; p != nil && !p.closed {
		p.upstream.OnConnectionClosed()
	}
}

func (t *pipeTransport) closeRaw() {
	if t.closed {
		return
	}
	t.Close()
	t.upstream.OnConnectionClosed()
}

func (t *pipeTransport) OnConnect(Filter)             {}
func (t *pipeTransport) OnRead(Filter, *bytes.Buffer) {}
func (t *pipeTransport) OnConnectionClosed()          {}
func (t *pipeTransport) OnHandshakeCompleted()        {}
func (t *pipeTransport) StartTLS()                    {}

// stackEnd records the callback activity of one session.
type stackEnd struct {
	sess     *Session
	opened   bool
	closed   bool
	messages []string
}

func (e *stackEnd) attach(s *Session) {
	e.sess = s
	s.OnOpen = func(*Session) { e.opened = true }
	s.OnClose = func(*Session) { e.closed = true }
	s.OnMessage = func(_ *Session, payload []byte) {
		e.messages = append(e.messages, string(payload))
	}
}

func buildStackEnd(t *testing.T, ctx context.Context, cfg *Config, isClient bool) (*stackEnd, Filter) {
	t.Helper()
	end := &stackEnd{}
	sess := newSession(ctx, cfg, isClient)
	end.attach(sess)
	top, err := buildPipeline(ctx, cfg, isClient, sess)
	if err != nil {
		t.Fatal(err)
	}
	return end, top
}

// newStackPair wires a client chain and a server chain over an in-memory
// pipe and runs the full negotiation. Everything happens synchronously, so
// callers can assert right after it returns.
func newStackPair(t *testing.T, clientCfg, serverCfg Config) (client, server *stackEnd) {
	t.Helper()
	ctx := context.Background()
	clientCfg.Host = "test.local"

	server, serverTop := buildStackEnd(t, ctx, &serverCfg, false)
	client, clientTop := buildStackEnd(t, ctx, &clientCfg, true)

	serverTransport := &pipeTransport{upstream: serverTop}
	clientTransport := &pipeTransport{upstream: clientTop}
	serverTransport.peer, clientTransport.peer = clientTransport, serverTransport

	serverTransport.connected()
	clientTransport.connected()
	if !serverCfg.Plaintext {
		server.sess.StartTLS()
		client.sess.StartTLS()
	}
	return client, server
}

func TestStackEndToEnd(t *testing.T) {
	cfg := Config{Engine: EngineConfig{UseEphemeralKey: true}}
	client, server := newStackPair(t, cfg, cfg)

	if !client.opened || !server.opened {
		t.Fatalf("sessions not open: client=%v server=%v", client.opened, server.opened)
	}

	if err := client.sess.Send([]byte("HELLO")); err != nil {
		t.Fatal(err)
	}
	if len(server.messages) != 1 || server.messages[0] != "HELLO" {
		t.Fatalf("server messages = %q, want [HELLO]", server.messages)
	}

	if err := server.sess.Send([]byte("WORLD")); err != nil {
		t.Fatal(err)
	}
	if len(client.messages) != 1 || client.messages[0] != "WORLD" {
		t.Fatalf("client messages = %q, want [WORLD]", client.messages)
	}
}

func TestStackEcho(t *testing.T) {
	cfg := Config{Engine: EngineConfig{UseEphemeralKey: true}}
	client, server := newStackPair(t, cfg, cfg)
	server.sess.OnMessage = func(s *Session, payload []byte) {
		s.Send(payload)
	}

	client.sess.Send([]byte("ping 1"))
	client.sess.Send([]byte("ping 2"))
	if len(client.messages) != 2 || client.messages[0] != "ping 1" || client.messages[1] != "ping 2" {
		t.Fatalf("echoes = %q, want [ping 1, ping 2]", client.messages)
	}
}

func TestStackPlaintext(t *testing.T) {
	cfg := Config{Plaintext: true}
	client, server := newStackPair(t, cfg, cfg)

	if !client.opened || !server.opened {
		t.Fatalf("sessions not open: client=%v server=%v", client.opened, server.opened)
	}

	client.sess.Send([]byte("in the clear"))
	if len(server.messages) != 1 || server.messages[0] != "in the clear" {
		t.Fatalf("server messages = %q", server.messages)
	}
}

func TestStackClientClose(t *testing.T) {
	cfg := Config{Engine: EngineConfig{UseEphemeralKey: true}}
	client, server := newStackPair(t, cfg, cfg)

	client.sess.Close()
	if !client.closed {
		t.Fatal("client OnClose did not fire")
	}
	if !server.closed {
		t.Fatal("server did not observe the close")
	}
	if err := client.sess.Send([]byte("late")); err == nil {
		t.Fatal("send after close must fail")
	}
}

func TestStackStaticServerKey(t *testing.T) {
	key, err := GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	clientCfg := Config{Engine: EngineConfig{UseEphemeralKey: true}}
	serverCfg := Config{Engine: EngineConfig{PrivateKey: key}}
	client, server := newStackPair(t, clientCfg, serverCfg)

	if !client.opened || !server.opened {
		t.Fatal("negotiation with a static server key failed")
	}
	client.sess.Send([]byte("static key"))
	if len(server.messages) != 1 || server.messages[0] != "static key" {
		t.Fatalf("server messages = %q", server.messages)
	}
}
