package fxwsock

import (
	"bytes"
	"context"

	"github.com/account-login/ctxlog"
	"github.com/pkg/errors"
)

// Session states
const (
	sessionConnecting = iota
	sessionHandshaking
	sessionUpgrading
	sessionOpen
	sessionClosed
)

// Session is the top of a connection's filter chain: it drives the TLS
// activation and the WebSocket upgrade, then exposes complete messages
// through callbacks and accepts writes through Send.
//
// Callbacks fire on the connection's event goroutine; they must not block.
// Set them before the connection is wired up (the server and client do this
// through the configure hook).
type Session struct {
	ctx    context.Context
	client bool
	useTLS bool
	host   string
	path   string

	downstream Filter
	ws         *wsFilter
	state      int
	wsKey      string
	http       bytes.Buffer // upgrade exchange reassembly

	// OnOpen fires once the upgrade completes.
	OnOpen func(s *Session)
	// OnMessage fires per inbound message. The payload is only valid for
	// the duration of the call.
	OnMessage func(s *Session, payload []byte)
	// OnClose fires once when the connection ends, expectedly or not.
	OnClose func(s *Session)
}

func newSession(ctx context.Context, cfg *Config, client bool) *Session {
	return &Session{
		ctx:    ctx,
		client: client,
		useTLS: !cfg.Plaintext,
		host:   cfg.Host,
		path:   cfg.resolvePath(),
		state:  sessionConnecting,
	}
}

// Send transmits one message. Only valid on an open session. Failures of the
// underlying write surface through OnClose, not through the return value.
func (s *Session) Send(payload []byte) error {
	if s.state != sessionOpen {
		return errors.New("session is not open")
	}
	s.downstream.Write(bytes.NewBuffer(payload), CompletionFunc{
		OnFailed: func(err error) {
			ctxlog.Errorf(s.ctx, "send: %v", err)
		},
	})
	return nil
}

// Context returns the connection-scoped context used for logging.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Write(data *bytes.Buffer, handler CompletionHandler) {
	if s.downstream != nil {
		s.downstream.Write(data, handler)
	}
}

func (s *Session) Close() {
	if s.downstream == nil {
		return
	}
	s.downstream.Close()
	s.downstream = nil
	s.finish()
}

func (s *Session) OnConnect(downstream Filter) {
	s.downstream = downstream
	if !s.useTLS {
		// no handshake to wait for, negotiate the upgrade right away
		s.beginUpgrade()
	}
}

func (s *Session) StartTLS() {
	s.state = sessionHandshaking
	if s.downstream != nil {
		s.downstream.StartTLS()
	}
}

func (s *Session) OnHandshakeCompleted() {
	s.beginUpgrade()
}

func (s *Session) OnRead(src Filter, data *bytes.Buffer) {
	switch s.state {
	case sessionOpen:
		if s.OnMessage != nil {
			s.OnMessage(s, data.Next(data.Len()))
		} else {
			data.Reset()
		}
	case sessionUpgrading:
		s.http.Write(data.Next(data.Len()))
		s.continueUpgrade()
	default:
		// bytes before negotiation began: drop, the peer is misbehaving
		ctxlog.Warnf(s.ctx, "discarding %d bytes received in state %d", data.Len(), s.state)
		data.Reset()
	}
}

func (s *Session) OnConnectionClosed() {
	s.finish()
}

// beginUpgrade starts the HTTP upgrade exchange: the client sends the
// request, the server waits for it.
func (s *Session) beginUpgrade() {
	s.state = sessionUpgrading
	if !s.client {
		return
	}
	request, key, err := newUpgradeRequest(s.host, s.path)
	if err != nil {
		ctxlog.Errorf(s.ctx, "build upgrade request: %v", err)
		s.abort()
		return
	}
	s.wsKey = key
	s.downstream.Write(bytes.NewBuffer(request), CompletionFunc{
		OnFailed: func(err error) {
			ctxlog.Errorf(s.ctx, "write upgrade request: %v", err)
			s.abort()
		},
	})
}

// continueUpgrade consumes upgrade bytes until the header block is complete,
// then flips the frame filter into frame mode. Any leftover bytes are frames
// that arrived in the same flight; they are re-fed below the session.
func (s *Session) continueUpgrade() {
	idx := bytes.Index(s.http.Bytes(), []byte("\r\n\r\n"))
	if idx < 0 {
		return
	}
	head := s.http.Next(idx + 4)

	if s.client {
		if err := validateUpgradeResponse(head, s.wsKey); err != nil {
			ctxlog.Errorf(s.ctx, "upgrade rejected: %v", err)
			s.abort()
			return
		}
	} else {
		key, err := parseUpgradeRequest(head)
		if err != nil {
			ctxlog.Errorf(s.ctx, "bad upgrade request: %v", err)
			s.abort()
			return
		}
		s.downstream.Write(bytes.NewBuffer(buildUpgradeResponse(key)), CompletionFunc{
			OnFailed: func(err error) {
				ctxlog.Errorf(s.ctx, "write upgrade response: %v", err)
				s.abort()
			},
		})
	}

	s.ws.EnableFrames()
	s.state = sessionOpen
	if s.OnOpen != nil {
		s.OnOpen(s)
	}

	if s.http.Len() > 0 {
		var leftover bytes.Buffer
		leftover.Write(s.http.Next(s.http.Len()))
		s.ws.OnRead(s, &leftover)
	}
}

func (s *Session) abort() {
	if s.downstream != nil {
		s.downstream.Close()
		s.downstream = nil
	}
	s.finish()
}

func (s *Session) finish() {
	if s.state == sessionClosed {
		return
	}
	s.state = sessionClosed
	if s.OnClose != nil {
		s.OnClose(s)
	}
}
