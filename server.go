package fxwsock

import (
	"context"

	"github.com/account-login/ctxlog"
	"github.com/panjf2000/gnet/v2"
	"github.com/pkg/errors"
)

// Server accepts connections on the gnet event loop and gives each one its
// own filter chain. The configure hook runs before any traffic is processed,
// so it is the place to attach session callbacks.
type Server struct {
	gnet.BuiltinEventEngine

	ctx       context.Context
	addr      string
	cfg       *Config
	configure func(*Session)
	eng       gnet.Engine
}

// NewServer validates the configuration and prepares a server for addr
// (host:port).
func NewServer(ctx context.Context, addr string, cfg *Config, configure func(*Session)) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := ValidateConfig(cfg, true); err != nil {
		return nil, err
	}
	if configure == nil {
		return nil, errors.New("configure hook is required")
	}
	return &Server{ctx: ctx, addr: addr, cfg: cfg, configure: configure}, nil
}

// Run blocks serving connections until Shutdown is called.
func (s *Server) Run() error {
	return gnet.Run(s, "tcp://"+s.addr, gnet.WithMulticore(true))
}

// Shutdown stops the event loop and closes all connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.eng.Stop(ctx)
}

func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.eng = eng
	ctxlog.Infof(s.ctx, "listening on %s", s.addr)
	return gnet.None
}

func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	ctx := ctxlog.Pushf(s.ctx, "[conn:%v]", c.RemoteAddr())

	sess := newSession(ctx, s.cfg, false)
	top, err := buildPipeline(ctx, s.cfg, false, sess)
	if err != nil {
		ctxlog.Errorf(ctx, "build pipeline: %v", err)
		return nil, gnet.Close
	}
	transport := newGnetTransport(ctx, c, top)
	c.SetContext(transport)

	s.configure(sess)
	transport.connected()
	if !s.cfg.Plaintext {
		sess.StartTLS()
	}
	return nil, gnet.None
}

func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	transport, ok := c.Context().(*gnetTransport)
	if !ok {
		return gnet.Close
	}
	transport.traffic(c)
	return gnet.None
}

func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	if transport, ok := c.Context().(*gnetTransport); ok {
		transport.peerClosed(err)
	}
	return gnet.None
}
