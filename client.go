package fxwsock

import (
	"context"
	"net"
	"time"

	"github.com/account-login/ctxlog"
)

// Client dials servers and assembles a filter chain per connection. Each
// connection gets one reader goroutine, which is also the goroutine all
// session callbacks run on.
type Client struct {
	ctx context.Context
	cfg *Config
}

// NewClient validates the configuration and returns a dialer.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := ValidateConfig(cfg, false); err != nil {
		return nil, err
	}
	return &Client{ctx: ctx, cfg: cfg}, nil
}

// Dial connects to addr, starts the encryption handshake (unless plaintext)
// and the WebSocket upgrade, and returns the session. The configure hook
// runs before any negotiation so callbacks see every event; wait for OnOpen
// before sending.
func (c *Client) Dial(addr string, configure func(*Session)) (*Session, error) {
	return c.dial(addr, 0, configure)
}

// DialTimeout is Dial with a bound on connection establishment.
func (c *Client) DialTimeout(addr string, timeout time.Duration, configure func(*Session)) (*Session, error) {
	return c.dial(addr, timeout, configure)
}

func (c *Client) dial(addr string, timeout time.Duration, configure func(*Session)) (*Session, error) {
	var conn net.Conn
	var err error
	if timeout > 0 {
		conn, err = net.DialTimeout("tcp", addr, timeout)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	ctx := ctxlog.Pushf(c.ctx, "[conn:%v]", conn.LocalAddr())
	sess := newSession(ctx, c.cfg, true)
	top, err := buildPipeline(ctx, c.cfg, true, sess)
	if err != nil {
		conn.Close()
		return nil, err
	}
	transport := newConnTransport(ctx, conn, top)

	if configure != nil {
		configure(sess)
	}
	transport.connected()
	if !c.cfg.Plaintext {
		sess.StartTLS()
	}
	transport.start()
	return sess, nil
}
