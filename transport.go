package fxwsock

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync/atomic"

	"github.com/account-login/ctxlog"
	"github.com/panjf2000/gnet/v2"
	"github.com/pkg/errors"
)

const readBufferSize = 32 * 1024

var errTransportClosed = errors.New("transport is closed")

// gnetTransport is the bottom of a server-side chain. Writes map onto
// gnet's AsyncWrite, whose callback fires on the connection's event loop —
// the same goroutine that delivers traffic — so completion handlers and
// OnRead are serialized by construction.
//
// Bytes the chain does not consume stay in pending and are redelivered,
// together with whatever arrives next, on the following traffic event.
type gnetTransport struct {
	upstream Filter
	conn     gnet.Conn
	ctx      context.Context
	pending  bytes.Buffer
	closed   bool
}

func newGnetTransport(ctx context.Context, conn gnet.Conn, upstream Filter) *gnetTransport {
	return &gnetTransport{upstream: upstream, conn: conn, ctx: ctx}
}

// connected starts chain linking from the bottom.
func (t *gnetTransport) connected() {
	t.upstream.OnConnect(t)
}

// traffic feeds one inbound batch to the chain.
func (t *gnetTransport) traffic(c gnet.Conn) {
	data, err := c.Next(-1)
	if err != nil {
		ctxlog.Errorf(t.ctx, "drain inbound buffer: %v", err)
		return
	}
	t.pending.Write(data)
	t.upstream.OnRead(t, &t.pending)
}

// peerClosed reports an unsolicited termination to the chain.
func (t *gnetTransport) peerClosed(err error) {
	if t.closed {
		return
	}
	t.closed = true
	if err != nil && err != io.EOF {
		ctxlog.Errorf(t.ctx, "connection closed: %v", err)
	}
	t.upstream.OnConnectionClosed()
}

func (t *gnetTransport) Write(data *bytes.Buffer, handler CompletionHandler) {
	if t.closed {
		if handler != nil {
			handler.Failed(errTransportClosed)
		}
		return
	}
	// AsyncWrite retains the slice past this call while the chain's buffer
	// is reused, so hand it a copy
	out := make([]byte, data.Len())
	copy(out, data.Next(data.Len()))
	err := t.conn.AsyncWrite(out, func(_ gnet.Conn, err error) error {
		if handler != nil {
			if err != nil {
				handler.Failed(err)
			} else {
				handler.Completed(data)
			}
		}
		return nil
	})
	if err != nil && handler != nil {
		handler.Failed(err)
	}
}

func (t *gnetTransport) Close() {
	if t.closed {
		return
	}
	t.closed = true
	if err := t.conn.Close(); err != nil {
		ctxlog.Errorf(t.ctx, "close connection: %v", err)
	}
}

// closeRaw closes the socket without marking the transport closed, so the
// event loop's close event still notifies the chain. gnet's Close is one of
// the conn methods that may be called from any goroutine.
func (t *gnetTransport) closeRaw() {
	if err := t.conn.Close(); err != nil {
		ctxlog.Errorf(t.ctx, "close connection: %v", err)
	}
}

// The transport is the lowest stage: nothing sits below it.
func (t *gnetTransport) OnConnect(Filter)             {}
func (t *gnetTransport) OnRead(Filter, *bytes.Buffer) {}
func (t *gnetTransport) OnConnectionClosed()          {}
func (t *gnetTransport) OnHandshakeCompleted()        {}
func (t *gnetTransport) StartTLS()                    {}

// connTransport is the bottom of a client-side chain: a plain net.Conn with
// a single reader goroutine delivering upward events, which serializes them
// per connection. Writes happen inline, so the completion handler fires
// synchronously once the kernel accepted the bytes.
type connTransport struct {
	upstream Filter
	conn     net.Conn
	ctx      context.Context
	pending  bytes.Buffer
	closed   atomic.Bool
}

func newConnTransport(ctx context.Context, conn net.Conn, upstream Filter) *connTransport {
	return &connTransport{upstream: upstream, conn: conn, ctx: ctx}
}

func (t *connTransport) connected() {
	t.upstream.OnConnect(t)
}

// start launches the reader loop. Call after the chain is linked and any
// initial negotiation writes have been issued.
func (t *connTransport) start() {
	go t.readLoop()
}

func (t *connTransport) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			t.pending.Write(buf[:n])
			t.upstream.OnRead(t, &t.pending)
		}
		if err != nil {
			if t.closed.Load() {
				return
			}
			if err != io.EOF {
				ctxlog.Errorf(t.ctx, "read: %v", err)
			}
			t.upstream.OnConnectionClosed()
			return
		}
	}
}

func (t *connTransport) Write(data *bytes.Buffer, handler CompletionHandler) {
	if t.closed.Load() {
		if handler != nil {
			handler.Failed(errTransportClosed)
		}
		return
	}
	_, err := t.conn.Write(data.Next(data.Len()))
	if handler == nil {
		return
	}
	if err != nil {
		handler.Failed(err)
	} else {
		handler.Completed(data)
	}
}

func (t *connTransport) Close() {
	if t.closed.CompareAndSwap(false, true) {
		if err := t.conn.Close(); err != nil {
			ctxlog.Errorf(t.ctx, "close connection: %v", err)
		}
	}
}

// closeRaw closes the socket without marking the transport closed; the
// reader goroutine observes the failed Read and reports the close upward.
func (t *connTransport) closeRaw() {
	if err := t.conn.Close(); err != nil {
		ctxlog.Errorf(t.ctx, "close connection: %v", err)
	}
}

func (t *connTransport) OnConnect(Filter)             {}
func (t *connTransport) OnRead(Filter, *bytes.Buffer) {}
func (t *connTransport) OnConnectionClosed()          {}
func (t *connTransport) OnHandshakeCompleted()        {}
func (t *connTransport) StartTLS()                    {}
