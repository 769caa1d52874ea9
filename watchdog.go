package fxwsock

import (
	"context"
	"sync"
	"time"

	"github.com/account-login/ctxlog"
	"github.com/benbjohnson/clock"
)

// handshakeWatchdog sits directly above the TLS filter and bounds the time
// a handshake may take: the timer is armed when StartTLS passes through and
// disarmed by OnHandshakeCompleted. On expiry only the raw socket is torn
// down; its close event then travels up the chain on the connection's event
// goroutine, so the stages observe an unsolicited close, same as any other
// fatal handshake outcome.
//
// Expiry fires on the clock's goroutine. That is why it must not call Close
// down the chain (which would run the engine and touch reused buffers
// concurrently with connection events) and goes through closeRaw instead.
type handshakeWatchdog struct {
	BaseFilter
	ctx     context.Context
	clk     clock.Clock
	timeout time.Duration

	mu    sync.Mutex
	timer *clock.Timer
	done  bool
}

func newHandshakeWatchdog(ctx context.Context, upstream Filter, timeout time.Duration, clk clock.Clock) *handshakeWatchdog {
	if clk == nil {
		clk = clock.New()
	}
	f := &handshakeWatchdog{ctx: ctx, clk: clk, timeout: timeout}
	f.upstream = upstream
	return f
}

func (f *handshakeWatchdog) OnConnect(downstream Filter) {
	f.link(f, downstream)
}

func (f *handshakeWatchdog) StartTLS() {
	if f.timeout > 0 {
		f.mu.Lock()
		f.timer = f.clk.AfterFunc(f.timeout, f.expire)
		f.mu.Unlock()
	}
	f.BaseFilter.StartTLS()
}

func (f *handshakeWatchdog) Close() {
	f.disarm()
	f.BaseFilter.Close()
}

func (f *handshakeWatchdog) OnHandshakeCompleted() {
	f.disarm()
	f.BaseFilter.OnHandshakeCompleted()
}

func (f *handshakeWatchdog) OnConnectionClosed() {
	f.disarm()
	f.BaseFilter.OnConnectionClosed()
}

func (f *handshakeWatchdog) disarm() {
	f.mu.Lock()
	f.done = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()
}

func (f *handshakeWatchdog) expire() {
	f.mu.Lock()
	expired := !f.done
	f.done = true
	f.timer = nil
	f.mu.Unlock()
	if !expired {
		return
	}
	ctxlog.Errorf(f.ctx, "handshake did not complete within %v", f.timeout)
	if c, ok := f.downstream.(rawCloser); ok {
		c.closeRaw()
		return
	}
	if f.upstream != nil {
		f.upstream.OnConnectionClosed()
	}
	f.Close()
}
