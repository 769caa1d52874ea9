package fxwsock

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/account-login/ctxlog"
)

// TLSFilter adds record encryption to the chain.
//
// Write and OnRead pass through untouched until StartTLS is called, which
// begins the engine handshake. While the handshake runs, inbound bytes feed
// the handshake state machine and nothing reaches the upstream stage; once
// it finishes, OnHandshakeCompleted fires upstream exactly once and from
// then on writes are wrapped into records and inbound records are unwrapped
// before delivery.
//
// The engine and both reusable buffers are owned by this filter for the life
// of one connection. Calls must be serialized per connection; the reusable
// buffers also mean only one write may be in flight at a time.
type TLSFilter struct {
	upstream Filter
	engine   Engine
	executor TaskExecutor
	ctx      context.Context

	appInput  *bytes.Buffer // plaintext produced by one unwrap
	netOutput *bytes.Buffer // ciphertext produced by one wrap
	empty     bytes.Buffer  // zero-length wrap input for handshake steps

	downstream Filter
	started    atomic.Bool
	failed     bool // fatal engine or write error already reported upward
}

// NewTLSFilter builds the filter with a ready engine. upstream is the stage
// positioned above it; the downstream reference arrives later via OnConnect.
func NewTLSFilter(ctx context.Context, upstream Filter, engine Engine, executor TaskExecutor) *TLSFilter {
	if executor == nil {
		executor = InlineExecutor
	}
	f := &TLSFilter{
		upstream: upstream,
		engine:   engine,
		executor: executor,
		ctx:      ctx,
	}
	f.appInput = bytes.NewBuffer(make([]byte, 0, engine.ApplicationBufferSize()))
	f.netOutput = bytes.NewBuffer(make([]byte, 0, engine.PacketBufferSize()))
	return f
}

func (f *TLSFilter) Write(data *bytes.Buffer, handler CompletionHandler) {
	// before TLS is started write just passes through
	if !f.started.Load() {
		f.downstream.Write(data, handler)
		return
	}
	f.netOutput.Reset()
	if _, err := f.engine.Wrap(data, f.netOutput); err != nil {
		f.handleError(err)
		return
	}
	f.downstream.Write(f.netOutput, handler)
}

func (f *TLSFilter) Close() {
	if f.downstream == nil {
		return
	}
	if !f.started.Load() {
		f.downstream.Close()
		f.downstream = nil
		return
	}
	f.engine.CloseOutbound()
	f.netOutput.Reset()
	if _, err := f.engine.Wrap(&f.empty, f.netOutput); err != nil {
		// close-notify could not be produced; release the transport anyway
		ctxlog.Errorf(f.ctx, "wrap close record: %v", err)
		f.downstream.Close()
		f.downstream = nil
		return
	}
	downstream := f.downstream
	f.downstream.Write(f.netOutput, CompletionFunc{
		OnCompleted: func(*bytes.Buffer) {
			downstream.Close()
			f.downstream = nil
		},
		OnFailed: func(error) {
			downstream.Close()
			f.downstream = nil
		},
	})
}

// closeRaw skips the close-notify exchange and tears down the socket below.
// The downstream reference is set before StartTLS arms any timer, so reading
// it from another goroutine here is ordered by the timer creation.
func (f *TLSFilter) closeRaw() {
	if c, ok := f.downstream.(rawCloser); ok {
		c.closeRaw()
		return
	}
	if f.downstream != nil {
		f.downstream.Close()
	}
}

func (f *TLSFilter) OnConnect(downstream Filter) {
	f.downstream = downstream
	f.upstream.OnConnect(f)
}

func (f *TLSFilter) OnRead(src Filter, networkData *bytes.Buffer) {
	// before TLS is started read just passes through
	if !f.started.Load() {
		f.upstream.OnRead(f, networkData)
		return
	}

	for {
		if f.failed {
			// the connection already failed; anything buffered is garbage
			networkData.Reset()
			return
		}
		switch f.engine.HandshakeStatus() {
		case NeedWrap, NeedTask:
			// the handshake is waiting on a write-driven step; leave the
			// bytes for a later call
			return

		case NeedUnwrap:
			res, err := f.engine.Unwrap(networkData, f.appInput)
			if err != nil {
				f.handleError(err)
				return
			}
			if res.Status == StatusUnderflow {
				// needs more data from the network
				return
			}
			if res.HandshakeStatus == Finished {
				f.upstream.OnHandshakeCompleted()
			} else if res.HandshakeStatus != NeedUnwrap {
				// the engine has to write or run a task before it can read
				// again. Afterwards the loop resumes on whatever is still
				// buffered: the peer may have sent its next flight in the
				// same batch, and no further bytes need arrive to trigger a
				// redelivery.
				f.handshakeStep()
			}
			if networkData.Len() == 0 {
				return
			}

		default:
			// established: decrypt and deliver
			f.appInput.Reset()
			res, err := f.engine.Unwrap(networkData, f.appInput)
			if err != nil {
				f.handleError(err)
				return
			}
			if res.Status == StatusUnderflow {
				// needs more data from the network
				return
			}
			if res.Status == StatusClosed {
				f.upstream.OnConnectionClosed()
				return
			}
			f.upstream.OnRead(f, f.appInput)
			if networkData.Len() == 0 {
				return
			}
		}
	}
}

func (f *TLSFilter) OnConnectionClosed() {
	f.upstream.OnConnectionClosed()
}

func (f *TLSFilter) OnHandshakeCompleted() {
	f.upstream.OnHandshakeCompleted()
}

// StartTLS activates the filter and kicks off the engine handshake.
func (f *TLSFilter) StartTLS() {
	f.started.Store(true)
	if err := f.engine.BeginHandshake(); err != nil {
		f.handleError(err)
		return
	}
	f.handshakeStep()
}

// handshakeStep takes one class of handshake action and recurses until the
// engine waits on inbound data (progress then resumes from OnRead).
func (f *TLSFilter) handshakeStep() {
	switch f.engine.HandshakeStatus() {
	// needs to write data to the network
	case NeedWrap:
		f.netOutput.Reset()
		if _, err := f.engine.Wrap(&f.empty, f.netOutput); err != nil {
			f.handleError(err)
			return
		}
		f.downstream.Write(f.netOutput, CompletionFunc{
			OnCompleted: func(*bytes.Buffer) {
				if f.engine.HandshakeStatus() == NeedUnwrap {
					return
				}
				f.handshakeStep()
			},
			OnFailed: func(err error) {
				f.handleError(err)
			},
		})

	// needs to execute deferred work (for instance key derivation)
	case NeedTask:
		f.executor.Execute(func() {
			for task := f.engine.DelegatedTask(); task != nil; task = f.engine.DelegatedTask() {
				task()
			}
			if f.engine.HandshakeStatus() == NeedUnwrap {
				// tasks resolved but the engine still cannot proceed without
				// data it will never request: fatal stall
				ctxlog.Errorf(f.ctx, "handshake stalled after delegated tasks")
				f.upstream.OnConnectionClosed()
				return
			}
			f.handshakeStep()
		})
	}
}

// handleError is the shared error path: every failure while wrapping,
// unwrapping or stepping the handshake is fatal for the connection. The only
// signal the upstream chain observes is an unsolicited close.
func (f *TLSFilter) handleError(err error) {
	f.failed = true
	ctxlog.Errorf(f.ctx, "tls filter error: %v", err)
	f.upstream.OnConnectionClosed()
}
