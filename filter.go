package fxwsock

import "bytes"

// Filter is one bidirectional stage of a per-connection processing chain.
//
// Each stage holds an owning reference to the stage below it (set exactly
// once, during OnConnect, before any Write or Close reaches the stage) and a
// non-owning back-reference to the stage above it, used only to deliver
// notifications. Write and Close travel downward; OnRead, OnConnectionClosed
// and OnHandshakeCompleted travel upward.
//
// Buffers passed through the chain are reused by their producers. A stage
// must consume (or copy) what it needs before returning; bytes left in the
// buffer are redelivered together with new data on the next OnRead.
type Filter interface {
	// Write sends data toward the transport, possibly transforming it on the
	// way. The handler fires once the bytes have been accepted below, unless
	// this stage fails first. Only one write may be in flight per stage.
	Write(data *bytes.Buffer, handler CompletionHandler)

	// Close tears down this stage and, transitively, everything below it.
	// Closing an already-closed stage is a no-op.
	Close()

	// OnConnect stores the downstream reference and re-links the chain so
	// that the upstream stage's downstream becomes this stage.
	OnConnect(downstream Filter)

	// OnRead delivers bytes arriving from below. src is the stage that
	// delivered them.
	OnRead(src Filter, data *bytes.Buffer)

	// OnConnectionClosed announces an unexpected termination from below.
	OnConnectionClosed()

	// OnHandshakeCompleted fires exactly once when a TLS stage in the chain
	// finishes its handshake. Stages without TLS forward or ignore it.
	OnHandshakeCompleted()

	// StartTLS travels downward and activates the TLS stage, if any. Called
	// once by the chain owner after connection establishment.
	StartTLS()
}

// rawCloser is implemented by stages that can tear down the underlying
// socket without traversing the chain's write path. Unlike Close it is safe
// to call from any goroutine: the resulting close event still reaches the
// chain on the connection's event goroutine.
type rawCloser interface {
	closeRaw()
}

// BaseFilter supplies the default pass-through behavior of a chain stage.
// Concrete filters embed it and override what they transform. OnConnect is
// intentionally not provided: linking needs the identity of the outer stage,
// so each filter implements it via the link helper.
type BaseFilter struct {
	upstream   Filter
	downstream Filter
}

// link records the downstream stage and announces self to the upstream one.
func (f *BaseFilter) link(self, downstream Filter) {
	f.downstream = downstream
	if f.upstream != nil {
		f.upstream.OnConnect(self)
	}
}

func (f *BaseFilter) Write(data *bytes.Buffer, handler CompletionHandler) {
	if f.downstream != nil {
		f.downstream.Write(data, handler)
	}
}

func (f *BaseFilter) Close() {
	if f.downstream == nil {
		return
	}
	f.downstream.Close()
	f.downstream = nil
}

func (f *BaseFilter) OnRead(src Filter, data *bytes.Buffer) {
	if f.upstream != nil {
		f.upstream.OnRead(src, data)
	}
}

func (f *BaseFilter) OnConnectionClosed() {
	if f.upstream != nil {
		f.upstream.OnConnectionClosed()
	}
}

func (f *BaseFilter) OnHandshakeCompleted() {
	if f.upstream != nil {
		f.upstream.OnHandshakeCompleted()
	}
}

func (f *BaseFilter) StartTLS() {
	if f.downstream != nil {
		f.downstream.StartTLS()
	}
}
