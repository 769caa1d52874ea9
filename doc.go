// doc.go
// Package fxwsock provides a WebSocket client/server stack built on a chain
// of composable, bidirectional, non-blocking filters.
//
// The centerpiece is TLSFilter, which transparently interposes a cryptographic
// handshake and record encryption between a raw byte transport at the bottom
// of the chain and a plaintext consumer above it. Before StartTLS is called
// the filter is a pure passthrough; afterwards every write is wrapped into an
// encrypted record and every inbound chunk is unwrapped before being handed
// upstream.
//
// A chain is assembled bottom-up at connection time:
//
//	transport -> TLSFilter -> handshake watchdog -> frame filter -> session
//
// Application writes travel down the chain, network bytes travel up. Every
// asynchronous write reports its outcome through a CompletionHandler; there
// is no polling anywhere in the stack.
//
// The server side runs on the gnet event loop, the client side on a plain
// net.Conn with a single reader goroutine per connection. Record encryption
// uses ECDH key exchange (P256 by default) with HKDF-derived
// ChaCha20-Poly1305 keys.
//
// Concurrency contract: all operations on one connection's filters must be
// serialized by the caller. The transports in this package satisfy that by
// construction; external callers of Session.Send must not overlap calls.
package fxwsock
