package fxwsock

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"

	"github.com/pkg/errors"
)

// HandshakeStatus indicates what the engine needs next to make handshake
// progress.
type HandshakeStatus int

const (
	// NotHandshaking means no handshake is in progress.
	NotHandshaking HandshakeStatus = iota
	// NeedWrap means the engine has handshake bytes to send.
	NeedWrap
	// NeedUnwrap means the engine is waiting for peer handshake bytes.
	NeedUnwrap
	// NeedTask means the engine has delegated work (for instance key
	// derivation) that must run before the handshake can continue.
	NeedTask
	// Finished is reported once, on the result of the final handshake
	// operation.
	Finished
)

func (s HandshakeStatus) String() string {
	switch s {
	case NotHandshaking:
		return "NOT_HANDSHAKING"
	case NeedWrap:
		return "NEED_WRAP"
	case NeedUnwrap:
		return "NEED_UNWRAP"
	case NeedTask:
		return "NEED_TASK"
	case Finished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Status is the outcome of one Wrap or Unwrap call.
type Status int

const (
	// StatusOK means the operation completed.
	StatusOK Status = iota
	// StatusUnderflow means the source does not yet contain one complete
	// record. No source bytes were consumed. Not an error: wait for more.
	StatusUnderflow
	// StatusClosed means the operation observed or produced a close-notify
	// record.
	StatusClosed
)

// Result describes the outcome of one engine operation.
type Result struct {
	Status          Status
	HandshakeStatus HandshakeStatus
}

// Engine is the cryptographic state machine driven by TLSFilter. The filter
// treats it as opaque: it only wraps, unwraps, queries the handshake status
// and runs delegated tasks. An Engine is owned by exactly one filter for the
// life of one connection and is not safe for concurrent use.
type Engine interface {
	// BeginHandshake arms the handshake state machine.
	BeginHandshake() error

	// HandshakeStatus reports what must happen next to progress the
	// handshake.
	HandshakeStatus() HandshakeStatus

	// Wrap encrypts (or, mid-handshake, produces) one record from src into
	// dst. Handshake wraps ignore src.
	Wrap(src, dst *bytes.Buffer) (Result, error)

	// Unwrap decodes one record from src into dst. On StatusUnderflow no
	// source bytes are consumed.
	Unwrap(src, dst *bytes.Buffer) (Result, error)

	// DelegatedTask returns the next pending unit of deferred work, or nil
	// when none remain.
	DelegatedTask() func()

	// CloseOutbound instructs the engine to produce a close-notify record on
	// the next Wrap.
	CloseOutbound()

	// ApplicationBufferSize is the maximum plaintext one Unwrap can produce.
	ApplicationBufferSize() int

	// PacketBufferSize is the maximum ciphertext one Wrap can produce.
	PacketBufferSize() int
}

// EngineConfig produces ready-to-use engines from connection parameters.
// The zero value selects P256 with an ephemeral key.
type EngineConfig struct {
	// Curve selects the key-exchange curve. Defaults to P256.
	Curve elliptic.Curve

	// PrivateKey is a static identity key. Ignored when UseEphemeralKey is
	// set.
	PrivateKey *ecdsa.PrivateKey

	// UseEphemeralKey generates a fresh key per connection, giving forward
	// secrecy.
	UseEphemeralKey bool
}

// NewEngine builds an engine for one connection end.
func (c *EngineConfig) NewEngine(isClient bool) (Engine, error) {
	curve := elliptic.P256()
	if c != nil && c.Curve != nil {
		curve = c.Curve
	}

	var priv *ecdsa.PrivateKey
	if c != nil && c.PrivateKey != nil && !c.UseEphemeralKey {
		priv = c.PrivateKey
	} else {
		var err error
		priv, err = GenerateKey(curve)
		if err != nil {
			return nil, errors.Wrap(err, "generate connection key")
		}
	}

	return newECDHEngine(curve, priv, isClient), nil
}
