package fxwsock

import (
	"bytes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Constants
const (
	nonceSize      = 12
	keySize        = 32
	maxMessageSize = 64 * 1024
	maxKeySize     = 1024

	// record framing: 1 byte type + 4 byte length, plus the AEAD tag
	recordHeaderSize = 5
	recordOverhead   = recordHeaderSize + 16
)

// Message types
const (
	msgTypePublicKey = 0x01
	msgTypeRecord    = 0x02
	msgTypeFinished  = 0x03
	msgTypeClose     = 0x04
)

// Handshake stages
const (
	stageSendKey = iota
	stageRecvKey
	stageDeriveKeys
	stageSendFinished
	stageRecvFinished
	stageDone
)

// ecdhEngine implements Engine with the record protocol used across the
// stack: an ECDH public-key exchange, HKDF-derived ChaCha20-Poly1305 session
// keys and counter-nonce encrypted records.
//
// Handshake sequence, client side:
//
//	NEED_WRAP   send client public key   [0x01][len16][key]
//	NEED_UNWRAP receive server public key
//	NEED_TASK   derive session keys (delegated task)
//	NEED_WRAP   send encrypted FINISHED record
//	NEED_UNWRAP receive server FINISHED -> result FINISHED
//
// The server mirrors it: receive key, send key, derive, send FINISHED,
// receive FINISHED. Both sides therefore learn of completion from an Unwrap
// result, which is what the filter above relies on.
type ecdhEngine struct {
	isClient bool
	curve    elliptic.Curve
	priv     *ecdsa.PrivateKey
	peer     *ecdsa.PublicKey

	sendAEAD    cipher.AEAD
	recvAEAD    cipher.AEAD
	sendNonce   []byte
	recvNonce   []byte
	sendCounter uint64
	recvCounter uint64

	hs      HandshakeStatus
	stage   int
	started bool

	taskTaken bool
	taskErr   error

	closeOutbound bool
	closeSent     bool
	closeReceived bool
}

func newECDHEngine(curve elliptic.Curve, priv *ecdsa.PrivateKey, isClient bool) *ecdhEngine {
	return &ecdhEngine{
		isClient: isClient,
		curve:    curve,
		priv:     priv,
		hs:       NotHandshaking,
		stage:    stageSendKey,
	}
}

func (e *ecdhEngine) BeginHandshake() error {
	if e.started {
		return errors.New("handshake already started")
	}
	e.started = true
	if e.isClient {
		e.stage = stageSendKey
		e.hs = NeedWrap
	} else {
		e.stage = stageRecvKey
		e.hs = NeedUnwrap
	}
	return nil
}

func (e *ecdhEngine) HandshakeStatus() HandshakeStatus {
	return e.hs
}

func (e *ecdhEngine) ApplicationBufferSize() int {
	return maxMessageSize
}

func (e *ecdhEngine) PacketBufferSize() int {
	return maxMessageSize + recordOverhead
}

func (e *ecdhEngine) CloseOutbound() {
	e.closeOutbound = true
}

func (e *ecdhEngine) DelegatedTask() func() {
	if e.stage != stageDeriveKeys || e.taskTaken {
		return nil
	}
	e.taskTaken = true
	return e.deriveSessionKeys
}

func (e *ecdhEngine) Wrap(src, dst *bytes.Buffer) (Result, error) {
	if e.taskErr != nil {
		return Result{}, e.taskErr
	}
	if e.closeOutbound {
		if !e.closeSent {
			if err := e.putCloseRecord(dst); err != nil {
				return Result{}, err
			}
			e.closeSent = true
		}
		return Result{StatusClosed, e.hs}, nil
	}
	if e.stage != stageDone {
		return e.handshakeWrap(dst)
	}

	// data record
	if src.Len() > maxMessageSize {
		return Result{}, errors.Errorf("message of %d bytes exceeds maximum of %d", src.Len(), maxMessageSize)
	}
	plain := src.Next(src.Len())
	binary.BigEndian.PutUint64(e.sendNonce[4:], e.sendCounter)
	sealed := e.sendAEAD.Seal(nil, e.sendNonce, plain, nil)
	e.sendCounter++
	putRecord(dst, msgTypeRecord, sealed)
	return Result{StatusOK, NotHandshaking}, nil
}

func (e *ecdhEngine) handshakeWrap(dst *bytes.Buffer) (Result, error) {
	if e.hs != NeedWrap {
		return Result{}, errors.Errorf("wrap called while handshake needs %v", e.hs)
	}
	switch e.stage {
	case stageSendKey:
		pub := elliptic.Marshal(e.priv.Curve, e.priv.PublicKey.X, e.priv.PublicKey.Y)
		dst.WriteByte(msgTypePublicKey)
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(pub)))
		dst.Write(l[:])
		dst.Write(pub)
		if e.isClient {
			// wait for the server key
			e.stage = stageRecvKey
			e.hs = NeedUnwrap
		} else {
			// the client key arrived first, derive now
			e.stage = stageDeriveKeys
			e.hs = NeedTask
		}
	case stageSendFinished:
		binary.BigEndian.PutUint64(e.sendNonce[4:], e.sendCounter)
		sealed := e.sendAEAD.Seal(nil, e.sendNonce, finishedLabel(e.isClient), nil)
		e.sendCounter++
		putRecord(dst, msgTypeFinished, sealed)
		e.stage = stageRecvFinished
		e.hs = NeedUnwrap
	default:
		return Result{}, errors.Errorf("wrap called in unexpected handshake stage %d", e.stage)
	}
	return Result{StatusOK, e.hs}, nil
}

func (e *ecdhEngine) Unwrap(src, dst *bytes.Buffer) (Result, error) {
	if e.taskErr != nil {
		return Result{}, e.taskErr
	}
	if e.closeReceived {
		return Result{StatusClosed, e.hs}, nil
	}
	if e.stage != stageDone {
		return e.handshakeUnwrap(src)
	}

	b := src.Bytes()
	if len(b) < recordHeaderSize {
		return Result{StatusUnderflow, NotHandshaking}, nil
	}
	length := int(binary.BigEndian.Uint32(b[1:recordHeaderSize]))
	if length > e.PacketBufferSize() {
		return Result{}, errors.Errorf("record of %d bytes exceeds maximum of %d", length, e.PacketBufferSize())
	}
	if len(b) < recordHeaderSize+length {
		return Result{StatusUnderflow, NotHandshaking}, nil
	}
	typ := b[0]
	body := b[recordHeaderSize : recordHeaderSize+length]

	switch typ {
	case msgTypeRecord:
		binary.BigEndian.PutUint64(e.recvNonce[4:], e.recvCounter)
		plain, err := e.recvAEAD.Open(nil, e.recvNonce, body, nil)
		if err != nil {
			return Result{}, errors.Wrap(err, "open record")
		}
		e.recvCounter++
		src.Next(recordHeaderSize + length)
		dst.Write(plain)
		return Result{StatusOK, NotHandshaking}, nil
	case msgTypeClose:
		if length > 0 {
			binary.BigEndian.PutUint64(e.recvNonce[4:], e.recvCounter)
			if _, err := e.recvAEAD.Open(nil, e.recvNonce, body, nil); err != nil {
				return Result{}, errors.Wrap(err, "open close record")
			}
			e.recvCounter++
		}
		src.Next(recordHeaderSize + length)
		e.closeReceived = true
		return Result{StatusClosed, NotHandshaking}, nil
	default:
		return Result{}, errors.Errorf("unexpected record type 0x%02x", typ)
	}
}

func (e *ecdhEngine) handshakeUnwrap(src *bytes.Buffer) (Result, error) {
	if e.hs != NeedUnwrap {
		return Result{}, errors.Errorf("unwrap called while handshake needs %v", e.hs)
	}
	b := src.Bytes()

	switch e.stage {
	case stageRecvKey:
		if len(b) < 3 {
			return Result{StatusUnderflow, e.hs}, nil
		}
		if b[0] != msgTypePublicKey {
			return Result{}, errors.Errorf("expected public key message, got type 0x%02x", b[0])
		}
		length := int(binary.BigEndian.Uint16(b[1:3]))
		if length > maxKeySize {
			return Result{}, errors.New("peer public key too large")
		}
		if len(b) < 3+length {
			return Result{StatusUnderflow, e.hs}, nil
		}
		x, y := elliptic.Unmarshal(e.curve, b[3:3+length])
		if x == nil {
			return Result{}, errors.New("invalid peer public key")
		}
		src.Next(3 + length)
		e.peer = &ecdsa.PublicKey{Curve: e.curve, X: x, Y: y}
		if e.isClient {
			e.stage = stageDeriveKeys
			e.hs = NeedTask
		} else {
			e.stage = stageSendKey
			e.hs = NeedWrap
		}
		return Result{StatusOK, e.hs}, nil

	case stageRecvFinished:
		if len(b) < recordHeaderSize {
			return Result{StatusUnderflow, e.hs}, nil
		}
		if b[0] != msgTypeFinished {
			return Result{}, errors.Errorf("expected finished record, got type 0x%02x", b[0])
		}
		length := int(binary.BigEndian.Uint32(b[1:recordHeaderSize]))
		if length > e.PacketBufferSize() {
			return Result{}, errors.New("finished record too large")
		}
		if len(b) < recordHeaderSize+length {
			return Result{StatusUnderflow, e.hs}, nil
		}
		binary.BigEndian.PutUint64(e.recvNonce[4:], e.recvCounter)
		plain, err := e.recvAEAD.Open(nil, e.recvNonce, b[recordHeaderSize:recordHeaderSize+length], nil)
		if err != nil {
			return Result{}, errors.Wrap(err, "open finished record")
		}
		e.recvCounter++
		if !bytes.Equal(plain, finishedLabel(!e.isClient)) {
			return Result{}, errors.New("finished verification failed")
		}
		src.Next(recordHeaderSize + length)
		e.stage = stageDone
		e.hs = NotHandshaking
		return Result{StatusOK, Finished}, nil

	default:
		return Result{}, errors.Errorf("unwrap called in unexpected handshake stage %d", e.stage)
	}
}

// deriveSessionKeys runs as a delegated task: it computes the ECDH shared
// secret and derives direction-separated ChaCha20-Poly1305 keys from it.
func (e *ecdhEngine) deriveSessionKeys() {
	if err := e.doDeriveSessionKeys(); err != nil {
		e.taskErr = err
		e.hs = NeedWrap // surface taskErr from the next engine operation
		return
	}
	e.stage = stageSendFinished
	e.hs = NeedWrap
}

func (e *ecdhEngine) doDeriveSessionKeys() error {
	if e.peer == nil {
		return errors.New("no peer public key available")
	}

	sharedX, _ := e.priv.Curve.ScalarMult(e.peer.X, e.peer.Y, e.priv.D.Bytes())
	if sharedX == nil {
		return errors.New("failed to compute shared secret")
	}
	secret := sharedX.Bytes()

	// left-pad to the curve size
	curveSize := (e.priv.Curve.Params().BitSize + 7) / 8
	if len(secret) < curveSize {
		padded := make([]byte, curveSize)
		copy(padded[curveSize-len(secret):], secret)
		secret = padded
	}

	salt := []byte("fxwsock-record-salt")
	var sendKey, recvKey []byte
	if e.isClient {
		sendKey = deriveKey(secret, salt, []byte("client_key"))
		recvKey = deriveKey(secret, salt, []byte("server_key"))
	} else {
		sendKey = deriveKey(secret, salt, []byte("server_key"))
		recvKey = deriveKey(secret, salt, []byte("client_key"))
	}

	sendAEAD, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return errors.Wrap(err, "init send cipher")
	}
	recvAEAD, err := chacha20poly1305.New(recvKey)
	if err != nil {
		return errors.Wrap(err, "init recv cipher")
	}

	e.sendAEAD = sendAEAD
	e.recvAEAD = recvAEAD
	e.sendNonce = make([]byte, nonceSize)
	e.recvNonce = make([]byte, nonceSize)
	e.sendCounter = 0
	e.recvCounter = 0
	return nil
}

func (e *ecdhEngine) putCloseRecord(dst *bytes.Buffer) error {
	if e.sendAEAD == nil {
		// closing before keys exist: bare close marker
		putRecord(dst, msgTypeClose, nil)
		return nil
	}
	binary.BigEndian.PutUint64(e.sendNonce[4:], e.sendCounter)
	sealed := e.sendAEAD.Seal(nil, e.sendNonce, nil, nil)
	e.sendCounter++
	putRecord(dst, msgTypeClose, sealed)
	return nil
}

func putRecord(dst *bytes.Buffer, typ byte, body []byte) {
	dst.WriteByte(typ)
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(body)))
	dst.Write(l[:])
	dst.Write(body)
}

func finishedLabel(isClient bool) []byte {
	if isClient {
		return []byte("client finished")
	}
	return []byte("server finished")
}
