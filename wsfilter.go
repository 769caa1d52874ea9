package fxwsock

import (
	"bytes"
	"context"
	"io"

	"github.com/account-login/ctxlog"
	"github.com/gobwas/ws"
)

// wsFilter translates between application payloads above and WebSocket
// frames below. It starts in passthrough mode so the HTTP upgrade exchange
// can cross it untouched; EnableFrames switches it to frame mode once the
// upgrade completes.
//
// Inbound frames are reassembled before delivery: a partial frame stays
// buffered and nothing is handed upstream until the full frame arrives.
// Client-to-server frames are masked per RFC 6455; inbound masked frames are
// unmasked. Pings are answered with pongs, close frames surface as a closed
// connection.
type wsFilter struct {
	BaseFilter
	ctx    context.Context
	client bool
	frames bool

	pending bytes.Buffer // partial inbound frames
	payload bytes.Buffer // payload handed upstream
	out     bytes.Buffer // encoded outbound frame
}

func newWSFilter(ctx context.Context, upstream Filter, client bool) *wsFilter {
	f := &wsFilter{ctx: ctx, client: client}
	f.upstream = upstream
	return f
}

// EnableFrames switches from passthrough to frame mode.
func (f *wsFilter) EnableFrames() {
	f.frames = true
}

func (f *wsFilter) OnConnect(downstream Filter) {
	f.link(f, downstream)
}

func (f *wsFilter) Write(data *bytes.Buffer, handler CompletionHandler) {
	if !f.frames {
		f.downstream.Write(data, handler)
		return
	}
	frame := ws.NewFrame(ws.OpBinary, true, data.Next(data.Len()))
	if f.client {
		frame = ws.MaskFrame(frame)
	}
	f.out.Reset()
	if err := ws.WriteFrame(&f.out, frame); err != nil {
		if handler != nil {
			handler.Failed(err)
		}
		return
	}
	f.downstream.Write(&f.out, handler)
}

func (f *wsFilter) OnRead(src Filter, data *bytes.Buffer) {
	if !f.frames {
		f.upstream.OnRead(f, data)
		return
	}
	f.pending.Write(data.Next(data.Len()))

	for f.pending.Len() > 0 {
		r := bytes.NewReader(f.pending.Bytes())
		frame, err := ws.ReadFrame(r)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// incomplete frame, wait for more bytes
			return
		}
		if err != nil {
			ctxlog.Errorf(f.ctx, "read frame: %v", err)
			f.upstream.OnConnectionClosed()
			return
		}
		f.pending.Next(f.pending.Len() - r.Len())

		if frame.Header.Masked {
			frame = ws.UnmaskFrameInPlace(frame)
		}

		switch frame.Header.OpCode {
		case ws.OpPing:
			f.writePong(frame.Payload)
		case ws.OpPong:
			// ignore
		case ws.OpClose:
			f.upstream.OnConnectionClosed()
			return
		default:
			f.payload.Reset()
			f.payload.Write(frame.Payload)
			f.upstream.OnRead(f, &f.payload)
		}
	}
}

func (f *wsFilter) writePong(payload []byte) {
	pong := ws.NewPongFrame(payload)
	if f.client {
		pong = ws.MaskFrame(pong)
	}
	var buf bytes.Buffer
	if err := ws.WriteFrame(&buf, pong); err != nil {
		ctxlog.Errorf(f.ctx, "encode pong: %v", err)
		return
	}
	f.downstream.Write(&buf, CompletionFunc{
		OnFailed: func(err error) {
			ctxlog.Errorf(f.ctx, "write pong: %v", err)
		},
	})
}
