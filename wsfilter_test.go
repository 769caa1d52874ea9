package fxwsock

import (
	"bytes"
	"context"
	"testing"

	"github.com/gobwas/ws"
)

func newWSHarness(t *testing.T, client bool) (*wsFilter, *recordingUpstream, *recordingDownstream) {
	upstream := &recordingUpstream{}
	downstream := &recordingDownstream{}
	filter := newWSFilter(context.Background(), upstream, client)
	filter.OnConnect(downstream)
	return filter, upstream, downstream
}

func encodeFrame(t *testing.T, frame ws.Frame) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := ws.WriteFrame(&buf, frame); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func decodeFrame(t *testing.T, raw []byte) ws.Frame {
	t.Helper()
	frame, err := ws.ReadFrame(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if frame.Header.Masked {
		frame = ws.UnmaskFrameInPlace(frame)
	}
	return frame
}

func TestWSPassthroughBeforeUpgrade(t *testing.T) {
	filter, upstream, downstream := newWSHarness(t, false)

	filter.Write(buf("GET / HTTP/1.1\r\n\r\n"), nil)
	if len(downstream.writes) != 1 || string(downstream.writes[0]) != "GET / HTTP/1.1\r\n\r\n" {
		t.Fatalf("upgrade bytes not forwarded unchanged: %q", downstream.writes)
	}

	filter.OnRead(downstream, buf("HTTP/1.1 101\r\n\r\n"))
	if len(upstream.reads) != 1 || string(upstream.reads[0]) != "HTTP/1.1 101\r\n\r\n" {
		t.Fatalf("upgrade bytes not delivered unchanged: %q", upstream.reads)
	}
}

func TestWSServerWriteUnmasked(t *testing.T) {
	filter, _, downstream := newWSHarness(t, false)
	filter.EnableFrames()

	filter.Write(buf("HELLO"), nil)
	if len(downstream.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(downstream.writes))
	}
	frame, err := ws.ReadFrame(bytes.NewReader(downstream.writes[0]))
	if err != nil {
		t.Fatal(err)
	}
	if frame.Header.Masked {
		t.Fatal("server frames must not be masked")
	}
	if frame.Header.OpCode != ws.OpBinary || string(frame.Payload) != "HELLO" {
		t.Fatalf("frame = %v %q", frame.Header.OpCode, frame.Payload)
	}
}

func TestWSClientWriteMasked(t *testing.T) {
	filter, _, downstream := newWSHarness(t, true)
	filter.EnableFrames()

	filter.Write(buf("HELLO"), nil)
	frame, err := ws.ReadFrame(bytes.NewReader(downstream.writes[0]))
	if err != nil {
		t.Fatal(err)
	}
	if !frame.Header.Masked {
		t.Fatal("client frames must be masked")
	}
	frame = ws.UnmaskFrameInPlace(frame)
	if string(frame.Payload) != "HELLO" {
		t.Fatalf("payload = %q, want HELLO", frame.Payload)
	}
}

func TestWSUnmasksInboundFrames(t *testing.T) {
	filter, upstream, downstream := newWSHarness(t, false)
	filter.EnableFrames()

	masked := ws.MaskFrame(ws.NewFrame(ws.OpBinary, true, []byte("from client")))
	filter.OnRead(downstream, encodeFrame(t, masked))
	if len(upstream.reads) != 1 || string(upstream.reads[0]) != "from client" {
		t.Fatalf("deliveries = %q, want [from client]", upstream.reads)
	}
}

func TestWSReassemblesSplitFrame(t *testing.T) {
	filter, upstream, downstream := newWSHarness(t, false)
	filter.EnableFrames()

	raw := encodeFrame(t, ws.NewFrame(ws.OpBinary, true, []byte("split me"))).Bytes()
	filter.OnRead(downstream, bytes.NewBuffer(append([]byte(nil), raw[:3]...)))
	if len(upstream.reads) != 0 {
		t.Fatal("partial frame must not be delivered")
	}
	filter.OnRead(downstream, bytes.NewBuffer(append([]byte(nil), raw[3:]...)))
	if len(upstream.reads) != 1 || string(upstream.reads[0]) != "split me" {
		t.Fatalf("deliveries = %q, want [split me]", upstream.reads)
	}
}

func TestWSMultipleFramesOneRead(t *testing.T) {
	filter, upstream, downstream := newWSHarness(t, false)
	filter.EnableFrames()

	var wire bytes.Buffer
	wire.Write(encodeFrame(t, ws.NewFrame(ws.OpBinary, true, []byte("one"))).Bytes())
	wire.Write(encodeFrame(t, ws.NewFrame(ws.OpBinary, true, []byte("two"))).Bytes())
	filter.OnRead(downstream, &wire)
	if len(upstream.reads) != 2 || string(upstream.reads[0]) != "one" || string(upstream.reads[1]) != "two" {
		t.Fatalf("deliveries = %q, want [one two]", upstream.reads)
	}
}

func TestWSAnswersPingWithPong(t *testing.T) {
	filter, upstream, downstream := newWSHarness(t, false)
	filter.EnableFrames()

	filter.OnRead(downstream, encodeFrame(t, ws.NewPingFrame([]byte("beat"))))
	if len(upstream.reads) != 0 {
		t.Fatal("ping must not be delivered as data")
	}
	if len(downstream.writes) != 1 {
		t.Fatalf("writes = %d, want pong", len(downstream.writes))
	}
	pong := decodeFrame(t, downstream.writes[0])
	if pong.Header.OpCode != ws.OpPong || string(pong.Payload) != "beat" {
		t.Fatalf("pong = %v %q", pong.Header.OpCode, pong.Payload)
	}
}

func TestWSCloseFrameClosesConnection(t *testing.T) {
	filter, upstream, downstream := newWSHarness(t, false)
	filter.EnableFrames()

	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	filter.OnRead(downstream, encodeFrame(t, ws.NewCloseFrame(body)))
	if upstream.closes != 1 {
		t.Fatalf("upstream closes = %d, want 1", upstream.closes)
	}
	if len(upstream.reads) != 0 {
		t.Fatal("close frame must not be delivered as data")
	}
}
