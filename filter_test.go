package fxwsock

import (
	"testing"
)

// relayFilter is a BaseFilter with nothing overridden but linking.
type relayFilter struct {
	BaseFilter
}

func (f *relayFilter) OnConnect(downstream Filter) {
	f.link(f, downstream)
}

func TestChainLinking(t *testing.T) {
	top := &recordingUpstream{}
	mid := &relayFilter{}
	mid.upstream = top
	bottom := &recordingDownstream{}

	mid.OnConnect(bottom)

	if mid.downstream != Filter(bottom) {
		t.Fatal("downstream reference not stored")
	}
	if top.downstream != Filter(mid) {
		t.Fatal("linking did not cascade upward")
	}
}

func TestChainPassthrough(t *testing.T) {
	top := &recordingUpstream{}
	mid := &relayFilter{}
	mid.upstream = top
	bottom := &recordingDownstream{}
	mid.OnConnect(bottom)

	mid.Write(buf("down"), nil)
	if len(bottom.writes) != 1 || string(bottom.writes[0]) != "down" {
		t.Fatalf("write not forwarded: %q", bottom.writes)
	}

	mid.OnRead(bottom, buf("up"))
	if len(top.reads) != 1 || string(top.reads[0]) != "up" {
		t.Fatalf("read not forwarded: %q", top.reads)
	}

	mid.OnHandshakeCompleted()
	if top.handshakes != 1 {
		t.Fatal("handshake notification not forwarded")
	}

	mid.OnConnectionClosed()
	if top.closes != 1 {
		t.Fatal("close notification not forwarded")
	}
}

func TestChainCloseIdempotent(t *testing.T) {
	mid := &relayFilter{}
	bottom := &recordingDownstream{}
	mid.OnConnect(bottom)

	mid.Close()
	mid.Close()
	if bottom.closes != 1 {
		t.Fatalf("downstream closes = %d, want 1", bottom.closes)
	}

	// writes after close go nowhere and must not panic
	mid.Write(buf("late"), nil)
	if len(bottom.writes) != 0 {
		t.Fatal("write after close must be dropped")
	}
}
