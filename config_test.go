package fxwsock

import (
	"strings"
	"testing"
	"time"
)

func TestValidateConfig(t *testing.T) {
	good := &Config{Host: "pool.example.com", Engine: EngineConfig{UseEphemeralKey: true}}
	if err := ValidateConfig(good, false); err != nil {
		t.Fatalf("valid client config rejected: %v", err)
	}
	if err := ValidateConfig(&Config{}, true); err != nil {
		t.Fatalf("valid server config rejected: %v", err)
	}

	if err := ValidateConfig(&Config{Host: "x", Path: "ws"}, false); err == nil {
		t.Fatal("path without leading slash must be rejected")
	}

	err := ValidateConfig(&Config{}, false)
	if err == nil {
		t.Fatal("client config without Host must be rejected")
	}
	if !strings.Contains(err.Error(), "Host") {
		t.Fatalf("error does not name the missing field: %v", err)
	}

	key, _ := GenerateKey(nil)
	bad := &Config{Engine: EngineConfig{PrivateKey: key, UseEphemeralKey: true}}
	if err := ValidateConfig(bad, true); err == nil {
		t.Fatal("conflicting key configuration must be rejected")
	}
}

func TestResolveTimeout(t *testing.T) {
	if got := (&Config{}).resolveTimeout(); got != defaultHandshakeTimeout {
		t.Fatalf("zero timeout = %v, want default", got)
	}
	if got := (&Config{HandshakeTimeout: -1}).resolveTimeout(); got != 0 {
		t.Fatalf("negative timeout = %v, want disabled", got)
	}
	if got := (&Config{HandshakeTimeout: time.Minute}).resolveTimeout(); got != time.Minute {
		t.Fatalf("explicit timeout = %v, want 1m", got)
	}
}
