package fxwsock

import (
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPath             = "/ws"
)

// Config holds the per-endpoint parameters from which connection chains are
// built.
type Config struct {
	// Engine configures the record-encryption engine (curve, identity key,
	// ephemeral mode). Ignored when Plaintext is set.
	Engine EngineConfig

	// Plaintext disables record encryption: the chain is assembled without
	// the TLS stage and bytes pass through unmodified.
	Plaintext bool

	// HandshakeTimeout bounds the encryption handshake. Zero selects the
	// default; negative disables the watchdog.
	HandshakeTimeout time.Duration

	// TaskExecutor runs the engine's delegated handshake tasks. Defaults to
	// inline execution.
	TaskExecutor TaskExecutor

	// Clock is used by the handshake watchdog. Defaults to the wall clock.
	Clock clock.Clock

	// Host is the Host header the client sends in the upgrade request.
	Host string

	// Path is the upgrade resource path. Defaults to "/ws".
	Path string
}

func (c *Config) resolveTimeout() time.Duration {
	switch {
	case c.HandshakeTimeout == 0:
		return defaultHandshakeTimeout
	case c.HandshakeTimeout < 0:
		return 0
	default:
		return c.HandshakeTimeout
	}
}

func (c *Config) resolvePath() string {
	if c.Path == "" {
		return defaultPath
	}
	return c.Path
}

// ValidateConfig checks a configuration before it is used to accept or dial
// connections. Call it early to catch mistakes with a readable error instead
// of a failed connection later.
func ValidateConfig(cfg *Config, isServer bool) error {
	if cfg == nil {
		return nil
	}
	if cfg.Path != "" && !strings.HasPrefix(cfg.Path, "/") {
		return errors.Errorf("upgrade path %q must start with '/'", cfg.Path)
	}
	if !isServer && cfg.Host == "" {
		return errors.New(`client configuration requires Host

  Host is sent in the upgrade request and must name the server endpoint,
  for example:

    cfg.Host = "pool.example.com"`)
	}
	if cfg.Engine.PrivateKey != nil && cfg.Engine.UseEphemeralKey {
		return errors.New("PrivateKey is ignored when UseEphemeralKey is set; configure one or the other")
	}
	return nil
}
