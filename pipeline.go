package fxwsock

import "context"

// buildPipeline assembles the stages that sit between the transport and the
// session:
//
//	transport -> TLSFilter -> watchdog -> wsFilter -> session
//
// or, in plaintext mode, just transport -> wsFilter -> session. It returns
// the stage the transport must announce itself to via OnConnect; linking
// then cascades to the top.
func buildPipeline(ctx context.Context, cfg *Config, isClient bool, sess *Session) (Filter, error) {
	frames := newWSFilter(ctx, sess, isClient)
	sess.ws = frames

	if cfg.Plaintext {
		return frames, nil
	}

	watchdog := newHandshakeWatchdog(ctx, frames, cfg.resolveTimeout(), cfg.Clock)
	engine, err := cfg.Engine.NewEngine(isClient)
	if err != nil {
		return nil, err
	}
	return NewTLSFilter(ctx, watchdog, engine, cfg.TaskExecutor), nil
}
