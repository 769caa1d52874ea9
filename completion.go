package fxwsock

import "bytes"

// CompletionHandler receives the outcome of one asynchronous write issued
// anywhere in the filter chain. Exactly one of the two methods is invoked,
// exactly once, after the transport has accepted (or refused) the bytes.
type CompletionHandler interface {
	// Completed is called with the buffer that was written.
	Completed(result *bytes.Buffer)

	// Failed is called with the cause of the failure.
	Failed(err error)
}

// CompletionFunc adapts plain functions to a CompletionHandler. Nil fields
// turn the corresponding outcome into a no-op.
type CompletionFunc struct {
	OnCompleted func(result *bytes.Buffer)
	OnFailed    func(err error)
}

func (h CompletionFunc) Completed(result *bytes.Buffer) {
	if h.OnCompleted != nil {
		h.OnCompleted(result)
	}
}

func (h CompletionFunc) Failed(err error) {
	if h.OnFailed != nil {
		h.OnFailed(err)
	}
}
