package fxwsock

import "sync"

// TaskExecutor runs the engine's delegated handshake tasks. The default
// executor runs them inline on the calling goroutine; a pool-backed executor
// moves them off the connection's event path. Functional behavior is the
// same either way, but a pool executor re-enters the filter chain from a
// worker goroutine, so the chain owner must keep per-connection calls
// serialized (the inline executor gets this for free).
type TaskExecutor interface {
	Execute(fn func())
}

type inlineExecutor struct{}

func (inlineExecutor) Execute(fn func()) { fn() }

// InlineExecutor runs delegated tasks synchronously on the caller.
var InlineExecutor TaskExecutor = inlineExecutor{}

// PoolExecutor runs delegated tasks on a bounded set of workers. Execute
// blocks when the queue is full, which bounds the memory a slow handshake
// step can pin.
type PoolExecutor struct {
	jobs chan func()
	once sync.Once
	wg   sync.WaitGroup
}

// NewPoolExecutor creates a pool with the given worker and queue sizes.
func NewPoolExecutor(workers, queue int) *PoolExecutor {
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = workers
	}
	p := &PoolExecutor{jobs: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for fn := range p.jobs {
				fn()
			}
		}()
	}
	return p
}

func (p *PoolExecutor) Execute(fn func()) {
	p.jobs <- fn
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (p *PoolExecutor) Close() {
	p.once.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
