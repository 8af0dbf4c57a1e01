package build

import (
	"context"
	"fmt"
	"sync"
)

// Event reports the outcome of one pooled build.
type Event struct {
	KernelID string
	Err      error
}

// Pool runs builds for distinct kernel ids concurrently. Two requests
// for the same id are rejected while the first is in flight; the
// per-kernel scratch lock backstops this across processes.
type Pool struct {
	builder *Builder

	mu      sync.Mutex
	running map[string]struct{}

	events chan Event
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a Pool over the builder.
func NewPool(b *Builder) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		builder: b,
		running: make(map[string]struct{}),
		events:  make(chan Event, 16),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit starts a build for the request. Returns the kernel id.
func (p *Pool) Submit(req Request) (string, error) {
	id := req.ID()

	p.mu.Lock()
	if _, ok := p.running[id]; ok {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrBuildInProgress, id)
	}
	p.running[id] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		_, err := p.builder.Compile(p.ctx, req)

		p.mu.Lock()
		delete(p.running, id)
		p.mu.Unlock()

		select {
		case p.events <- Event{KernelID: id, Err: err}:
		case <-p.ctx.Done():
		}
	}()

	return id, nil
}

// Events returns the channel carrying per-build outcomes.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Count returns the number of in-flight builds.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// Wait blocks until every submitted build finished, then closes the
// event channel.
func (p *Pool) Wait() {
	p.wg.Wait()
	close(p.events)
}

// Stop cancels in-flight builds and waits for them to unwind.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
