package poller

import (
	"context"
	"sync"

	"github.com/xkilldash9x/reconctl/api/schemas"
)

// Generation identifies one submission within a Guard. Values only grow.
type Generation uint64

// Guard makes the newest submission the only one allowed to update shared
// state. Starting a new generation cancels the previous loop's context, and
// any late update tagged with an older generation is dropped.
type Guard struct {
	mu      sync.Mutex
	current Generation
	handle  schemas.JobHandle
	cancel  context.CancelFunc
}

// Begin starts a new generation derived from parent and cancels the one
// before it.
func (g *Guard) Begin(parent context.Context) (context.Context, Generation) {
	ctx, cancel := context.WithCancel(parent)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
	g.current++
	g.cancel = cancel
	g.handle = schemas.JobHandle{}
	return ctx, g.current
}

// Bind records the job handle for gen. It returns false if gen is stale.
func (g *Guard) Bind(gen Generation, handle schemas.JobHandle) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.current {
		return false
	}
	g.handle = handle
	return true
}

// Current returns the newest generation and its bound handle.
func (g *Guard) Current() (Generation, schemas.JobHandle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current, g.handle
}

// IsCurrent reports whether gen is still the newest generation.
func (g *Guard) IsCurrent(gen Generation) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return gen == g.current
}

// Apply runs fn only if gen is current, holding the guard lock so no newer
// generation can start in between. fn must not call back into the Guard.
func (g *Guard) Apply(gen Generation, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.current {
		return false
	}
	fn()
	return true
}

// End releases the context of gen if it is still current.
func (g *Guard) End(gen Generation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen == g.current && g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
}
