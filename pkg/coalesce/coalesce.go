// Package coalesce deduplicates concurrent identical in-flight requests.
//
// All callers passing the same key while a producer is running receive the
// producer's single result. The in-flight entry is destroyed the instant
// the producer returns, so a later caller starts fresh work.
package coalesce

import (
	"context"
	"sync"
)

// call is the shared state of one in-flight unit of work.
type call[V any] struct {
	done    chan struct{}
	val     V
	err     error
	waiters int
	cancel  context.CancelFunc
}

// Group coalesces concurrent calls by key. The zero value is ready to use.
type Group[V any] struct {
	mu    sync.Mutex
	calls map[string]*call[V]
}

// Do invokes producer for key, or joins an in-flight call for the same key
// and blocks until it resolves. The returned bool reports whether this
// caller joined existing work rather than starting it.
//
// The producer runs with a context detached from any single caller: one
// caller's cancellation only releases that caller. The shared work is
// cancelled only once every waiter has gone. A producer error fans out to
// every waiter identically.
func (g *Group[V]) Do(ctx context.Context, key string, producer func(context.Context) (V, error)) (V, bool, error) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*call[V])
	}
	if c, ok := g.calls[key]; ok {
		c.waiters++
		g.mu.Unlock()
		return g.wait(ctx, c, true)
	}

	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &call[V]{done: make(chan struct{}), waiters: 1, cancel: cancel}
	g.calls[key] = c
	g.mu.Unlock()

	go func() {
		v, err := producer(pctx)
		g.mu.Lock()
		c.val, c.err = v, err
		delete(g.calls, key)
		g.mu.Unlock()
		close(c.done)
		cancel()
	}()

	return g.wait(ctx, c, false)
}

func (g *Group[V]) wait(ctx context.Context, c *call[V], joined bool) (V, bool, error) {
	select {
	case <-c.done:
		return c.val, joined, c.err
	case <-ctx.Done():
		g.mu.Lock()
		c.waiters--
		if c.waiters == 0 {
			// Last interested caller is gone; tear down the shared work.
			c.cancel()
		}
		g.mu.Unlock()
		var zero V
		return zero, joined, ctx.Err()
	}
}

// InFlight reports the number of distinct keys currently being produced.
func (g *Group[V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
