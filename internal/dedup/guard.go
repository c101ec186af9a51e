// Package dedup guards against persisting the same seller/product pair twice in one run.
package dedup

import "sync"

// Guard is a concurrency-safe set of composite listing keys.
type Guard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// New returns an empty guard.
func New() *Guard {
	return &Guard{keys: make(map[string]struct{})}
}

// Seen reports whether key has been recorded.
func (g *Guard) Seen(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.keys[key]
	return ok
}

// Record marks key as seen.
func (g *Guard) Record(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[key] = struct{}{}
}

// Claim records key and reports true only for the first caller.
func (g *Guard) Claim(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.keys[key]; ok {
		return false
	}
	g.keys[key] = struct{}{}
	return true
}

// Len returns the number of recorded keys.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}
