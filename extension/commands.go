package extension

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// CommandFunc handles one in-process command invocation.
type CommandFunc func(ctx context.Context) error

// Registry maps host command identifiers to handlers.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]CommandFunc
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]CommandFunc)}
}

func (r *Registry) Register(id string, fn CommandFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[id] = fn
}

func (r *Registry) Execute(ctx context.Context, id string) error {
	r.mu.RLock()
	fn, ok := r.commands[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown command %q", id)
	}
	return fn(ctx)
}

// IDs lists registered command identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.commands))
	for id := range r.commands {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
