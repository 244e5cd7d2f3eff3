package guard

import (
	"context"
	"sync"
)

type memoryGuard struct {
	mu     sync.Mutex
	active map[int64]string
}

func NewMemory() ActiveOrderGuard {
	return &memoryGuard{active: make(map[int64]string)}
}

func (g *memoryGuard) Set(_ context.Context, userID int64, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active[userID] = orderID
	return nil
}

func (g *memoryGuard) Clear(_ context.Context, userID int64, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[userID] == orderID {
		delete(g.active, userID)
	}
	return nil
}

func (g *memoryGuard) IsSet(_ context.Context, userID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[userID]
	return ok, nil
}
